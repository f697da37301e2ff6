package eventproc

// resolveStartPosition resolves where a pump should begin reading: an
// existing checkpoint always wins; absent that, a
// caller-supplied default (single or per-partition) is used; absent that,
// consumption starts from "latest".
func resolveStartPosition(partitionID string, checkpoints []Checkpoint, userStart StartPosition) EventPosition {
	for _, cp := range checkpoints {
		if cp.PartitionID == partitionID {
			return EventPosition{Offset: cp.Offset, SequenceNumber: cp.SequenceNumber}
		}
	}

	switch start := userStart.(type) {
	case singlePosition:
		return start.position
	case perPartitionPositions:
		if pos, ok := start.positions[partitionID]; ok {
			return pos
		}
	}

	return latestPosition()
}
