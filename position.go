package eventproc

import "time"

// EventPosition identifies a point to start reading a partition from. Only
// one of Offset, SequenceNumber, or EnqueuedOn need be set; Latest selects
// the implicit "start from the end" position used when nothing else
// resolves.
type EventPosition struct {
	Offset         string
	SequenceNumber int64
	EnqueuedOn     time.Time
	Latest         bool
}

func latestPosition() EventPosition {
	return EventPosition{Latest: true}
}

// StartPosition is a closed sum type: a user-supplied starting position is
// either a single EventPosition applied to every partition, or a map of
// per-partition positions. It is modeled as
// a closed interface (the unexported method prevents implementations
// outside this package) rather than a type switch over `any`.
type StartPosition interface {
	isStartPosition()
}

type singlePosition struct {
	position EventPosition
}

func (singlePosition) isStartPosition() {}

type perPartitionPositions struct {
	positions map[string]EventPosition
}

func (perPartitionPositions) isStartPosition() {}

// NewStartPosition returns a StartPosition that applies the same
// EventPosition to every partition that has no existing checkpoint.
func NewStartPosition(p EventPosition) StartPosition {
	return singlePosition{position: p}
}

// NewStartPositionMap returns a StartPosition keyed by partition id. A
// partition absent from the map falls back to "latest".
func NewStartPositionMap(positions map[string]EventPosition) StartPosition {
	cp := make(map[string]EventPosition, len(positions))
	for k, v := range positions {
		cp[k] = v
	}
	return perPartitionPositions{positions: cp}
}
