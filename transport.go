package eventproc

import "context"

// EventBatch is the unit of delivery a PartitionClient hands to a pump: an
// ordered slice of transport-level events plus the sequencing metadata
// needed to construct a Checkpoint.
type EventBatch struct {
	Events            []Event
	LastEnqueuedOffset string
	LastSequenceNumber int64
}

// Event is a single transport-level event. The core only needs enough of
// the envelope to build a Checkpoint on request; the payload itself is
// opaque to this package.
type Event struct {
	Offset         string
	SequenceNumber int64
	Body           []byte
}

// PartitionClient streams batches from one partition starting at a
// resolved position. It is the per-partition receiver a Pump drives.
type PartitionClient interface {
	ReceiveEvents(ctx context.Context, maxBatchSize int) (EventBatch, error)
	Close(ctx context.Context) error
}

// Transport is the external collaborator that knows how to enumerate
// partitions and open receivers against them. It is supplied by the
// caller; this package never constructs one.
type Transport interface {
	FullyQualifiedNamespace() string
	EventHubName() string

	// GetPartitionIDs returns the current partition id universe for the
	// bound event hub. It must respect ctx cancellation.
	GetPartitionIDs(ctx context.Context) ([]string, error)

	// NewPartitionClient opens a receiver for the given partition, consumer
	// group, and starting position.
	NewPartitionClient(ctx context.Context, partitionID, consumerGroup string, start EventPosition) (PartitionClient, error)
}
