package eventproc

import "context"

// PartitionContext carries the coordinates of the partition a callback is
// executing for, plus the means to persist progress against it.
type PartitionContext struct {
	FullyQualifiedNamespace string
	EventHubName            string
	ConsumerGroup           string
	PartitionID             string

	// UpdateCheckpoint persists the given checkpoint via the
	// CheckpointStore. It is a no-op for callbacks that are not scoped to
	// a live partition.
	UpdateCheckpoint func(ctx context.Context, checkpoint Checkpoint) error
}

// CloseReason explains why a pump terminated, delivered exactly once to
// ProcessClose.
type CloseReason int

const (
	// CloseReasonShutdown means the owning Processor is stopping.
	CloseReasonShutdown CloseReason = iota
	// CloseReasonOwnershipLost means the Pump Manager closed the pump
	// because a rebalance moved the partition elsewhere.
	CloseReasonOwnershipLost
	// CloseReasonPumpError means the pump self-closed after a terminal
	// transport error.
	CloseReasonPumpError
)

func (r CloseReason) String() string {
	switch r {
	case CloseReasonShutdown:
		return "Shutdown"
	case CloseReasonOwnershipLost:
		return "OwnershipLost"
	case CloseReasonPumpError:
		return "PumpError"
	default:
		return "Unknown"
	}
}

// SubscriptionEventHandlers is the user-supplied handler contract.
// ProcessEvents is required; ProcessInitialize, ProcessError and
// ProcessClose may be nil, in which case they are skipped.
type SubscriptionEventHandlers struct {
	ProcessInitialize func(ctx context.Context, pc PartitionContext) error
	ProcessEvents     func(ctx context.Context, pc PartitionContext, batch EventBatch) error
	ProcessError      func(ctx context.Context, pc PartitionContext, err error)
	ProcessClose      func(ctx context.Context, pc PartitionContext, reason CloseReason) error
}
