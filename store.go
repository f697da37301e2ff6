package eventproc

import "context"

// CheckpointStore is the durable coordination substrate the core is built
// against. It is a pluggable external collaborator — this package ships
// no implementation, only the contract and, in tests, an in-memory fake.
//
// Implementations must honor:
//
//   - ClaimOwnership is optimistic: each row is written only if its ETag
//     matches the store's current value (or the row does not yet exist and
//     the request's ETag is empty). Rows that lose the race are silently
//     omitted from the returned slice; ClaimOwnership never fails the whole
//     batch because some rows were stale.
//   - ListOwnership and ListCheckpoints never return nil on success, only
//     possibly-empty slices.
type CheckpointStore interface {
	// ListOwnership returns every ownership row for the given namespace,
	// event hub and consumer group.
	ListOwnership(ctx context.Context, namespace, eventHub, consumerGroup string) ([]PartitionOwnership, error)

	// ClaimOwnership attempts to write each of the given rows using its
	// ETag as an optimistic-concurrency precondition, and returns exactly
	// the subset that succeeded, each populated with a fresh ETag and
	// updated LastModifiedTimeMs.
	ClaimOwnership(ctx context.Context, ownerships []PartitionOwnership) ([]PartitionOwnership, error)

	// UpdateCheckpoint upserts a checkpoint record. Ordering across calls
	// for the same partition is the caller's responsibility (the pump
	// issues them serially).
	UpdateCheckpoint(ctx context.Context, checkpoint Checkpoint) error

	// ListCheckpoints returns every checkpoint row for the given
	// namespace, event hub and consumer group.
	ListCheckpoints(ctx context.Context, namespace, eventHub, consumerGroup string) ([]Checkpoint, error)
}
