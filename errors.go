package eventproc

import (
	"context"
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ProcessError is delivered to SubscriptionEventHandlers.ProcessError for
// every coordination or transport failure that is not a cancellation.
// PartitionID is empty for failures that occur outside any single
// partition's scope (store list/claim failures, transport partition-id
// queries); UpdateCheckpoint is a no-op in that case, since there is no
// partition to checkpoint against.
type ProcessError struct {
	Namespace        string
	EventHub         string
	ConsumerGroup    string
	PartitionID      string
	UpdateCheckpoint func(context.Context, Checkpoint) error
	Err              error
}

func (e *ProcessError) Error() string {
	if e.PartitionID == "" {
		return fmt.Sprintf("eventproc: %s/%s/%s: %s", e.Namespace, e.EventHub, e.ConsumerGroup, e.Err)
	}
	return fmt.Sprintf("eventproc: %s/%s/%s partition %s: %s", e.Namespace, e.EventHub, e.ConsumerGroup, e.PartitionID, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

func noopUpdateCheckpoint(context.Context, Checkpoint) error {
	return nil
}

// wrapCoordinationError builds a ProcessError with no partition scope, for
// failures in store-listing or transport partition-id discovery.
func wrapCoordinationError(namespace, hub, group string, err error) *ProcessError {
	return &ProcessError{
		Namespace:        namespace,
		EventHub:         hub,
		ConsumerGroup:    group,
		UpdateCheckpoint: noopUpdateCheckpoint,
		Err:              pkgerrors.Wrap(err, "coordination error"),
	}
}

// wrapPartitionError builds a ProcessError scoped to one partition, for
// pump-level failures.
func wrapPartitionError(namespace, hub, group, partitionID string, updateCheckpoint func(context.Context, Checkpoint) error, err error) *ProcessError {
	if updateCheckpoint == nil {
		updateCheckpoint = noopUpdateCheckpoint
	}
	return &ProcessError{
		Namespace:        namespace,
		EventHub:         hub,
		ConsumerGroup:    group,
		PartitionID:      partitionID,
		UpdateCheckpoint: updateCheckpoint,
		Err:              pkgerrors.Wrap(err, "partition error"),
	}
}

// isCancellation reports whether err represents the run being cancelled,
// rather than a genuine coordination or transport failure. Cancellation
// errors are never surfaced to user handlers.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
