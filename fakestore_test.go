package eventproc

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// fakeCheckpointStore is an in-memory CheckpointStore for tests, built the
// way the corpus builds small test doubles: a plain struct guarded by a
// mutex, no mocking framework (see DESIGN.md).
type fakeCheckpointStore struct {
	mu          sync.Mutex
	ownerships  map[string]PartitionOwnership
	checkpoints map[string]Checkpoint
	etagSeq     int64
	now         func() time.Time
}

func newFakeCheckpointStore() *fakeCheckpointStore {
	return &fakeCheckpointStore{
		ownerships:  make(map[string]PartitionOwnership),
		checkpoints: make(map[string]Checkpoint),
		now:         time.Now,
	}
}

func ownershipKey(namespace, hub, group, partitionID string) string {
	return namespace + "|" + hub + "|" + group + "|" + partitionID
}

func (s *fakeCheckpointStore) ListOwnership(ctx context.Context, namespace, eventHub, consumerGroup string) ([]PartitionOwnership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []PartitionOwnership{}
	for _, o := range s.ownerships {
		if o.FullyQualifiedNamespace == namespace && o.EventHubName == eventHub && o.ConsumerGroup == consumerGroup {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *fakeCheckpointStore) ClaimOwnership(ctx context.Context, ownerships []PartitionOwnership) ([]PartitionOwnership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []PartitionOwnership
	for _, req := range ownerships {
		key := ownershipKey(req.FullyQualifiedNamespace, req.EventHubName, req.ConsumerGroup, req.PartitionID)
		existing, exists := s.ownerships[key]

		if req.ETag == "" && exists {
			// Create-if-absent requested, but the row already exists: race lost.
			continue
		}
		if req.ETag != "" && (!exists || existing.ETag != req.ETag) {
			// Stale etag: race lost.
			continue
		}

		s.etagSeq++
		req.ETag = strconv.FormatInt(s.etagSeq, 10)
		req.LastModifiedTimeMs = s.now().UnixMilli()
		s.ownerships[key] = req
		claimed = append(claimed, req)
	}
	return claimed, nil
}

func (s *fakeCheckpointStore) UpdateCheckpoint(ctx context.Context, checkpoint Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ownershipKey(checkpoint.FullyQualifiedNamespace, checkpoint.EventHubName, checkpoint.ConsumerGroup, checkpoint.PartitionID)
	s.checkpoints[key] = checkpoint
	return nil
}

func (s *fakeCheckpointStore) ListCheckpoints(ctx context.Context, namespace, eventHub, consumerGroup string) ([]Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []Checkpoint{}
	for _, cp := range s.checkpoints {
		if cp.FullyQualifiedNamespace == namespace && cp.EventHubName == eventHub && cp.ConsumerGroup == consumerGroup {
			out = append(out, cp)
		}
	}
	return out, nil
}

// seedOwnership inserts a row directly, bypassing the etag protocol, for
// test setup (e.g. simulating a dead owner's stale row).
func (s *fakeCheckpointStore) seedOwnership(o PartitionOwnership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ETag == "" {
		s.etagSeq++
		o.ETag = strconv.FormatInt(s.etagSeq, 10)
	}
	key := ownershipKey(o.FullyQualifiedNamespace, o.EventHubName, o.ConsumerGroup, o.PartitionID)
	s.ownerships[key] = o
}

func (s *fakeCheckpointStore) seedCheckpoint(cp Checkpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ownershipKey(cp.FullyQualifiedNamespace, cp.EventHubName, cp.ConsumerGroup, cp.PartitionID)
	s.checkpoints[key] = cp
}
