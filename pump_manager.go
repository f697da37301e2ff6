package eventproc

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// pumpManager tracks the active pumps for one Processor, keyed by
// partition id. It is the single choke point through which pumps are
// created and closed, enforcing at most one pump per partition at any
// time.
//
// The map is guarded by a plain mutex, never held across a blocking call.
type pumpManager struct {
	namespace     string
	eventHub      string
	consumerGroup string
	handler       SubscriptionEventHandlers
	store         CheckpointStore
	logger        *zap.Logger

	mu    sync.Mutex
	pumps map[string]*pump
}

func newPumpManager(namespace, eventHub, consumerGroup string, handler SubscriptionEventHandlers, store CheckpointStore, logger *zap.Logger) *pumpManager {
	return &pumpManager{
		namespace:     namespace,
		eventHub:      eventHub,
		consumerGroup: consumerGroup,
		handler:       handler,
		store:         store,
		logger:        logger,
		pumps:         make(map[string]*pump),
	}
}

// createPump allocates and starts a pump for partitionID, bound to a
// receiver constructed from the given PartitionClient. It is a no-op if a
// pump already exists for this partition (invariant P1): callers that need
// to know whether a pump already existed should check
// isReceivingFromPartition first.
func (m *pumpManager) createPump(ctx context.Context, partitionID string, client PartitionClient) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pumps[partitionID]; exists {
		return nil
	}

	p := newPump(ctx, m.namespace, m.eventHub, m.consumerGroup, partitionID, client, m.handler, m.store, m.logger)
	m.pumps[partitionID] = p
	go p.run()
	return nil
}

// isReceivingFromPartition reports whether a live pump exists for
// partitionID.
func (m *pumpManager) isReceivingFromPartition(partitionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pumps[partitionID]
	return ok
}

// activeCount returns the number of live pumps.
func (m *pumpManager) activeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pumps)
}

// partitionIDs returns a snapshot of the partition ids with a live pump.
func (m *pumpManager) partitionIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.pumps))
	for id := range m.pumps {
		ids = append(ids, id)
	}
	return ids
}

// removePump closes and discards the pump for partitionID, if any, with
// the given reason. Used by the balance loop to evict a single partition
// without tearing down every other pump (e.g. on a rebalance).
func (m *pumpManager) removePump(partitionID string, reason CloseReason) {
	m.mu.Lock()
	p, ok := m.pumps[partitionID]
	if ok {
		delete(m.pumps, partitionID)
	}
	m.mu.Unlock()

	if ok {
		p.close(reason)
	}
}

// removeAllPumps closes every live pump concurrently with the given
// reason, waits for them all to finish, and discards them. Concurrency is
// provided by golang.org/x/sync/errgroup rather than a hand-rolled
// WaitGroup loop (see DESIGN.md).
func (m *pumpManager) removeAllPumps(reason CloseReason) error {
	m.mu.Lock()
	pumps := make([]*pump, 0, len(m.pumps))
	for id, p := range m.pumps {
		pumps = append(pumps, p)
		delete(m.pumps, id)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, p := range pumps {
		p := p
		g.Go(func() error {
			p.close(reason)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("eventproc: closing pumps: %w", err)
	}
	return nil
}
