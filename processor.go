package eventproc

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/uber-go/tally"
	"go.uber.org/zap"
)

// Processor is the top-level supervisor: it runs the balance loop (or the
// fixed-partition loop), issues claim attempts, starts pumps, reports
// errors to user code, and orchestrates shutdown.
//
// The run loop follows a check-alive, do-work, sleep, repeat cycle, and
// shutdown is an idempotent release-everything operation.
type Processor struct {
	id            string
	consumerGroup string
	transport     Transport
	store         CheckpointStore
	handler       SubscriptionEventHandlers
	target        Target
	userStart     StartPosition

	loopInterval      time.Duration
	inactiveTimeLimit time.Duration

	logger *zap.Logger
	scope  tally.Scope

	mu          sync.Mutex
	isRunning   bool
	cancel      context.CancelFunc
	loopDone    chan struct{}
	pumps       *pumpManager
}

// Option configures a Processor at construction time.
type Option func(*Processor)

// WithOwnerID pins the processor's id instead of generating a random one.
func WithOwnerID(id string) Option {
	return func(p *Processor) { p.id = id }
}

// WithStartPosition supplies the default starting position used when a
// partition has no existing checkpoint.
func WithStartPosition(start StartPosition) Option {
	return func(p *Processor) { p.userStart = start }
}

// WithLoopInterval overrides the default 10s interval between balance-loop
// iterations.
func WithLoopInterval(d time.Duration) Option {
	return func(p *Processor) { p.loopInterval = d }
}

// WithInactiveTimeLimit overrides the default 60s staleness threshold used
// by the balanced Target's Balancer, when that balancer is a *FairBalancer
// with no InactiveTimeLimit of its own.
func WithInactiveTimeLimit(d time.Duration) Option {
	return func(p *Processor) { p.inactiveTimeLimit = d }
}

// WithLogger injects a structured logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// WithScope injects a metrics scope. Defaults to the no-op scope.
func WithScope(scope tally.Scope) Option {
	return func(p *Processor) { p.scope = scope }
}

// New constructs a Processor bound to one transport, one checkpoint store,
// one consumer group, and one processing Target.
func New(transport Transport, store CheckpointStore, consumerGroup string, target Target, handler SubscriptionEventHandlers, opts ...Option) *Processor {
	p := &Processor{
		id:                uuid.NewString(),
		consumerGroup:     consumerGroup,
		transport:         transport,
		store:             store,
		handler:           handler,
		target:            target,
		loopInterval:      defaultLoopInterval,
		inactiveTimeLimit: defaultInactiveTimeLimit,
		logger:            zap.NewNop(),
		scope:             tally.NoopScope,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ID returns this processor instance's owner id.
func (p *Processor) ID() string {
	return p.id
}

// IsRunning reports whether the processor's background loop is active.
func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isRunning
}

// ActivePartitionCount returns the number of partitions with a live pump.
func (p *Processor) ActivePartitionCount() int {
	p.mu.Lock()
	pumps := p.pumps
	p.mu.Unlock()
	if pumps == nil {
		return 0
	}
	return pumps.activeCount()
}

// OwnedPartitionIDs returns a snapshot of the partition ids this instance
// currently has a live pump for.
func (p *Processor) OwnedPartitionIDs() []string {
	p.mu.Lock()
	pumps := p.pumps
	p.mu.Unlock()
	if pumps == nil {
		return nil
	}
	return pumps.partitionIDs()
}

// Start is idempotent: a second call while already running is a no-op.
// It returns immediately; the background loop runs until Stop is called.
func (p *Processor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isRunning {
		p.logger.Info("processor already running, start is a no-op", zap.String("owner_id", p.id))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.isRunning = true
	p.pumps = newPumpManager(p.transport.FullyQualifiedNamespace(), p.transport.EventHubName(), p.consumerGroup, p.handler, p.store, p.logger)
	p.loopDone = make(chan struct{})

	done := p.loopDone
	pumps := p.pumps

	go func() {
		defer close(done)
		switch t := p.target.(type) {
		case fixedTarget:
			p.runFixedLoop(ctx, pumps, t.partitionID)
		case balancedTarget:
			if fb, ok := t.balancer.(*FairBalancer); ok && fb.InactiveTimeLimit == 0 {
				fb.InactiveTimeLimit = p.inactiveTimeLimit
			}
			p.runBalancedLoop(ctx, pumps, t.balancer)
		}
	}()
}

// Stop signals cancellation, awaits the loop, closes every pump with
// reason Shutdown, then — in balanced mode — abandons every ownership this
// instance holds. Idempotent: a second Stop without an intervening Start
// returns immediately.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.loopDone
	pumps := p.pumps
	target := p.target
	p.isRunning = false
	p.mu.Unlock()

	cancel()
	<-done

	if err := pumps.removeAllPumps(CloseReasonShutdown); err != nil {
		p.logger.Warn("error closing pumps during stop", zap.Error(err))
	}

	if _, ok := target.(balancedTarget); ok {
		p.abandonPartitionOwnerships(context.Background())
	}
}

func (p *Processor) namespace() string { return p.transport.FullyQualifiedNamespace() }
func (p *Processor) eventHub() string  { return p.transport.EventHubName() }

// runFixedLoop is the single-partition loop variant: no ownership
// interaction, no load balancing. It repeats until cancelled,
// ensuring a pump is live for the fixed partition and sleeping
// loopInterval between attempts regardless of outcome.
func (p *Processor) runFixedLoop(ctx context.Context, pumps *pumpManager, partitionID string) {
	for {
		if ctx.Err() != nil {
			return
		}

		if !pumps.isReceivingFromPartition(partitionID) {
			if err := p.startPump(ctx, pumps, partitionID); err != nil && !isCancellation(err) {
				p.reportCoordinationError(ctx, err)
			}
		}

		if p.sleepInterval(ctx) {
			return
		}
	}
}

// runBalancedLoop is the cooperative loop variant: list ownership, run the
// balancer, claim what it decides, start pumps, release what was lost.
func (p *Processor) runBalancedLoop(ctx context.Context, pumps *pumpManager, balancer Balancer) {
	for {
		if ctx.Err() != nil {
			return
		}

		p.runBalanceIteration(ctx, pumps, balancer)

		if p.sleepInterval(ctx) {
			return
		}
	}
}

func (p *Processor) runBalanceIteration(ctx context.Context, pumps *pumpManager, balancer Balancer) {
	namespace, hub, group := p.namespace(), p.eventHub(), p.consumerGroup

	ownerships, err := p.store.ListOwnership(ctx, namespace, hub, group)
	if err != nil {
		if !isCancellation(err) {
			p.reportCoordinationError(ctx, err)
		}
		return
	}

	abandonedMap := make(map[string]PartitionOwnership)
	liveMap := make(map[string]PartitionOwnership)
	for _, o := range ownerships {
		if isAbandoned(o) {
			abandonedMap[o.PartitionID] = o
		} else {
			liveMap[o.PartitionID] = o
		}
	}

	p.releaseLostPumps(pumps, liveMap)

	partitionIDs, err := p.transport.GetPartitionIDs(ctx)
	if err != nil {
		if !isCancellation(err) {
			p.reportCoordinationError(ctx, err)
		}
		return
	}

	if ctx.Err() != nil {
		return
	}

	toClaim := balancer.LoadBalance(p.id, liveMap, partitionIDs)
	if len(toClaim) == 0 {
		return
	}

	p.claimAndStartPumps(ctx, pumps, abandonedMap, liveMap, toClaim)
}

// claimAndStartPumps builds one claim request per selected partition,
// echoing whichever ETag the store last reported for that row (abandoned
// takes precedence over live), submits them as a single batch, and starts
// a pump for each partition the store confirms.
func (p *Processor) claimAndStartPumps(ctx context.Context, pumps *pumpManager, abandonedMap, liveMap map[string]PartitionOwnership, toClaim []string) {
	namespace, hub, group := p.namespace(), p.eventHub(), p.consumerGroup

	requests := make([]PartitionOwnership, 0, len(toClaim))
	for _, partitionID := range toClaim {
		req := PartitionOwnership{
			FullyQualifiedNamespace: namespace,
			EventHubName:            hub,
			ConsumerGroup:           group,
			PartitionID:             partitionID,
			OwnerID:                 p.id,
		}
		if o, ok := abandonedMap[partitionID]; ok {
			req.ETag = o.ETag
		} else if o, ok := liveMap[partitionID]; ok {
			req.ETag = o.ETag
		}
		requests = append(requests, req)
	}

	p.scope.Counter("claim_attempts").Inc(int64(len(requests)))

	claimed, err := p.store.ClaimOwnership(ctx, requests)
	if err != nil {
		if !isCancellation(err) {
			p.reportCoordinationError(ctx, err)
		}
		return
	}

	p.scope.Counter("claim_successes").Inc(int64(len(claimed)))
	p.scope.Counter("claim_races").Inc(int64(len(requests) - len(claimed)))

	for _, o := range claimed {
		if err := p.startPump(ctx, pumps, o.PartitionID); err != nil && !isCancellation(err) {
			p.reportCoordinationError(ctx, err)
		}
	}
}

// releaseLostPumps closes, with reason OwnershipLost, any pump this
// instance is still running for a partition the store now shows owned by
// somebody else — the other side of a peer's successful steal. This is
// the only way "one pump per partition, fleet-wide" can hold once a steal
// has happened: the loser must notice on its next iteration and give the
// pump up.
func (p *Processor) releaseLostPumps(pumps *pumpManager, liveMap map[string]PartitionOwnership) {
	for _, partitionID := range pumps.partitionIDs() {
		o, stillListed := liveMap[partitionID]
		if stillListed && o.OwnerID == p.id {
			continue
		}
		pumps.removePump(partitionID, CloseReasonOwnershipLost)
		p.scope.Counter("pumps_lost").Inc(1)
		p.logger.Info("lost partition ownership, closing pump", zap.String("partition", partitionID), zap.String("owner_id", p.id))
	}
}

// startPump resolves the starting position and asks the pump manager to
// create a pump, unless one is already live for this partition.
func (p *Processor) startPump(ctx context.Context, pumps *pumpManager, partitionID string) error {
	if pumps.isReceivingFromPartition(partitionID) {
		return nil
	}

	namespace, hub, group := p.namespace(), p.eventHub(), p.consumerGroup

	checkpoints, err := p.store.ListCheckpoints(ctx, namespace, hub, group)
	if err != nil {
		return pkgerrors.Wrap(err, "listing checkpoints")
	}

	start := resolveStartPosition(partitionID, checkpoints, p.userStart)

	client, err := p.transport.NewPartitionClient(ctx, partitionID, group, start)
	if err != nil {
		return pkgerrors.Wrap(err, "opening partition client")
	}

	if err := pumps.createPump(ctx, partitionID, client); err != nil {
		return pkgerrors.Wrap(err, "creating pump")
	}

	p.scope.Counter("pumps_started").Inc(1)
	p.logger.Info("started pump", zap.String("partition", partitionID), zap.String("owner_id", p.id))
	return nil
}

// abandonPartitionOwnerships re-lists ownerships, filters to rows owned by
// this instance, and writes each back with OwnerID cleared, preserving the
// ETag chain. Rows that fail to abandon (etag mismatch, because a peer
// already took over) are silently skipped.
func (p *Processor) abandonPartitionOwnerships(ctx context.Context) {
	namespace, hub, group := p.namespace(), p.eventHub(), p.consumerGroup

	ownerships, err := p.store.ListOwnership(ctx, namespace, hub, group)
	if err != nil {
		p.logger.Warn("failed to list ownerships during abandonment", zap.Error(err))
		return
	}

	var mine []PartitionOwnership
	for _, o := range ownerships {
		if o.OwnerID == p.id {
			o.OwnerID = ""
			mine = append(mine, o)
		}
	}
	if len(mine) == 0 {
		return
	}

	if _, err := p.store.ClaimOwnership(ctx, mine); err != nil {
		p.logger.Warn("failed to abandon ownerships", zap.Error(err))
	}
}

// reportCoordinationError wraps a coordination-scoped error (store or
// transport failure, outside any single partition) and delivers it to the
// user's ProcessError, swallowing whatever the handler itself raises.
func (p *Processor) reportCoordinationError(ctx context.Context, err error) {
	if p.handler.ProcessError == nil {
		p.logger.Warn("coordination error with no ProcessError handler", zap.Error(err))
		return
	}
	wrapped := wrapCoordinationError(p.namespace(), p.eventHub(), p.consumerGroup, err)
	pc := PartitionContext{
		FullyQualifiedNamespace: p.namespace(),
		EventHubName:            p.eventHub(),
		ConsumerGroup:           p.consumerGroup,
		UpdateCheckpoint:        noopUpdateCheckpoint,
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("user ProcessError handler panicked", zap.Any("recovered", r))
		}
	}()
	p.handler.ProcessError(ctx, pc, wrapped)
}

// sleepInterval blocks for loopInterval plus up to 10% jitter, and returns
// true if ctx was cancelled before the sleep elapsed so the loop can exit
// cleanly instead of through an exceptional path.
func (p *Processor) sleepInterval(ctx context.Context) bool {
	interval := p.loopInterval
	jitter := time.Duration(rand.Int63n(int64(float64(interval) * jitterFraction) + 1))
	timer := time.NewTimer(interval + jitter)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}
