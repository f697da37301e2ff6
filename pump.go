package eventproc

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// pump owns one receive loop bound to one partition. It is created and
// destroyed exclusively by pumpManager; the Processor never references a
// pump directly.
//
// A single goroutine pulls from a receiver and drains into user code,
// self-terminating on a terminal error, with delivery serialized
// (the next batch is not requested until processEvents returns).
type pump struct {
	namespace     string
	eventHub      string
	consumerGroup string
	partitionID   string

	client  PartitionClient
	handler SubscriptionEventHandlers
	store   CheckpointStore
	logger  *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
	once    sync.Once

	closeReason CloseReason
	closeMu     sync.Mutex
}

func newPump(parent context.Context, namespace, eventHub, consumerGroup, partitionID string, client PartitionClient, handler SubscriptionEventHandlers, store CheckpointStore, logger *zap.Logger) *pump {
	ctx, cancel := context.WithCancel(parent)
	return &pump{
		namespace:     namespace,
		eventHub:      eventHub,
		consumerGroup: consumerGroup,
		partitionID:   partitionID,
		client:        client,
		handler:       handler,
		store:         store,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
		stopped:       make(chan struct{}),
		closeReason:   CloseReasonShutdown,
	}
}

func (p *pump) partitionContext() PartitionContext {
	return PartitionContext{
		FullyQualifiedNamespace: p.namespace,
		EventHubName:            p.eventHub,
		ConsumerGroup:           p.consumerGroup,
		PartitionID:             p.partitionID,
		UpdateCheckpoint: func(ctx context.Context, cp Checkpoint) error {
			cp.FullyQualifiedNamespace = p.namespace
			cp.EventHubName = p.eventHub
			cp.ConsumerGroup = p.consumerGroup
			cp.PartitionID = p.partitionID
			return p.store.UpdateCheckpoint(ctx, cp)
		},
	}
}

// run drives the receive loop until its run-scoped context is cancelled
// (by the parent being cancelled, or by close()) or a terminal transport
// error occurs. It always invokes ProcessClose exactly once before
// returning, with the reason set by close() if the pump was asked to
// stop, CloseReasonPumpError if it ended on a terminal transport error,
// or CloseReasonShutdown if its parent context was cancelled.
func (p *pump) run() {
	ctx := p.ctx
	defer close(p.stopped)
	defer p.finish()
	defer p.cancel()

	pc := p.partitionContext()

	if p.handler.ProcessInitialize != nil {
		if err := p.handler.ProcessInitialize(ctx, pc); err != nil && !isCancellation(err) {
			p.reportError(ctx, pc, err)
		}
	}

	for {
		if ctx.Err() != nil {
			return
		}

		batch, err := p.client.ReceiveEvents(ctx, defaultPumpBatchSize)
		if err != nil {
			if isCancellation(err) || ctx.Err() != nil {
				return
			}
			p.once.Do(func() {
				p.closeMu.Lock()
				p.closeReason = CloseReasonPumpError
				p.closeMu.Unlock()
			})
			p.reportError(ctx, pc, err)
			return
		}

		if len(batch.Events) == 0 {
			continue
		}

		if err := p.handler.ProcessEvents(ctx, pc, batch); err != nil {
			if isCancellation(err) {
				return
			}
			p.reportError(ctx, pc, err)
		}
	}
}

func (p *pump) reportError(ctx context.Context, pc PartitionContext, err error) {
	if p.handler.ProcessError == nil {
		p.logger.Warn("partition error with no ProcessError handler", zap.String("partition", p.partitionID), zap.Error(err))
		return
	}
	wrapped := wrapPartitionError(p.namespace, p.eventHub, p.consumerGroup, p.partitionID, pc.UpdateCheckpoint, err)
	p.safeProcessError(ctx, pc, wrapped)
}

// safeProcessError invokes the user's ProcessError handler, swallowing any
// panic or error it raises and logging it instead.
func (p *pump) safeProcessError(ctx context.Context, pc PartitionContext, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("user ProcessError handler panicked", zap.String("partition", p.partitionID), zap.Any("recovered", r))
		}
	}()
	p.handler.ProcessError(ctx, pc, err)
}

func (p *pump) finish() {
	reason := p.reason()

	// The pump's own context is already cancelled by the time finish runs
	// (run's deferred cancel, or the run loop returning after
	// ctx.Err() != nil); use a fresh background context for the close path
	// so it isn't immediately cancelled itself.
	closeCtx := context.Background()
	if err := p.client.Close(closeCtx); err != nil {
		p.logger.Warn("error closing partition client", zap.String("partition", p.partitionID), zap.Error(err))
	}

	if p.handler.ProcessClose != nil {
		pc := p.partitionContext()
		if err := p.handler.ProcessClose(closeCtx, pc, reason); err != nil {
			p.logger.Warn("ProcessClose returned an error", zap.String("partition", p.partitionID), zap.Error(err))
		}
	}
}

func (p *pump) reason() CloseReason {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	return p.closeReason
}

// close asks the pump to stop with the given reason and blocks until its
// run loop has exited. Safe to call more than once; only the first call's
// reason is honored.
func (p *pump) close(reason CloseReason) {
	p.once.Do(func() {
		p.closeMu.Lock()
		p.closeReason = reason
		p.closeMu.Unlock()
		if p.cancel != nil {
			p.cancel()
		}
	})
	<-p.stopped
}

const defaultPumpBatchSize = 100
