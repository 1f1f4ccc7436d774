package manager

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/grader/internal/events"
	"github.com/aristath/grader/internal/grade"
)

// ErrBatchHalted is yielded once when repeated run errors stop a batch.
var ErrBatchHalted = errors.New("batch halted after repeated run errors")

// RunBatch grades targets lazily. Nothing runs until the sequence is
// ranged over and every range starts a new batch. Submissions are yielded
// in completion order. Breaking out of the loop stops new submissions from
// starting; those already running finish before the range returns.
func (m *Manager) RunBatch(ctx context.Context, targets []string, opts RunOptions) iter.Seq2[Submission, error] {
	return func(yield func(Submission, error) bool) {
		b := &batch{
			manager:  m,
			opts:     opts,
			breaker:  m.newBreaker(),
			progress: progress{total: len(targets), bus: m.bus},
		}
		if m.parallelism <= 1 {
			b.sequential(ctx, targets, yield)
			return
		}
		b.parallel(ctx, targets, yield)
	}
}

// newBreaker trips after threshold consecutive run errors and stays open
// for the rest of the batch.
func (m *Manager) newBreaker() *gobreaker.CircuitBreaker {
	threshold := uint32(m.threshold)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "batch",
		Timeout: 24 * time.Hour,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			m.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
}

type batch struct {
	manager  *Manager
	opts     RunOptions
	breaker  *gobreaker.CircuitBreaker
	progress progress
}

type outcome struct {
	sub Submission
	err error
}

func (b *batch) halted() bool {
	return b.breaker.State() == gobreaker.StateOpen
}

// execute grades one target through the breaker.
func (b *batch) execute(ctx context.Context, target string, log io.Writer) (Submission, error) {
	b.progress.started()
	var sub Submission
	_, err := b.breaker.Execute(func() (any, error) {
		var err error
		sub, err = b.manager.grade(ctx, target, b.opts, log)
		return nil, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.progress.finished(true)
		return Submission{Target: target}, ErrBatchHalted
	}
	b.progress.finished(err != nil)
	return sub, err
}

func (b *batch) sequential(ctx context.Context, targets []string, yield func(Submission, error) bool) {
	for _, target := range targets {
		if ctx.Err() != nil {
			return
		}
		if b.halted() {
			yield(Submission{Target: target}, ErrBatchHalted)
			return
		}
		sub, err := b.execute(ctx, target, b.opts.Log)
		if !yield(sub, err) || errors.Is(err, ErrBatchHalted) {
			return
		}
	}
}

func (b *batch) parallel(ctx context.Context, targets []string, yield func(Submission, error) bool) {
	// stop only gates new submissions; running ones keep ctx.
	stop, halt := context.WithCancel(ctx)
	defer halt()

	var sink io.Writer = io.Discard
	if b.opts.Log != nil {
		sink = grade.NewSyncWriter(b.opts.Log)
	}
	outcomes := make(chan outcome)

	go func() {
		defer close(outcomes)
		var g errgroup.Group
		g.SetLimit(b.manager.parallelism)
		for _, target := range targets {
			if stop.Err() != nil {
				break
			}
			if b.halted() {
				select {
				case outcomes <- outcome{sub: Submission{Target: target}, err: ErrBatchHalted}:
				case <-stop.Done():
				}
				break
			}
			g.Go(func() error {
				if stop.Err() != nil {
					return nil
				}
				// Each submission logs into its own buffer so its lines
				// reach the sink as one block.
				var buf bytes.Buffer
				sub, err := b.execute(ctx, target, &buf)
				sink.Write(buf.Bytes())
				select {
				case outcomes <- outcome{sub: sub, err: err}:
				case <-stop.Done():
				}
				return nil
			})
		}
		g.Wait()
	}()

	haltedSeen := false
	for o := range outcomes {
		if errors.Is(o.err, ErrBatchHalted) {
			if haltedSeen {
				continue
			}
			haltedSeen = true
		}
		if !yield(o.sub, o.err) {
			break
		}
	}
	halt()
	for range outcomes {
	}
}

// progress publishes batch counters on the event bus.
type progress struct {
	mu       sync.Mutex
	bus      *events.EventBus
	total    int
	running  int
	done     int
	failures int
}

func (p *progress) started() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running++
	p.publish()
}

func (p *progress) finished(failed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running--
	p.done++
	if failed {
		p.failures++
	}
	p.publish()
}

func (p *progress) publish() {
	p.bus.Publish(events.BatchProgressEvent{
		Total:     p.total,
		Running:   p.running,
		Finished:  p.done,
		Failed:    p.failures,
		Timestamp: time.Now(),
	})
}
