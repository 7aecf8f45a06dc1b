package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"
)

// DefaultInterval is the delay between two polls of a running session.
const DefaultInterval = time.Second

// PollPolicy decides what a tick does while an earlier poll is still in flight.
type PollPolicy string

const (
	// PollSkip drops the tick. At most one poll per session is in flight.
	PollSkip PollPolicy = "skip"

	// PollOverlap issues a poll on every tick regardless of in-flight requests.
	PollOverlap PollPolicy = "overlap"
)

// ParsePollPolicy converts a configuration value into a PollPolicy.
func ParsePollPolicy(s string) (PollPolicy, error) {
	switch p := PollPolicy(s); p {
	case PollSkip, PollOverlap:
		return p, nil
	case "":
		return PollSkip, nil
	default:
		return "", fmt.Errorf("session: unknown poll policy %q (want skip or overlap)", s)
	}
}

// PollOutcome classifies how a single tick ended.
type PollOutcome string

const (
	PollOK             PollOutcome = "ok"
	PollSkipped        PollOutcome = "skipped"
	PollTransportError PollOutcome = "transport_error"
	PollServiceError   PollOutcome = "service_error"
	PollStale          PollOutcome = "stale"
)

// PollObserver is notified of every tick outcome. It is called without the
// controller lock held.
type PollObserver func(PollOutcome)

// poller owns the ticker of one running session. Each tick dispatches fetch
// on its own goroutine so a slow poll never delays the next tick.
type poller struct {
	clock    clock.WithTicker
	interval time.Duration
	policy   PollPolicy
	fetch    func(ctx context.Context)
	observe  PollObserver

	inFlight atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

func newPoller(clk clock.WithTicker, interval time.Duration, policy PollPolicy, observe PollObserver, fetch func(context.Context)) *poller {
	return &poller{
		clock:    clk,
		interval: interval,
		policy:   policy,
		fetch:    fetch,
		observe:  observe,
	}
}

// start creates the ticker before returning, so the first tick is measured
// from the moment the session entered running.
func (p *poller) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel
	p.done = make(chan struct{})

	ticker := p.clock.NewTicker(p.interval)
	go p.loop(ctx, ticker)
}

func (p *poller) loop(ctx context.Context, ticker clock.Ticker) {
	defer close(p.done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if ctx.Err() != nil {
				return
			}
			p.tick(ctx)
		}
	}
}

func (p *poller) tick(ctx context.Context) {
	if p.policy == PollOverlap {
		go p.fetch(ctx)
		return
	}

	if !p.inFlight.CompareAndSwap(false, true) {
		if p.observe != nil {
			p.observe(PollSkipped)
		}
		return
	}
	go func() {
		defer p.inFlight.Store(false)
		p.fetch(ctx)
	}()
}

// stop cancels the ticker and waits for the loop goroutine to exit. Polls
// already dispatched see a cancelled context. It is safe to call more than
// once and from a fetch goroutine.
func (p *poller) stop() {
	p.once.Do(func() {
		p.cancel()
		<-p.done
	})
}
