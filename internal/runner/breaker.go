package runner

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"

	"chromasky/internal/glow"
	"chromasky/internal/types"
)

// newBreaker builds the breaker shared by the publishing wrappers. After
// repeated consecutive failures calls fail fast with gobreaker.ErrOpenState
// until the timeout elapses.
func newBreaker(name string) *gobreaker.CircuitBreaker[struct{}] {
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})
}

// BreakerPublisher guards a MetricPublisher with a circuit breaker.
type BreakerPublisher struct {
	next    MetricPublisher
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewBreakerPublisher wraps next.
func NewBreakerPublisher(next MetricPublisher) *BreakerPublisher {
	return &BreakerPublisher{next: next, breaker: newBreaker("metric-publisher")}
}

func (p *BreakerPublisher) PublishRunCompleted(ctx context.Context, written, skipped int) error {
	_, err := p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.next.PublishRunCompleted(ctx, written, skipped)
	})
	return err
}

func (p *BreakerPublisher) PublishBundleStats(ctx context.Context, kind types.EventKind, stats glow.Stats) error {
	_, err := p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.next.PublishBundleStats(ctx, kind, stats)
	})
	return err
}

// State reports the breaker state.
func (p *BreakerPublisher) State() gobreaker.State { return p.breaker.State() }

// BreakerNotifier guards a Notifier with a circuit breaker.
type BreakerNotifier struct {
	next    Notifier
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewBreakerNotifier wraps next.
func NewBreakerNotifier(next Notifier) *BreakerNotifier {
	return &BreakerNotifier{next: next, breaker: newBreaker("bundle-notifier")}
}

func (n *BreakerNotifier) NotifyBundleWritten(ctx context.Context, notice BundleNotice) error {
	_, err := n.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, n.next.NotifyBundleWritten(ctx, notice)
	})
	return err
}

// State reports the breaker state.
func (n *BreakerNotifier) State() gobreaker.State { return n.breaker.State() }
