// Package health runs component probes concurrently and folds them into a
// single report. A probe failure never fails the check itself.
package health

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/climber-engine/mcp-server-go/backend"
	"golang.org/x/sync/errgroup"
)

// ErrProbeTimeout is recorded for a probe that did not finish in time.
var ErrProbeTimeout = errors.New("probe timed out")

// DefaultTimeout bounds a probe that does not set its own.
const DefaultTimeout = 3 * time.Second

type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
)

// Component is the outcome of one probe.
type Component struct {
	Status    Status `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Report is the aggregate outcome. Status is healthy only when every
// component is healthy.
type Report struct {
	Status     Status               `json:"status"`
	Components map[string]Component `json:"components"`
	CheckedAt  time.Time            `json:"checked_at"`
}

// Probe checks one component. Check should honour ctx; one that does not is
// still abandoned once its timeout elapses.
type Probe struct {
	Name    string
	Check   func(ctx context.Context) error
	Timeout time.Duration
}

// Aggregator fans out to its probes on every Check.
type Aggregator struct {
	probes  []Probe
	timeout time.Duration
	log     *slog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithProbe registers a probe.
func WithProbe(p Probe) Option {
	return func(a *Aggregator) { a.probes = append(a.probes, p) }
}

// WithProbes registers several probes.
func WithProbes(ps ...Probe) Option {
	return func(a *Aggregator) { a.probes = append(a.probes, ps...) }
}

// WithTimeout sets the timeout for probes that do not carry one.
func WithTimeout(d time.Duration) Option {
	return func(a *Aggregator) { a.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) { a.log = l }
}

// NewAggregator builds an Aggregator.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{timeout: DefaultTimeout, log: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	if a.timeout <= 0 {
		a.timeout = DefaultTimeout
	}
	return a
}

// BackendProbes returns one probe per provider exposed by p.
func BackendProbes(p backend.Prober) []Probe {
	names := p.Providers()
	out := make([]Probe, 0, len(names))
	for _, name := range names {
		out = append(out, Probe{
			Name:  "provider/" + name,
			Check: func(ctx context.Context) error { return p.Probe(ctx, name) },
		})
	}
	return out
}

// Check runs every probe concurrently and returns once each has finished or
// timed out. It never returns an error.
func (a *Aggregator) Check(ctx context.Context) Report {
	results := make([]Component, len(a.probes))

	var g errgroup.Group
	for i, p := range a.probes {
		g.Go(func() error {
			results[i] = a.run(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Status: StatusHealthy, Components: make(map[string]Component, len(a.probes)), CheckedAt: time.Now().UTC()}
	for i, p := range a.probes {
		rep.Components[p.Name] = results[i]
		if results[i].Status != StatusHealthy {
			rep.Status = StatusDegraded
		}
	}
	return rep
}

func (a *Aggregator) run(ctx context.Context, p Probe) Component {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = a.timeout
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- p.Check(pctx) }()

	var err error
	select {
	case err = <-done:
		if err != nil && errors.Is(pctx.Err(), context.DeadlineExceeded) {
			err = ErrProbeTimeout
		}
	case <-pctx.Done():
		err = ErrProbeTimeout
		if ctx.Err() != nil {
			err = ctx.Err()
		}
	}

	c := Component{Status: StatusHealthy, LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		c.Status = StatusDegraded
		c.Error = err.Error()
		a.log.WarnContext(ctx, "health.probe.fail", slog.String("component", p.Name), slog.String("err", err.Error()), slog.Int64("dur_ms", c.LatencyMS))
	}
	return c
}
