// Package poller drives reconciliation passes on a jittered timer.
package poller

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/agentworkforce/ledgerrelay/internal/reconcile"
)

const (
	DefaultInterval = 5 * time.Minute
	DefaultJitter   = 0.1
)

type Runner interface {
	RunOnce(ctx context.Context) (reconcile.Result, error)
}

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	Interval time.Duration
	// Jitter spreads each interval by up to ±Jitter of its length.
	Jitter float64
	// Ready gates the first pass, typically the chat session's readiness.
	// A nil channel means start immediately.
	Ready  <-chan struct{}
	Logger Logger
}

type Poller struct {
	runner   Runner
	interval time.Duration
	jitter   float64
	ready    <-chan struct{}
	logger   Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(runner Runner, opts Options) *Poller {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		runner:   runner,
		interval: interval,
		jitter:   clampJitterRatio(opts.Jitter),
		ready:    opts.Ready,
		logger:   opts.Logger,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run blocks until ctx is done. Pass failures are logged and never stop
// the loop.
func (p *Poller) Run(ctx context.Context) error {
	if p.ready != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.ready:
		}
	}
	p.logf("poller started: interval=%s jitter=%.2f", p.interval, p.jitter)

	p.tick(ctx)
	timer := time.NewTimer(p.nextDelay())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logf("poller stopping: %v", ctx.Err())
			return ctx.Err()
		case <-timer.C:
			p.tick(ctx)
			timer.Reset(p.nextDelay())
		}
	}
}

// Trigger runs an on-demand pass through the same single-flight guard as
// scheduled passes.
func (p *Poller) Trigger(ctx context.Context) (reconcile.Result, error) {
	return p.runner.RunOnce(context.WithoutCancel(ctx))
}

func (p *Poller) tick(ctx context.Context) {
	// A pass that has started runs to completion even during shutdown.
	_, err := p.runner.RunOnce(context.WithoutCancel(ctx))
	switch {
	case err == nil:
	case errors.Is(err, reconcile.ErrPassInFlight):
		p.logf("poll tick skipped: pass already in flight")
	default:
		p.logf("poll pass failed, retrying next tick: %v", err)
	}
}

func (p *Poller) nextDelay() time.Duration {
	p.rngMu.Lock()
	sample := p.rng.Float64()
	p.rngMu.Unlock()
	return jitteredIntervalWithSample(p.interval, p.jitter, sample)
}

func (p *Poller) logf(format string, args ...any) {
	if p.logger == nil {
		return
	}
	p.logger.Printf(format, args...)
}

func clampJitterRatio(value float64) float64 {
	return min(max(value, 0), 1)
}

// jitteredIntervalWithSample maps sample in [0,1] linearly onto
// [base*(1-ratio), base*(1+ratio)].
func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	sample = min(max(sample, 0), 1)
	factor := max(1+((sample*2)-1)*jitterRatio, 0)
	return max(time.Duration(float64(base)*factor), time.Millisecond)
}
