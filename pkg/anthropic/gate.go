package anthropic

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/sells-group/docintel/internal/resilience"
)

// GateOptions tunes the concurrency gate around a Client.
type GateOptions struct {
	// MaxConcurrent bounds in-flight CreateMessage calls. Default: 5.
	MaxConcurrent int64

	// CallTimeout bounds each call. Default: 30s. The per-document deadline
	// still applies through the caller's context.
	CallTimeout time.Duration

	// RequestsPerSecond enables an optional token-bucket limiter when > 0.
	RequestsPerSecond float64

	// Burst for the rate limiter. Defaults to MaxConcurrent.
	Burst int

	// Breaker optionally short-circuits calls while the provider is down.
	Breaker *resilience.CircuitBreaker
}

// Gated wraps a Client with a weighted semaphore, a per-call timeout, and an
// optional rate limiter. All model traffic in the pipeline goes through one
// Gated instance so provider limits are respected globally.
type Gated struct {
	inner   Client
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	timeout time.Duration
}

// NewGated wraps inner with the given gate options.
func NewGated(inner Client, opts GateOptions) *Gated {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 5
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}

	g := &Gated{
		inner:   inner,
		sem:     semaphore.NewWeighted(opts.MaxConcurrent),
		breaker: opts.Breaker,
		timeout: opts.CallTimeout,
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = int(opts.MaxConcurrent)
		}
		g.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return g
}

// CreateMessage acquires a slot, waits for the limiter, and runs the call
// under the per-call timeout.
func (g *Gated) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, eris.Wrap(err, "anthropic: acquire slot")
	}
	defer g.sem.Release(1)

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "anthropic: rate limit wait")
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	var resp *MessageResponse
	var err error
	if g.breaker != nil {
		resp, err = resilience.ExecuteVal(callCtx, g.breaker, func(ctx context.Context) (*MessageResponse, error) {
			return g.inner.CreateMessage(ctx, req)
		})
	} else {
		resp, err = g.inner.CreateMessage(callCtx, req)
	}
	if err != nil {
		return nil, err
	}
	zap.L().Debug("model call",
		zap.String("model", req.Model),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
	)
	return resp, nil
}
