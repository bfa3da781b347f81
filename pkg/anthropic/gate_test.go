package anthropic

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docintel/internal/resilience"
)

type funcClient struct {
	fn func(ctx context.Context, req MessageRequest) (*MessageResponse, error)
}

func (f *funcClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	return f.fn(ctx, req)
}

func TestGatedLimitsConcurrency(t *testing.T) {
	var current, peak atomic.Int64

	inner := &funcClient{fn: func(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
		return &MessageResponse{}, nil
	}}

	g := NewGated(inner, GateOptions{MaxConcurrent: 2})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.CreateMessage(context.Background(), MessageRequest{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestGatedAppliesCallTimeout(t *testing.T) {
	inner := &funcClient{fn: func(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	g := NewGated(inner, GateOptions{CallTimeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := g.CreateMessage(context.Background(), MessageRequest{})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestGatedRespectsCallerCancellation(t *testing.T) {
	inner := &funcClient{fn: func(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
		return &MessageResponse{}, nil
	}}
	g := NewGated(inner, GateOptions{MaxConcurrent: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.CreateMessage(ctx, MessageRequest{})
	assert.Error(t, err)
}

func TestGatedBreakerShortCircuits(t *testing.T) {
	var calls atomic.Int64
	inner := &funcClient{fn: func(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
		calls.Add(1)
		return nil, assert.AnError
	}}

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
	})
	g := NewGated(inner, GateOptions{Breaker: breaker})

	for i := 0; i < 5; i++ {
		_, err := g.CreateMessage(context.Background(), MessageRequest{})
		require.Error(t, err)
	}

	// After the threshold trips, calls stop reaching the provider.
	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, resilience.CircuitOpen, breaker.State())
}

func TestResponseTextConcatenatesBlocks(t *testing.T) {
	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "hello "},
		{Type: "text", Text: "world"},
	}}
	assert.Equal(t, "hello world", resp.Text())
}
