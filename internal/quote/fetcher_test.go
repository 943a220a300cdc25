package quote

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sweeper/internal/retry"
	"github.com/rovshanmuradov/solana-sweeper/internal/scanner"
)

type fakeQuoter struct {
	fn       func(req Request) (*Result, error)
	delay    time.Duration
	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeQuoter) Quote(ctx context.Context, req Request) (*Result, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		old := f.maxSeen.Load()
		if n <= old || f.maxSeen.CompareAndSwap(old, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.fn(req)
}

type fixedPrice struct {
	price float64
	err   error
}

func (p fixedPrice) SOLPrice(context.Context) (float64, error) { return p.price, p.err }

type countingRecorder struct {
	mu       sync.Mutex
	ok, fail int
	attempts []int
}

func (r *countingRecorder) RecordQuote(ok bool, attempts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.ok++
	} else {
		r.fail++
	}
	r.attempts = append(r.attempts, attempts)
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Stagger = time.Millisecond
	cfg.GroupPause = 2 * time.Millisecond
	cfg.Retry = retry.Policy{MaxRetries: 3, BaseDelay: time.Millisecond, Multiplier: 2}
	return cfg
}

func holdings(n int) []scanner.TokenHolding {
	out := make([]scanner.TokenHolding, n)
	for i := range out {
		out[i] = scanner.TokenHolding{
			Mint:    solana.NewWallet().PublicKey(),
			Address: solana.NewWallet().PublicKey(),
			Amount:  uint64(1000 * (i + 1)),
		}
	}
	return out
}

func TestConfig_Worth(t *testing.T) {
	cfg := DefaultConfig()
	const solPrice = 150.0

	tests := []struct {
		name  string
		fiat  float64
		price float64
		want  bool
	}{
		{"zero is never worth", 0, solPrice, false},
		{"zero without price", 0, 0, false},
		{"small positive dust", 0.05, solPrice, true},
		{"above min and under ceiling", 0.2, solPrice, true},
		{"above ceiling but above min value", 25, solPrice, true},
		{"no price, under ceiling", 3, 0, true},
		{"no price, over ceiling", 30, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.Worth(tt.fiat, tt.price))
		})
	}
}

func TestFetcher_RetryExhaustionYieldsZeroEstimate(t *testing.T) {
	q := &fakeQuoter{fn: func(Request) (*Result, error) { return nil, ErrRateLimited }}
	rec := &countingRecorder{}
	f := NewFetcher(q, fixedPrice{price: 150}, fastConfig(), rec, zap.NewNop())

	h := holdings(1)[0]
	est := f.Estimate(context.Background(), h, 150)

	assert.Equal(t, int32(4), q.calls.Load(), "one call plus three retries")
	assert.ErrorIs(t, est.Err, ErrRateLimited)
	assert.Zero(t, est.FiatValue)
	assert.Zero(t, est.TargetAmount)
	assert.False(t, est.Worth)
	assert.Equal(t, h.Mint, est.Mint)
	assert.Equal(t, []int{4}, rec.attempts)
}

func TestFetcher_ClientErrorIsNotRetried(t *testing.T) {
	q := &fakeQuoter{fn: func(Request) (*Result, error) {
		return nil, &APIError{Status: 400, Body: "no route"}
	}}
	f := NewFetcher(q, nil, fastConfig(), nil, zap.NewNop())

	est := f.Estimate(context.Background(), holdings(1)[0], 0)
	assert.Equal(t, int32(1), q.calls.Load())
	assert.False(t, est.Worth)
	var apiErr *APIError
	assert.True(t, errors.As(est.Err, &apiErr))
}

func TestFetcher_FiatValue(t *testing.T) {
	usd := 0.42
	q := &fakeQuoter{fn: func(req Request) (*Result, error) {
		return &Result{InAmount: req.Amount, OutAmount: 2_000_000, ReferenceUSD: &usd}, nil
	}}
	f := NewFetcher(q, nil, fastConfig(), nil, zap.NewNop())

	est := f.Estimate(context.Background(), holdings(1)[0], 150)
	require.NoError(t, est.Err)
	assert.Equal(t, uint64(2_000_000), est.TargetAmount)
	assert.InDelta(t, 0.3, est.FiatValue, 1e-9)
	assert.True(t, est.Worth)

	// without a SOL price the service's own estimate is used
	est = f.Estimate(context.Background(), holdings(1)[0], 0)
	assert.InDelta(t, 0.42, est.FiatValue, 1e-9)
}

func TestFetcher_FetchAllPacing(t *testing.T) {
	q := &fakeQuoter{
		delay: 5 * time.Millisecond,
		fn: func(req Request) (*Result, error) {
			return &Result{InAmount: req.Amount, OutAmount: req.Amount}, nil
		},
	}
	f := NewFetcher(q, fixedPrice{price: 100}, fastConfig(), nil, zap.NewNop())

	in := holdings(7)
	var emitted []solana.PublicKey
	results, err := f.FetchAll(context.Background(), in, func(e Estimate) {
		emitted = append(emitted, e.Account)
	})
	require.NoError(t, err)

	require.Len(t, results, 7)
	assert.Len(t, emitted, 7)
	for i, r := range results {
		assert.Equal(t, in[i].Address, r.Account)
		assert.Equal(t, in[i].Amount, r.TargetAmount)
	}
	assert.LessOrEqual(t, q.maxSeen.Load(), int32(3))
	assert.Equal(t, int32(7), q.calls.Load())
}

func TestFetcher_FetchAllMixedFailures(t *testing.T) {
	var n atomic.Int32
	q := &fakeQuoter{fn: func(req Request) (*Result, error) {
		if req.Amount == 2000 {
			return nil, ErrRateLimited
		}
		n.Add(1)
		return &Result{OutAmount: 10_000}, nil
	}}
	f := NewFetcher(q, fixedPrice{err: errors.New("price down")}, fastConfig(), nil, zap.NewNop())

	results, err := f.FetchAll(context.Background(), holdings(3), nil)
	require.NoError(t, err)

	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.False(t, results[1].Worth)
	assert.NoError(t, results[2].Err)
	// price unavailable and no service estimate: fiat stays zero
	assert.Zero(t, results[0].FiatValue)
	assert.False(t, results[0].Worth)
}

func TestFetcher_FetchAllCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := &fakeQuoter{fn: func(Request) (*Result, error) {
		cancel()
		return &Result{OutAmount: 1}, nil
	}}
	cfg := fastConfig()
	cfg.GroupSize = 1
	cfg.GroupPause = time.Hour
	f := NewFetcher(q, nil, cfg, nil, zap.NewNop())

	_, err := f.FetchAll(ctx, holdings(3), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), q.calls.Load())
}
