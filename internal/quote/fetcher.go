// internal/quote/fetcher.go
package quote

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/solana-sweeper/internal/retry"
	"github.com/rovshanmuradov/solana-sweeper/internal/scanner"
)

// Quoter returns a conversion quote.
type Quoter interface {
	Quote(ctx context.Context, req Request) (*Result, error)
}

// PriceSource returns the USD price of one SOL.
type PriceSource interface {
	SOLPrice(ctx context.Context) (float64, error)
}

// Recorder receives per-quote outcomes; implemented by the metrics package.
type Recorder interface {
	RecordQuote(ok bool, attempts int)
}

// Estimate is the conversion estimate of one dust holding.
type Estimate struct {
	Mint         solana.PublicKey
	Account      solana.PublicKey
	TargetAmount uint64
	FiatValue    float64
	Worth        bool
	Quote        *Result
	Err          error
}

// Config параметры темпа запросов и порогов.
type Config struct {
	GroupSize   int
	Stagger     time.Duration
	GroupPause  time.Duration
	SlippageBps int
	TargetMint  solana.PublicKey
	MinValueSOL float64
	MaxDustUSD  float64
	Retry       retry.Policy
}

// DefaultConfig: groups of 3, 300 ms stagger, 1 s between groups.
func DefaultConfig() Config {
	return Config{
		GroupSize:   3,
		Stagger:     300 * time.Millisecond,
		GroupPause:  time.Second,
		SlippageBps: 100,
		TargetMint:  solana.SolMint,
		MinValueSOL: 0.001,
		MaxDustUSD:  10,
		Retry:       retry.DefaultPolicy(),
	}
}

// Worth decides whether a fiat estimate is worth converting.
// Zero (a failed quote) never is.
func (c Config) Worth(fiat, solPrice float64) bool {
	if fiat <= 0 {
		return false
	}
	if solPrice > 0 && fiat >= c.MinValueSOL*solPrice {
		return true
	}
	return fiat < c.MaxDustUSD
}

// Fetcher получает котировки для dust кандидатов с ограничением темпа.
type Fetcher struct {
	quoter   Quoter
	prices   PriceSource
	cfg      Config
	recorder Recorder
	logger   *zap.Logger
}

// NewFetcher создаёт Fetcher. recorder может быть nil.
func NewFetcher(quoter Quoter, prices PriceSource, cfg Config, recorder Recorder, logger *zap.Logger) *Fetcher {
	if cfg.GroupSize <= 0 {
		cfg.GroupSize = 1
	}
	if cfg.TargetMint.IsZero() {
		cfg.TargetMint = solana.SolMint
	}
	return &Fetcher{
		quoter:   quoter,
		prices:   prices,
		cfg:      cfg,
		recorder: recorder,
		logger:   logger.Named("quote-fetcher"),
	}
}

// Config returns the fetcher's settings.
func (f *Fetcher) Config() Config {
	return f.cfg
}

// SOLPrice fetches the SOL price under the retry policy; 0 when unavailable.
func (f *Fetcher) SOLPrice(ctx context.Context) float64 {
	if f.prices == nil {
		return 0
	}
	price, err := retry.Do(ctx, f.cfg.Retry, func() (float64, error) {
		p, err := f.prices.SOLPrice(ctx)
		return p, classify(err)
	}, retry.WithLogger(f.logger, "sol_price"))
	if err != nil {
		f.logger.Warn("SOL price unavailable, dust values default to zero", zap.Error(err))
		return 0
	}
	return price
}

// FetchAll quotes holdings in paced groups and calls emit as each estimate
// resolves. The returned slice is in input order. Only a cancelled context
// produces an error.
func (f *Fetcher) FetchAll(ctx context.Context, holdings []scanner.TokenHolding, emit func(Estimate)) ([]Estimate, error) {
	results := make([]Estimate, len(holdings))
	if len(holdings) == 0 {
		return results, nil
	}

	price := f.SOLPrice(ctx)

	var emitMu sync.Mutex
	publish := func(i int, est Estimate) {
		results[i] = est
		if emit == nil {
			return
		}
		emitMu.Lock()
		defer emitMu.Unlock()
		emit(est)
	}

	for start := 0; start < len(holdings); start += f.cfg.GroupSize {
		if start > 0 && !sleep(ctx, f.cfg.GroupPause) {
			break
		}
		end := start + f.cfg.GroupSize
		if end > len(holdings) {
			end = len(holdings)
		}

		g := new(errgroup.Group)
		g.SetLimit(f.cfg.GroupSize)
		for i := start; i < end; i++ {
			i := i
			delay := time.Duration(i-start) * f.cfg.Stagger
			g.Go(func() error {
				if !sleep(ctx, delay) {
					return nil
				}
				publish(i, f.Estimate(ctx, holdings[i], price))
				return nil
			})
		}
		_ = g.Wait()
	}

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// Estimate quotes a single holding. Exhausted retries give a zero estimate
// with Err set; it never fails.
func (f *Fetcher) Estimate(ctx context.Context, h scanner.TokenHolding, solPrice float64) Estimate {
	est := Estimate{Mint: h.Mint, Account: h.Address}

	attempts := 0
	res, err := retry.Do(ctx, f.cfg.Retry, func() (*Result, error) {
		attempts++
		r, err := f.quoter.Quote(ctx, Request{
			InputMint:   h.Mint,
			OutputMint:  f.cfg.TargetMint,
			Amount:      h.Amount,
			SlippageBps: f.cfg.SlippageBps,
		})
		return r, classify(err)
	}, retry.WithLogger(f.logger, "quote"))

	if f.recorder != nil {
		f.recorder.RecordQuote(err == nil, attempts)
	}
	if err != nil {
		f.logger.Info("Quote failed",
			zap.String("mint", h.Mint.String()),
			zap.Int("attempts", attempts),
			zap.Error(err))
		est.Err = err
		return est
	}

	est.Quote = res
	est.TargetAmount = res.OutAmount
	switch {
	case solPrice > 0:
		est.FiatValue = float64(res.OutAmount) / lamportsPerSOL * solPrice
	case res.ReferenceUSD != nil:
		est.FiatValue = *res.ReferenceUSD
	}
	est.Worth = f.cfg.Worth(est.FiatValue, solPrice)
	return est
}

// classify marks client errors other than 429 as permanent: the route does not exist.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status >= http.StatusBadRequest && apiErr.Status < http.StatusInternalServerError {
		return retry.Permanent(err)
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
