// internal/consolidator/engine.go
package consolidator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sweeper/internal/events"
	"github.com/rovshanmuradov/solana-sweeper/internal/executor"
	"github.com/rovshanmuradov/solana-sweeper/internal/packer"
	"github.com/rovshanmuradov/solana-sweeper/internal/quote"
	"github.com/rovshanmuradov/solana-sweeper/internal/scanner"
)

var errNoLongerWorth = errors.New("estimate fell below threshold")

// AccountScanner lists and classifies the wallet's token accounts.
type AccountScanner interface {
	Scan(ctx context.Context, owner solana.PublicKey) (*scanner.Result, error)
}

// QuoteSource estimates dust holdings.
type QuoteSource interface {
	FetchAll(ctx context.Context, holdings []scanner.TokenHolding, emit func(quote.Estimate)) ([]quote.Estimate, error)
	Estimate(ctx context.Context, h scanner.TokenHolding, solPrice float64) quote.Estimate
	SOLPrice(ctx context.Context) float64
}

// Planner packs close instructions into transactions.
type Planner interface {
	Plan(ins []packer.Instruction, fee packer.FeeBuilder, balance uint64) (*packer.Plan, error)
}

// PlanExecutor signs and confirms transactions one at a time.
type PlanExecutor interface {
	Execute(ctx context.Context, plan *packer.Plan) (executor.Outcome, error)
	ExecuteOne(ctx context.Context, index int, tx *solana.Transaction, lastValidBlockHeight uint64) (solana.Signature, error)
}

// InstructionFactory builds close and fee instructions.
type InstructionFactory interface {
	Close(account, program, destination, owner solana.PublicKey) (solana.Instruction, error)
	FeeTransfer(payer solana.PublicKey, amount uint64) (solana.Instruction, error)
	FeeEnabled() bool
}

// SwapBuilder turns a quote into a ready-to-sign swap transaction.
type SwapBuilder interface {
	BuildSwap(ctx context.Context, q *quote.Result, user solana.PublicKey) (*quote.SwapTransaction, error)
}

// BalanceReader reads the native balance.
type BalanceReader interface {
	GetBalance(ctx context.Context, owner solana.PublicKey) (uint64, error)
}

// HistoryStore persists finished reports.
type HistoryStore interface {
	SaveReport(ctx context.Context, r *Report) error
}

// OperationRecorder receives per-operation metrics.
type OperationRecorder interface {
	RecordOperation(operation, outcome string, reclaimed, fee uint64)
}

// Deps are the engine's collaborators. Events, History, Metrics and
// Observer are optional.
type Deps struct {
	Scanner  AccountScanner
	Quotes   QuoteSource
	Planner  Planner
	Executor PlanExecutor
	Factory  InstructionFactory
	Swaps    SwapBuilder
	Balances BalanceReader
	Events   events.Publisher
	History  HistoryStore
	Metrics  OperationRecorder
	Observer *TxObserver
}

// Config controls engine timing.
type Config struct {
	// SettleDelay is the wait between the last confirmation and the re-scan.
	SettleDelay time.Duration
}

// Engine drives sessions through scan, reclaim and convert.
type Engine struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	wg     sync.WaitGroup
}

// New creates an engine.
func New(deps Deps, cfg Config, logger *zap.Logger) *Engine {
	return &Engine{
		deps:   deps,
		cfg:    cfg,
		logger: logger.Named("engine"),
	}
}

// Wait blocks until background quote passes have exited.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Scan classifies the wallet and starts a background quote pass for the
// dust it found, replacing any pass still running for this session.
func (e *Engine) Scan(ctx context.Context, s *Session) error {
	prev, err := s.transition(Scanning, Idle, Ready, Error)
	if err != nil {
		return err
	}
	e.moved(s, prev, Scanning)
	return e.scan(ctx, s)
}

func (e *Engine) scan(ctx context.Context, s *Session) error {
	logger := e.logger.With(zap.String("session", s.ID), zap.String("owner", s.Owner.String()))

	res, err := e.deps.Scanner.Scan(ctx, s.Owner)
	if err != nil {
		logger.Error("Scan failed", zap.Error(err))
		e.setState(s, Error, err)
		return &OperationError{Operation: "scan", Err: err}
	}

	s.applyScan(res)
	e.setState(s, Ready, nil)
	e.publish(events.ScanCompletedEvent{
		BaseEvent:     events.NewBase(events.ScanCompleted, s.ID),
		Owner:         s.Owner,
		Empty:         len(res.Empty),
		Dust:          len(res.Dust),
		SkippedTarget: res.SkippedTarget,
		Reclaimable:   res.TotalReclaimable(),
	})
	logger.Info("Scan completed",
		zap.Int("empty", len(res.Empty)),
		zap.Int("dust", len(res.Dust)),
		zap.Uint64("reclaimable", res.TotalReclaimable()))

	e.startQuotes(ctx, s, res.Dust)
	return nil
}

// startQuotes runs outside the caller's cancellation: the pass outlives the
// Scan call and is stopped by the next scan or Session.Close.
func (e *Engine) startQuotes(ctx context.Context, s *Session, holdings []scanner.TokenHolding) {
	qctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	gen, done := s.startQuotes(cancel)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(done)
		defer cancel()

		var total, worth int
		_, err := e.deps.Quotes.FetchAll(qctx, holdings, func(est quote.Estimate) {
			if !s.resolve(gen, est) {
				return
			}
			total++
			if est.Worth {
				worth++
			}
			e.publish(events.QuoteResolvedEvent{
				BaseEvent:    events.NewBase(events.QuoteResolved, s.ID),
				Account:      est.Account,
				Mint:         est.Mint,
				TargetAmount: est.TargetAmount,
				FiatValue:    est.FiatValue,
				Worth:        est.Worth,
				Err:          est.Err,
			})
		})
		if err != nil {
			e.logger.Debug("Quote pass stopped", zap.String("session", s.ID), zap.Error(err))
			return
		}
		e.publish(events.QuotesDoneEvent{
			BaseEvent: events.NewBase(events.QuotesDone, s.ID),
			Total:     total,
			Worth:     worth,
		})
	}()
}

// ReclaimEmpty closes every empty account found by the last scan.
// It returns *packer.InsufficientBalanceError or packer.ErrTransactionTooLarge
// unwrapped when planning fails, *CancelledError on user rejection and
// *OperationError on any other execution failure.
func (e *Engine) ReclaimEmpty(ctx context.Context, s *Session) (*Report, error) {
	prev, err := s.transition(Closing, Ready)
	if err != nil {
		return nil, err
	}
	e.moved(s, prev, Closing)
	e.begin(s, OpReclaim)

	logger := e.logger.With(zap.String("session", s.ID), zap.String("operation", OpReclaim))
	report := newReport(s, OpReclaim)

	empties := s.emptyAccounts()
	ins := make([]packer.Instruction, 0, len(empties))
	for _, acc := range empties {
		ix, err := e.deps.Factory.Close(acc.Address, acc.ProgramID, s.Owner, s.Owner)
		if err != nil {
			logger.Warn("Cannot close account",
				zap.String("account", acc.Address.String()),
				zap.Error(err))
			report.Failed++
			continue
		}
		ins = append(ins, packer.Instruction{Ix: ix, Account: acc.Address, Reclaim: acc.Reclaimable})
	}

	e.publish(events.OperationStartedEvent{
		BaseEvent: events.NewBase(events.OperationStarted, s.ID),
		Operation: OpReclaim,
		Items:     len(ins),
	})
	if len(ins) == 0 {
		return e.noop(ctx, s, report)
	}

	balance, err := e.deps.Balances.GetBalance(ctx, s.Owner)
	if err != nil {
		return nil, e.abort(ctx, s, report, &OperationError{Operation: OpReclaim, Report: report, Err: fmt.Errorf("read balance: %w", err)})
	}

	plan, err := e.deps.Planner.Plan(ins, e.feeBuilder(s.Owner), balance)
	if err != nil {
		var ibe *packer.InsufficientBalanceError
		if !errors.As(err, &ibe) && !errors.Is(err, packer.ErrTransactionTooLarge) {
			err = &OperationError{Operation: OpReclaim, Report: report, Err: err}
		}
		return nil, e.abort(ctx, s, report, err)
	}

	out, execErr := e.deps.Executor.Execute(ctx, plan)
	for i, tx := range plan.Transactions {
		n := len(tx.Instructions)
		switch {
		case i < out.Confirmed:
			report.Succeeded += n
			report.Reclaimed += tx.Reclaim()
			report.Fee += tx.FeeAmount
		case i < out.Attempted && !out.Cancelled:
			report.Failed += n
		default:
			report.Skipped += n
		}
	}
	report.Signatures = out.Signatures
	report.Cancelled = out.Cancelled

	return e.settle(ctx, s, report, execErr)
}

// ConvertDust swaps the selected dust into the target asset one holding at a
// time. Only candidates whose estimate is worth converting are used; with no
// selection every such candidate is. A rejection stops the run, any other
// per-item failure is counted and the run continues.
func (e *Engine) ConvertDust(ctx context.Context, s *Session, accounts []solana.PublicKey) (*Report, error) {
	prev, err := s.transition(Converting, Ready)
	if err != nil {
		return nil, err
	}
	e.moved(s, prev, Converting)
	e.begin(s, OpConvert)

	logger := e.logger.With(zap.String("session", s.ID), zap.String("operation", OpConvert))
	report := newReport(s, OpConvert)

	picked, excluded := s.selectDust(accounts)
	report.Skipped = excluded

	e.publish(events.OperationStartedEvent{
		BaseEvent: events.NewBase(events.OperationStarted, s.ID),
		Operation: OpConvert,
		Items:     len(picked),
	})
	if len(picked) == 0 {
		return e.noop(ctx, s, report)
	}

	solPrice := e.deps.Quotes.SOLPrice(ctx)

	var lastErr error
	for i, c := range picked {
		if err := ctx.Err(); err != nil {
			report.Skipped += len(picked) - i
			lastErr = err
			break
		}

		sig, out, err := e.convertOne(ctx, s, i, c, solPrice)
		switch {
		case err == nil:
			report.Succeeded++
			report.Reclaimed += out
			report.Signatures = append(report.Signatures, sig)
		case errors.Is(err, executor.ErrCancelled):
			report.Cancelled = true
			report.Skipped += len(picked) - i
		case errors.Is(err, errNoLongerWorth):
			report.Skipped++
		default:
			logger.Warn("Conversion failed",
				zap.String("account", c.Holding.Address.String()),
				zap.String("mint", c.Holding.Mint.String()),
				zap.Error(err))
			report.Failed++
			lastErr = err
		}
		if report.Cancelled {
			break
		}
	}

	if report.Failed > 0 && lastErr != nil {
		report.Err = lastErr.Error()
	}
	return e.settle(ctx, s, report, nil)
}

func (e *Engine) convertOne(ctx context.Context, s *Session, index int, c DustCandidate, solPrice float64) (solana.Signature, uint64, error) {
	est := e.deps.Quotes.Estimate(ctx, c.Holding, solPrice)
	if est.Err != nil {
		return solana.Signature{}, 0, fmt.Errorf("quote: %w", est.Err)
	}
	if !est.Worth || est.Quote == nil {
		return solana.Signature{}, 0, errNoLongerWorth
	}

	swap, err := e.deps.Swaps.BuildSwap(ctx, est.Quote, s.Owner)
	if err != nil {
		return solana.Signature{}, 0, fmt.Errorf("build swap: %w", err)
	}

	sig, err := e.deps.Executor.ExecuteOne(ctx, index, swap.Tx, swap.LastValidBlockHeight)
	if err != nil {
		return sig, 0, err
	}
	return sig, est.TargetAmount, nil
}

// feeBuilder returns nil when no fee recipient is configured.
func (e *Engine) feeBuilder(owner solana.PublicKey) packer.FeeBuilder {
	if !e.deps.Factory.FeeEnabled() {
		return nil
	}
	return func(amount uint64) (solana.Instruction, error) {
		return e.deps.Factory.FeeTransfer(owner, amount)
	}
}

// noop finishes an operation that had nothing to do.
func (e *Engine) noop(ctx context.Context, s *Session, report *Report) (*Report, error) {
	report.FinishedAt = time.Now()
	s.finish(report)
	e.record(ctx, s, report, nil)
	e.setState(s, Ready, nil)
	return report, nil
}

// abort handles failures before anything was signed. The chain is
// unchanged, so the session goes back to Ready.
func (e *Engine) abort(ctx context.Context, s *Session, report *Report, err error) error {
	e.logger.Error("Operation aborted",
		zap.String("session", s.ID),
		zap.String("operation", report.Operation),
		zap.Error(err))
	report.Err = err.Error()
	report.FinishedAt = time.Now()
	e.record(ctx, s, report, err)
	e.setState(s, Ready, err)
	return err
}

// settle records the report, waits for the chain to catch up and re-scans.
func (e *Engine) settle(ctx context.Context, s *Session, report *Report, execErr error) (*Report, error) {
	report.FinishedAt = time.Now()
	if execErr != nil && !report.Cancelled {
		report.Err = execErr.Error()
	}

	var result error
	switch {
	case report.Cancelled:
		result = &CancelledError{Report: report}
	case execErr != nil:
		result = &OperationError{Operation: report.Operation, Report: report, Err: execErr}
	}

	s.finish(report)
	e.record(ctx, s, report, result)
	e.logger.Info("Operation finished",
		zap.String("session", s.ID),
		zap.String("summary", report.Summary()))

	e.setState(s, Settling, nil)
	if e.cfg.SettleDelay > 0 {
		select {
		case <-time.After(e.cfg.SettleDelay):
		case <-ctx.Done():
		}
	}
	e.setState(s, Idle, nil)

	if prev, err := s.transition(Scanning, Idle); err == nil {
		e.moved(s, prev, Scanning)
		if err := e.scan(context.WithoutCancel(ctx), s); err != nil {
			e.logger.Warn("Re-scan after operation failed", zap.String("session", s.ID), zap.Error(err))
		}
	}
	return report, result
}

func (e *Engine) record(ctx context.Context, s *Session, report *Report, err error) {
	if e.deps.Metrics != nil {
		e.deps.Metrics.RecordOperation(report.Operation, report.Outcome(), report.Reclaimed, report.Fee)
	}
	if e.deps.History != nil {
		if herr := e.deps.History.SaveReport(context.WithoutCancel(ctx), report); herr != nil {
			e.logger.Warn("Failed to save report", zap.String("report", report.ID), zap.Error(herr))
		}
	}

	if err != nil {
		e.publish(events.OperationFailedEvent{
			BaseEvent: events.NewBase(events.OperationFailed, s.ID),
			Operation: report.Operation,
			Cancelled: report.Cancelled,
			Error:     err,
		})
		return
	}
	e.publish(events.OperationCompletedEvent{
		BaseEvent: events.NewBase(events.OperationCompleted, s.ID),
		Operation: report.Operation,
		Result:    report,
	})
}

func (e *Engine) begin(s *Session, op string) {
	if e.deps.Observer != nil {
		e.deps.Observer.begin(s.ID, op)
	}
}

func (e *Engine) setState(s *Session, to State, err error) {
	prev := s.set(to, err)
	e.moved(s, prev, to)
}

func (e *Engine) moved(s *Session, from, to State) {
	if from == to {
		return
	}
	e.publish(events.StateChangedEvent{
		BaseEvent: events.NewBase(events.StateChanged, s.ID),
		From:      from.String(),
		To:        to.String(),
	})
}

func (e *Engine) publish(ev events.Event) {
	if e.deps.Events == nil {
		return
	}
	if err := e.deps.Events.Publish(ev); err != nil {
		e.logger.Debug("Event dropped", zap.String("type", string(ev.Type())), zap.Error(err))
	}
}
