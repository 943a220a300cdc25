// internal/executor/executor.go
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sweeper/internal/blockchain"
	"github.com/rovshanmuradov/solana-sweeper/internal/logger"
	"github.com/rovshanmuradov/solana-sweeper/internal/packer"
	"github.com/rovshanmuradov/solana-sweeper/internal/wallet"
)

// ErrCancelled means the signer reported a user rejection.
var ErrCancelled = errors.New("cancelled by user")

// Outcome summarizes one plan execution.
type Outcome struct {
	Attempted  int
	Confirmed  int
	Cancelled  bool
	LastErr    error
	Signatures []solana.Signature
}

// Observer is notified after every transaction, successful or not.
type Observer interface {
	TransactionDone(index int, sig solana.Signature, err error, latency time.Duration)
}

// Executor подписывает и отправляет транзакции строго по одной.
type Executor struct {
	ledger   blockchain.TransactionSender
	signer   wallet.Signer
	pause    time.Duration
	observer Observer
	logger   *zap.Logger
}

// New создаёт исполнитель. observer может быть nil.
func New(ledger blockchain.TransactionSender, signer wallet.Signer, pause time.Duration, observer Observer, log *zap.Logger) *Executor {
	return &Executor{
		ledger:   ledger,
		signer:   signer,
		pause:    pause,
		observer: observer,
		logger:   log.Named("executor"),
	}
}

// Execute runs the plan in order. Each transaction gets a fresh blockhash and
// must confirm before the next is signed. A rejection stops the run with
// ErrCancelled; any other failure stops it with that error. Confirmed
// transactions are never rolled back.
func (e *Executor) Execute(ctx context.Context, plan *packer.Plan) (Outcome, error) {
	var out Outcome
	total := len(plan.Transactions)

	for i, ptx := range plan.Transactions {
		if i > 0 && e.pause > 0 {
			select {
			case <-ctx.Done():
				out.LastErr = ctx.Err()
				return out, fmt.Errorf("stopped after %d of %d transactions: %w", out.Confirmed, total, ctx.Err())
			case <-time.After(e.pause):
			}
		}

		out.Attempted++
		sig, err := e.runPacked(ctx, i, ptx)
		if err != nil {
			out.LastErr = err
			if wallet.IsRejected(err) {
				out.Cancelled = true
				e.logger.Info("Execution cancelled by user",
					zap.Int("confirmed", out.Confirmed),
					zap.Int("total", total))
				return out, fmt.Errorf("%w: %w", ErrCancelled, err)
			}
			e.logger.Error("Transaction failed",
				zap.Int("index", i),
				zap.Int("confirmed", out.Confirmed),
				zap.Error(err))
			return out, fmt.Errorf("transaction %d of %d failed (%d confirmed): %w", i+1, total, out.Confirmed, err)
		}

		out.Confirmed++
		out.Signatures = append(out.Signatures, sig)
	}
	return out, nil
}

func (e *Executor) runPacked(ctx context.Context, index int, ptx packer.Transaction) (solana.Signature, error) {
	bh, err := e.ledger.LatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("get blockhash: %w", err)
	}
	tx, err := solana.NewTransaction(ptx.Ixs(), bh.Hash, solana.TransactionPayer(e.signer.PublicKey()))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}
	return e.send(ctx, index, tx, bh.LastValidBlockHeight)
}

// ExecuteOne signs, submits and confirms a prebuilt transaction, such as a
// swap returned by the aggregator. index is reported to the observer.
// Rejection yields ErrCancelled.
func (e *Executor) ExecuteOne(ctx context.Context, index int, tx *solana.Transaction, lastValidBlockHeight uint64) (solana.Signature, error) {
	sig, err := e.send(ctx, index, tx, lastValidBlockHeight)
	if err != nil && wallet.IsRejected(err) {
		return sig, fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return sig, err
}

func (e *Executor) send(ctx context.Context, index int, tx *solana.Transaction, lastValid uint64) (sig solana.Signature, err error) {
	start := time.Now()
	defer func() {
		if e.observer != nil {
			e.observer.TransactionDone(index, sig, err, time.Since(start))
		}
	}()

	if err = e.signer.Sign(ctx, tx); err != nil {
		return solana.Signature{}, err
	}

	sig, err = e.ledger.Submit(ctx, tx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("submit: %w", err)
	}
	txLog := logger.WithTransaction(e.logger, sig.String())
	txLog.Info("Transaction submitted", zap.Int("index", index))

	if err = e.ledger.Confirm(ctx, sig, lastValid); err != nil {
		txLog.Warn("Transaction not confirmed", zap.Error(err))
		return sig, fmt.Errorf("confirm %s: %w", sig, err)
	}
	txLog.Info("Transaction confirmed", zap.Duration("elapsed", time.Since(start)))
	return sig, nil
}
