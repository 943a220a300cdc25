// internal/packer/packer.go
package packer

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

const bpsDenominator = 10_000

// ErrTransactionTooLarge is returned when a transaction cannot be brought
// under the hard size limit even after trimming.
var ErrTransactionTooLarge = errors.New("transaction exceeds hard size limit")

// InsufficientBalanceError is returned by the pre-flight guard.
type InsufficientBalanceError struct {
	Current  uint64
	Required uint64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: have %d lamports, need %d", e.Current, e.Required)
}

// Instruction is one close operation to pack.
type Instruction struct {
	Ix      solana.Instruction
	Account solana.PublicKey
	Reclaim uint64
}

// Transaction is one packed transaction of the plan.
type Transaction struct {
	Instructions []Instruction
	// Fee is the fee transfer, set on the last transaction only.
	Fee       solana.Instruction
	FeeAmount uint64
	Size      int
}

// Ixs returns the raw instructions in submission order, fee last.
func (t Transaction) Ixs() []solana.Instruction {
	out := make([]solana.Instruction, 0, len(t.Instructions)+1)
	for _, in := range t.Instructions {
		out = append(out, in.Ix)
	}
	if t.Fee != nil {
		out = append(out, t.Fee)
	}
	return out
}

// Reclaim sums reclaimable lamports of the transaction.
func (t Transaction) Reclaim() uint64 {
	var total uint64
	for _, in := range t.Instructions {
		total += in.Reclaim
	}
	return total
}

// Plan is the ordered result of packing.
type Plan struct {
	Transactions []Transaction
	TotalReclaim uint64
	// Fee is the fee actually included; zero when dropped or disabled.
	Fee        uint64
	FeeDropped bool
}

// UserReceives is the reclaimed value net of the fee.
func (p *Plan) UserReceives() uint64 {
	return p.TotalReclaim - p.Fee
}

// SizeOracle reports the serialized size of a transaction made of ixs.
type SizeOracle interface {
	Size(ixs []solana.Instruction) (int, error)
}

// FeeBuilder builds the fee transfer for a given amount.
type FeeBuilder func(amount uint64) (solana.Instruction, error)

// Config limits and fee accounting.
type Config struct {
	MaxTxSize    int
	SafetyMargin int
	FeeBps       uint64
	// TxCost is the flat per-transaction cost estimate.
	TxCost uint64
	// MinBalance is the floor the wallet must keep after the operation.
	MinBalance uint64
}

// EffectiveLimit is the hard limit minus the safety margin.
func (c Config) EffectiveLimit() int {
	return c.MaxTxSize - c.SafetyMargin
}

// Fee computes floor(total * FeeBps / 10000).
func (c Config) Fee(total uint64) uint64 {
	return total * c.FeeBps / bpsDenominator
}

// Packer упаковывает инструкции закрытия в минимальное число транзакций.
type Packer struct {
	sizer  SizeOracle
	cfg    Config
	logger *zap.Logger
}

// New создаёт упаковщик.
func New(sizer SizeOracle, cfg Config, logger *zap.Logger) *Packer {
	return &Packer{
		sizer:  sizer,
		cfg:    cfg,
		logger: logger.Named("packer"),
	}
}

// Config returns packing limits.
func (p *Packer) Config() Config {
	return p.cfg
}

// Plan packs ins greedily (first fit, input order kept), checks every
// transaction against the hard limit, guards the wallet floor and appends
// the fee to the last transaction when it fits. A fee that does not fit is
// dropped, never moved to another transaction. fee may be nil.
func (p *Packer) Plan(ins []Instruction, fee FeeBuilder, balance uint64) (*Plan, error) {
	plan := &Plan{}
	for _, in := range ins {
		plan.TotalReclaim += in.Reclaim
	}
	if len(ins) == 0 {
		return plan, nil
	}

	txs, err := p.pack(ins)
	if err != nil {
		return nil, err
	}
	plan.Transactions = txs

	var feeAmount uint64
	if fee != nil {
		feeAmount = p.cfg.Fee(plan.TotalReclaim)
	}

	if !p.solvent(balance, plan.TotalReclaim, feeAmount, len(txs)) {
		return nil, &InsufficientBalanceError{
			Current:  balance,
			Required: p.required(plan.TotalReclaim, feeAmount, len(txs)),
		}
	}

	if feeAmount > 0 {
		if err := p.appendFee(plan, fee, feeAmount); err != nil {
			return nil, err
		}
	}

	p.logger.Info("Plan built",
		zap.Int("instructions", len(ins)),
		zap.Int("transactions", len(plan.Transactions)),
		zap.Uint64("total_reclaim", plan.TotalReclaim),
		zap.Uint64("fee", plan.Fee),
		zap.Bool("fee_dropped", plan.FeeDropped))
	return plan, nil
}

func (p *Packer) pack(ins []Instruction) ([]Transaction, error) {
	limit := p.cfg.EffectiveLimit()
	pending := append([]Instruction(nil), ins...)
	var (
		txs []Transaction
		cur []Instruction
	)

	for len(pending) > 0 || len(cur) > 0 {
		if len(pending) > 0 {
			candidate := append(append([]Instruction(nil), cur...), pending[0])
			size, err := p.measure(candidate, nil)
			if err != nil {
				return nil, err
			}
			if size < limit || len(cur) == 0 {
				// an oversized single instruction still gets its own transaction;
				// the hard check below decides whether it is valid
				cur = candidate
				pending = pending[1:]
				if size < limit {
					continue
				}
			}
		}

		tx, carry, err := p.finalize(cur)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
		pending = append(carry, pending...)
		cur = nil
	}
	return txs, nil
}

// finalize re-measures against the hard limit and trims from the end until
// the transaction fits. Trimmed instructions are returned for the next one.
func (p *Packer) finalize(cur []Instruction) (Transaction, []Instruction, error) {
	var carry []Instruction
	for {
		size, err := p.measure(cur, nil)
		if err != nil {
			return Transaction{}, nil, err
		}
		if size <= p.cfg.MaxTxSize {
			if len(carry) > 0 {
				p.logger.Warn("Trimmed oversized transaction",
					zap.Int("kept", len(cur)),
					zap.Int("carried", len(carry)),
					zap.Int("size", size))
			}
			return Transaction{Instructions: cur, Size: size}, carry, nil
		}
		if len(cur) <= 1 {
			return Transaction{}, nil, fmt.Errorf("%w: %d > %d bytes", ErrTransactionTooLarge, size, p.cfg.MaxTxSize)
		}
		last := cur[len(cur)-1]
		cur = cur[:len(cur)-1]
		carry = append([]Instruction{last}, carry...)
	}
}

// appendFee places the fee on the final transaction when it fits under the
// effective limit, otherwise drops it. Solvency is already checked in Plan
// with the full fee: a fee that would break the floor aborts the run there.
func (p *Packer) appendFee(plan *Plan, fee FeeBuilder, amount uint64) error {
	feeIx, err := fee(amount)
	if err != nil {
		return fmt.Errorf("build fee transfer: %w", err)
	}

	last := &plan.Transactions[len(plan.Transactions)-1]
	size, err := p.measure(last.Instructions, feeIx)
	if err != nil {
		return err
	}

	if size >= p.cfg.EffectiveLimit() {
		plan.FeeDropped = true
		p.logger.Warn("Fee transfer dropped",
			zap.Uint64("fee", amount),
			zap.Int("size_with_fee", size))
		return nil
	}

	last.Fee = feeIx
	last.FeeAmount = amount
	last.Size = size
	plan.Fee = amount
	return nil
}

func (p *Packer) measure(ins []Instruction, fee solana.Instruction) (int, error) {
	ixs := make([]solana.Instruction, 0, len(ins)+1)
	for _, in := range ins {
		ixs = append(ixs, in.Ix)
	}
	if fee != nil {
		ixs = append(ixs, fee)
	}
	size, err := p.sizer.Size(ixs)
	if err != nil {
		return 0, fmt.Errorf("measure transaction: %w", err)
	}
	return size, nil
}

// solvent: balance + total - fee - txCount*TxCost >= MinBalance.
func (p *Packer) solvent(balance, total, fee uint64, txCount int) bool {
	return balance+total >= fee+uint64(txCount)*p.cfg.TxCost+p.cfg.MinBalance
}

func (p *Packer) required(total, fee uint64, txCount int) uint64 {
	need := fee + uint64(txCount)*p.cfg.TxCost + p.cfg.MinBalance
	if need <= total {
		return 0
	}
	return need - total
}
