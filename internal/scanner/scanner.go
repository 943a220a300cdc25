// internal/scanner/scanner.go
package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sweeper/internal/blockchain"
)

var errNotTokenAccount = errors.New("not a token account")

// AccountSource is the read side of the ledger the scanner needs.
type AccountSource interface {
	ListTokenAccounts(ctx context.Context, owner solana.PublicKey) ([]blockchain.RawTokenAccount, error)
	MinBalanceForSize(ctx context.Context, size uint64) (uint64, error)
}

// TokenHolding is one wallet-owned token account as observed during a scan.
type TokenHolding struct {
	Mint      solana.PublicKey
	Address   solana.PublicKey
	ProgramID solana.PublicKey
	Amount    uint64
	Decimals  uint8
	UIAmount  decimal.Decimal
	Frozen    bool
}

// EmptyAccount is a zero-balance token account whose rent can be reclaimed.
type EmptyAccount struct {
	Address     solana.PublicKey
	Mint        solana.PublicKey
	ProgramID   solana.PublicKey
	Reclaimable uint64
}

// Result is the classification of one scan pass.
type Result struct {
	Empty []EmptyAccount
	Dust  []TokenHolding
	// SkippedTarget counts accounts holding the conversion target itself.
	SkippedTarget int
	Ignored       int
	Malformed     int
}

// TotalReclaimable sums rent over all empty accounts.
func (r *Result) TotalReclaimable() uint64 {
	var total uint64
	for _, e := range r.Empty {
		total += e.Reclaimable
	}
	return total
}

// Config управляет классификацией.
type Config struct {
	// TargetMint никогда не трогается (по умолчанию wrapped SOL).
	TargetMint solana.PublicKey
	// AccountRent фиксированная стоимость аренды; 0 = запросить у сети.
	AccountRent uint64
	IgnoreMints map[solana.PublicKey]struct{}
}

// Scanner классифицирует токен-аккаунты кошелька.
type Scanner struct {
	source AccountSource
	cfg    Config
	logger *zap.Logger
}

// New создаёт сканер.
func New(source AccountSource, cfg Config, logger *zap.Logger) *Scanner {
	if cfg.TargetMint.IsZero() {
		cfg.TargetMint = solana.SolMint
	}
	return &Scanner{
		source: source,
		cfg:    cfg,
		logger: logger.Named("scanner"),
	}
}

// Scan lists the owner's token accounts and classifies each one.
// Unparseable accounts are logged and counted, never fatal.
func (s *Scanner) Scan(ctx context.Context, owner solana.PublicKey) (*Result, error) {
	raws, err := s.source.ListTokenAccounts(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list token accounts: %w", err)
	}

	rent, err := s.accountRent(ctx)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, raw := range raws {
		holding, err := ParseHolding(raw)
		if err != nil {
			s.logger.Warn("Skipping malformed token account",
				zap.String("account", raw.Address.String()),
				zap.Error(err))
			res.Malformed++
			continue
		}

		switch {
		case holding.Mint.Equals(s.cfg.TargetMint):
			res.SkippedTarget++
		case holding.Frozen || s.ignored(holding.Mint):
			res.Ignored++
		case holding.Amount == 0:
			res.Empty = append(res.Empty, EmptyAccount{
				Address:     holding.Address,
				Mint:        holding.Mint,
				ProgramID:   holding.ProgramID,
				Reclaimable: rent,
			})
		default:
			res.Dust = append(res.Dust, holding)
		}
	}

	sort.Slice(res.Empty, func(i, j int) bool {
		return bytes.Compare(res.Empty[i].Address[:], res.Empty[j].Address[:]) < 0
	})
	sort.Slice(res.Dust, func(i, j int) bool {
		return bytes.Compare(res.Dust[i].Address[:], res.Dust[j].Address[:]) < 0
	})

	s.logger.Info("Scan complete",
		zap.String("owner", owner.String()),
		zap.Int("empty", len(res.Empty)),
		zap.Int("dust", len(res.Dust)),
		zap.Int("skipped_target", res.SkippedTarget),
		zap.Int("ignored", res.Ignored),
		zap.Int("malformed", res.Malformed))
	return res, nil
}

func (s *Scanner) ignored(mint solana.PublicKey) bool {
	_, ok := s.cfg.IgnoreMints[mint]
	return ok
}

func (s *Scanner) accountRent(ctx context.Context) (uint64, error) {
	if s.cfg.AccountRent > 0 {
		return s.cfg.AccountRent, nil
	}
	rent, err := s.source.MinBalanceForSize(ctx, blockchain.TokenAccountSize)
	if err != nil {
		return 0, fmt.Errorf("fetch token account rent: %w", err)
	}
	return rent, nil
}

type parsedAccount struct {
	Program string `json:"program"`
	Parsed  struct {
		Type string `json:"type"`
		Info struct {
			Mint        string `json:"mint"`
			State       string `json:"state"`
			TokenAmount struct {
				Amount   string `json:"amount"`
				Decimals uint8  `json:"decimals"`
			} `json:"tokenAmount"`
		} `json:"info"`
	} `json:"parsed"`
}

// ParseHolding decodes a jsonParsed token account.
func ParseHolding(raw blockchain.RawTokenAccount) (TokenHolding, error) {
	if len(raw.Parsed) == 0 {
		return TokenHolding{}, errors.New("missing parsed data")
	}

	var acc parsedAccount
	if err := json.Unmarshal(raw.Parsed, &acc); err != nil {
		return TokenHolding{}, fmt.Errorf("decode parsed data: %w", err)
	}
	if acc.Parsed.Type != "account" {
		return TokenHolding{}, fmt.Errorf("%w: type %q", errNotTokenAccount, acc.Parsed.Type)
	}

	info := acc.Parsed.Info
	mint, err := solana.PublicKeyFromBase58(info.Mint)
	if err != nil {
		return TokenHolding{}, fmt.Errorf("invalid mint %q: %w", info.Mint, err)
	}
	amount, err := strconv.ParseUint(info.TokenAmount.Amount, 10, 64)
	if err != nil {
		return TokenHolding{}, fmt.Errorf("invalid amount %q: %w", info.TokenAmount.Amount, err)
	}

	return TokenHolding{
		Mint:      mint,
		Address:   raw.Address,
		ProgramID: raw.ProgramID,
		Amount:    amount,
		Decimals:  info.TokenAmount.Decimals,
		UIAmount:  decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(info.TokenAmount.Decimals)),
		Frozen:    info.State == "frozen",
	}, nil
}
