package consolidator

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	OpReclaim = "reclaim"
	OpConvert = "convert"
)

// Report describes the result of one reclaim or convert run.
// Reclaimed is rent returned for reclaim and the quoted SOL output for convert.
type Report struct {
	ID         string
	SessionID  string
	Owner      solana.PublicKey
	Operation  string
	Succeeded  int
	Failed     int
	Skipped    int
	Cancelled  bool
	Reclaimed  uint64
	Fee        uint64
	Signatures []solana.Signature
	Err        string
	StartedAt  time.Time
	FinishedAt time.Time
}

func newReport(s *Session, op string) *Report {
	return &Report{
		ID:        uuid.NewString(),
		SessionID: s.ID,
		Owner:     s.Owner,
		Operation: op,
		StartedAt: time.Now(),
	}
}

// Outcome is the label used for metrics and storage.
func (r *Report) Outcome() string {
	switch {
	case r.Cancelled:
		return "cancelled"
	case r.Err != "" && r.Succeeded == 0:
		return "failed"
	case r.Err != "" || r.Failed > 0:
		return "partial"
	default:
		return "succeeded"
	}
}

// UserReceives is what the wallet nets after the fee.
func (r *Report) UserReceives() uint64 {
	if r.Fee > r.Reclaimed {
		return 0
	}
	return r.Reclaimed - r.Fee
}

// Summary is a one-line human readable description.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d succeeded, %d failed, %d skipped; %s SOL",
		r.Operation, r.Succeeded, r.Failed, r.Skipped, FormatSOL(r.Reclaimed))
	if r.Fee > 0 {
		fmt.Fprintf(&b, ", fee %s SOL", FormatSOL(r.Fee))
	}
	if r.Cancelled {
		b.WriteString(" (cancelled by user)")
	}
	return b.String()
}

// FormatSOL renders lamports as SOL without float rounding.
func FormatSOL(lamports uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -9).String()
}
