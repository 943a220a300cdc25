package consolidator

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/rovshanmuradov/solana-sweeper/internal/quote"
	"github.com/rovshanmuradov/solana-sweeper/internal/scanner"
)

// DustCandidate is a dust holding with its latest estimate, if any.
type DustCandidate struct {
	Holding  scanner.TokenHolding
	Estimate quote.Estimate
	Resolved bool
}

// Worth is true only for a resolved estimate that passed the threshold.
func (c DustCandidate) Worth() bool {
	return c.Resolved && c.Estimate.Worth
}

// Session is the per-wallet state. Each wallet gets its own session,
// all fields are guarded by mu.
type Session struct {
	ID    string
	Owner solana.PublicKey

	mu          sync.Mutex
	state       State
	empty       []scanner.EmptyAccount
	skipped     int
	dust        map[solana.PublicKey]*DustCandidate
	dustOrder   []solana.PublicKey
	lastErr     error
	lastReport  *Report
	cancelQuote context.CancelFunc
	quotesDone  chan struct{}
	quoteGen    uint64
}

// NewSession creates an idle session for owner.
func NewSession(owner solana.PublicKey) *Session {
	done := make(chan struct{})
	close(done)
	return &Session{
		ID:         uuid.NewString(),
		Owner:      owner,
		state:      Idle,
		dust:       make(map[solana.PublicKey]*DustCandidate),
		quotesDone: done,
	}
}

// Snapshot is a consistent copy of the session for rendering.
type Snapshot struct {
	ID            string
	Owner         solana.PublicKey
	State         State
	Empty         []scanner.EmptyAccount
	Dust          []DustCandidate
	SkippedTarget int
	LastErr       error
	LastReport    *Report
}

// Reclaimable is the rent locked in empty accounts.
func (s Snapshot) Reclaimable() uint64 {
	var total uint64
	for _, e := range s.Empty {
		total += e.Reclaimable
	}
	return total
}

// Snapshot returns a copy safe to use without the lock.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:            s.ID,
		Owner:         s.Owner,
		State:         s.state,
		Empty:         append([]scanner.EmptyAccount(nil), s.empty...),
		SkippedTarget: s.skipped,
		LastErr:       s.lastErr,
		LastReport:    s.lastReport,
	}
	snap.Dust = make([]DustCandidate, 0, len(s.dustOrder))
	for _, addr := range s.dustOrder {
		snap.Dust = append(snap.Dust, *s.dust[addr])
	}
	return snap
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// WaitQuotes blocks until the current quote pass finishes.
func (s *Session) WaitQuotes(ctx context.Context) error {
	s.mu.Lock()
	done := s.quotesDone
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// transition moves the session to "to" if it is currently in one of "from".
// Returns the previous state.
func (s *Session) transition(to State, from ...State) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range from {
		if s.state == f {
			prev := s.state
			s.state = to
			return prev, nil
		}
	}
	return s.state, ErrBusy
}

func (s *Session) set(to State, err error) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state
	s.state = to
	if err != nil {
		s.lastErr = err
	}
	return prev
}

// applyScan replaces scan results. Estimates of accounts that survived the
// scan with the same amount are kept until the new pass resolves them.
func (s *Session) applyScan(res *scanner.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.empty = res.Empty
	s.skipped = res.SkippedTarget
	s.lastErr = nil

	next := make(map[solana.PublicKey]*DustCandidate, len(res.Dust))
	order := make([]solana.PublicKey, 0, len(res.Dust))
	for _, h := range res.Dust {
		c := &DustCandidate{Holding: h}
		if old, ok := s.dust[h.Address]; ok && old.Holding.Amount == h.Amount {
			c.Estimate, c.Resolved = old.Estimate, old.Resolved
		}
		next[h.Address] = c
		order = append(order, h.Address)
	}
	s.dust = next
	s.dustOrder = order
}

// resolve stores an estimate from pass gen if that pass is still current and
// the account is still part of the scan.
func (s *Session) resolve(gen uint64, est quote.Estimate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.quoteGen {
		return false
	}
	c, ok := s.dust[est.Account]
	if !ok {
		return false
	}
	c.Estimate = est
	c.Resolved = true
	return true
}

// startQuotes cancels the previous quote pass and registers a new one.
func (s *Session) startQuotes(cancel context.CancelFunc) (uint64, chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelQuote != nil {
		s.cancelQuote()
	}
	s.quoteGen++
	s.cancelQuote = cancel
	s.quotesDone = make(chan struct{})
	return s.quoteGen, s.quotesDone
}

// Close cancels the running quote pass, if any.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelQuote != nil {
		s.cancelQuote()
		s.cancelQuote = nil
	}
}

// emptyAccounts returns a copy of the current empty accounts.
func (s *Session) emptyAccounts() []scanner.EmptyAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scanner.EmptyAccount(nil), s.empty...)
}

// selectDust returns worth-converting candidates among accounts (all when
// accounts is empty) in selection order, and the number of selected accounts that were excluded.
func (s *Session) selectDust(accounts []solana.PublicKey) ([]DustCandidate, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(accounts) == 0 {
		accounts = s.dustOrder
	}

	seen := make(map[solana.PublicKey]struct{}, len(accounts))
	var picked []DustCandidate
	excluded := 0
	for _, addr := range accounts {
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		c, ok := s.dust[addr]
		if !ok || !c.Worth() {
			excluded++
			continue
		}
		picked = append(picked, *c)
	}
	return picked, excluded
}

func (s *Session) finish(r *Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReport = r
}
