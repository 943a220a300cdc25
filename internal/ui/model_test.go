package ui

import (
	"context"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/solana-sweeper/internal/consolidator"
	"github.com/rovshanmuradov/solana-sweeper/internal/executor"
	"github.com/rovshanmuradov/solana-sweeper/internal/quote"
	"github.com/rovshanmuradov/solana-sweeper/internal/scanner"
)

type fakeController struct {
	mu        sync.Mutex
	snap      consolidator.Snapshot
	reclaims  int
	converted []solana.PublicKey
	err       error
}

func (f *fakeController) Snapshot() consolidator.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeController) Scan(context.Context) error { return nil }

func (f *fakeController) Reclaim(context.Context) (*consolidator.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reclaims++
	r := &consolidator.Report{Operation: consolidator.OpReclaim, Succeeded: len(f.snap.Empty), Reclaimed: f.snap.Reclaimable()}
	return r, f.err
}

func (f *fakeController) Convert(_ context.Context, accounts []solana.PublicKey) (*consolidator.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.converted = accounts
	return &consolidator.Report{Operation: consolidator.OpConvert, Succeeded: len(accounts)}, f.err
}

func keyRune(r string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(r)}
}

func candidate(worth bool) consolidator.DustCandidate {
	return consolidator.DustCandidate{
		Holding: scanner.TokenHolding{
			Mint:     solana.NewWallet().PublicKey(),
			Address:  solana.NewWallet().PublicKey(),
			UIAmount: decimal.RequireFromString("0.5"),
		},
		Estimate: quote.Estimate{TargetAmount: 1_000_000, FiatValue: 0.15, Worth: worth},
		Resolved: true,
	}
}

func newTestModel(ctrl *fakeController) *Model {
	m := NewModel(context.Background(), ctrl, Options{})
	m.refresh()
	return m
}

// run executes cmd and feeds the message back, as the tea runtime would.
func run(t *testing.T, m *Model, cmd tea.Cmd) {
	t.Helper()
	require.NotNil(t, cmd)
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		for _, c := range batch {
			if c == nil {
				continue
			}
			if out, ok := c().(opDoneMsg); ok {
				m.Update(out)
			}
		}
		return
	}
	m.Update(msg)
}

func TestModel_ReclaimAsksForConfirmation(t *testing.T) {
	ctrl := &fakeController{snap: consolidator.Snapshot{
		State: consolidator.Ready,
		Empty: []scanner.EmptyAccount{
			{Address: solana.NewWallet().PublicKey(), Reclaimable: 2_039_280},
			{Address: solana.NewWallet().PublicKey(), Reclaimable: 2_039_280},
		},
	}}
	m := newTestModel(ctrl)

	_, cmd := m.Update(keyRune("r"))
	assert.Nil(t, cmd)
	require.NotNil(t, m.confirm)
	assert.Contains(t, m.View(), "Close 2 empty account(s) and reclaim 0.00407856 SOL?")

	_, cmd = m.Update(keyRune("y"))
	assert.Equal(t, "Closing accounts", m.busy)
	run(t, m, cmd)

	assert.Equal(t, 1, ctrl.reclaims)
	assert.Empty(t, m.busy)
	assert.Contains(t, m.status, "reclaim: 2 succeeded")
}

func TestModel_ReclaimDeclined(t *testing.T) {
	ctrl := &fakeController{snap: consolidator.Snapshot{
		Empty: []scanner.EmptyAccount{{Address: solana.NewWallet().PublicKey(), Reclaimable: 1}},
	}}
	m := newTestModel(ctrl)

	m.Update(keyRune("r"))
	m.Update(keyRune("n"))
	assert.Nil(t, m.confirm)
	assert.Zero(t, ctrl.reclaims)
}

func TestModel_ConvertUsesSelection(t *testing.T) {
	a, b, small := candidate(true), candidate(true), candidate(false)
	ctrl := &fakeController{snap: consolidator.Snapshot{Dust: []consolidator.DustCandidate{a, b, small}}}
	m := newTestModel(ctrl)

	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m.Update(tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")})
	assert.True(t, m.selected[a.Holding.Address])

	m.Update(keyRune("c"))
	require.NotNil(t, m.confirm)
	assert.Equal(t, []solana.PublicKey{a.Holding.Address}, m.confirm.accounts)

	_, cmd := m.Update(keyRune("y"))
	run(t, m, cmd)
	assert.Equal(t, []solana.PublicKey{a.Holding.Address}, ctrl.converted)
	assert.Empty(t, m.selected)
}

func TestModel_ConvertWithoutSelectionTakesAllWorth(t *testing.T) {
	a, small := candidate(true), candidate(false)
	ctrl := &fakeController{snap: consolidator.Snapshot{Dust: []consolidator.DustCandidate{a, small}}}
	m := newTestModel(ctrl)

	m.Update(keyRune("c"))
	require.NotNil(t, m.confirm)
	assert.Equal(t, []solana.PublicKey{a.Holding.Address}, m.confirm.accounts)
}

func TestModel_ActionsBlockedWhileEngineBusy(t *testing.T) {
	ctrl := &fakeController{snap: consolidator.Snapshot{
		State: consolidator.Settling,
		Empty: []scanner.EmptyAccount{{Address: solana.NewWallet().PublicKey(), Reclaimable: 1}},
		Dust:  []consolidator.DustCandidate{candidate(true)},
	}}
	m := newTestModel(ctrl)

	m.Update(keyRune("r"))
	assert.Nil(t, m.confirm)
	m.Update(keyRune("c"))
	assert.Nil(t, m.confirm)
	_, cmd := m.Update(keyRune("s"))
	assert.Nil(t, cmd)

	ctrl.snap.State = consolidator.Ready
	m.refresh()
	m.Update(keyRune("r"))
	assert.NotNil(t, m.confirm)
}

func TestModel_NothingWorthConverting(t *testing.T) {
	ctrl := &fakeController{snap: consolidator.Snapshot{Dust: []consolidator.DustCandidate{candidate(false)}}}
	m := newTestModel(ctrl)

	m.Update(keyRune("c"))
	assert.Nil(t, m.confirm)
	assert.Equal(t, "Nothing worth converting", m.status)
}

func TestModel_CancelledOperationIsNotAnError(t *testing.T) {
	m := newTestModel(&fakeController{})
	report := &consolidator.Report{Operation: consolidator.OpReclaim, Cancelled: true}

	m.Update(opDoneMsg{report: report, err: &consolidator.CancelledError{Report: report}})
	assert.NoError(t, m.lastErr)
	assert.Contains(t, m.status, "cancelled by user")

	m.Update(opDoneMsg{err: &consolidator.OperationError{Operation: "reclaim", Err: executor.ErrCancelled}})
	assert.Error(t, m.lastErr)
}

func TestApprovals_RoundTrip(t *testing.T) {
	approvals := NewApprovals()
	m := NewModel(context.Background(), &fakeController{}, Options{Approvals: approvals})

	answer := make(chan bool, 1)
	go func() {
		ok, err := approvals.Prompt(context.Background(), "1 instruction(s) across 1 program(s)")
		if err == nil {
			answer <- ok
		}
	}()

	msg := approvals.wait(context.Background())()
	m.Update(msg)
	require.NotNil(t, m.approval)
	assert.Contains(t, m.View(), "Sign transaction: 1 instruction(s) across 1 program(s)?")

	_, cmd := m.Update(keyRune("n"))
	assert.NotNil(t, cmd)
	assert.Nil(t, m.approval)

	select {
	case ok := <-answer:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("prompt did not return")
	}
}

func TestApprovals_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewApprovals().Prompt(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestApprovals_CloseReleasesWaitAndPrompt(t *testing.T) {
	approvals := NewApprovals()

	waited := make(chan tea.Msg, 1)
	go func() { waited <- approvals.wait(context.Background())() }()

	prompted := make(chan bool, 1)
	go func() {
		ok, err := approvals.Prompt(context.Background(), "x")
		if err == nil {
			prompted <- ok
		}
	}()

	// одна из горутин может получить запрос через канал; закрытие освобождает обе стороны
	approvals.Close()
	approvals.Close()

	select {
	case msg := <-waited:
		if msg != nil {
			req := msg.(approvalMsg).req
			req.reply <- false
		}
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not return after Close")
	}

	select {
	case ok := <-prompted:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("prompt did not return after Close")
	}

	ok, err := approvals.Prompt(context.Background(), "y")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApprovals_WaitReturnsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Nil(t, NewApprovals().wait(ctx)())
}
