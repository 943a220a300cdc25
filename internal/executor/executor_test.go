package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sweeper/internal/blockchain"
	"github.com/rovshanmuradov/solana-sweeper/internal/packer"
	"github.com/rovshanmuradov/solana-sweeper/internal/wallet"
)

// MockLedger реализует blockchain.TransactionSender
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) LatestBlockhash(ctx context.Context) (blockchain.Blockhash, error) {
	args := m.Called(ctx)
	return args.Get(0).(blockchain.Blockhash), args.Error(1)
}

func (m *MockLedger) Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	args := m.Called(ctx, tx)
	return args.Get(0).(solana.Signature), args.Error(1)
}

func (m *MockLedger) Confirm(ctx context.Context, sig solana.Signature, lastValid uint64) error {
	args := m.Called(ctx, sig, lastValid)
	return args.Error(0)
}

// scriptedSigner signs with a real key and fails on chosen calls.
type scriptedSigner struct {
	inner  wallet.Signer
	calls  int
	failOn map[int]error
}

func (s *scriptedSigner) PublicKey() solana.PublicKey { return s.inner.PublicKey() }

func (s *scriptedSigner) Sign(ctx context.Context, tx *solana.Transaction) error {
	s.calls++
	if err, ok := s.failOn[s.calls]; ok {
		return err
	}
	return s.inner.Sign(ctx, tx)
}

type recordingObserver struct {
	indexes []int
	errs    []error
}

func (r *recordingObserver) TransactionDone(index int, _ solana.Signature, err error, _ time.Duration) {
	r.indexes = append(r.indexes, index)
	r.errs = append(r.errs, err)
}

func newSigner(t *testing.T, failOn map[int]error) *scriptedSigner {
	t.Helper()
	key := solana.NewWallet().PrivateKey
	w := &wallet.Wallet{PrivateKey: key, PublicKey: key.PublicKey()}
	return &scriptedSigner{inner: w.Signer(), failOn: failOn}
}

func planOf(payer solana.PublicKey, n int) *packer.Plan {
	plan := &packer.Plan{}
	for i := 0; i < n; i++ {
		ix := system.NewTransferInstruction(uint64(i+1), payer, solana.NewWallet().PublicKey()).Build()
		plan.Transactions = append(plan.Transactions, packer.Transaction{
			Instructions: []packer.Instruction{{Ix: ix, Reclaim: 1}},
		})
	}
	return plan
}

func happyLedger() *MockLedger {
	ledger := new(MockLedger)
	ledger.On("LatestBlockhash", mock.Anything).Return(blockchain.Blockhash{Hash: solana.Hash{1}, LastValidBlockHeight: 500}, nil)
	ledger.On("Submit", mock.Anything, mock.Anything).Return(solana.Signature{7}, nil)
	ledger.On("Confirm", mock.Anything, solana.Signature{7}, uint64(500)).Return(nil)
	return ledger
}

func TestExecute_AllConfirmed(t *testing.T) {
	signer := newSigner(t, nil)
	ledger := happyLedger()
	obs := &recordingObserver{}

	out, err := New(ledger, signer, time.Millisecond, obs, zap.NewNop()).Execute(context.Background(), planOf(signer.PublicKey(), 1))
	require.NoError(t, err)

	assert.Equal(t, 1, out.Attempted)
	assert.Equal(t, 1, out.Confirmed)
	assert.False(t, out.Cancelled)
	assert.Equal(t, []solana.Signature{{7}}, out.Signatures)
	assert.Equal(t, []error{nil}, obs.errs)
	ledger.AssertExpectations(t)
}

func TestExecute_RejectionOnSecondHaltsThird(t *testing.T) {
	rejected := &wallet.SignError{Kind: wallet.KindRejected, Err: wallet.ErrUserRejected}
	signer := newSigner(t, map[int]error{2: rejected})
	ledger := happyLedger()

	out, err := New(ledger, signer, time.Millisecond, nil, zap.NewNop()).Execute(context.Background(), planOf(signer.PublicKey(), 3))

	assert.ErrorIs(t, err, ErrCancelled)
	assert.True(t, out.Cancelled)
	assert.Equal(t, 1, out.Confirmed)
	assert.Equal(t, 2, out.Attempted)
	assert.Equal(t, 2, signer.calls)
	ledger.AssertNumberOfCalls(t, "Submit", 1)
	ledger.AssertNumberOfCalls(t, "Confirm", 1)
}

func TestExecute_FailureStopsWithoutCancel(t *testing.T) {
	signer := newSigner(t, nil)
	ledger := new(MockLedger)
	ledger.On("LatestBlockhash", mock.Anything).Return(blockchain.Blockhash{Hash: solana.Hash{1}, LastValidBlockHeight: 10}, nil)
	ledger.On("Submit", mock.Anything, mock.Anything).Return(solana.Signature{1}, nil).Once()
	ledger.On("Submit", mock.Anything, mock.Anything).Return(solana.Signature{2}, nil).Once()
	ledger.On("Confirm", mock.Anything, solana.Signature{1}, uint64(10)).Return(nil)
	ledger.On("Confirm", mock.Anything, solana.Signature{2}, uint64(10)).Return(blockchain.ErrBlockhashExpired)

	out, err := New(ledger, signer, 0, nil, zap.NewNop()).Execute(context.Background(), planOf(signer.PublicKey(), 3))

	require.Error(t, err)
	assert.ErrorIs(t, err, blockchain.ErrBlockhashExpired)
	assert.NotErrorIs(t, err, ErrCancelled)
	assert.False(t, out.Cancelled)
	assert.Equal(t, 1, out.Confirmed)
	assert.Equal(t, 2, out.Attempted)
	assert.LessOrEqual(t, out.Confirmed, out.Attempted)
	assert.ErrorIs(t, out.LastErr, blockchain.ErrBlockhashExpired)
	ledger.AssertNumberOfCalls(t, "Submit", 2)
}

func TestExecute_BlockhashErrorCountsAsAttempt(t *testing.T) {
	signer := newSigner(t, nil)
	ledger := new(MockLedger)
	ledger.On("LatestBlockhash", mock.Anything).Return(blockchain.Blockhash{}, errors.New("rpc down"))

	out, err := New(ledger, signer, 0, nil, zap.NewNop()).Execute(context.Background(), planOf(signer.PublicKey(), 2))
	require.Error(t, err)
	assert.Equal(t, 1, out.Attempted)
	assert.Zero(t, out.Confirmed)
	assert.Zero(t, signer.calls)
}

func TestExecuteOne(t *testing.T) {
	signer := newSigner(t, map[int]error{2: &wallet.SignError{Kind: wallet.KindRejected}})
	ledger := new(MockLedger)
	ledger.On("Submit", mock.Anything, mock.Anything).Return(solana.Signature{3}, nil)
	ledger.On("Confirm", mock.Anything, solana.Signature{3}, uint64(77)).Return(nil)

	obs := &recordingObserver{}
	exec := New(ledger, signer, 0, obs, zap.NewNop())
	tx, err := solana.NewTransaction(planOf(signer.PublicKey(), 1).Transactions[0].Ixs(), solana.Hash{5}, solana.TransactionPayer(signer.PublicKey()))
	require.NoError(t, err)

	sig, err := exec.ExecuteOne(context.Background(), 0, tx, 77)
	require.NoError(t, err)
	assert.Equal(t, solana.Signature{3}, sig)
	assert.NoError(t, tx.VerifySignatures())

	_, err = exec.ExecuteOne(context.Background(), 4, tx, 77)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, []int{0, 4}, obs.indexes)
	ledger.AssertNumberOfCalls(t, "Submit", 1)
	ledger.AssertNotCalled(t, "LatestBlockhash", mock.Anything)
}

func TestExecute_PausesBetweenTransactions(t *testing.T) {
	signer := newSigner(t, nil)
	ledger := happyLedger()
	obs := &recordingObserver{}
	pause := 30 * time.Millisecond

	start := time.Now()
	out, err := New(ledger, signer, pause, obs, zap.NewNop()).Execute(context.Background(), planOf(signer.PublicKey(), 3))
	require.NoError(t, err)

	assert.Equal(t, 3, out.Confirmed)
	assert.GreaterOrEqual(t, time.Since(start), 2*pause, "two pauses for three transactions")
	assert.Equal(t, []int{0, 1, 2}, obs.indexes)
}

func TestExecute_CancelledDuringPause(t *testing.T) {
	signer := newSigner(t, nil)
	ledger := new(MockLedger)
	ledger.On("LatestBlockhash", mock.Anything).Return(blockchain.Blockhash{Hash: solana.Hash{1}, LastValidBlockHeight: 500}, nil)
	ledger.On("Submit", mock.Anything, mock.Anything).Return(solana.Signature{7}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// the first confirmation cancels; the executor is then waiting out the pause
	ledger.On("Confirm", mock.Anything, solana.Signature{7}, uint64(500)).Run(func(mock.Arguments) { cancel() }).Return(nil)

	out, err := New(ledger, signer, time.Minute, nil, zap.NewNop()).Execute(ctx, planOf(signer.PublicKey(), 3))

	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrCancelled)
	assert.False(t, out.Cancelled)
	assert.Equal(t, 1, out.Confirmed)
	assert.Equal(t, 1, out.Attempted)
	assert.ErrorIs(t, out.LastErr, context.Canceled)
	ledger.AssertNumberOfCalls(t, "Submit", 1)
}
