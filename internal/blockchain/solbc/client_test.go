package solbc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sweeper/internal/blockchain"
	"github.com/rovshanmuradov/solana-sweeper/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/solana-sweeper/internal/retry"
)

type rpcHandler func(params json.RawMessage) (interface{}, int)

// fakeNode is a minimal JSON-RPC endpoint answering by method name.
type fakeNode struct {
	mu       sync.Mutex
	handlers map[string]rpcHandler
	calls    map[string]int
}

func newFakeNode(t *testing.T) (*fakeNode, *httptest.Server) {
	node := &fakeNode{handlers: map[string]rpcHandler{}, calls: map[string]int{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		node.mu.Lock()
		node.calls[req.Method]++
		h, ok := node.handlers[req.Method]
		node.mu.Unlock()
		if !ok {
			t.Errorf("unexpected method %s", req.Method)
			http.Error(w, "unknown", http.StatusNotFound)
			return
		}

		result, status := h(req.Params)
		if status != 0 && status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte("slow down"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		})
	}))
	t.Cleanup(srv.Close)
	return node, srv
}

func (n *fakeNode) on(method string, h rpcHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[method] = h
}

func (n *fakeNode) count(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func withContext(value interface{}) map[string]interface{} {
	return map[string]interface{}{"context": map[string]interface{}{"slot": 1}, "value": value}
}

func newTestClient(t *testing.T, urls ...string) *Client {
	t.Helper()
	pool, err := rpc.NewPool(urls, retry.Policy{MaxRetries: 3, Multiplier: 2}, zap.NewNop())
	require.NoError(t, err)
	return NewClient(pool, Options{PollInterval: time.Millisecond, FallbackTimeout: time.Second}, zap.NewNop())
}

func TestClient_GetBalanceRetriesRateLimit(t *testing.T) {
	node, srv := newFakeNode(t)
	var calls int32
	node.on("getBalance", func(json.RawMessage) (interface{}, int) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, http.StatusTooManyRequests
		}
		return withContext(5000), 0
	})

	client := newTestClient(t, srv.URL)
	balance, err := client.GetBalance(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), balance)
	assert.Equal(t, 2, node.count("getBalance"))
}

func TestClient_RateLimitExhausted(t *testing.T) {
	node, srv := newFakeNode(t)
	node.on("getBalance", func(json.RawMessage) (interface{}, int) {
		return nil, http.StatusTooManyRequests
	})

	client := newTestClient(t, srv.URL)
	_, err := client.GetBalance(context.Background(), solana.NewWallet().PublicKey())
	require.Error(t, err)
	assert.True(t, errors.Is(err, rpc.ErrRateLimit))
	assert.Equal(t, 4, node.count("getBalance"))
}

func TestClient_FailoverToSecondNode(t *testing.T) {
	bad, badSrv := newFakeNode(t)
	bad.on("getMinimumBalanceForRentExemption", func(json.RawMessage) (interface{}, int) {
		return nil, http.StatusBadGateway
	})
	good, goodSrv := newFakeNode(t)
	good.on("getMinimumBalanceForRentExemption", func(json.RawMessage) (interface{}, int) {
		return 2039280, 0
	})

	client := newTestClient(t, badSrv.URL, goodSrv.URL)
	rent, err := client.MinBalanceForSize(context.Background(), blockchain.TokenAccountSize)
	require.NoError(t, err)
	assert.Equal(t, uint64(2039280), rent)
	assert.Equal(t, 1, bad.count("getMinimumBalanceForRentExemption"))
}

func TestClient_ListTokenAccountsBothPrograms(t *testing.T) {
	node, srv := newFakeNode(t)
	owner := solana.NewWallet().PublicKey()
	classic := solana.NewWallet().PublicKey()
	t22 := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	node.on("getTokenAccountsByOwner", func(params json.RawMessage) (interface{}, int) {
		var p []json.RawMessage
		require.NoError(t, json.Unmarshal(params, &p))
		var conf struct {
			ProgramID string `json:"programId"`
		}
		require.NoError(t, json.Unmarshal(p[1], &conf))
		var opts struct {
			Encoding string `json:"encoding"`
		}
		require.NoError(t, json.Unmarshal(p[2], &opts))
		assert.Equal(t, "jsonParsed", opts.Encoding)

		addr := classic
		if conf.ProgramID == solana.Token2022ProgramID.String() {
			addr = t22
		}
		return withContext([]interface{}{map[string]interface{}{
			"pubkey": addr.String(),
			"account": map[string]interface{}{
				"lamports":   2039280,
				"owner":      conf.ProgramID,
				"executable": false,
				"rentEpoch":  0,
				"data": map[string]interface{}{
					"program": "spl-token",
					"space":   165,
					"parsed": map[string]interface{}{
						"type": "account",
						"info": map[string]interface{}{
							"mint":  mint.String(),
							"owner": owner.String(),
							"state": "initialized",
							"tokenAmount": map[string]interface{}{
								"amount": "0", "decimals": 6, "uiAmountString": "0",
							},
						},
					},
				},
			},
		}}), 0
	})

	client := newTestClient(t, srv.URL)
	accounts, err := client.ListTokenAccounts(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	assert.Equal(t, classic, accounts[0].Address)
	assert.Equal(t, solana.TokenProgramID, accounts[0].ProgramID)
	assert.Equal(t, t22, accounts[1].Address)
	assert.Equal(t, solana.Token2022ProgramID, accounts[1].ProgramID)
	assert.Contains(t, string(accounts[0].Parsed), mint.String())
}

func TestClient_ConfirmSucceeds(t *testing.T) {
	node, srv := newFakeNode(t)
	var polls int32
	node.on("getSignatureStatuses", func(json.RawMessage) (interface{}, int) {
		if atomic.AddInt32(&polls, 1) < 3 {
			return withContext([]interface{}{nil}), 0
		}
		return withContext([]interface{}{map[string]interface{}{
			"slot": 10, "confirmations": 1, "err": nil, "confirmationStatus": "confirmed",
		}}), 0
	})
	node.on("getBlockHeight", func(json.RawMessage) (interface{}, int) { return 100, 0 })

	client := newTestClient(t, srv.URL)
	err := client.Confirm(context.Background(), solana.Signature{1}, 200)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, node.count("getSignatureStatuses"), 3)
}

func TestClient_ConfirmExpiresWithBlockhash(t *testing.T) {
	node, srv := newFakeNode(t)
	node.on("getSignatureStatuses", func(json.RawMessage) (interface{}, int) {
		return withContext([]interface{}{nil}), 0
	})
	node.on("getBlockHeight", func(json.RawMessage) (interface{}, int) { return 301, 0 })

	client := newTestClient(t, srv.URL)
	err := client.Confirm(context.Background(), solana.Signature{2}, 300)
	assert.ErrorIs(t, err, blockchain.ErrBlockhashExpired)
}

func TestClient_ConfirmReportsOnChainFailure(t *testing.T) {
	node, srv := newFakeNode(t)
	node.on("getSignatureStatuses", func(json.RawMessage) (interface{}, int) {
		return withContext([]interface{}{map[string]interface{}{
			"slot": 10, "err": map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}},
			"confirmationStatus": "confirmed",
		}}), 0
	})

	client := newTestClient(t, srv.URL)
	err := client.Confirm(context.Background(), solana.Signature{3}, 300)
	assert.ErrorIs(t, err, blockchain.ErrTransactionFailed)
}

func TestClient_LatestBlockhash(t *testing.T) {
	node, srv := newFakeNode(t)
	hash := solana.Hash{7, 7, 7}
	node.on("getLatestBlockhash", func(json.RawMessage) (interface{}, int) {
		return withContext(map[string]interface{}{
			"blockhash":            hash.String(),
			"lastValidBlockHeight": 4242,
		}), 0
	})

	client := newTestClient(t, srv.URL)
	bh, err := client.LatestBlockhash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, hash, bh.Hash)
	assert.Equal(t, uint64(4242), bh.LastValidBlockHeight)
}
