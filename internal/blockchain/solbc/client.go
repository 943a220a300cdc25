// internal/blockchain/solbc/client.go
package solbc

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sweeper/internal/blockchain"
	"github.com/rovshanmuradov/solana-sweeper/internal/blockchain/solbc/rpc"
)

// TokenPrograms программы, чьи аккаунты сканируются.
var TokenPrograms = []solana.PublicKey{solana.TokenProgramID, solana.Token2022ProgramID}

// Options настройки клиента.
type Options struct {
	Commitment solanarpc.CommitmentType
	// PollInterval период опроса статуса подписи.
	PollInterval time.Duration
	// FallbackTimeout используется, только если высота блока для blockhash неизвестна.
	FallbackTimeout time.Duration
}

// DefaultOptions возвращает настройки по умолчанию.
func DefaultOptions() Options {
	return Options{
		Commitment:      solanarpc.CommitmentConfirmed,
		PollInterval:    500 * time.Millisecond,
		FallbackTimeout: 90 * time.Second,
	}
}

// Client – тонкий адаптер над solana-go rpc с пулом узлов.
type Client struct {
	pool   *rpc.Pool
	opts   Options
	logger *zap.Logger
}

// NewClient создаёт клиент поверх пула RPC узлов.
func NewClient(pool *rpc.Pool, opts Options, logger *zap.Logger) *Client {
	if opts.Commitment == "" {
		opts.Commitment = solanarpc.CommitmentConfirmed
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	return &Client{
		pool:   pool,
		opts:   opts,
		logger: logger.Named("solbc-client"),
	}
}

// ListTokenAccounts получает аккаунты владельца в обеих token программах (jsonParsed).
func (c *Client) ListTokenAccounts(ctx context.Context, owner solana.PublicKey) ([]blockchain.RawTokenAccount, error) {
	var out []blockchain.RawTokenAccount
	for _, program := range TokenPrograms {
		programID := program
		var result *solanarpc.GetTokenAccountsResult
		err := c.pool.ExecuteWithRetry(ctx, "getTokenAccountsByOwner", func(node *rpc.NodeClient) error {
			var err error
			result, err = node.Client.GetTokenAccountsByOwner(ctx, owner,
				&solanarpc.GetTokenAccountsConfig{ProgramId: &programID},
				&solanarpc.GetTokenAccountsOpts{
					Commitment: c.opts.Commitment,
					Encoding:   solana.EncodingJSONParsed,
				},
			)
			return err
		})
		if err != nil {
			c.logger.Error("ListTokenAccounts error",
				zap.String("program", programID.String()),
				zap.Error(err))
			return nil, fmt.Errorf("list token accounts for %s: %w", programID, err)
		}
		if result == nil {
			continue
		}

		for _, ta := range result.Value {
			if ta == nil {
				continue
			}
			raw := blockchain.RawTokenAccount{
				Address:   ta.Pubkey,
				ProgramID: programID,
				Lamports:  ta.Account.Lamports,
			}
			if ta.Account.Data != nil {
				raw.Parsed = ta.Account.Data.GetRawJSON()
			}
			out = append(out, raw)
		}
	}

	c.logger.Debug("Token accounts listed",
		zap.String("owner", owner.String()),
		zap.Int("count", len(out)))
	return out, nil
}

// GetBalance получает баланс аккаунта.
func (c *Client) GetBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	var balance uint64
	err := c.pool.ExecuteWithRetry(ctx, "getBalance", func(node *rpc.NodeClient) error {
		result, err := node.Client.GetBalance(ctx, owner, c.opts.Commitment)
		if err != nil {
			return err
		}
		balance = result.Value
		return nil
	})
	if err != nil {
		c.logger.Error("GetBalance error", zap.Error(err))
		return 0, err
	}
	return balance, nil
}

// MinBalanceForSize минимальный rent-exempt баланс для аккаунта размера size.
func (c *Client) MinBalanceForSize(ctx context.Context, size uint64) (uint64, error) {
	var lamports uint64
	err := c.pool.ExecuteWithRetry(ctx, "getMinimumBalanceForRentExemption", func(node *rpc.NodeClient) error {
		var err error
		lamports, err = node.Client.GetMinimumBalanceForRentExemption(ctx, size, c.opts.Commitment)
		return err
	})
	if err != nil {
		c.logger.Error("MinBalanceForSize error", zap.Uint64("size", size), zap.Error(err))
		return 0, err
	}
	return lamports, nil
}

// LatestBlockhash получает свежий blockhash и высоту, до которой он действителен.
func (c *Client) LatestBlockhash(ctx context.Context) (blockchain.Blockhash, error) {
	var bh blockchain.Blockhash
	err := c.pool.ExecuteWithRetry(ctx, "getLatestBlockhash", func(node *rpc.NodeClient) error {
		result, err := node.Client.GetLatestBlockhash(ctx, c.opts.Commitment)
		if err != nil {
			return err
		}
		if result == nil || result.Value == nil {
			return fmt.Errorf("empty blockhash response")
		}
		bh = blockchain.Blockhash{
			Hash:                 result.Value.Blockhash,
			LastValidBlockHeight: result.Value.LastValidBlockHeight,
		}
		return nil
	})
	if err != nil {
		c.logger.Error("LatestBlockhash error", zap.Error(err))
		return blockchain.Blockhash{}, err
	}
	return bh, nil
}

// Submit отправляет подписанную транзакцию. Повторная отправка той же
// транзакции безопасна: подпись не меняется.
func (c *Client) Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	var sig solana.Signature
	err := c.pool.ExecuteWithRetry(ctx, "sendTransaction", func(node *rpc.NodeClient) error {
		var err error
		sig, err = node.Client.SendTransactionWithOpts(ctx, tx, solanarpc.TransactionOpts{
			SkipPreflight:       false,
			PreflightCommitment: c.opts.Commitment,
		})
		return err
	})
	if err != nil {
		c.logger.Error("Submit error", zap.Error(err))
		return solana.Signature{}, err
	}
	c.logger.Debug("Transaction sent", zap.String("signature", sig.String()))
	return sig, nil
}

// Confirm ждёт подтверждения транзакции, опрашивая статус подписи.
// Ожидание прекращается, когда высота блока превышает lastValidBlockHeight.
func (c *Client) Confirm(ctx context.Context, sig solana.Signature, lastValidBlockHeight uint64) error {
	if lastValidBlockHeight == 0 && c.opts.FallbackTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.FallbackTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		done, err := c.checkSignature(ctx, sig)
		if done || err != nil {
			return err
		}

		if lastValidBlockHeight > 0 {
			height, err := c.blockHeight(ctx)
			if err != nil {
				c.logger.Warn("Error getting block height", zap.Error(err))
			} else if height > lastValidBlockHeight {
				// последний шанс: статус мог появиться между запросами
				if done, err := c.checkSignature(ctx, sig); done || err != nil {
					return err
				}
				return fmt.Errorf("%w: %s", blockchain.ErrBlockhashExpired, sig)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) checkSignature(ctx context.Context, sig solana.Signature) (bool, error) {
	node := c.pool.GetNextClient()
	statuses, err := node.Client.GetSignatureStatuses(ctx, false, sig)
	if err != nil {
		c.logger.Warn("Error getting signature statuses", zap.Error(err))
		return false, nil
	}
	if statuses == nil || len(statuses.Value) == 0 || statuses.Value[0] == nil {
		return false, nil
	}

	status := statuses.Value[0]
	if status.Err != nil {
		return true, fmt.Errorf("%w: %s: %v", blockchain.ErrTransactionFailed, sig, status.Err)
	}
	if status.ConfirmationStatus == solanarpc.ConfirmationStatusFinalized ||
		status.ConfirmationStatus == solanarpc.ConfirmationStatusConfirmed {
		c.logger.Debug("Transaction confirmed", zap.String("signature", sig.String()))
		return true, nil
	}
	return false, nil
}

func (c *Client) blockHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := c.pool.ExecuteWithRetry(ctx, "getBlockHeight", func(node *rpc.NodeClient) error {
		var err error
		height, err = node.Client.GetBlockHeight(ctx, c.opts.Commitment)
		return err
	})
	return height, err
}

// Гарантируем, что Client реализует интерфейс blockchain.Ledger.
var _ blockchain.Ledger = (*Client)(nil)
