// internal/blockchain/types.go
package blockchain

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gagliardetto/solana-go"
)

// TokenAccountSize размер SPL token аккаунта в байтах, от него считается rent.
const TokenAccountSize = 165

var (
	// ErrBlockhashExpired транзакция не подтвердилась до истечения blockhash.
	ErrBlockhashExpired = errors.New("blockhash expired before confirmation")
	// ErrTransactionFailed транзакция попала в блок, но завершилась с ошибкой.
	ErrTransactionFailed = errors.New("transaction failed on-chain")
)

// RawTokenAccount токен-аккаунт в том виде, в каком его вернул RPC (jsonParsed).
type RawTokenAccount struct {
	Address   solana.PublicKey
	ProgramID solana.PublicKey
	Lamports  uint64
	Parsed    json.RawMessage
}

// Blockhash свежий blockhash вместе с высотой, до которой он действителен.
type Blockhash struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
}

// AccountReader читает состояние кошелька.
type AccountReader interface {
	// ListTokenAccounts возвращает токен-аккаунты владельца для обеих token программ.
	ListTokenAccounts(ctx context.Context, owner solana.PublicKey) ([]RawTokenAccount, error)
	// GetBalance баланс в лампортах.
	GetBalance(ctx context.Context, owner solana.PublicKey) (uint64, error)
	// MinBalanceForSize минимальный rent-exempt баланс для аккаунта указанного размера.
	MinBalanceForSize(ctx context.Context, size uint64) (uint64, error)
}

// TransactionSender отправляет и подтверждает транзакции.
type TransactionSender interface {
	LatestBlockhash(ctx context.Context) (Blockhash, error)
	Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	// Confirm блокирует до подтверждения или до превышения lastValidBlockHeight.
	Confirm(ctx context.Context, sig solana.Signature, lastValidBlockHeight uint64) error
}

// Ledger полный набор операций чтения и записи.
type Ledger interface {
	AccountReader
	TransactionSender
}
