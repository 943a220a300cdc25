// ==================================
// File: internal/wallet/wallet.go
// ==================================
package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// Signer signs transactions on behalf of one wallet.
type Signer interface {
	PublicKey() solana.PublicKey
	Sign(ctx context.Context, tx *solana.Transaction) error
}

// Wallet представляет локальный кошелёк Solana.
type Wallet struct {
	PrivateKey solana.PrivateKey
	PublicKey  solana.PublicKey
}

// NewWallet создаёт кошелёк из base58-encoded приватного ключа.
func NewWallet(privateKeyBase58 string) (*Wallet, error) {
	privateKeyBytes, err := base58.Decode(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	if len(privateKeyBytes) != 64 {
		return nil, fmt.Errorf("invalid private key length: expected 64 bytes, got %d", len(privateKeyBytes))
	}
	privateKey := solana.PrivateKey(privateKeyBytes)
	return &Wallet{
		PrivateKey: privateKey,
		PublicKey:  privateKey.PublicKey(),
	}, nil
}

// LoadKeygenFile читает ключ в формате solana-keygen (JSON массив байт).
func LoadKeygenFile(path string) (*Wallet, error) {
	privateKey, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keypair file: %w", err)
	}
	return &Wallet{
		PrivateKey: privateKey,
		PublicKey:  privateKey.PublicKey(),
	}, nil
}

// Load выбирает источник ключа: файл keypair имеет приоритет над base58 строкой.
func Load(keypairPath, privateKeyBase58 string) (*Wallet, error) {
	switch {
	case keypairPath != "":
		return LoadKeygenFile(keypairPath)
	case privateKeyBase58 != "":
		return NewWallet(privateKeyBase58)
	}
	return nil, errors.New("no keypair file or private key configured")
}

// Signer возвращает локальный Signer для кошелька.
func (w *Wallet) Signer() Signer {
	return &localSigner{w: w}
}

// String возвращает строковое представление кошелька (его публичный ключ).
func (w *Wallet) String() string {
	return w.PublicKey.String()
}

type localSigner struct {
	w *Wallet
}

func (s *localSigner) PublicKey() solana.PublicKey {
	return s.w.PublicKey
}

// Sign подписывает транзакцию приватным ключом кошелька.
func (s *localSigner) Sign(ctx context.Context, tx *solana.Transaction) error {
	if err := ctx.Err(); err != nil {
		return &SignError{Kind: KindOther, Err: err}
	}
	// aggregator transactions may arrive with zeroed signature slots
	tx.Signatures = nil
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.w.PublicKey) {
			return &s.w.PrivateKey
		}
		return nil
	})
	if err != nil {
		return &SignError{Kind: KindOther, Err: err}
	}
	return nil
}
