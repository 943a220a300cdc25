// internal/packer/sizer.go
package packer

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// SolanaSizer measures a legacy transaction paid by Payer: the compiled
// message plus one 64-byte slot per required signature.
type SolanaSizer struct {
	Payer solana.PublicKey
}

// Size implements SizeOracle.
func (s SolanaSizer) Size(ixs []solana.Instruction) (int, error) {
	if len(ixs) == 0 {
		return 0, nil
	}
	// the blockhash is fixed-width, its value does not affect the size
	tx, err := solana.NewTransaction(ixs, solana.Hash{}, solana.TransactionPayer(s.Payer))
	if err != nil {
		return 0, fmt.Errorf("compile transaction: %w", err)
	}
	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)

	raw, err := tx.MarshalBinary()
	if err != nil {
		return 0, fmt.Errorf("serialize transaction: %w", err)
	}
	return len(raw), nil
}
