// internal/instruction/factory.go
package instruction

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

var (
	// ErrUnsupportedProgram возвращается для аккаунтов вне SPL Token / Token-2022.
	ErrUnsupportedProgram = errors.New("unsupported token program")
	// ErrNoFeeRecipient возвращается, если получатель комиссии не настроен.
	ErrNoFeeRecipient = errors.New("fee recipient not configured")
	// ErrZeroFee возвращается при попытке собрать перевод нулевой комиссии.
	ErrZeroFee = errors.New("fee amount must be positive")
)

// Factory собирает инструкции закрытия аккаунтов и перевода комиссии.
type Factory struct {
	feeRecipient solana.PublicKey
}

// NewFactory создаёт фабрику. Нулевой feeRecipient отключает комиссию.
func NewFactory(feeRecipient solana.PublicKey) *Factory {
	return &Factory{feeRecipient: feeRecipient}
}

// FeeEnabled сообщает, настроен ли получатель комиссии.
func (f *Factory) FeeEnabled() bool {
	return !f.feeRecipient.IsZero()
}

// Close builds CloseAccount for a token account owned by either token program.
// Rent goes to destination; owner must sign.
func (f *Factory) Close(account, program, destination, owner solana.PublicKey) (solana.Instruction, error) {
	if !program.Equals(solana.TokenProgramID) && !program.Equals(solana.Token2022ProgramID) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProgram, program)
	}

	ix, err := token.NewCloseAccountInstruction(account, destination, owner, nil).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build close instruction for %s: %w", account, err)
	}
	if program.Equals(token.ProgramID) {
		return ix, nil
	}

	// Token-2022 shares the CloseAccount layout; only the program id differs.
	data, err := ix.Data()
	if err != nil {
		return nil, fmt.Errorf("encode close instruction for %s: %w", account, err)
	}
	return solana.NewInstruction(program, ix.Accounts(), data), nil
}

// FeeTransfer builds a system transfer of amount lamports from payer to the fee recipient.
func (f *Factory) FeeTransfer(payer solana.PublicKey, amount uint64) (solana.Instruction, error) {
	if !f.FeeEnabled() {
		return nil, ErrNoFeeRecipient
	}
	if amount == 0 {
		return nil, ErrZeroFee
	}
	ix, err := system.NewTransferInstruction(amount, payer, f.feeRecipient).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build fee transfer: %w", err)
	}
	return ix, nil
}
