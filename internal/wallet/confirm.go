package wallet

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// Prompter asks the user to approve one signature request.
type Prompter func(ctx context.Context, summary string) (bool, error)

// ConfirmingSigner asks for approval before delegating to the wrapped signer.
// A "no" becomes a KindRejected SignError.
type ConfirmingSigner struct {
	inner  Signer
	prompt Prompter
}

// NewConfirmingSigner оборачивает signer интерактивным подтверждением.
func NewConfirmingSigner(inner Signer, prompt Prompter) *ConfirmingSigner {
	return &ConfirmingSigner{inner: inner, prompt: prompt}
}

func (c *ConfirmingSigner) PublicKey() solana.PublicKey {
	return c.inner.PublicKey()
}

func (c *ConfirmingSigner) Sign(ctx context.Context, tx *solana.Transaction) error {
	ok, err := c.prompt(ctx, Describe(tx))
	if err != nil {
		return &SignError{Kind: KindTransport, Err: err}
	}
	if !ok {
		return &SignError{Kind: KindRejected, Err: ErrUserRejected}
	}
	return c.inner.Sign(ctx, tx)
}

// Describe returns a one-line summary of a transaction for approval prompts.
func Describe(tx *solana.Transaction) string {
	programs := map[solana.PublicKey]struct{}{}
	for _, ix := range tx.Message.Instructions {
		if p, err := tx.Message.Program(ix.ProgramIDIndex); err == nil {
			programs[p] = struct{}{}
		}
	}
	return fmt.Sprintf("%d instruction(s) across %d program(s)", len(tx.Message.Instructions), len(programs))
}

// TerminalPrompt reads y/N answers line by line from in.
func TerminalPrompt(in io.Reader, out io.Writer) Prompter {
	var mu sync.Mutex
	reader := bufio.NewReader(in)
	return func(ctx context.Context, summary string) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		if err := ctx.Err(); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "Sign transaction: %s? [y/N] ", summary)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return false, fmt.Errorf("read answer: %w", err)
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	}
}

// AutoApprove approves every request.
func AutoApprove(context.Context, string) (bool, error) {
	return true, nil
}
