package ui

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

type approvalRequest struct {
	summary string
	reply   chan bool
}

type approvalMsg struct {
	req approvalRequest
}

// Approvals routes signature prompts from the executor into the TUI.
// Its Prompt method satisfies wallet.Prompter.
type Approvals struct {
	reqs chan approvalRequest
	done chan struct{}
	once sync.Once
}

// NewApprovals creates an approval bridge.
func NewApprovals() *Approvals {
	return &Approvals{
		reqs: make(chan approvalRequest),
		done: make(chan struct{}),
	}
}

// Close detaches the bridge from the TUI. Pending and future prompts are
// answered as rejected.
func (a *Approvals) Close() {
	a.once.Do(func() { close(a.done) })
}

// Prompt blocks until the user answers in the TUI or ctx is done.
func (a *Approvals) Prompt(ctx context.Context, summary string) (bool, error) {
	req := approvalRequest{summary: summary, reply: make(chan bool, 1)}

	select {
	case a.reqs <- req:
	case <-a.done:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}

	select {
	case ok := <-req.reply:
		return ok, nil
	case <-a.done:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// wait возвращает nil, если программа завершилась раньше запроса.
func (a *Approvals) wait(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		select {
		case req := <-a.reqs:
			return approvalMsg{req: req}
		case <-a.done:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}
