// internal/ui/model.go
package ui

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/solana-sweeper/internal/consolidator"
	"github.com/rovshanmuradov/solana-sweeper/internal/events"
	"github.com/rovshanmuradov/solana-sweeper/internal/logger"
	"github.com/rovshanmuradov/solana-sweeper/internal/ui/component"
	"github.com/rovshanmuradov/solana-sweeper/internal/ui/style"
)

// Controller is the wallet-bound view of the engine the screen drives.
type Controller interface {
	Snapshot() consolidator.Snapshot
	Scan(ctx context.Context) error
	Reclaim(ctx context.Context) (*consolidator.Report, error)
	Convert(ctx context.Context, accounts []solana.PublicKey) (*consolidator.Report, error)
}

type boundSession struct {
	engine  *consolidator.Engine
	session *consolidator.Session
}

// Bind ties an engine to one wallet session.
func Bind(engine *consolidator.Engine, session *consolidator.Session) Controller {
	return &boundSession{engine: engine, session: session}
}

func (b *boundSession) Snapshot() consolidator.Snapshot { return b.session.Snapshot() }

func (b *boundSession) Scan(ctx context.Context) error {
	return b.engine.Scan(ctx, b.session)
}

func (b *boundSession) Reclaim(ctx context.Context) (*consolidator.Report, error) {
	return b.engine.ReclaimEmpty(ctx, b.session)
}

func (b *boundSession) Convert(ctx context.Context, accounts []solana.PublicKey) (*consolidator.Report, error) {
	return b.engine.ConvertDust(ctx, b.session, accounts)
}

type pane int

const (
	paneEmpty pane = iota
	paneDust
)

// Tea message types
type (
	eventMsg struct {
		event events.Event
	}
	scanDoneMsg struct {
		err error
	}
	opDoneMsg struct {
		report *consolidator.Report
		err    error
	}
)

// pendingAction is an operation waiting for the user's y/n.
type pendingAction struct {
	operation string
	prompt    string
	accounts  []solana.PublicKey
}

// Options configure the screen.
type Options struct {
	Events    <-chan events.Event
	Approvals *Approvals // nil when signatures are auto-approved
	Logs      *logger.LogBuffer
}

// Model is the single sweeper screen.
type Model struct {
	ctx        context.Context
	controller Controller
	opts       Options

	keys    KeyMap
	styles  style.Styles
	help    help.Model
	spinner spinner.Model
	empty   table.Model
	dust    table.Model
	logs    *component.LogViewer

	focus    pane
	snap     consolidator.Snapshot
	selected map[solana.PublicKey]bool
	confirm  *pendingAction
	approval *approvalRequest
	busy     string
	status   string
	lastErr  error
	width    int
	height   int
}

// NewModel creates the screen. ctx bounds every engine call it starts.
func NewModel(ctx context.Context, controller Controller, opts Options) *Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := &Model{
		ctx:        ctx,
		controller: controller,
		opts:       opts,
		keys:       DefaultKeyMap(),
		styles:     style.NewStyles(style.DefaultPalette()),
		help:       help.New(),
		spinner:    sp,
		logs:       component.NewLogViewer(opts.Logs),
		selected:   make(map[solana.PublicKey]bool),
	}

	m.empty = table.New(
		table.WithColumns([]table.Column{
			{Title: "Account", Width: 14},
			{Title: "Mint", Width: 14},
			{Title: "Rent (SOL)", Width: 12},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
	)
	m.dust = table.New(
		table.WithColumns([]table.Column{
			{Title: " ", Width: 3},
			{Title: "Mint", Width: 14},
			{Title: "Amount", Width: 14},
			{Title: "≈ SOL", Width: 12},
			{Title: "USD", Width: 9},
			{Title: "Status", Width: 10},
		}),
		table.WithHeight(8),
	)
	return m
}

// Init starts the first scan and the listeners.
func (m *Model) Init() tea.Cmd {
	m.busy = "Scanning"
	cmds := []tea.Cmd{m.spinner.Tick, m.scanCmd()}
	if m.opts.Events != nil {
		cmds = append(cmds, waitEvent(m.opts.Events))
	}
	if m.opts.Approvals != nil {
		cmds = append(cmds, m.opts.Approvals.wait(m.ctx))
	}
	return tea.Batch(cmds...)
}

func waitEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg{event: e}
	}
}

func (m *Model) scanCmd() tea.Cmd {
	ctx, c := m.ctx, m.controller
	return func() tea.Msg {
		return scanDoneMsg{err: c.Scan(ctx)}
	}
}

func (m *Model) runCmd(action pendingAction) tea.Cmd {
	ctx, c := m.ctx, m.controller
	return func() tea.Msg {
		var (
			r   *consolidator.Report
			err error
		)
		switch action.operation {
		case consolidator.OpReclaim:
			r, err = c.Reclaim(ctx)
		case consolidator.OpConvert:
			r, err = c.Convert(ctx, action.accounts)
		}
		return opDoneMsg{report: r, err: err}
	}
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.logs.SetSize(msg.Width, 8)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		m.refresh()
		return m, waitEvent(m.opts.Events)

	case approvalMsg:
		req := msg.req
		m.approval = &req
		return m, nil

	case scanDoneMsg:
		m.busy = ""
		m.lastErr = msg.err
		m.refresh()
		return m, nil

	case opDoneMsg:
		m.busy = ""
		m.selected = make(map[solana.PublicKey]bool)
		m.handleResult(msg)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m, m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleResult(msg opDoneMsg) {
	m.lastErr = nil
	if msg.report != nil {
		m.status = msg.report.Summary()
	}

	var cancelled *consolidator.CancelledError
	switch {
	case msg.err == nil:
	case errors.As(msg.err, &cancelled):
		// summary already says so
	default:
		m.lastErr = msg.err
	}
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	if m.approval != nil {
		return m.answerApproval(msg)
	}
	if m.confirm != nil {
		switch {
		case key.Matches(msg, m.keys.Confirm):
			action := *m.confirm
			m.confirm = nil
			m.busy = busyLabel(action.operation)
			m.status = ""
			return tea.Batch(m.spinner.Tick, m.runCmd(action))
		case key.Matches(msg, m.keys.Cancel):
			m.confirm = nil
		}
		return nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Logs):
		m.logs.Toggle()
	case key.Matches(msg, m.keys.Tab):
		m.switchPane()
	case key.Matches(msg, m.keys.Select):
		m.toggleCurrent()
	case key.Matches(msg, m.keys.SelectAll):
		m.selectAllWorth()
	case key.Matches(msg, m.keys.Rescan):
		if !m.isBusy() {
			m.busy = "Scanning"
			return tea.Batch(m.spinner.Tick, m.scanCmd())
		}
	case key.Matches(msg, m.keys.Reclaim):
		m.askReclaim()
	case key.Matches(msg, m.keys.Convert):
		m.askConvert()
	default:
		var cmd tea.Cmd
		if m.focus == paneEmpty {
			m.empty, cmd = m.empty.Update(msg)
		} else {
			m.dust, cmd = m.dust.Update(msg)
		}
		return cmd
	}
	return nil
}

func (m *Model) answerApproval(msg tea.KeyMsg) tea.Cmd {
	var answer bool
	switch {
	case key.Matches(msg, m.keys.Confirm):
		answer = true
	case key.Matches(msg, m.keys.Cancel):
		answer = false
	default:
		return nil
	}
	m.approval.reply <- answer
	m.approval = nil
	return m.opts.Approvals.wait(m.ctx)
}

func (m *Model) askReclaim() {
	if m.isBusy() {
		return
	}
	if len(m.snap.Empty) == 0 {
		m.status = "No empty accounts to close"
		return
	}
	m.confirm = &pendingAction{
		operation: consolidator.OpReclaim,
		prompt: fmt.Sprintf("Close %d empty account(s) and reclaim %s SOL?",
			len(m.snap.Empty), consolidator.FormatSOL(m.snap.Reclaimable())),
	}
}

func (m *Model) askConvert() {
	if m.isBusy() {
		return
	}

	var accounts []solana.PublicKey
	var out uint64
	for _, c := range m.snap.Dust {
		if !c.Worth() {
			continue
		}
		if len(m.selected) > 0 && !m.selected[c.Holding.Address] {
			continue
		}
		accounts = append(accounts, c.Holding.Address)
		out += c.Estimate.TargetAmount
	}
	if len(accounts) == 0 {
		m.status = "Nothing worth converting"
		return
	}
	m.confirm = &pendingAction{
		operation: consolidator.OpConvert,
		accounts:  accounts,
		prompt:    fmt.Sprintf("Convert %d holding(s) for about %s SOL?", len(accounts), consolidator.FormatSOL(out)),
	}
}

// isBusy covers work started here and work the engine is still doing,
// such as the settle and re-scan after an operation.
func (m *Model) isBusy() bool {
	return m.busy != "" || m.snap.State.Busy()
}

func (m *Model) switchPane() {
	if m.focus == paneEmpty {
		m.focus = paneDust
		m.empty.Blur()
		m.dust.Focus()
		return
	}
	m.focus = paneEmpty
	m.dust.Blur()
	m.empty.Focus()
}

func (m *Model) toggleCurrent() {
	if m.focus != paneDust {
		return
	}
	i := m.dust.Cursor()
	if i < 0 || i >= len(m.snap.Dust) {
		return
	}
	addr := m.snap.Dust[i].Holding.Address
	if m.selected[addr] {
		delete(m.selected, addr)
	} else {
		m.selected[addr] = true
	}
	m.refreshRows()
}

func (m *Model) selectAllWorth() {
	for _, c := range m.snap.Dust {
		if c.Worth() {
			m.selected[c.Holding.Address] = true
		}
	}
	m.refreshRows()
}

// refresh reloads the session snapshot.
func (m *Model) refresh() {
	m.snap = m.controller.Snapshot()
	for addr := range m.selected {
		if !m.hasDust(addr) {
			delete(m.selected, addr)
		}
	}
	m.refreshRows()
}

func (m *Model) hasDust(addr solana.PublicKey) bool {
	for _, c := range m.snap.Dust {
		if c.Holding.Address.Equals(addr) {
			return true
		}
	}
	return false
}

func (m *Model) refreshRows() {
	rows := make([]table.Row, 0, len(m.snap.Empty))
	for _, e := range m.snap.Empty {
		rows = append(rows, table.Row{short(e.Address), short(e.Mint), consolidator.FormatSOL(e.Reclaimable)})
	}
	m.empty.SetRows(rows)

	rows = make([]table.Row, 0, len(m.snap.Dust))
	for _, c := range m.snap.Dust {
		mark := "[ ]"
		if m.selected[c.Holding.Address] {
			mark = "[x]"
		}
		sol, usd := "…", "…"
		if c.Resolved {
			sol = consolidator.FormatSOL(c.Estimate.TargetAmount)
			usd = fmt.Sprintf("$%.2f", c.Estimate.FiatValue)
		}
		rows = append(rows, table.Row{mark, short(c.Holding.Mint), c.Holding.UIAmount.String(), sol, usd, dustStatus(c)})
	}
	m.dust.SetRows(rows)
}

func dustStatus(c consolidator.DustCandidate) string {
	switch {
	case !c.Resolved:
		return "quoting"
	case c.Estimate.Err != nil:
		return "no quote"
	case c.Estimate.Worth:
		return "worth"
	default:
		return "too small"
	}
}

func busyLabel(op string) string {
	if op == consolidator.OpConvert {
		return "Converting"
	}
	return "Closing accounts"
}

func short(pk solana.PublicKey) string {
	s := pk.String()
	if len(s) <= 12 {
		return s
	}
	return s[:5] + "…" + s[len(s)-5:]
}
