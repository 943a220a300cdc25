package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rovshanmuradov/solana-sweeper/internal/blockchain"
	"github.com/rovshanmuradov/solana-sweeper/internal/blockchain/solbc"
	"github.com/rovshanmuradov/solana-sweeper/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/solana-sweeper/internal/config"
	"github.com/rovshanmuradov/solana-sweeper/internal/consolidator"
	"github.com/rovshanmuradov/solana-sweeper/internal/events"
	"github.com/rovshanmuradov/solana-sweeper/internal/executor"
	"github.com/rovshanmuradov/solana-sweeper/internal/export"
	"github.com/rovshanmuradov/solana-sweeper/internal/instruction"
	"github.com/rovshanmuradov/solana-sweeper/internal/license"
	"github.com/rovshanmuradov/solana-sweeper/internal/logger"
	"github.com/rovshanmuradov/solana-sweeper/internal/metrics"
	"github.com/rovshanmuradov/solana-sweeper/internal/packer"
	"github.com/rovshanmuradov/solana-sweeper/internal/quote"
	"github.com/rovshanmuradov/solana-sweeper/internal/retry"
	"github.com/rovshanmuradov/solana-sweeper/internal/scanner"
	"github.com/rovshanmuradov/solana-sweeper/internal/storage"
	"github.com/rovshanmuradov/solana-sweeper/internal/storage/memory"
	"github.com/rovshanmuradov/solana-sweeper/internal/storage/postgres"
	"github.com/rovshanmuradov/solana-sweeper/internal/ui"
	"github.com/rovshanmuradov/solana-sweeper/internal/wallet"
)

type options struct {
	configPath string
	tui        bool
	reclaim    bool
	convert    bool
	yes        bool
	export     string
	exportDir  string
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}

	var logBuf *logger.LogBuffer
	var extra []zapcore.Core
	if opts.tui {
		logBuf = logger.NewLogBuffer(500)
		extra = append(extra, logBuf.Core(zapcore.InfoLevel))
	}
	logCfg := logger.DefaultConfig()
	logCfg.LogFile = cfg.LogFile
	logCfg.Development = cfg.DebugLogging
	logCfg.Console = !opts.tui
	appLog, err := logger.New(logCfg, extra...)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer appLog.Sync()
	defer appLog.TrackPerformance("session")()
	log := appLog.WithOperation("sweep")

	lic := license.Config{
		AccountID:    cfg.KeygenAccountID,
		ProductID:    cfg.KeygenProductID,
		ProductToken: cfg.KeygenProductToken,
	}
	if lic.Enabled() {
		if err := license.NewKeygenValidator(lic, log).Check(ctx, cfg.License); err != nil {
			return fmt.Errorf("license: %w", err)
		}
	}

	w, err := wallet.Load(cfg.Keypair, cfg.PrivateKey)
	if err != nil {
		return err
	}
	log = logger.WithWallet(log, w.PublicKey.String())
	log.Info("Wallet loaded")

	policy := retry.Policy{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  cfg.Retry.BaseDelay,
		Multiplier: cfg.Retry.Multiplier,
	}
	pool, err := rpc.NewPool(cfg.RPCList, policy, log)
	if err != nil {
		return fmt.Errorf("rpc pool: %w", err)
	}
	clientOpts := solbc.DefaultOptions()
	if cfg.ConfirmPoll > 0 {
		clientOpts.PollInterval = cfg.ConfirmPoll
	}
	if cfg.ConfirmTimeout > 0 {
		clientOpts.FallbackTimeout = cfg.ConfirmTimeout
	}
	client := solbc.NewClient(pool, clientOpts, log)

	collector := metrics.NewCollector(nil)
	if err := collector.WatchNodes(pool); err != nil {
		return fmt.Errorf("register rpc metrics: %w", err)
	}
	if cfg.MetricsAddr != "" {
		go func() {
			if err := collector.Serve(ctx, cfg.MetricsAddr, log); err != nil {
				appLog.LogError("Metrics endpoint stopped", err)
			}
		}()
	}

	bus := events.NewBus(log, 256)
	defer bus.Shutdown(context.Background())

	history, closeHistory, err := openHistory(ctx, cfg.PostgresURL)
	if err != nil {
		return err
	}
	defer closeHistory()

	if opts.export != "" {
		return exportHistory(ctx, history, w.PublicKey, opts, log)
	}

	engine, session, approvals, err := build(ctx, cfg, opts, w, client, collector, bus, history, log)
	if err != nil {
		return err
	}
	defer engine.Wait()
	defer session.Close()

	if opts.tui {
		h, ch := events.Channel(256)
		bus.Subscribe(events.All, h)
		model := ui.NewModel(ctx, ui.Bind(engine, session), ui.Options{
			Events:    ch,
			Approvals: approvals,
			Logs:      logBuf,
		})
		_, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
		if approvals != nil {
			approvals.Close()
		}
		if errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		return err
	}
	return runBatch(ctx, engine, session, opts, os.Stdout)
}

func build(
	ctx context.Context,
	cfg *config.Config,
	opts options,
	w *wallet.Wallet,
	client *solbc.Client,
	collector *metrics.Collector,
	bus *events.Bus,
	history storage.ReportStore,
	log *zap.Logger,
) (*consolidator.Engine, *consolidator.Session, *ui.Approvals, error) {
	ignored, err := cfg.IgnoredMints()
	if err != nil {
		return nil, nil, nil, err
	}
	ignoreSet := make(map[solana.PublicKey]struct{}, len(ignored))
	for _, m := range ignored {
		ignoreSet[m] = struct{}{}
	}
	feeRecipient, err := cfg.FeeRecipientKey()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("fee recipient: %w", err)
	}

	minBalance, err := floor(ctx, cfg, client)
	if err != nil {
		return nil, nil, nil, err
	}

	jupiter := quote.NewJupiterClient(cfg.QuoteAPIURL, nil, log)
	qcfg := quote.DefaultConfig()
	qcfg.GroupSize = cfg.Quote.GroupSize
	qcfg.Stagger = cfg.Quote.Stagger
	qcfg.GroupPause = cfg.Quote.GroupPause
	qcfg.SlippageBps = cfg.SlippageBps
	qcfg.MinValueSOL = cfg.MinValueSOL
	qcfg.MaxDustUSD = cfg.MaxDustUSD
	qcfg.Retry = retry.Policy{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  cfg.Retry.BaseDelay,
		Multiplier: cfg.Retry.Multiplier,
	}

	var approvals *ui.Approvals
	signer := w.Signer()
	switch {
	case opts.yes:
	case opts.tui:
		approvals = ui.NewApprovals()
		signer = wallet.NewConfirmingSigner(signer, approvals.Prompt)
	default:
		signer = wallet.NewConfirmingSigner(signer, wallet.TerminalPrompt(os.Stdin, os.Stdout))
	}

	observer := consolidator.NewTxObserver(bus, collector)
	engine := consolidator.New(consolidator.Deps{
		Scanner: scanner.New(client, scanner.Config{AccountRent: cfg.AccountRent, IgnoreMints: ignoreSet}, log),
		Quotes:  quote.NewFetcher(jupiter, jupiter, qcfg, collector, log),
		Planner: packer.New(packer.SolanaSizer{Payer: w.PublicKey}, packer.Config{
			MaxTxSize:    cfg.MaxTxSize,
			SafetyMargin: cfg.SafetyMargin,
			FeeBps:       cfg.FeeBps,
			TxCost:       cfg.TxCostLamports,
			MinBalance:   minBalance,
		}, log),
		Executor: executor.New(client, signer, cfg.TxPause, observer, log),
		Factory:  instruction.NewFactory(feeRecipient),
		Swaps:    jupiter,
		Balances: client,
		Events:   bus,
		History:  history,
		Metrics:  collector,
		Observer: observer,
	}, consolidator.Config{SettleDelay: cfg.SettleDelay}, log)

	return engine, consolidator.NewSession(w.PublicKey), approvals, nil
}

// floor is the balance the wallet must keep: configured, or the rent-exempt
// minimum of a data-less account.
func floor(ctx context.Context, cfg *config.Config, reader blockchain.AccountReader) (uint64, error) {
	if cfg.MinBalanceLamports > 0 {
		return cfg.MinBalanceLamports, nil
	}
	v, err := reader.MinBalanceForSize(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("fetch minimum balance: %w", err)
	}
	return v, nil
}

func openHistory(ctx context.Context, dsn string) (storage.ReportStore, func(), error) {
	if dsn == "" {
		return memory.NewReportStore(), func() {}, nil
	}
	pool, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return postgres.NewReportStore(pool), pool.Close, nil
}

// runBatch scans once and performs the requested operations without a UI.
func runBatch(ctx context.Context, engine *consolidator.Engine, s *consolidator.Session, opts options, out io.Writer) error {
	if err := engine.Scan(ctx, s); err != nil {
		return err
	}
	if err := s.WaitQuotes(ctx); err != nil {
		return err
	}
	printSnapshot(out, s.Snapshot())

	if !opts.reclaim && !opts.convert {
		fmt.Fprintln(out, "Nothing to do: pass -reclaim and/or -convert, or -tui.")
		return nil
	}

	if opts.reclaim {
		report, err := engine.ReclaimEmpty(ctx, s)
		if report != nil {
			fmt.Fprintln(out, report.Summary())
		}
		if err != nil && !cancelled(err) {
			return err
		}
		if cancelled(err) {
			return nil
		}
	}

	if opts.convert {
		// the settle re-scan started a new quote pass
		if err := s.WaitQuotes(ctx); err != nil {
			return err
		}
		report, err := engine.ConvertDust(ctx, s, nil)
		if report != nil {
			fmt.Fprintln(out, report.Summary())
		}
		if err != nil && !cancelled(err) {
			return err
		}
	}
	return nil
}

func cancelled(err error) bool {
	var ce *consolidator.CancelledError
	return errors.As(err, &ce)
}

func printSnapshot(out io.Writer, snap consolidator.Snapshot) {
	worth := 0
	for _, c := range snap.Dust {
		if c.Worth() {
			worth++
		}
	}
	fmt.Fprintf(out, "Wallet %s\n", snap.Owner)
	fmt.Fprintf(out, "  empty accounts: %d (%s SOL reclaimable)\n", len(snap.Empty), consolidator.FormatSOL(snap.Reclaimable()))
	fmt.Fprintf(out, "  dust holdings:  %d (%d worth converting)\n", len(snap.Dust), worth)
	if snap.SkippedTarget > 0 {
		fmt.Fprintf(out, "  wrapped SOL accounts left untouched: %d\n", snap.SkippedTarget)
	}
}

func exportHistory(ctx context.Context, history storage.ReportStore, owner solana.PublicKey, opts options, log *zap.Logger) error {
	reports, err := history.ListReports(ctx, owner, 0)
	if err != nil {
		return fmt.Errorf("list reports: %w", err)
	}
	path, err := export.NewReportExporter(log).ExportReports(reports, export.Options{
		Format:    export.Format(opts.export),
		OutputDir: opts.exportDir,
	})
	if err != nil {
		return err
	}
	fmt.Println("Exported to", path)
	return nil
}
