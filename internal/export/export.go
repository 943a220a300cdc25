package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sweeper/internal/consolidator"
)

// Format represents the export file format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// Options configures the export behavior
type Options struct {
	Format    Format
	StartTime time.Time
	EndTime   time.Time
	Operation string // reclaim or convert, empty for both
	Outcome   string // succeeded, partial, failed, cancelled
	OutputDir string
}

// ReportExporter writes operation reports to disk.
type ReportExporter struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewReportExporter(logger *zap.Logger) *ReportExporter {
	return &ReportExporter{logger: logger, now: time.Now}
}

// Row is the flat, serialisable form of a report.
type Row struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	Owner        string    `json:"owner"`
	Operation    string    `json:"operation"`
	Outcome      string    `json:"outcome"`
	Succeeded    int       `json:"succeeded"`
	Failed       int       `json:"failed"`
	Skipped      int       `json:"skipped"`
	ReclaimedSOL string    `json:"reclaimed_sol"`
	FeeSOL       string    `json:"fee_sol"`
	ReceivedSOL  string    `json:"received_sol"`
	Signatures   []string  `json:"signatures"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

var csvHeaders = []string{
	"id", "session_id", "owner", "operation", "outcome",
	"succeeded", "failed", "skipped",
	"reclaimed_sol", "fee_sol", "received_sol",
	"signatures", "error", "started_at", "finished_at",
}

func toRow(r *consolidator.Report) Row {
	sigs := make([]string, len(r.Signatures))
	for i, s := range r.Signatures {
		sigs[i] = s.String()
	}
	return Row{
		ID:           r.ID,
		SessionID:    r.SessionID,
		Owner:        r.Owner.String(),
		Operation:    r.Operation,
		Outcome:      r.Outcome(),
		Succeeded:    r.Succeeded,
		Failed:       r.Failed,
		Skipped:      r.Skipped,
		ReclaimedSOL: consolidator.FormatSOL(r.Reclaimed),
		FeeSOL:       consolidator.FormatSOL(r.Fee),
		ReceivedSOL:  consolidator.FormatSOL(r.UserReceives()),
		Signatures:   sigs,
		Error:        r.Err,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
	}
}

func (row Row) csv() []string {
	return []string{
		row.ID, row.SessionID, row.Owner, row.Operation, row.Outcome,
		strconv.Itoa(row.Succeeded), strconv.Itoa(row.Failed), strconv.Itoa(row.Skipped),
		row.ReclaimedSOL, row.FeeSOL, row.ReceivedSOL,
		strings.Join(row.Signatures, " "), row.Error,
		row.StartedAt.UTC().Format(time.RFC3339), row.FinishedAt.UTC().Format(time.RFC3339),
	}
}

// Summary aggregates the exported reports.
type Summary struct {
	Reports      int       `json:"reports"`
	Reclaims     int       `json:"reclaims"`
	Conversions  int       `json:"conversions"`
	Succeeded    int       `json:"succeeded"`
	Failed       int       `json:"failed"`
	Skipped      int       `json:"skipped"`
	Cancelled    int       `json:"cancelled"`
	ReclaimedSOL string    `json:"reclaimed_sol"`
	FeeSOL       string    `json:"fee_sol"`
	StartDate    time.Time `json:"start_date"`
	EndDate      time.Time `json:"end_date"`
}

// ExportReports filters, sorts and writes reports. It returns the output path.
func (e *ReportExporter) ExportReports(reports []*consolidator.Report, opts Options) (string, error) {
	filtered := filter(reports, opts)
	if len(filtered) == 0 {
		return "", fmt.Errorf("no reports match the export criteria")
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].StartedAt.Before(filtered[j].StartedAt)
	})

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(opts.OutputDir, e.filename(opts))

	var err error
	switch opts.Format {
	case FormatCSV:
		err = writeCSV(filtered, outputPath)
	case FormatJSON:
		err = e.writeJSON(filtered, outputPath)
	default:
		err = fmt.Errorf("unsupported format: %s", opts.Format)
	}
	if err != nil {
		return "", err
	}

	e.logger.Info("Reports exported",
		zap.String("file", outputPath),
		zap.Int("count", len(filtered)),
		zap.String("format", string(opts.Format)))
	return outputPath, nil
}

func filter(reports []*consolidator.Report, opts Options) []*consolidator.Report {
	var out []*consolidator.Report
	for _, r := range reports {
		if !opts.StartTime.IsZero() && r.StartedAt.Before(opts.StartTime) {
			continue
		}
		if !opts.EndTime.IsZero() && r.StartedAt.After(opts.EndTime) {
			continue
		}
		if opts.Operation != "" && r.Operation != opts.Operation {
			continue
		}
		if opts.Outcome != "" && r.Outcome() != opts.Outcome {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (e *ReportExporter) filename(opts Options) string {
	prefix := "reports_all"
	if opts.Operation != "" {
		prefix = "reports_" + opts.Operation
	}
	return fmt.Sprintf("%s_%s.%s", prefix, e.now().Format("20060102_150405"), opts.Format)
}

func writeCSV(reports []*consolidator.Report, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(csvHeaders); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, r := range reports {
		if err := w.Write(toRow(r).csv()); err != nil {
			return fmt.Errorf("failed to write report %s: %w", r.ID, err)
		}
	}
	w.Flush()
	return w.Error()
}

func (e *ReportExporter) writeJSON(reports []*consolidator.Report, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create JSON file: %w", err)
	}
	defer file.Close()

	rows := make([]Row, len(reports))
	for i, r := range reports {
		rows[i] = toRow(r)
	}

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	data := struct {
		ExportTime time.Time `json:"export_time"`
		Summary    Summary   `json:"summary"`
		Reports    []Row     `json:"reports"`
	}{
		ExportTime: e.now(),
		Summary:    Summarize(reports),
		Reports:    rows,
	}
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// Summarize totals reports; they are expected in chronological order.
func Summarize(reports []*consolidator.Report) Summary {
	s := Summary{Reports: len(reports)}
	if len(reports) == 0 {
		return s
	}
	s.StartDate = reports[0].StartedAt
	s.EndDate = reports[len(reports)-1].StartedAt

	var reclaimed, fee uint64
	for _, r := range reports {
		switch r.Operation {
		case consolidator.OpReclaim:
			s.Reclaims++
		case consolidator.OpConvert:
			s.Conversions++
		}
		if r.Cancelled {
			s.Cancelled++
		}
		s.Succeeded += r.Succeeded
		s.Failed += r.Failed
		s.Skipped += r.Skipped
		reclaimed += r.Reclaimed
		fee += r.Fee
	}
	s.ReclaimedSOL = consolidator.FormatSOL(reclaimed)
	s.FeeSOL = consolidator.FormatSOL(fee)
	return s
}
