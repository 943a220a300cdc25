package postgres

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"

	"github.com/rovshanmuradov/solana-sweeper/internal/consolidator"
	"github.com/rovshanmuradov/solana-sweeper/internal/storage"
)

// ReportStore implements storage.ReportStore using PostgreSQL.
type ReportStore struct {
	pool *Pool
}

// NewReportStore creates a new ReportStore.
func NewReportStore(pool *Pool) *ReportStore {
	return &ReportStore{pool: pool}
}

var _ storage.ReportStore = (*ReportStore)(nil)

const reportColumns = `id, session_id, owner, operation, succeeded, failed, skipped,
	cancelled, reclaimed, fee, signatures, error, started_at, finished_at`

// SaveReport inserts r. Returns ErrDuplicateKey if the id exists.
func (s *ReportStore) SaveReport(ctx context.Context, r *consolidator.Report) error {
	if err := storage.Validate(r); err != nil {
		return err
	}

	sigs := make([]string, len(r.Signatures))
	for i, sig := range r.Signatures {
		sigs[i] = sig.String()
	}

	query := `
		INSERT INTO operation_reports (
			id, session_id, owner, operation, outcome, succeeded, failed, skipped,
			cancelled, reclaimed, fee, signatures, error, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := s.pool.Exec(ctx, query,
		r.ID,
		r.SessionID,
		r.Owner.String(),
		r.Operation,
		r.Outcome(),
		r.Succeeded,
		r.Failed,
		r.Skipped,
		r.Cancelled,
		int64(r.Reclaimed),
		int64(r.Fee),
		sigs,
		r.Err,
		r.StartedAt,
		r.FinishedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// GetReport retrieves a report by id. Returns ErrNotFound if not exists.
func (s *ReportStore) GetReport(ctx context.Context, id string) (*consolidator.Report, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM operation_reports WHERE id = $1`, id)
	r, err := scanReport(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get report: %w", err)
	}
	return r, nil
}

// ListReports returns owner's reports, newest first. limit <= 0 means all.
func (s *ReportStore) ListReports(ctx context.Context, owner solana.PublicKey, limit int) ([]*consolidator.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM operation_reports
		WHERE owner = $1 ORDER BY started_at DESC`
	args := []any{owner.String()}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	var out []*consolidator.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	return out, nil
}

func scanReport(row pgx.Row) (*consolidator.Report, error) {
	var (
		r              consolidator.Report
		owner          string
		reclaimed, fee int64
		sigs           []string
	)
	err := row.Scan(
		&r.ID,
		&r.SessionID,
		&owner,
		&r.Operation,
		&r.Succeeded,
		&r.Failed,
		&r.Skipped,
		&r.Cancelled,
		&reclaimed,
		&fee,
		&sigs,
		&r.Err,
		&r.StartedAt,
		&r.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	if r.Owner, err = solana.PublicKeyFromBase58(owner); err != nil {
		return nil, fmt.Errorf("decode owner %q: %w", owner, err)
	}
	r.Reclaimed, r.Fee = uint64(reclaimed), uint64(fee)
	for _, s := range sigs {
		sig, err := solana.SignatureFromBase58(s)
		if err != nil {
			return nil, fmt.Errorf("decode signature %q: %w", s, err)
		}
		r.Signatures = append(r.Signatures, sig)
	}
	return &r, nil
}
