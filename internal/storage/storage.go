// internal/storage/storage.go
package storage

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/solana-sweeper/internal/consolidator"
)

var (
	// ErrNotFound is returned when a requested report does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a report with the same id was already saved.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// ReportStore хранит историю операций reclaim/convert.
type ReportStore interface {
	// SaveReport сохраняет отчёт. Отчёты неизменяемы, повторное сохранение
	// того же id возвращает ErrDuplicateKey.
	SaveReport(ctx context.Context, r *consolidator.Report) error
	// GetReport возвращает отчёт по id или ErrNotFound.
	GetReport(ctx context.Context, id string) (*consolidator.Report, error)
	// ListReports возвращает последние отчёты кошелька, новые первыми.
	ListReports(ctx context.Context, owner solana.PublicKey, limit int) ([]*consolidator.Report, error)
}

// Validate checks the fields every store relies on.
func Validate(r *consolidator.Report) error {
	if r == nil || r.ID == "" || r.Operation == "" {
		return ErrInvalidInput
	}
	return nil
}
