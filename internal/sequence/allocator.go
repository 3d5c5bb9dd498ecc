package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mise-erp/mise-erp/internal/platform/db"
	"github.com/mise-erp/mise-erp/internal/shared"
)

// Scope identifies one numbering stream. LocationID 0 scopes the stream to
// the whole tenant; the column is NOT NULL so the unique constraint still
// collides on the wildcard value.
type Scope struct {
	TenantID   int64
	DocType    string
	Period     string
	LocationID int64
}

// ErrContention is returned when the allocator loses the insert race more
// times than it is willing to retry.
var ErrContention = errors.New("sequence: allocation contention, retry the request")

const maxAttempts = 3

// Allocator hands out gap-tolerant monotonically increasing document numbers.
// Numbers are consumed inside the caller's transaction; gaps appear when an
// allocating transaction rolls back after peers advanced the stream. Two
// transactions advancing the same existing stream conflict on the row update,
// which the caller's transaction-level retry resolves; the loop below only
// covers the insert race on first use of a scope.
type Allocator struct {
	q db.Querier
}

// NewAllocator binds the allocator to a pool or an open transaction.
func NewAllocator(q db.Querier) *Allocator {
	return &Allocator{q: q}
}

// Next returns the next number in the scope's stream, creating the stream on
// first use. Two transactions creating the same stream race on the unique
// constraint; the loser retries and lands on the UPDATE path.
func (a *Allocator) Next(ctx context.Context, scope Scope) (int64, error) {
	if scope.TenantID == 0 || scope.DocType == "" {
		return 0, errors.New("sequence: tenant and doc type required")
	}
	if err := shared.ValidatePeriod(scope.Period); err != nil {
		return 0, err
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var next int64
		err := a.q.QueryRow(ctx, `UPDATE document_sequences
SET next_number = next_number + 1, updated_at = NOW()
WHERE tenant_id=$1 AND doc_type=$2 AND period=$3 AND location_id=$4
RETURNING next_number - 1`, scope.TenantID, scope.DocType, scope.Period, scope.LocationID).Scan(&next)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("sequence: advance %s/%s: %w", scope.DocType, scope.Period, err)
		}
		err = a.q.QueryRow(ctx, `INSERT INTO document_sequences (tenant_id, doc_type, period, location_id, next_number, updated_at)
VALUES ($1,$2,$3,$4,2,NOW())
RETURNING 1`, scope.TenantID, scope.DocType, scope.Period, scope.LocationID).Scan(&next)
		if err == nil {
			return 1, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			continue
		}
		return 0, fmt.Errorf("sequence: seed %s/%s: %w", scope.DocType, scope.Period, err)
	}
	return 0, ErrContention
}

// Format renders a document number in the tenant-facing shape, e.g.
// GRN-2026-08-00042.
func Format(docType, period string, number int64) string {
	return fmt.Sprintf("%s-%s-%05d", docType, period, number)
}
