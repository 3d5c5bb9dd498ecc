package sequence

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type scanRow struct {
	val int64
	err error
}

func (r scanRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) > 0 {
		if p, ok := dest[0].(*int64); ok {
			*p = r.val
		}
	}
	return nil
}

// fakeSeqDB emulates the increment-or-insert semantics of the
// document_sequences table, including the unique-constraint race.
type fakeSeqDB struct {
	mu             sync.Mutex
	rows           map[Scope]int64
	alwaysConflict bool
}

func newFakeSeqDB() *fakeSeqDB {
	return &fakeSeqDB{rows: map[Scope]int64{}}
}

func (f *fakeSeqDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (f *fakeSeqDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("unexpected Query")
}

func (f *fakeSeqDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	scope := Scope{
		TenantID:   args[0].(int64),
		DocType:    args[1].(string),
		Period:     args[2].(string),
		LocationID: args[3].(int64),
	}
	switch {
	case strings.HasPrefix(sql, "UPDATE"):
		if f.alwaysConflict {
			return scanRow{err: pgx.ErrNoRows}
		}
		cur, ok := f.rows[scope]
		if !ok {
			return scanRow{err: pgx.ErrNoRows}
		}
		f.rows[scope] = cur + 1
		return scanRow{val: cur}
	default: // INSERT
		if f.alwaysConflict {
			return scanRow{err: &pgconn.PgError{Code: "23505"}}
		}
		if _, ok := f.rows[scope]; ok {
			return scanRow{err: &pgconn.PgError{Code: "23505"}}
		}
		f.rows[scope] = 2
		return scanRow{val: 1}
	}
}

func TestNextStartsStreamAtOne(t *testing.T) {
	alloc := NewAllocator(newFakeSeqDB())
	scope := Scope{TenantID: 1, DocType: "GRN", Period: "2026-08", LocationID: 1}

	for want := int64(1); want <= 3; want++ {
		got, err := alloc.Next(context.Background(), scope)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestNextScopesStreamsIndependently(t *testing.T) {
	alloc := NewAllocator(newFakeSeqDB())
	a := Scope{TenantID: 1, DocType: "GRN", Period: "2026-08", LocationID: 1}
	b := Scope{TenantID: 1, DocType: "GRN", Period: "2026-09", LocationID: 1}

	first, err := alloc.Next(context.Background(), a)
	require.NoError(t, err)
	second, err := alloc.Next(context.Background(), b)
	require.NoError(t, err)
	require.Equal(t, int64(1), first)
	require.Equal(t, int64(1), second)
}

func TestNextConcurrentAllocationsAreUnique(t *testing.T) {
	alloc := NewAllocator(newFakeSeqDB())
	scope := Scope{TenantID: 1, DocType: "ISS", Period: "2026-08"}

	const workers = 32
	type result struct {
		n   int64
		err error
	}
	results := make(chan result, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := alloc.Next(context.Background(), scope)
			results <- result{n: n, err: err}
		}()
	}
	wg.Wait()
	close(results)

	seen := map[int64]bool{}
	for res := range results {
		require.NoError(t, res.err)
		require.False(t, seen[res.n], "number %d allocated twice", res.n)
		seen[res.n] = true
	}
	require.Len(t, seen, workers)
	for n := int64(1); n <= workers; n++ {
		require.True(t, seen[n], "stream must be dense, missing %d", n)
	}
}

func TestNextGivesUpAfterRepeatedConflicts(t *testing.T) {
	db := newFakeSeqDB()
	db.alwaysConflict = true
	alloc := NewAllocator(db)

	_, err := alloc.Next(context.Background(), Scope{TenantID: 1, DocType: "GRN", Period: "2026-08"})
	require.ErrorIs(t, err, ErrContention)
}

func TestNextRequiresScope(t *testing.T) {
	alloc := NewAllocator(newFakeSeqDB())
	_, err := alloc.Next(context.Background(), Scope{DocType: "GRN", Period: "2026-08"})
	require.Error(t, err)
}

func TestFormat(t *testing.T) {
	require.Equal(t, "GRN-2026-08-00042", Format("GRN", "2026-08", 42))
	require.Equal(t, "CNT-2026-12-00001", Format("CNT", "2026-12", 1))
}
