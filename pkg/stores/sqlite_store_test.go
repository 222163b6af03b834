package stores

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/openfroyo/hostgate/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T, clk clock.Clock) *SQLiteStore {
	t.Helper()
	return openTestStore(t, ":memory:", clk)
}

func openTestStore(t *testing.T, path string, clk clock.Clock) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path:  path,
		Clock: clk,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newMockClock() *clock.Mock {
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	return mock
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStore_Validation(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for empty path")
	}
	if _, err := NewSQLiteStore(Config{Path: ":memory:", LeaseTTL: -time.Second}); err == nil {
		t.Error("expected error for negative lease TTL")
	}

	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if store.cfg.LeaseTTL != DefaultLeaseTTL {
		t.Errorf("expected default lease TTL %s, got %s", DefaultLeaseTTL, store.cfg.LeaseTTL)
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t, nil)
	ctx := context.Background()

	tables := []string{"operation_leases", "operation_audit"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := store.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Running migrations twice is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("second migration failed: %v", err)
	}
}

func TestAcquireRelease(t *testing.T) {
	clk := newMockClock()
	store := setupTestStore(t, clk)
	ctx := context.Background()

	lease, err := store.Acquire(ctx, engine.OperationStart)
	if err != nil {
		t.Fatalf("failed to acquire lease: %v", err)
	}
	if lease == nil {
		t.Fatal("expected a lease, got nil")
	}
	if lease.ID == "" {
		t.Error("expected a lease ID")
	}
	if lease.Kind != engine.OperationStart {
		t.Errorf("expected kind start, got %s", lease.Kind)
	}
	if got := lease.ExpiresAt.Sub(lease.CreatedAt); got != DefaultLeaseTTL {
		t.Errorf("expected expiry %s after creation, got %s", DefaultLeaseTTL, got)
	}

	// Same kind is held.
	again, err := store.Acquire(ctx, engine.OperationStart)
	if err != nil {
		t.Fatalf("second acquire returned error: %v", err)
	}
	if again != nil {
		t.Fatalf("expected nil lease while held, got %+v", again)
	}

	// Other kinds are independent.
	stop, err := store.Acquire(ctx, engine.OperationStop)
	if err != nil || stop == nil {
		t.Fatalf("expected stop lease, got %v, %v", stop, err)
	}

	if err := store.Release(ctx, lease.ID); err != nil {
		t.Fatalf("failed to release: %v", err)
	}

	// Idempotent release.
	if err := store.Release(ctx, lease.ID); err != nil {
		t.Errorf("second release returned error: %v", err)
	}
	if err := store.Release(ctx, "no-such-lease"); err != nil {
		t.Errorf("releasing unknown lease returned error: %v", err)
	}

	next, err := store.Acquire(ctx, engine.OperationStart)
	if err != nil || next == nil {
		t.Fatalf("expected lease after release, got %v, %v", next, err)
	}
	if next.ID == lease.ID {
		t.Error("expected a fresh lease ID")
	}
}

func TestAcquire_InvalidKind(t *testing.T) {
	store := setupTestStore(t, nil)

	_, err := store.Acquire(context.Background(), engine.OperationKind("reboot"))
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if engine.CodeOf(err) != engine.ErrCodeValidation {
		t.Errorf("expected validation code, got %q", engine.CodeOf(err))
	}
}

func TestSweepExpired(t *testing.T) {
	clk := newMockClock()
	store := setupTestStore(t, clk)
	ctx := context.Background()

	stale, err := store.Acquire(ctx, engine.OperationStart)
	if err != nil || stale == nil {
		t.Fatalf("failed to acquire: %v", err)
	}

	// Nothing to sweep while the lease is live.
	swept, err := store.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if swept != 0 {
		t.Errorf("expected 0 swept, got %d", swept)
	}

	// The holder crashed: time passes beyond the TTL.
	clk.Add(DefaultLeaseTTL)

	active, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active failed: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("expected no active leases, got %d", len(active))
	}

	all, err := store.ListLeases(ctx, true)
	if err != nil {
		t.Fatalf("list leases failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected the expired lease to remain until swept, got %d", len(all))
	}

	// Still blocked until the sweep runs.
	blocked, err := store.Acquire(ctx, engine.OperationStart)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if blocked != nil {
		t.Fatal("expected expired lease to block until swept")
	}

	swept, err = store.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if swept != 1 {
		t.Errorf("expected 1 swept, got %d", swept)
	}

	fresh, err := store.Acquire(ctx, engine.OperationStart)
	if err != nil || fresh == nil {
		t.Fatalf("expected acquisition after sweep, got %v, %v", fresh, err)
	}
}

func TestListActive(t *testing.T) {
	clk := newMockClock()
	store := setupTestStore(t, clk)
	ctx := context.Background()

	if _, err := store.Acquire(ctx, engine.OperationStop); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	clk.Add(time.Second)
	if _, err := store.Acquire(ctx, engine.OperationStart); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	active, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active failed: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active leases, got %d", len(active))
	}
	if active[0].Kind != engine.OperationStop || active[1].Kind != engine.OperationStart {
		t.Errorf("expected leases ordered by creation, got %s, %s", active[0].Kind, active[1].Kind)
	}
}

// TestAcquire_ConcurrentProcesses opens two stores on one database file, standing
// in for two server processes, and races them for the same kind.
func TestAcquire_ConcurrentProcesses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hostgate.db")
	first := openTestStore(t, path, nil)
	second := openTestStore(t, path, nil)

	const callers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted []*engine.Lease
		errs    []error
	)

	for i := 0; i < callers; i++ {
		store := first
		if i%2 == 1 {
			store = second
		}
		wg.Add(1)
		go func(store *SQLiteStore) {
			defer wg.Done()
			lease, err := store.Acquire(context.Background(), engine.OperationStart)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if lease != nil {
				granted = append(granted, lease)
			}
		}(store)
	}
	wg.Wait()

	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(granted) != 1 {
		t.Fatalf("expected exactly one lease, got %d", len(granted))
	}
}

func TestStoreUnavailable(t *testing.T) {
	store := setupTestStore(t, nil)
	_ = store.Close()

	_, err := store.Acquire(context.Background(), engine.OperationStart)
	if err == nil {
		t.Fatal("expected error from closed store")
	}
	if engine.CodeOf(err) != engine.ErrCodeLockStoreUnavailable {
		t.Errorf("expected %s, got %q", engine.ErrCodeLockStoreUnavailable, engine.CodeOf(err))
	}
	if !engine.IsTransient(err) {
		t.Error("expected store failure to be transient")
	}

	if _, err := store.SweepExpired(context.Background()); engine.CodeOf(err) != engine.ErrCodeLockStoreUnavailable {
		t.Errorf("expected sweep to report store unavailable, got %v", err)
	}
}

func TestOperationAudit(t *testing.T) {
	clk := newMockClock()
	store := setupTestStore(t, clk)
	ctx := context.Background()

	records := []*engine.AuditRecord{
		{Kind: engine.OperationStart, ResourceID: "i-0abc", Actor: "alice", Outcome: "succeeded", State: "pending", Duration: 1500 * time.Millisecond},
		{Kind: engine.OperationStop, ResourceID: "i-0abc", Actor: "bob", Outcome: "rejected", Reason: "invalid_precondition", ErrorCode: engine.ErrCodeResourceBooting},
		{Kind: engine.OperationStart, ResourceID: "i-0abc", Actor: "carol", Outcome: "rejected", Reason: "lock_held"},
	}
	for _, r := range records {
		clk.Add(time.Second)
		if err := store.RecordOperation(ctx, r); err != nil {
			t.Fatalf("failed to record operation: %v", err)
		}
		if r.ID == 0 {
			t.Error("expected audit ID to be set")
		}
	}

	all, err := store.ListOperations(ctx, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list operations: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if all[0].Actor != "carol" {
		t.Errorf("expected newest first, got %s", all[0].Actor)
	}

	kind := engine.OperationStart
	starts, err := store.ListOperations(ctx, &kind, 10, 0)
	if err != nil {
		t.Fatalf("failed to list start operations: %v", err)
	}
	if len(starts) != 2 {
		t.Fatalf("expected 2 start entries, got %d", len(starts))
	}
	if starts[1].Duration != 1500*time.Millisecond {
		t.Errorf("expected duration to round-trip, got %s", starts[1].Duration)
	}

	page, err := store.ListOperations(ctx, nil, 1, 1)
	if err != nil {
		t.Fatalf("failed to page operations: %v", err)
	}
	if len(page) != 1 || page[0].Actor != "bob" {
		t.Errorf("unexpected page: %+v", page)
	}
}
