package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/hostgate/pkg/engine"
	"github.com/openfroyo/hostgate/pkg/stores"
)

func setupEnv(t *testing.T) string {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "hostgate.db")
	t.Setenv("HOSTGATE_CONFIG", "")
	t.Setenv("HOSTGATE_RESOURCE_ID", "i-0123456789abcdef0")
	t.Setenv("HOSTGATE_REGION", "us-east-1")
	t.Setenv("HOSTGATE_DB_PATH", dbPath)
	t.Setenv("HOSTGATE_LOG_LEVEL", "error")
	return dbPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	root := newRootCommand("1.2.3", "abc123", "2026-01-01")
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func seedStore(t *testing.T, dbPath string) {
	t.Helper()

	ctx := context.Background()
	store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	if _, err := store.Acquire(ctx, engine.OperationStart); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	records := []*engine.AuditRecord{
		{Kind: engine.OperationStart, ResourceID: "i-0123456789abcdef0", Actor: "alice", Outcome: "succeeded", State: "pending"},
		{Kind: engine.OperationStop, ResourceID: "i-0123456789abcdef0", Actor: "bob", Outcome: "rejected_lock_held", Reason: "lock_held"},
	}
	for _, r := range records {
		if err := store.RecordOperation(ctx, r); err != nil {
			t.Fatalf("RecordOperation() error = %v", err)
		}
	}
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCommand("dev", "unknown", "unknown")

	for _, name := range []string{"start", "stop", "status", "leases", "audit", "migrate", "serve-metrics", "version"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}

	for _, name := range []string{"list", "sweep", "release"} {
		cmd, _, err := root.Find([]string{"leases", name})
		if err != nil || cmd.Name() != name {
			t.Errorf("leases subcommand %q not registered", name)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.Contains(out, "hostgate 1.2.3 (commit: abc123") {
		t.Errorf("unexpected output %q", out)
	}

	out, err = run(t, "version", "--json")
	if err != nil {
		t.Fatalf("version --json error = %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if info["version"] != "1.2.3" {
		t.Errorf("version = %q", info["version"])
	}
}

func TestMigrateCommand(t *testing.T) {
	dbPath := setupEnv(t)

	out, err := run(t, "migrate")
	if err != nil {
		t.Fatalf("migrate error = %v", err)
	}
	if !strings.Contains(out, dbPath) {
		t.Errorf("output %q does not mention %s", out, dbPath)
	}
}

func TestMigrateRequiresResource(t *testing.T) {
	setupEnv(t)
	t.Setenv("HOSTGATE_RESOURCE_ID", "")

	if _, err := run(t, "migrate"); err == nil {
		t.Fatal("expected configuration error without a resource ID")
	}
}

func TestLeasesCommands(t *testing.T) {
	dbPath := setupEnv(t)
	seedStore(t, dbPath)

	out, err := run(t, "leases", "list", "--json")
	if err != nil {
		t.Fatalf("leases list error = %v", err)
	}
	var leases []engine.Lease
	if err := json.Unmarshal([]byte(out), &leases); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(leases) != 1 || leases[0].Kind != engine.OperationStart {
		t.Fatalf("leases = %+v, want one start lease", leases)
	}

	out, err = run(t, "leases", "list")
	if err != nil {
		t.Fatalf("leases list error = %v", err)
	}
	if !strings.Contains(out, "LEASE") || !strings.Contains(out, leases[0].ID) {
		t.Errorf("table output missing lease:\n%s", out)
	}

	if _, err := run(t, "leases", "release", leases[0].ID); err != nil {
		t.Fatalf("leases release error = %v", err)
	}

	out, err = run(t, "leases", "list")
	if err != nil {
		t.Fatalf("leases list error = %v", err)
	}
	if !strings.Contains(out, "no leases") {
		t.Errorf("expected no leases after release, got:\n%s", out)
	}

	out, err = run(t, "leases", "sweep", "--json")
	if err != nil {
		t.Fatalf("leases sweep error = %v", err)
	}
	if !strings.Contains(out, `"swept": 0`) {
		t.Errorf("unexpected sweep output %q", out)
	}
}

func TestAuditCommand(t *testing.T) {
	dbPath := setupEnv(t)
	seedStore(t, dbPath)

	out, err := run(t, "audit", "--json")
	if err != nil {
		t.Fatalf("audit error = %v", err)
	}
	var records []engine.AuditRecord
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	out, err = run(t, "audit", "--operation", "stop")
	if err != nil {
		t.Fatalf("audit --operation stop error = %v", err)
	}
	if !strings.Contains(out, "bob") || strings.Contains(out, "alice") {
		t.Errorf("filter not applied:\n%s", out)
	}

	if _, err := run(t, "audit", "--operation", "reboot"); err == nil {
		t.Error("expected error for unknown operation")
	}
}

func TestRenderResponse(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		resp *engine.Response
		want []string
	}{
		{
			name: "success",
			resp: &engine.Response{Success: true, State: engine.StatePending, Timestamp: &now},
			want: []string{"OK", "start dispatched", "pending"},
		},
		{
			name: "rejected",
			resp: &engine.Response{
				Rejected: engine.RejectInvalidPrecondition,
				State:    engine.StateRunning,
				Code:     engine.ErrCodeInvalidPrecondition,
				Message:  "cannot start: resource is running, it must be stopped",
			},
			want: []string{"REJECTED", "invalid_precondition", "it must be stopped"},
		},
		{
			name: "error",
			resp: &engine.Response{Code: engine.ErrCodeRemoteUnavailable, Error: "service unavailable"},
			want: []string{"ERROR", "service unavailable", engine.ErrCodeRemoteUnavailable},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := renderResponse(&buf, engine.OperationStart, tt.resp); err != nil {
				t.Fatalf("renderResponse() error = %v", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(buf.String(), want) {
					t.Errorf("output %q missing %q", buf.String(), want)
				}
			}
		})
	}
}

func TestRenderStatus(t *testing.T) {
	observed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	status := &engine.Status{
		ResourceID: "i-0123456789abcdef0",
		State:      &engine.ResourceState{State: engine.StateRunning, ObservedAt: observed},
		InProgress: []engine.OperationKind{engine.OperationStop},
		AppError:   "service unavailable",
	}

	var buf bytes.Buffer
	if err := renderStatus(&buf, status); err != nil {
		t.Fatalf("renderStatus() error = %v", err)
	}

	for _, want := range []string{"i-0123456789abcdef0", "running", "2026-03-01T12:00:00Z", "stop", "service unavailable"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("output missing %q:\n%s", want, buf.String())
		}
	}
}

func TestRenderTableAlignsColumns(t *testing.T) {
	var buf bytes.Buffer
	err := renderTable(&buf, []string{"A", "B"}, [][]string{
		{"short", "x"},
		{"much-longer-cell", "y"},
	})
	if err != nil {
		t.Fatalf("renderTable() error = %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	col := strings.Index(lines[2], "y")
	if strings.Index(lines[1], "x") != col {
		t.Errorf("second column not aligned:\n%s", buf.String())
	}
}
