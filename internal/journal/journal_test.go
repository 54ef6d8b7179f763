package journal

import (
	"context"
	"testing"
	"time"

	"github.com/kalambet/prefd/internal/persistent"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

// TestMigrationsIdempotent opens the same database twice and verifies the
// migration is not applied again.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	j1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := j1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	j1.Close()

	j2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer j2.Close()
	v2, err := j2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) == 0 || len(v1) != len(v2) {
		t.Errorf("migrations = %v then %v", v1, v2)
	}
}

func TestRecordAndRecent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	changes := []persistent.Change{
		{Store: "settings", Key: "theme", Value: `"dark"`, Origin: "primary", CreatedAt: base},
		{Store: "session", Key: "zoom", Value: `1.5`, Origin: "cli", CreatedAt: base.Add(time.Second)},
		{Store: "settings", Key: "theme", Value: `"light"`, Origin: "mcp", CreatedAt: base.Add(2 * time.Second)},
	}
	for _, c := range changes {
		if err := j.Record(ctx, c); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	all, err := j.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].Value != `"light"` || all[0].Origin != "mcp" {
		t.Errorf("newest = %+v", all[0])
	}
	if !all[2].CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", all[2].CreatedAt, base)
	}

	settings, err := j.Recent(ctx, "settings", 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(settings) != 1 || settings[0].Value != `"light"` {
		t.Errorf("Recent(settings, 1) = %+v", settings)
	}
}

func TestRecordedByPrimaryStore(t *testing.T) {
	j := openTestJournal(t)
	r := persistent.NewRegistry(persistent.RolePrimary, persistent.WithJournal(j))
	h := r.MustRegister(persistent.Descriptor{
		Name: "settings",
		Keys: []persistent.Key{{Name: "theme", Kind: persistent.KindString, Default: "system"}},
	})
	ctx := context.Background()
	if err := r.Init(ctx, t.TempDir()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := r.Store(h).Set(ctx, "theme", "dark"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := r.HandleUpdate(ctx, persistent.UpdateRequest{Store: "settings", Key: "theme", Value: []byte(`"light"`), Origin: "cli-1"}); err != nil {
		t.Fatalf("HandleUpdate: %v", err)
	}

	entries, err := j.Recent(ctx, "settings", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	if entries[0].Origin != "cli-1" || entries[1].Origin != "primary" {
		t.Errorf("origins = %q, %q", entries[0].Origin, entries[1].Origin)
	}
}
