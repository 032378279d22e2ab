package repo

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tbourn/rolegate/internal/domain"
)

func TestSQLiteDSN(t *testing.T) {
	got := sqliteDSN("app.db")
	if !strings.HasPrefix(got, "app.db?_pragma=journal_mode(WAL)&") || !strings.HasSuffix(got, "_pragma=busy_timeout(5000)") {
		t.Fatalf("dsn = %q", got)
	}
	if got := sqliteDSN("file:x?mode=memory"); !strings.HasPrefix(got, "file:x?mode=memory&_pragma=") {
		t.Fatalf("dsn with query = %q", got)
	}
}

func TestOpenSQLite_MissingDirectory(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "missing", "rolegate.db")
	db, err := OpenSQLite(bad)
	if db != nil || !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got db=%v err=%v", db, err)
	}
}

func TestOpenSQLite_PragmasOnEveryConnection(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "rolegate.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	// Hold one connection so the next query gets a fresh one.
	ctx := context.Background()
	held, err := sqlDB.Conn(ctx)
	if err != nil {
		t.Fatalf("conn: %v", err)
	}
	defer held.Close()

	var journal string
	var busy, fk int
	if err := db.Raw("PRAGMA journal_mode;").Row().Scan(&journal); err != nil || strings.ToLower(journal) != "wal" {
		t.Fatalf("journal_mode = %q err=%v", journal, err)
	}
	if err := db.Raw("PRAGMA busy_timeout;").Row().Scan(&busy); err != nil || busy != 5000 {
		t.Fatalf("busy_timeout = %d err=%v", busy, err)
	}
	if err := held.QueryRowContext(ctx, "PRAGMA foreign_keys;").Scan(&fk); err != nil || fk != 1 {
		t.Fatalf("foreign_keys on held conn = %d err=%v", fk, err)
	}
	if got := sqlDB.Stats().MaxOpenConnections; got != 4 {
		t.Fatalf("MaxOpenConnections = %d", got)
	}

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	for _, tbl := range []any{&domain.CommunityRecord{}, &domain.OnboardingMember{}} {
		if !db.Migrator().HasTable(tbl) {
			t.Fatalf("expected table for %T", tbl)
		}
	}

	store := NewSQLiteStore(db)
	if err := store.SetOnboarding(ctx, "1", domain.NewMemberSet("2")); err != nil {
		t.Fatalf("SetOnboarding: %v", err)
	}
	var rows []domain.OnboardingMember
	if err := db.Find(&rows, "community_id = ?", "1").Error; err != nil || len(rows) != 1 || rows[0].MemberID != "2" {
		t.Fatalf("readback: err=%v rows=%+v", err, rows)
	}
}
