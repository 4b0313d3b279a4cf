package db_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/smith3v/flashdeck/pkg/apperr"
	"github.com/smith3v/flashdeck/pkg/config"
	"github.com/smith3v/flashdeck/pkg/db"
	"github.com/smith3v/flashdeck/pkg/internal/testutil"
	"gorm.io/datatypes"
)

func TestOpenSQLiteAndMigrate(t *testing.T) {
	cfg := config.Default().Database
	cfg.Driver = "sqlite"
	cfg.Path = filepath.Join(t.TempDir(), "flashdeck.db")

	gdb, err := db.Open(context.Background(), cfg, "silent")
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(gdb); err != nil {
			t.Fatalf("failed to close database: %v", err)
		}
	})

	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}
	for _, table := range []string{"users", "decks", "cards", "card_progress", "study_sessions"} {
		if !gdb.Migrator().HasTable(table) {
			t.Fatalf("expected table %s after migration", table)
		}
	}
	if gdb.Migrator().HasColumn(&db.Deck{}, "card_count") {
		t.Fatalf("card_count must not be persisted")
	}

	sqlDB, _ := gdb.DB()
	if got := sqlDB.Stats().MaxOpenConnections; got != cfg.MaxOpenConns {
		t.Fatalf("expected max open conns %d, got %d", cfg.MaxOpenConns, got)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	cfg := config.Default().Database
	cfg.Driver = "oracle"
	if _, err := db.Open(context.Background(), cfg, ""); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestSQLiteDSN(t *testing.T) {
	if got := db.SQLiteDSN("decks.db"); got != "decks.db?_foreign_keys=1&_busy_timeout=5000" {
		t.Fatalf("unexpected dsn %q", got)
	}
	if got := db.SQLiteDSN("file:x?mode=memory"); got != "file:x?mode=memory&_foreign_keys=1&_busy_timeout=5000" {
		t.Fatalf("unexpected dsn %q", got)
	}
}

func TestUniqueEmailTranslatesToConflict(t *testing.T) {
	gdb := testutil.SetupTestDB(t)

	if err := gdb.Create(&db.User{Email: "a@example.com", PasswordHash: "x"}).Error; err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	err := gdb.Create(&db.User{Email: "a@example.com", PasswordHash: "y"}).Error
	if err == nil {
		t.Fatal("expected duplicate email to fail")
	}
	if !apperr.Is(db.Classify(err), apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", db.Classify(err))
	}

	var count int64
	gdb.Model(&db.User{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 user row, got %d", count)
	}
}

func TestDeckDeleteCascades(t *testing.T) {
	gdb := testutil.SetupTestDB(t)

	user := db.User{Email: "c@example.com", PasswordHash: "x"}
	gdb.Create(&user)
	deck := db.Deck{UserID: user.ID, Title: "Fruit"}
	gdb.Create(&deck)
	card := db.Card{DeckID: deck.ID, Term: "apple", Definition: "แอปเปิล"}
	gdb.Create(&card)
	gdb.Create(&db.CardProgress{UserID: user.ID, CardID: card.ID, IsKnown: true, UpdatedAt: time.Now().UTC()})
	gdb.Create(&db.StudySession{UserID: user.ID, DeckID: deck.ID, KnownCount: 1, CompletedAt: time.Now().UTC(), Results: datatypes.JSON(`[]`)})

	if err := gdb.Delete(&db.Deck{}, deck.ID).Error; err != nil {
		t.Fatalf("failed to delete deck: %v", err)
	}

	for _, model := range []any{&db.Card{}, &db.CardProgress{}, &db.StudySession{}} {
		var count int64
		gdb.Model(model).Count(&count)
		if count != 0 {
			t.Fatalf("expected cascade delete for %T, %d rows left", model, count)
		}
	}
}

func TestDiagnose(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	gdb.Create(&db.User{Email: "d@example.com", PasswordHash: "x"})

	diag := db.Diagnose(context.Background(), gdb)
	if !diag.Success {
		t.Fatalf("expected successful diagnostics, got %+v", diag)
	}
	if !diag.UsersTableExists || diag.UserCount != 1 {
		t.Fatalf("unexpected diagnostics: %+v", diag)
	}
	if diag.CurrentTime == "" {
		t.Fatalf("expected current time")
	}
}

func TestDiagnoseClosedDatabase(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	sqlDB, _ := gdb.DB()
	sqlDB.Close()

	diag := db.Diagnose(context.Background(), gdb)
	if diag.Success {
		t.Fatalf("expected failure on closed database")
	}
	if diag.Hint == "" || diag.Error == "" {
		t.Fatalf("expected error and hint, got %+v", diag)
	}
	if strings.Contains(diag.Error, "sql:") || strings.Contains(diag.Error, "closed") {
		t.Fatalf("driver error text must not be reported, got %q", diag.Error)
	}
}
