package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chant/internal/registry"

	"gorm.io/gorm"
)

func sampleRecord(key, actionID string) Record {
	now := time.UnixMilli(1_700_000_000_000).UTC()
	return Record{
		Key:      key,
		ActionID: actionID,
		Steps: []CachedStep{
			{Type: registry.StepSetValue, StableID: "email", Value: "jane@example.com"},
			{Type: registry.StepClick, IsVariable: true, Selector: ".add", ElementKind: "button"},
			{Type: registry.StepWait, Delay: 250},
		},
		Transcript:           "log me in",
		CreatedAt:            now,
		UpdatedAt:            now,
		SuccessfulExecutions: 1,
	}
}

// exerciseRepository checks the contract every backend must honor.
func exerciseRepository(t *testing.T, repo Repository) {
	t.Helper()
	ctx := context.Background()
	if err := repo.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	if _, err := repo.Find(ctx, "login"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty store, got %v", err)
	}

	rec := sampleRecord("login", "login")
	if err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := repo.Find(ctx, "login")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !stepsEqual(got.Steps, rec.Steps) || got.Transcript != rec.Transcript || !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("round trip mismatch:\n got:  %+v\n want: %+v", got, rec)
	}

	rec.SuccessfulExecutions = 2
	rec.Steps = rec.Steps[:1]
	if err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("overwrite Save: %v", err)
	}
	if err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("idempotent Save: %v", err)
	}
	got, _ = repo.Find(ctx, "login")
	if len(got.Steps) != 1 || got.SuccessfulExecutions != 2 {
		t.Errorf("overwrite not applied: %+v", got)
	}

	if err := repo.Save(ctx, sampleRecord("login:00000000deadbeef", "login")); err != nil {
		t.Fatal(err)
	}
	if err := repo.Save(ctx, sampleRecord("cart", "cart")); err != nil {
		t.Fatal(err)
	}
	byAction, err := repo.FindByActionID(ctx, "login")
	if err != nil || len(byAction) != 2 {
		t.Errorf("FindByActionID: %d records, err %v", len(byAction), err)
	}
	all, err := repo.List(ctx)
	if err != nil || len(all) != 3 {
		t.Errorf("List: %d records, err %v", len(all), err)
	}

	if err := repo.Delete(ctx, "cart"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := repo.Delete(ctx, "cart"); err != nil {
		t.Fatalf("Delete of a missing key: %v", err)
	}
	if _, err := repo.Find(ctx, "cart"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted record still present: %v", err)
	}

	if err := repo.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := repo.Clear(ctx); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
	if all, _ := repo.List(ctx); len(all) != 0 {
		t.Errorf("Clear left %d records", len(all))
	}
}

func TestMemoryRepository(t *testing.T) {
	exerciseRepository(t, NewMemoryRepository())
}

func TestSQLiteRepository(t *testing.T) {
	repo, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "cache.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer repo.Close()
	exerciseRepository(t, repo)
}

func TestOpenSQLite_ClosesOnSetupFailure(t *testing.T) {
	t.Run("migration fails", func(t *testing.T) {
		orig := prepareSQLite
		defer func() { prepareSQLite = orig }()
		var opened *gorm.DB
		prepareSQLite = func(gdb *gorm.DB) error {
			opened = gdb
			return errors.New("migration failed")
		}

		if _, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db")); err == nil {
			t.Fatal("expected an error")
		}
		sqlDB, err := opened.DB()
		if err != nil {
			t.Fatal(err)
		}
		if err := sqlDB.Ping(); err == nil {
			t.Error("database left open after a failed setup")
		}
	})

	t.Run("path is a directory", func(t *testing.T) {
		if _, err := OpenSQLite(t.TempDir()); err == nil {
			t.Error("expected an error for a directory path")
		}
	})
}

func TestRedisRepository(t *testing.T) {
	url := os.Getenv("CHANT_TEST_REDIS_URL")
	if url == "" {
		t.Skip("CHANT_TEST_REDIS_URL not set")
	}
	client, err := ConnectRedis(url)
	if err != nil {
		t.Fatal(err)
	}
	repo := NewRedisRepository(client)
	defer repo.Close()
	exerciseRepository(t, repo)
}

func TestPostgresRepository(t *testing.T) {
	url := os.Getenv("CHANT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CHANT_TEST_DATABASE_URL not set")
	}
	repo, err := ConnectPostgres(context.Background(), url)
	if err != nil {
		t.Fatal(err)
	}
	defer repo.Close()
	exerciseRepository(t, repo)
}
