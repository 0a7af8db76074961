package attendance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"faceattend/internal/store"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"unique violation", &pgconn.PgError{Code: "23505"}, true},
		{"wrapped unique violation", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), true},
		{"foreign key violation", &pgconn.PgError{Code: "23503"}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := isUniqueViolation(tc.err); got != tc.expected {
				t.Errorf("isUniqueViolation(%v) = %v; want %v", tc.err, got, tc.expected)
			}
		})
	}
}

// Integration coverage against a live database. Skipped unless
// TEST_DATABASE_URL points at a scratch Postgres with the vector extension
// available.
func TestRepositoryIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := store.NewDB(dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	repo := NewRepository(db.Client)

	t.Run("concurrent starts leave one active", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := repo.StartSession(ctx, "Acme", 30); err != nil {
					t.Errorf("StartSession: %v", err)
				}
			}()
		}
		wg.Wait()

		var active int
		if err := db.Client.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM attendance_sessions WHERE is_active`).Scan(&active); err != nil {
			t.Fatalf("count active: %v", err)
		}
		if active != 1 {
			t.Errorf("active sessions = %d; want 1", active)
		}
	})

	t.Run("mark is unique per pair", func(t *testing.T) {
		session, err := repo.StartSession(ctx, "Acme", 30)
		if err != nil {
			t.Fatalf("StartSession: %v", err)
		}
		roll := fmt.Sprintf("it-%s", session.ID[:8])
		if _, err := repo.CreateStudent(ctx, roll, make([]float32, 128)); err != nil {
			t.Fatalf("CreateStudent: %v", err)
		}

		if _, err := repo.Mark(ctx, roll, session.ID, "Unknown"); err != nil {
			t.Fatalf("first Mark: %v", err)
		}
		if _, err := repo.Mark(ctx, roll, session.ID, "Unknown"); !errors.Is(err, ErrAlreadyMarked) {
			t.Errorf("second Mark err = %v; want ErrAlreadyMarked", err)
		}

		records, err := repo.ListForSession(ctx, session.ID)
		if err != nil {
			t.Fatalf("ListForSession: %v", err)
		}
		if len(records) != 1 {
			t.Errorf("records = %d; want 1", len(records))
		}
	})
}
