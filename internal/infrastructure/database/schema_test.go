package database_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nerrad567/gray-logic-dobiss/internal/infrastructure/database"
	_ "github.com/nerrad567/gray-logic-dobiss/migrations"
)

// TestBridgeSchema applies the embedded bridge migrations and exercises
// the constraints the repositories rely on.
func TestBridgeSchema(t *testing.T) {
	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "dobiss.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO dobiss_output_state (device_id, module, output, is_on, level, dimmable, confidence, updated_at)
		VALUES ('kitchen', 1, 0, 1, 0, 0, 'confirmed', 1)`)
	if err != nil {
		t.Fatalf("insert output state: %v", err)
	}

	// A second device on the same output is rejected.
	_, err = db.ExecContext(ctx, `
		INSERT INTO dobiss_output_state (device_id, module, output, is_on, level, dimmable, confidence, updated_at)
		VALUES ('kitchen-2', 1, 0, 0, 0, 0, 'confirmed', 1)`)
	if err == nil {
		t.Error("duplicate module/output accepted")
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO dobiss_unhandled_frames (disposition, can_id, payload, first_seen, last_seen)
		VALUES ('unknown', 123, 'ff', 1, 1)`)
	if err != nil {
		t.Fatalf("insert unhandled frame: %v", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, action, device_id, address, subject, source, outcome, created_at)
		VALUES ('aud-1', 'set_state', 'kitchen', '1.0', 'tester', 'api', 'confirmed', 1)`)
	if err != nil {
		t.Fatalf("insert audit log: %v", err)
	}

	for range 3 {
		if err := db.MigrateDown(ctx); err != nil {
			t.Fatalf("MigrateDown() error = %v", err)
		}
	}
	_, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 3 {
		t.Errorf("pending = %d after rolling back, want 3", len(pending))
	}
}
