package dobiss

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SnapshotRepository persists the last known state of each output in the
// dobiss_output_state table. The bridge saves every state change; main
// loads the rows at startup and seeds the driver with them.
type SnapshotRepository struct {
	db    *sql.DB
	table *AddressTable
}

// Ensure SnapshotRepository implements SnapshotStore.
var _ SnapshotStore = (*SnapshotRepository)(nil)

// NewSnapshotRepository creates a repository. Rows for outputs missing
// from table are ignored on Load.
func NewSnapshotRepository(db *sql.DB, table *AddressTable) *SnapshotRepository {
	return &SnapshotRepository{db: db, table: table}
}

// SaveState upserts the state of one output.
func (r *SnapshotRepository) SaveState(ctx context.Context, deviceID string, st OutputState) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO dobiss_output_state
			(device_id, module, output, is_on, level, dimmable, confidence, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			module = excluded.module,
			output = excluded.output,
			is_on = excluded.is_on,
			level = excluded.level,
			dimmable = excluded.dimmable,
			confidence = excluded.confidence,
			updated_at = excluded.updated_at
	`,
		deviceID,
		st.Address.Module,
		st.Address.Output,
		boolToInt(st.On),
		st.Level,
		boolToInt(st.Dimmable),
		string(st.Confidence),
		st.LastUpdated.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("saving state for %s: %w", deviceID, err)
	}
	return nil
}

// Load returns the stored state of every output still present in the
// address table.
func (r *SnapshotRepository) Load(ctx context.Context) ([]OutputState, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT module, output, is_on, level, dimmable, confidence, updated_at
		FROM dobiss_output_state
		ORDER BY module, output
	`)
	if err != nil {
		return nil, fmt.Errorf("querying output state: %w", err)
	}
	defer rows.Close()

	var states []OutputState
	for rows.Next() {
		var (
			module, output, level int
			on, dimmable          int
			confidence            string
			updated               int64
		)
		if err := rows.Scan(&module, &output, &on, &level, &dimmable, &confidence, &updated); err != nil {
			return nil, fmt.Errorf("scanning output state: %w", err)
		}

		addr := DeviceAddress{Module: uint8(module), Output: uint8(output)} //nolint:gosec // CHECK constraints bound both to 0-255
		if r.table != nil {
			if _, err := r.table.Resolve(addr); err != nil {
				continue
			}
		}

		states = append(states, OutputState{
			Address:     addr,
			On:          on != 0,
			Level:       uint8(level), //nolint:gosec // CHECK constraint bounds level to 0-100
			Dimmable:    dimmable != 0,
			Confidence:  Confidence(confidence),
			LastUpdated: time.UnixMilli(updated).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating output state: %w", err)
	}
	return states, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
