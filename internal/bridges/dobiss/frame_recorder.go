package dobiss

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// recorderQueueSize bounds the frames waiting to be written.
const recorderQueueSize = 128

// UnhandledFrame is one row of the unhandled frame log.
type UnhandledFrame struct {
	Disposition  Disposition `json:"disposition"`
	CANID        uint32      `json:"can_id"`
	Payload      string      `json:"payload"`
	Detail       string      `json:"detail,omitempty"`
	FirstSeen    time.Time   `json:"first_seen"`
	LastSeen     time.Time   `json:"last_seen"`
	MessageCount int64       `json:"message_count"`
}

// FrameRecorder passively records frames the driver could not attribute:
// unknown frames, acknowledgments from unconfigured outputs and stray
// status replies. Repeats of the same frame bump a counter.
//
// It implements FrameObserver. Writes happen on a background goroutine so
// the driver loop never waits on SQLite.
//
// Thread Safety: All methods are safe for concurrent use.
type FrameRecorder struct {
	db *sql.DB

	upsertStmt *sql.Stmt
	stmtMu     sync.Mutex

	queue   chan FrameEvent
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64

	closed bool
	mu     sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// NewFrameRecorder creates a recorder. The database must have the
// dobiss_unhandled_frames table created.
func NewFrameRecorder(db *sql.DB) *FrameRecorder {
	return &FrameRecorder{
		db:    db,
		queue: make(chan FrameEvent, recorderQueueSize),
		done:  make(chan struct{}),
	}
}

// SetLogger sets the logger for the recorder.
func (r *FrameRecorder) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

// Start prepares the upsert statement and starts the writer.
// Must be called before frames are observed.
func (r *FrameRecorder) Start() error {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.upsertStmt != nil {
		return nil // Already started
	}

	stmt, err := r.db.Prepare(`
		INSERT INTO dobiss_unhandled_frames
			(disposition, can_id, payload, detail, first_seen, last_seen, message_count)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(disposition, can_id, payload) DO UPDATE SET
			detail = excluded.detail,
			last_seen = excluded.last_seen,
			message_count = message_count + 1
	`)
	if err != nil {
		return fmt.Errorf("preparing frame upsert statement: %w", err)
	}
	r.upsertStmt = stmt

	r.wg.Add(1)
	go r.writeLoop()

	r.logInfo("frame recorder started")
	return nil
}

// Stop drains queued frames and releases the statement.
func (r *FrameRecorder) Stop() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	close(r.done)
	r.wg.Wait()

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()
	if r.upsertStmt != nil {
		r.upsertStmt.Close()
		r.upsertStmt = nil
	}

	r.logInfo("frame recorder stopped")
}

// ObserveFrame queues unhandled inbound frames for recording. Other frames
// are ignored. When the queue is full the frame is dropped.
func (r *FrameRecorder) ObserveFrame(ev FrameEvent) {
	if ev.Direction != Inbound {
		return
	}
	switch ev.Disposition {
	case DispositionUnknown, DispositionUnconfigured, DispositionStray:
	default:
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}

	select {
	case r.queue <- ev:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns how many frames were discarded because the queue was full.
func (r *FrameRecorder) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *FrameRecorder) writeLoop() {
	defer r.wg.Done()
	for {
		select {
		case ev := <-r.queue:
			r.write(ev)
		case <-r.done:
			for {
				select {
				case ev := <-r.queue:
					r.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *FrameRecorder) write(ev FrameEvent) {
	r.stmtMu.Lock()
	stmt := r.upsertStmt
	r.stmtMu.Unlock()
	if stmt == nil {
		return
	}

	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	payload := hex.EncodeToString(ev.Frame.Data[:min(int(ev.Frame.Length), len(ev.Frame.Data))])

	if _, err := stmt.Exec(string(ev.Disposition), ev.Frame.ID, payload, ev.Detail, ts.Unix(), ts.Unix()); err != nil {
		r.logError("recording frame", err)
	}
}

// List returns recorded frames, most recently seen first.
//
// Parameters:
//   - limit: Maximum rows to return; zero or less means 100
func (r *FrameRecorder) List(ctx context.Context, limit int) ([]UnhandledFrame, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT disposition, can_id, payload, detail, first_seen, last_seen, message_count
		FROM dobiss_unhandled_frames
		ORDER BY last_seen DESC, can_id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying unhandled frames: %w", err)
	}
	defer rows.Close()

	var frames []UnhandledFrame
	for rows.Next() {
		var (
			f           UnhandledFrame
			disposition string
			first, last int64
		)
		if err := rows.Scan(&disposition, &f.CANID, &f.Payload, &f.Detail, &first, &last, &f.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning unhandled frame: %w", err)
		}
		f.Disposition = Disposition(disposition)
		f.FirstSeen = time.Unix(first, 0).UTC()
		f.LastSeen = time.Unix(last, 0).UTC()
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

func (r *FrameRecorder) logInfo(msg string) {
	r.loggerMu.RLock()
	logger := r.logger
	r.loggerMu.RUnlock()
	if logger != nil {
		logger.Info(msg)
	}
}

func (r *FrameRecorder) logError(msg string, err error) {
	r.loggerMu.RLock()
	logger := r.logger
	r.loggerMu.RUnlock()
	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
