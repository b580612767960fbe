package device

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-senseme/internal/bridges/senseme"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500

	recorderBuffer      = 256
	recorderWriteTimeout = 5 * time.Second
)

// HistoryRepository stores attribute changes per fan.
type HistoryRepository interface {
	Record(ctx context.Context, entry HistoryEntry) error

	// History returns entries newest first. An empty attribute matches all.
	History(ctx context.Context, fanID, attribute string, limit int) ([]HistoryEntry, error)

	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SQLiteHistoryRepository implements HistoryRepository on state_history.
type SQLiteHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteHistoryRepository wraps an open, migrated connection.
func NewSQLiteHistoryRepository(db *sql.DB) *SQLiteHistoryRepository {
	return &SQLiteHistoryRepository{db: db}
}

// Record inserts one entry. A zero RecordedAt means now.
func (r *SQLiteHistoryRepository) Record(ctx context.Context, entry HistoryEntry) error {
	if entry.FanID == "" || entry.Attribute == "" {
		return fmt.Errorf("fan id and attribute are required")
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO state_history (fan_id, attribute, value, recorded_at) VALUES (?, ?, ?, ?)",
		entry.FanID, entry.Attribute, entry.Value, formatTime(entry.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// History returns at most limit entries (default 50, capped at 500).
func (r *SQLiteHistoryRepository) History(ctx context.Context, fanID, attribute string, limit int) ([]HistoryEntry, error) {
	if fanID == "" {
		return nil, fmt.Errorf("fan id is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	query := "SELECT id, fan_id, attribute, value, recorded_at FROM state_history WHERE fan_id = ?"
	args := []any{fanID}
	if attribute != "" {
		query += " AND attribute = ?"
		args = append(args, attribute)
	}
	query += " ORDER BY recorded_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var e HistoryEntry
		var recordedAt string
		if err := rows.Scan(&e.ID, &e.FanID, &e.Attribute, &e.Value, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		e.RecordedAt = parseTime(recordedAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than olderThan and returns how many.
func (r *SQLiteHistoryRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := formatTime(time.Now().Add(-olderThan))
	result, err := r.db.ExecContext(ctx, "DELETE FROM state_history WHERE recorded_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// HistoryRecorder writes reconciled changes to a HistoryRepository from
// its own goroutine. ObserveState never blocks; when the buffer is full
// the change is dropped and counted.
type HistoryRecorder struct {
	repo   HistoryRepository
	logger Logger

	entries chan HistoryEntry
	done    chan struct{}
	wg      sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once

	recorded atomic.Uint64
	dropped  atomic.Uint64
}

// NewHistoryRecorder creates a recorder; call Start to begin writing.
func NewHistoryRecorder(repo HistoryRepository, logger Logger) *HistoryRecorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &HistoryRecorder{
		repo:    repo,
		logger:  logger,
		entries: make(chan HistoryEntry, recorderBuffer),
		done:    make(chan struct{}),
	}
}

// ObserveState queues a change for writing.
func (h *HistoryRecorder) ObserveState(c senseme.StateChange) {
	entry := HistoryEntry{
		FanID:      c.DeviceID,
		Attribute:  string(c.Attribute),
		Value:      c.Value,
		RecordedAt: c.Timestamp,
	}
	select {
	case h.entries <- entry:
	default:
		h.dropped.Add(1)
	}
}

// Start launches the writer goroutine.
func (h *HistoryRecorder) Start() {
	h.startOnce.Do(func() {
		h.wg.Add(1)
		go h.run()
	})
}

// Stop writes what is already queued and waits for the writer to exit.
func (h *HistoryRecorder) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
	})
}

// Stats returns how many entries were written and dropped.
func (h *HistoryRecorder) Stats() (recorded, dropped uint64) {
	return h.recorded.Load(), h.dropped.Load()
}

func (h *HistoryRecorder) run() {
	defer h.wg.Done()
	for {
		select {
		case e := <-h.entries:
			h.write(e)
		case <-h.done:
			for {
				select {
				case e := <-h.entries:
					h.write(e)
				default:
					return
				}
			}
		}
	}
}

func (h *HistoryRecorder) write(e HistoryEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), recorderWriteTimeout)
	defer cancel()

	if err := h.repo.Record(ctx, e); err != nil {
		h.logger.Warn("recording state history failed", "fan_id", e.FanID, "attribute", e.Attribute, "error", err)
		return
	}
	h.recorded.Add(1)
}
