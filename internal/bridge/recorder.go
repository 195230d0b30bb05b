package bridge

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// timeLayout is how recorder timestamps are stored. Fixed width so the
// TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000Z"

// GroupRecord is one group address seen on the bus.
type GroupRecord struct {
	Address      string    `json:"address"`
	DPT          string    `json:"dpt,omitempty"`
	LastSource   string    `json:"last_source"`
	LastAPCI     string    `json:"last_apci"`
	LastValue    string    `json:"last_value"`
	MessageCount int64     `json:"message_count"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
}

// DeviceRecord is one individual address seen as a telegram source.
type DeviceRecord struct {
	Address      string    `json:"address"`
	MessageCount int64     `json:"message_count"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
}

// Recorder passively records the group addresses and devices seen on the
// bus. It is a Sink; the Bridge calls it for every inbound telegram.
//
// The database must have the group_addresses and devices tables (see the
// migrations package).
//
// Thread Safety: All methods are safe for concurrent use.
type Recorder struct {
	db     *sql.DB
	logger Logger

	// Prepared statements for upserts (created once, reused)
	groupUpsertStmt  *sql.Stmt
	deviceUpsertStmt *sql.Stmt
	stmtMu           sync.Mutex

	// Shutdown coordination
	closed bool
	mu     sync.RWMutex
}

// NewRecorder creates a recorder on db. Call Start before recording.
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Start prepares the upsert statements. Calling it twice is a no-op.
func (r *Recorder) Start() error {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.groupUpsertStmt != nil {
		return nil
	}

	groupStmt, err := r.db.Prepare(`
		INSERT INTO group_addresses (address, dpt, last_source, last_apci, last_value, message_count, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			dpt = CASE WHEN excluded.dpt != '' THEN excluded.dpt ELSE dpt END,
			last_source = excluded.last_source,
			last_apci = excluded.last_apci,
			last_value = CASE WHEN excluded.last_apci = 'GroupValue_Read' THEN last_value ELSE excluded.last_value END,
			message_count = message_count + 1,
			last_seen = excluded.last_seen
	`)
	if err != nil {
		return fmt.Errorf("preparing group upsert statement: %w", err)
	}

	deviceStmt, err := r.db.Prepare(`
		INSERT INTO devices (address, message_count, first_seen, last_seen)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			message_count = message_count + 1,
			last_seen = excluded.last_seen
	`)
	if err != nil {
		groupStmt.Close()
		return fmt.Errorf("preparing device upsert statement: %w", err)
	}

	r.groupUpsertStmt = groupStmt
	r.deviceUpsertStmt = deviceStmt

	r.mu.Lock()
	r.closed = false
	r.mu.Unlock()

	r.log("recorder started")
	return nil
}

// Stop closes the prepared statements. Recording after Stop is a no-op.
func (r *Recorder) Stop() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.groupUpsertStmt != nil {
		r.groupUpsertStmt.Close()
		r.groupUpsertStmt = nil
	}
	if r.deviceUpsertStmt != nil {
		r.deviceUpsertStmt.Close()
		r.deviceUpsertStmt = nil
	}

	r.log("recorder stopped")
}

// RecordTelegram records the source device and, for group telegrams, the
// destination group address. A GroupValue_Read keeps the last value.
func (r *Recorder) RecordTelegram(t Telegram) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return
	}
	r.mu.RUnlock()

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.groupUpsertStmt == nil || r.deviceUpsertStmt == nil {
		return // Not started
	}

	seen := t.Time
	if seen.IsZero() {
		seen = time.Now()
	}
	now := seen.UTC().Format(timeLayout)

	// 0.0.0 is the unassigned address.
	if t.Source != "" && t.Source != "0.0.0" {
		if _, err := r.deviceUpsertStmt.Exec(t.Source, now, now); err != nil {
			r.logError("recording device", err)
		}
	}

	if !t.Group {
		return
	}
	if _, err := r.groupUpsertStmt.Exec(t.Destination, t.DPT, t.Source, t.APCI, hex.EncodeToString(t.Data), now, now); err != nil {
		r.logError("recording group address", err)
	}
}

// GroupAddresses returns every recorded group address, most recently seen
// first.
func (r *Recorder) GroupAddresses(ctx context.Context) ([]GroupRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT address, dpt, last_source, last_apci, last_value, message_count, first_seen, last_seen
		FROM group_addresses
		ORDER BY last_seen DESC, address
	`)
	if err != nil {
		return nil, fmt.Errorf("querying group addresses: %w", err)
	}
	defer rows.Close()

	var records []GroupRecord
	for rows.Next() {
		var g GroupRecord
		var first, last string
		if err := rows.Scan(&g.Address, &g.DPT, &g.LastSource, &g.LastAPCI, &g.LastValue, &g.MessageCount, &first, &last); err != nil {
			return nil, fmt.Errorf("scanning group address: %w", err)
		}
		g.FirstSeen = parseTime(first)
		g.LastSeen = parseTime(last)
		records = append(records, g)
	}
	return records, rows.Err()
}

// GroupAddress returns one recorded group address. sql.ErrNoRows is
// returned (wrapped) when addr has not been seen.
func (r *Recorder) GroupAddress(ctx context.Context, addr string) (GroupRecord, error) {
	var g GroupRecord
	var first, last string
	err := r.db.QueryRowContext(ctx, `
		SELECT address, dpt, last_source, last_apci, last_value, message_count, first_seen, last_seen
		FROM group_addresses WHERE address = ?
	`, addr).Scan(&g.Address, &g.DPT, &g.LastSource, &g.LastAPCI, &g.LastValue, &g.MessageCount, &first, &last)
	if err != nil {
		return GroupRecord{}, fmt.Errorf("querying group address %s: %w", addr, err)
	}
	g.FirstSeen = parseTime(first)
	g.LastSeen = parseTime(last)
	return g, nil
}

// Devices returns every recorded device, most recently seen first.
func (r *Recorder) Devices(ctx context.Context) ([]DeviceRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT address, message_count, first_seen, last_seen
		FROM devices
		ORDER BY last_seen DESC, address
	`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var records []DeviceRecord
	for rows.Next() {
		var d DeviceRecord
		var first, last string
		if err := rows.Scan(&d.Address, &d.MessageCount, &first, &last); err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		d.FirstSeen = parseTime(first)
		d.LastSeen = parseTime(last)
		records = append(records, d)
	}
	return records, rows.Err()
}

// GroupAddressCount returns the number of recorded group addresses.
func (r *Recorder) GroupAddressCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM group_addresses").Scan(&count)
	return count, err
}

// DeviceCount returns the number of recorded devices.
func (r *Recorder) DeviceCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM devices").Scan(&count)
	return count, err
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (r *Recorder) log(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Info(msg, keysAndValues...)
	}
}

func (r *Recorder) logError(msg string, err error) {
	if r.logger != nil {
		r.logger.Error(msg, "error", err)
	}
}
