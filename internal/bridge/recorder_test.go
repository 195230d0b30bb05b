package bridge

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/knxnetip/internal/infrastructure/database"
	_ "github.com/nerrad567/knxnetip/migrations"
)

// setupRecorderDB opens a migrated database in a temp directory.
func setupRecorderDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "recorder.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db.DB
}

func startedRecorder(t *testing.T) *Recorder {
	t.Helper()
	rec := NewRecorder(setupRecorderDB(t))
	if err := rec.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(rec.Stop)
	return rec
}

func TestRecorder_StartStop(t *testing.T) {
	rec := NewRecorder(setupRecorderDB(t))

	if err := rec.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := rec.Start(); err != nil {
		t.Fatalf("second Start() error: %v", err)
	}

	rec.Stop()
	rec.Stop()

	// Recording after Stop is a no-op.
	rec.RecordTelegram(Telegram{Source: "1.1.1", Destination: "1/1/1", Group: true, APCI: "GroupValue_Write"})
	count, err := rec.GroupAddressCount(context.Background())
	if err != nil {
		t.Fatalf("GroupAddressCount() error: %v", err)
	}
	if count != 0 {
		t.Errorf("GroupAddressCount() = %d after Stop, want 0", count)
	}
}

func TestRecorder_NotStarted(t *testing.T) {
	rec := NewRecorder(setupRecorderDB(t))
	rec.RecordTelegram(Telegram{Source: "1.1.1", Destination: "1/1/1", Group: true})

	count, err := rec.DeviceCount(context.Background())
	if err != nil {
		t.Fatalf("DeviceCount() error: %v", err)
	}
	if count != 0 {
		t.Errorf("DeviceCount() = %d, want 0", count)
	}
}

func TestRecorder_RecordTelegram(t *testing.T) {
	rec := startedRecorder(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec.RecordTelegram(Telegram{
		Time: t0, Source: "1.1.5", Destination: "1/2/3", Group: true,
		APCI: "GroupValue_Write", Data: []byte{0x0C, 0x1A}, DPT: "9.001",
	})
	rec.RecordTelegram(Telegram{
		Time: t0.Add(time.Minute), Source: "1.1.6", Destination: "1/2/3", Group: true,
		APCI: "GroupValue_Read",
	})
	rec.RecordTelegram(Telegram{
		Time: t0.Add(2 * time.Minute), Source: "1.1.5", Destination: "2/0/0", Group: true,
		APCI: "GroupValue_Write", Data: []byte{0x01},
	})
	// Device-addressed telegrams record the source only.
	rec.RecordTelegram(Telegram{
		Time: t0.Add(3 * time.Minute), Source: "1.1.7", Destination: "1.1.5",
		APCI: "Memory_Read",
	})
	// The unassigned address is not a device.
	rec.RecordTelegram(Telegram{
		Time: t0.Add(4 * time.Minute), Source: "0.0.0", Destination: "3/0/0", Group: true,
		APCI: "GroupValue_Write", Data: []byte{0x00},
	})

	g, err := rec.GroupAddress(ctx, "1/2/3")
	if err != nil {
		t.Fatalf("GroupAddress() error: %v", err)
	}
	if g.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", g.MessageCount)
	}
	if g.DPT != "9.001" {
		t.Errorf("DPT = %q, want kept 9.001", g.DPT)
	}
	if g.LastValue != "0c1a" {
		t.Errorf("LastValue = %q, want 0c1a kept across a read", g.LastValue)
	}
	if g.LastAPCI != "GroupValue_Read" || g.LastSource != "1.1.6" {
		t.Errorf("last = %s from %s", g.LastAPCI, g.LastSource)
	}
	if !g.FirstSeen.Equal(t0) || !g.LastSeen.Equal(t0.Add(time.Minute)) {
		t.Errorf("seen = %v .. %v", g.FirstSeen, g.LastSeen)
	}

	groups, err := rec.GroupAddresses(ctx)
	if err != nil {
		t.Fatalf("GroupAddresses() error: %v", err)
	}
	if len(groups) != 3 {
		t.Fatalf("GroupAddresses() = %d rows, want 3", len(groups))
	}
	if groups[0].Address != "3/0/0" {
		t.Errorf("first group = %s, want most recent 3/0/0", groups[0].Address)
	}

	devices, err := rec.Devices(ctx)
	if err != nil {
		t.Fatalf("Devices() error: %v", err)
	}
	want := map[string]int64{"1.1.5": 2, "1.1.6": 1, "1.1.7": 1}
	if len(devices) != len(want) {
		t.Fatalf("Devices() = %+v", devices)
	}
	for _, d := range devices {
		if want[d.Address] != d.MessageCount {
			t.Errorf("device %s count = %d, want %d", d.Address, d.MessageCount, want[d.Address])
		}
	}
	if devices[0].Address != "1.1.7" {
		t.Errorf("first device = %s, want most recent 1.1.7", devices[0].Address)
	}

	if n, _ := rec.GroupAddressCount(ctx); n != 3 {
		t.Errorf("GroupAddressCount() = %d, want 3", n)
	}
	if n, _ := rec.DeviceCount(ctx); n != 3 {
		t.Errorf("DeviceCount() = %d, want 3", n)
	}
}

func TestRecorder_GroupAddressNotFound(t *testing.T) {
	rec := startedRecorder(t)
	_, err := rec.GroupAddress(context.Background(), "9/9/9")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("GroupAddress() error = %v, want sql.ErrNoRows", err)
	}
}

func TestRecorder_AsSink(t *testing.T) {
	rec := startedRecorder(t)
	b, _, bus := newTestBridge(t, rec)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	bus.Emit(telegramEvent("1.1.5", "1/2/5", "GroupValue_Write", []byte{0x01}))

	g, err := rec.GroupAddress(context.Background(), "1/2/5")
	if err != nil {
		t.Fatalf("GroupAddress() error: %v", err)
	}
	if g.DPT != "1.001" || g.LastValue != "01" {
		t.Errorf("record = %+v", g)
	}
}
