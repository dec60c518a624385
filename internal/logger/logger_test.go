package logger

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/ecuworks/diagdash/internal/ecu"
)

func TestRecordWritesRows(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: true, Path: dir, IntervalMs: 50})
	defer l.Close()

	frame := &ecu.DataFrame{RPM: 3000, CoolantTemp: 85, BatteryVolts: 12.6}
	l.Record(frame)
	l.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("log dir has %d files, want 1", len(entries))
	}

	f, err := os.Open(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want header + 1", len(rows))
	}
	if rows[0][0] != "timestamp" || rows[0][1] != "rpm" {
		t.Errorf("unexpected header %v", rows[0])
	}
	if rows[1][1] != "3000" {
		t.Errorf("rpm column = %q, want 3000", rows[1][1])
	}
}

func TestRecordThrottledByInterval(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: true, Path: dir, IntervalMs: 10_000})
	defer l.Close()

	frame := &ecu.DataFrame{RPM: 800}
	l.Record(frame)
	l.Record(frame)
	l.Record(frame)
	l.Close()

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("log dir has %d files, want 1", len(entries))
	}
	f, _ := os.Open(filepath.Join(dir, entries[0].Name()))
	defer f.Close()
	rows, _ := csv.NewReader(f).ReadAll()
	if len(rows) != 2 {
		t.Errorf("got %d rows, want header + 1 (interval throttling)", len(rows))
	}
}

func TestDisabledLoggerWritesNothing(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: false, Path: dir})
	l.Record(&ecu.DataFrame{RPM: 800})
	l.Close()

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("disabled logger created %d files", len(entries))
	}
}
