// Package logger records timestamped live-data snapshots to CSV session
// files with automatic rotation.
package logger

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ecuworks/diagdash/internal/ecu"
)

// Logger writes live-data frames to CSV, one row per interval.
type Logger struct {
	mu       sync.Mutex
	dir      string
	interval time.Duration
	enabled  bool

	file   *os.File
	writer *csv.Writer
	lastTs time.Time
	rows   int
}

// Config holds logger configuration.
type Config struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	IntervalMs int    `yaml:"interval_ms" json:"intervalMs"`
}

// Rotate after 100k rows (~2.7 hrs at 10 Hz).
const maxRowsPerFile = 100_000

var csvHeader = []string{
	"timestamp", "rpm", "coolant_c", "throttle_pct", "load_pct", "fuel_pct",
	"speed_kph", "iat_c", "maf_gs", "fuel_bar", "oil_bar", "battery_v",
	"advance_deg",
}

// New creates a new Logger.
func New(cfg Config) *Logger {
	if cfg.Path == "" {
		cfg.Path = "/var/log/diagdash"
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval < 50*time.Millisecond {
		interval = 100 * time.Millisecond // Default 10 Hz
	}
	return &Logger{
		dir:      cfg.Path,
		interval: interval,
		enabled:  cfg.Enabled,
	}
}

// SetEnabled toggles logging at runtime.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
	if !on && l.file != nil {
		l.closeFile()
	}
}

// IsEnabled returns whether logging is active.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Record writes a live-data snapshot if the minimum interval has elapsed.
func (l *Logger) Record(frame *ecu.DataFrame) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled || frame == nil {
		return
	}

	now := time.Now()
	if now.Sub(l.lastTs) < l.interval {
		return
	}
	l.lastTs = now

	if l.writer == nil || l.rows >= maxRowsPerFile {
		if err := l.rotateFile(now); err != nil {
			log.Printf("[logger] rotate failed: %v", err)
			return
		}
	}

	if err := l.writer.Write(buildRow(now, frame)); err != nil {
		log.Printf("[logger] write failed: %v", err)
		return
	}
	l.writer.Flush()
	l.rows++
}

// Close flushes and closes the current log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

func (l *Logger) rotateFile(now time.Time) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	filename := fmt.Sprintf("diagdash_%s.csv", now.Format("2006-01-02_150405"))
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.rows = 0

	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()

	log.Printf("[logger] opened %s", path)
	return nil
}

func (l *Logger) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func buildRow(ts time.Time, f *ecu.DataFrame) []string {
	return []string{
		ts.Format(time.RFC3339Nano),
		fmt.Sprintf("%d", f.RPM),
		fmt.Sprintf("%.1f", f.CoolantTemp),
		fmt.Sprintf("%.1f", f.ThrottlePos),
		fmt.Sprintf("%.1f", f.EngineLoad),
		fmt.Sprintf("%.1f", f.FuelLevel),
		fmt.Sprintf("%.1f", f.Speed),
		fmt.Sprintf("%.1f", f.IntakeAirTemp),
		fmt.Sprintf("%.2f", f.MAF),
		fmt.Sprintf("%.2f", f.FuelPressure),
		fmt.Sprintf("%.2f", f.OilPressure),
		fmt.Sprintf("%.2f", f.BatteryVolts),
		fmt.Sprintf("%.1f", f.TimingAdvance),
	}
}
