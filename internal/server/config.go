package server

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ecuworks/diagdash/internal/ecu"
	"github.com/ecuworks/diagdash/internal/logger"
)

// Config holds all diagnostic-tool configuration.
type Config struct {
	mu sync.RWMutex

	ECU ECUConfig `yaml:"ecu" json:"ecu"`

	// Display preferences pushed to the dashboard
	Display DisplayConfig `yaml:"display" json:"display"`

	// Systems catalog and user settings paths
	Data DataConfig `yaml:"data" json:"data"`

	// Session logging
	Logging logger.Config `yaml:"logging" json:"logging"`

	Server ServerConfig `yaml:"server" json:"server"`

	path string // file path for save/load
}

type ECUConfig struct {
	Type      string `yaml:"type" json:"type"`           // "sim", "kline" or "obdcan"
	PortPath  string `yaml:"port_path" json:"portPath"`  // kline: e.g. /dev/ttyUSB0
	BaudRate  int    `yaml:"baud_rate" json:"baudRate"`  // kline
	Interface string `yaml:"interface" json:"interface"` // obdcan: e.g. can0
	PollHz    int    `yaml:"poll_hz" json:"pollHz"`
}

type DisplayConfig struct {
	Units      UnitsConfig     `yaml:"units" json:"units"`
	Thresholds ThresholdConfig `yaml:"thresholds" json:"thresholds"`
}

type UnitsConfig struct {
	Temperature string `yaml:"temperature" json:"temperature"` // "C" or "F"
	Pressure    string `yaml:"pressure" json:"pressure"`       // "bar" or "psi"
	Speed       string `yaml:"speed" json:"speed"`             // "kph" or "mph"
}

type ThresholdConfig struct {
	RPMWarn     int     `yaml:"rpm_warn" json:"rpmWarn"`
	RPMDanger   int     `yaml:"rpm_danger" json:"rpmDanger"`
	RPMMax      int     `yaml:"rpm_max" json:"rpmMax"`
	CoolantWarn float64 `yaml:"coolant_warn" json:"coolantWarn"` // °C
	OilWarn     float64 `yaml:"oil_warn" json:"oilWarn"`         // bar
	BattLow     float64 `yaml:"batt_low" json:"battLow"`
	BattHigh    float64 `yaml:"batt_high" json:"battHigh"`
}

type DataConfig struct {
	SystemsPath  string `yaml:"systems_path" json:"systemsPath"`
	SettingsPath string `yaml:"settings_path" json:"settingsPath"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
	Kiosk      bool   `yaml:"kiosk" json:"kiosk"` // Auto-launch a fullscreen browser
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ECU: ECUConfig{
			Type:      "sim",
			PortPath:  "/dev/ttyUSB0",
			BaudRate:  10400,
			Interface: "can0",
			PollHz:    10,
		},
		Display: DisplayConfig{
			Units: UnitsConfig{
				Temperature: "C",
				Pressure:    "bar",
				Speed:       "kph",
			},
			Thresholds: ThresholdConfig{
				RPMWarn:     6000,
				RPMDanger:   8000,
				RPMMax:      10000,
				CoolantWarn: 105,
				OilWarn:     1.0,
				BattLow:     12.0,
				BattHigh:    15.5,
			},
		},
		Data: DataConfig{
			SystemsPath:  "/etc/diagdash/systems.yaml",
			SettingsPath: "/etc/diagdash/settings.yaml",
		},
		Logging: logger.Config{
			Enabled:    false,
			Path:       "/var/log/diagdash",
			IntervalMs: 100,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
			Kiosk:      false,
		},
	}
}

// NewProvider builds the ECU provider the config selects.
func (c *Config) NewProvider() ecu.Provider {
	switch c.ECU.Type {
	case "kline":
		return ecu.NewKLine(ecu.KLineConfig{
			PortPath: c.ECU.PortPath,
			BaudRate: c.ECU.BaudRate,
		})
	case "obdcan":
		return ecu.NewOBDCan(ecu.OBDCanConfig{Interface: c.ECU.Interface})
	default:
		return ecu.NewSim()
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// Load .env from the config directory or the CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		val = strings.Trim(val, `"'`)
		// Real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: ECU_TYPE, ECU_PORT, ECU_BAUD, ECU_CAN_IF, ECU_POLL_HZ,
// LISTEN_ADDR, SYSTEMS_PATH, SETTINGS_PATH, LOG_ENABLED, LOG_PATH,
// LOG_INTERVAL_MS
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ECU_TYPE"); v != "" {
		c.ECU.Type = v
	}
	if v := os.Getenv("ECU_PORT"); v != "" {
		c.ECU.PortPath = v
	}
	if v := os.Getenv("ECU_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ECU.BaudRate = n
		}
	}
	if v := os.Getenv("ECU_CAN_IF"); v != "" {
		c.ECU.Interface = v
	}
	if v := os.Getenv("ECU_POLL_HZ"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ECU.PollHz = n
		}
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("SYSTEMS_PATH"); v != "" {
		c.Data.SystemsPath = v
	}
	if v := os.Getenv("SETTINGS_PATH"); v != "" {
		c.Data.SettingsPath = v
	}
	if v := os.Getenv("LOG_ENABLED"); v != "" {
		c.Logging.Enabled = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("LOG_PATH"); v != "" {
		c.Logging.Path = v
	}
	if v := os.Getenv("LOG_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Logging.IntervalMs = n
		}
	}
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		c.path = "/etc/diagdash/config.yaml"
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved (port paths, logging, thresholds).
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
