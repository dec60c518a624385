package catalog

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Selection is the last brand/system/tool the technician picked, restored on
// the next start.
type Selection struct {
	Brand      string `yaml:"brand" json:"brand"`
	SystemType string `yaml:"system_type" json:"systemType"`
	SystemName string `yaml:"system_name" json:"systemName"`
	Tool       string `yaml:"tool" json:"tool"`
}

// Preferences are device-level user preferences.
type Preferences struct {
	Theme    string `yaml:"theme" json:"theme"`
	Language string `yaml:"language" json:"language"`
}

// Settings is the persisted per-device user state.
type Settings struct {
	mu sync.Mutex

	LastSelected Selection   `yaml:"last_selected" json:"lastSelected"`
	Prefs        Preferences `yaml:"preferences" json:"preferences"`

	path string
}

func defaultSettings() *Settings {
	return &Settings{
		Prefs: Preferences{Theme: "light", Language: "en"},
	}
}

// LoadSettings reads settings from path, returning defaults when the file
// does not exist yet.
func LoadSettings(path string) *Settings {
	s := defaultSettings()
	s.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[settings] no settings at %s, using defaults", path)
		return s
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		log.Printf("[settings] error parsing %s: %v, using defaults", path, err)
		s = defaultSettings()
		s.path = path
	}
	return s
}

// Selection returns the last-selected entry.
func (s *Settings) Selection() Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LastSelected
}

// UpdateSelection stores a new last-selected entry and persists it.
func (s *Settings) UpdateSelection(sel Selection) error {
	s.mu.Lock()
	s.LastSelected = sel
	s.mu.Unlock()
	return s.Save()
}

// Save writes the settings atomically: temp file in the same directory, then
// rename over the target.
func (s *Settings) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return nil // in-memory only (tests, --sim runs without a data dir)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("settings: marshal: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("settings: mkdir %s: %w", dir, err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("settings: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("settings: rename: %w", err)
	}
	return nil
}
