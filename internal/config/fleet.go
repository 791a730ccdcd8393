package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"strings"
	"time"

	"velosta/internal/model"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// FleetConfig is the seed list of bikes kept in fleet.yaml.
type FleetConfig struct {
	Bikes []FleetBike `yaml:"bikes"`
}

type FleetBike struct {
	ID                 string `yaml:"id"`
	Name               string `yaml:"name"`
	RegistrationNumber string `yaml:"registration_number"`
	DailyRate          int64  `yaml:"daily_rate"`
	Maintenance        bool   `yaml:"maintenance"`
}

// LoadFleetConfig reads and checks a fleet file.
func LoadFleetConfig(path string) (*FleetConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseFleet(path, data)
}

func parseFleet(path string, data []byte) (*FleetConfig, error) {
	var cfg FleetConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	seen := make(map[string]bool, len(cfg.Bikes))
	for i, b := range cfg.Bikes {
		id := strings.TrimSpace(b.ID)
		if id == "" {
			return nil, fmt.Errorf("fleet bike #%d: id is required", i+1)
		}
		if seen[id] {
			return nil, fmt.Errorf("fleet bike %s: duplicate id", id)
		}
		seen[id] = true
		if b.DailyRate <= 0 {
			return nil, fmt.Errorf("fleet bike %s: daily_rate must be positive", id)
		}
		cfg.Bikes[i].ID = id
	}
	return &cfg, nil
}

// Models converts the seed into bikes. Stored status is AVAILABLE unless the
// seed marks the bike as under maintenance.
func (f *FleetConfig) Models() []model.Bike {
	out := make([]model.Bike, 0, len(f.Bikes))
	for _, b := range f.Bikes {
		status := model.BikeAvailable
		if b.Maintenance {
			status = model.BikeMaintenance
		}
		out = append(out, model.Bike{
			ID:                 b.ID,
			Name:               b.Name,
			RegistrationNumber: b.RegistrationNumber,
			DailyRate:          b.DailyRate,
			Status:             status,
		})
	}
	return out
}

// FleetWatcher polls fleet.yaml and hands every changed seed to apply.
// A file that fails to parse is logged once and the previous seed stays in
// effect until the file changes again.
type FleetWatcher struct {
	path     string
	interval time.Duration
	apply    func(*FleetConfig)
	logger   zerolog.Logger

	lastMod  time.Time
	lastSeed [sha256.Size]byte
}

// NewFleetWatcher creates a watcher for path polling every interval.
func NewFleetWatcher(path string, interval time.Duration, logger zerolog.Logger, apply func(*FleetConfig)) *FleetWatcher {
	if path == "" {
		path = "configs/fleet.yaml"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &FleetWatcher{
		path:     path,
		interval: interval,
		apply:    apply,
		logger:   logger.With().Str("component", "fleet").Str("path", path).Logger(),
	}
}

// Start applies the current seed and then polls until ctx is done. A seed
// that cannot be loaded at startup is an error.
func (w *FleetWatcher) Start(ctx context.Context) error {
	if _, err := w.poll(); err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				applied, err := w.poll()
				if err != nil {
					w.logger.Warn().Err(err).Msg("fleet reload failed")
					continue
				}
				if applied {
					w.logger.Info().Msg("fleet reloaded")
				}
			}
		}
	}()
	return nil
}

// poll loads the file when its mtime moved and applies it when the content
// differs from the last applied seed.
func (w *FleetWatcher) poll() (bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return false, err
	}
	if !w.lastMod.IsZero() && !info.ModTime().After(w.lastMod) {
		return false, nil
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return false, err
	}
	w.lastMod = info.ModTime()

	sum := sha256.Sum256(data)
	if sum == w.lastSeed {
		return false, nil
	}
	cfg, err := parseFleet(w.path, data)
	if err != nil {
		return false, err
	}
	w.lastSeed = sum
	if w.apply != nil {
		w.apply(cfg)
	}
	return true, nil
}
