// Package setpoint holds the user's target temperature. The cell is seeded
// from config at boot, optionally overridden once by the coordinating server,
// and thereafter mutated only through the local API.
package setpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/heatpump-thermostat/internal/datadog"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/model"
)

const (
	seedAttempts = 3
	seedBackoff  = 2 * time.Second
)

type Store struct {
	mu          sync.Mutex
	target      float64
	source      model.SetPointSource
	lastUpdated time.Time
}

func New(defaultTarget float64) *Store {
	return &Store{
		target: defaultTarget,
		source: model.SourceDefault,
	}
}

func (s *Store) Get() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

func (s *Store) Set(value float64, source model.SetPointSource) {
	s.mu.Lock()
	s.target = value
	s.source = source
	s.lastUpdated = time.Now()
	s.mu.Unlock()

	datadog.Gauge("setpoint.target", value, "component:setpoint")

	log.Info().
		Float64("target", value).
		Str("source", string(source)).
		Msg("Set point updated")
}

// Snapshot returns the current value with its provenance.
func (s *Store) Snapshot() (float64, model.SetPointSource, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target, s.source, s.lastUpdated
}

type settingsResponse struct {
	SetTemperature float64 `json:"set_temperature"`
	Mode           string  `json:"mode"`
}

// SeedFromServer fetches the device settings once at boot. The server wins
// over the config default when reachable; after the attempt budget is spent
// the default stands and the server is never polled again.
func (s *Store) SeedFromServer(ctx context.Context, client *http.Client, baseURL, deviceID string) {
	url := fmt.Sprintf("%s/api/device/%s/settings", baseURL, deviceID)

	for attempt := 1; attempt <= seedAttempts; attempt++ {
		target, err := fetchSettings(ctx, client, url)
		if err == nil {
			s.Set(target, model.SourceServer)
			return
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", seedAttempts).
			Msg("Failed to fetch set point from server")

		if attempt < seedAttempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(seedBackoff):
			}
		}
	}

	log.Info().
		Float64("target", s.Get()).
		Msg("Server unreachable at boot; keeping configured default set point")
}

func fetchSettings(ctx context.Context, client *http.Client, url string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build settings request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("settings request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("settings request returned status %d", resp.StatusCode)
	}

	var settings settingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&settings); err != nil {
		return 0, fmt.Errorf("decode settings: %w", err)
	}

	return settings.SetTemperature, nil
}
