// Package telemetry publishes sensor data, mode changes, and liveness to the
// coordinating server. All failures are absorbed here; the control engine is
// never blocked by the network.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/heatpump-thermostat/internal/datadog"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/model"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/notifications"
)

const (
	httpTimeout       = 10 * time.Second
	retryBackoff      = 2 * time.Second
	heartbeatInterval = time.Minute

	// maxFailuresBeforeWarn keeps transient network blips out of the warning
	// stream; rewarnInterval paces repeats for a persistent outage.
	maxFailuresBeforeWarn = 5
	rewarnInterval        = 30 * time.Minute
)

type ReadingSource interface {
	CurrentReadings() (model.Reading, bool)
}

type Client struct {
	http         *http.Client
	baseURL      string
	deviceID     string
	retryCount   int
	dataInterval time.Duration
	readings     ReadingSource

	mu                sync.Mutex
	lastSentMode      model.Mode
	haveSentMode      bool
	modeSent          chan struct{}
	heartbeatFailures int
	lastOutageWarn    time.Time
	warnedOutage      bool
}

func New(baseURL, deviceID string, retryCount, dataIntervalSeconds int, readings ReadingSource) *Client {
	return &Client{
		http:         &http.Client{Timeout: httpTimeout},
		baseURL:      baseURL,
		deviceID:     deviceID,
		retryCount:   retryCount,
		dataInterval: time.Duration(dataIntervalSeconds) * time.Second,
		readings:     readings,
	}
}

func (c *Client) enabled() bool { return c.baseURL != "" }

// Register announces the device to the server at boot.
func (c *Client) Register(ctx context.Context) {
	if !c.enabled() {
		return
	}

	payload := map[string]string{"device_id": c.deviceID}
	if err := c.postWithRetries(ctx, "/api/devices/register", payload); err != nil {
		log.Warn().Err(err).Msg("Device registration failed; continuing without it")
		return
	}
	log.Info().Str("device_id", c.deviceID).Msg("Device registered with server")
}

// RunDataPublisher posts the latest reading on its interval until cancelled.
func (c *Client) RunDataPublisher(ctx context.Context) {
	if !c.enabled() {
		log.Info().Msg("No server configured; data publishing disabled")
		return
	}

	log.Info().Dur("interval", c.dataInterval).Msg("Starting telemetry data publisher")

	ticker := time.NewTicker(c.dataInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Telemetry data publisher stopped")
			return
		case <-ticker.C:
			c.PublishData(ctx)
		}
	}
}

// PublishData posts one sensor sample. A missing reading is skipped quietly;
// the poller already logs its own failures.
func (c *Client) PublishData(ctx context.Context) {
	reading, ok := c.readings.CurrentReadings()
	if !ok {
		log.Debug().Msg("No sensor reading available to publish")
		return
	}

	payload := map[string]interface{}{
		"device_id":   c.deviceID,
		"temperature": reading.Temperature,
		"humidity":    reading.Humidity,
	}

	if err := c.postWithRetries(ctx, "/api/receive_data", payload); err != nil {
		datadog.Incr("telemetry.publish_failure", "component:telemetry")
		log.Warn().Err(err).Msg("Giving up on data publish until next interval")
	}
}

// PublishMode sends a mode-change notification, deduplicated against the
// last mode handed off for sending (whether or not it was delivered). Called
// from the engine's transition hook, so the network work happens on a
// detached goroutine; each send waits for the previous one to finish, so the
// server receives modes in call order.
func (c *Client) PublishMode(mode model.Mode) {
	if !c.enabled() {
		return
	}

	c.mu.Lock()
	if c.haveSentMode && c.lastSentMode == mode {
		c.mu.Unlock()
		return
	}
	c.lastSentMode = mode
	c.haveSentMode = true
	prev := c.modeSent
	done := make(chan struct{})
	c.modeSent = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		c.SendMode(context.Background(), mode)
	}()
}

// SendMode performs the mode POST synchronously with bounded retries.
func (c *Client) SendMode(ctx context.Context, mode model.Mode) {
	payload := map[string]string{
		"device_id": c.deviceID,
		"mode":      string(mode),
	}

	if err := c.postWithRetries(ctx, "/api/update_mode", payload); err != nil {
		datadog.Incr("telemetry.mode_publish_failure", "component:telemetry")
		log.Warn().Err(err).Str("mode", string(mode)).Msg("Mode update not delivered")
	}
}

// RunHeartbeat pings the server once a minute with the device's LAN address.
func (c *Client) RunHeartbeat(ctx context.Context) {
	if !c.enabled() {
		return
	}

	log.Info().Msg("Starting heartbeat loop")

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Heartbeat loop stopped")
			return
		case <-ticker.C:
			c.Heartbeat(ctx)
		}
	}
}

// Heartbeat performs one ping and tracks the consecutive-failure streak.
func (c *Client) Heartbeat(ctx context.Context) {
	url := fmt.Sprintf("%s/api/devices/%s/heartbeat?ip=%s", c.baseURL, c.deviceID, localIP())

	err := c.post(ctx, url, nil)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil {
		if c.warnedOutage {
			log.Info().Msg("Server heartbeat recovered")
		}
		c.heartbeatFailures = 0
		c.warnedOutage = false
		return
	}

	c.heartbeatFailures++
	if c.heartbeatFailures < maxFailuresBeforeWarn {
		log.Debug().Err(err).Int("consecutive", c.heartbeatFailures).Msg("Heartbeat failed")
		return
	}

	now := time.Now()
	if !c.warnedOutage || now.Sub(c.lastOutageWarn) >= rewarnInterval {
		c.warnedOutage = true
		c.lastOutageWarn = now
		log.Warn().
			Err(err).
			Int("consecutive", c.heartbeatFailures).
			Msg("Server unreachable")
		if nerr := notifications.Send("Thermostat server unreachable",
			fmt.Sprintf("%d consecutive heartbeat failures", c.heartbeatFailures)); nerr != nil {
			log.Debug().Err(nerr).Msg("Outage notification not sent")
		}
	}
}

func (c *Client) postWithRetries(ctx context.Context, path string, payload interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff):
			}
		}

		lastErr = c.post(ctx, c.baseURL+path, payload)
		if lastErr == nil {
			return nil
		}

		log.Debug().
			Err(lastErr).
			Str("path", path).
			Int("attempt", attempt+1).
			Msg("Server POST failed")
	}
	return lastErr
}

func (c *Client) post(ctx context.Context, url string, payload interface{}) error {
	var body *bytes.Buffer
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewBuffer(data)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: status %d", url, resp.StatusCode)
	}
	return nil
}

// localIP finds the LAN address the server should dial back to. The UDP
// "connection" never sends a packet; it only selects a route.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "unknown"
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "unknown"
	}
	return addr.IP.String()
}
