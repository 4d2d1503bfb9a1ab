// Package startup installs the thermostat as a systemd service on Linux
// deployments.
package startup

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/thatsimonsguy/heatpump-thermostat/internal/config"
)

const defaultServicePath = "/etc/systemd/system/thermostat.service"

// InstallService writes a systemd unit pointing at the current executable
// and config file. The caller still runs systemctl enable/start.
func InstallService(cfg *config.Config) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve executable path: %w", err)
	}
	configPath, err := filepath.Abs(cfg.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	servicePath := cfg.ServicePath
	if servicePath == "" {
		servicePath = defaultServicePath
	}

	unit := fmt.Sprintf(`[Unit]
Description=Heat pump thermostat controller
After=network.target

[Service]
Type=simple
ExecStart=%s -config-file %s
Restart=on-failure
RestartSec=5s

[Install]
WantedBy=multi-user.target
`, exe, configPath)

	if err := os.WriteFile(servicePath, []byte(unit), 0644); err != nil {
		return fmt.Errorf("failed to write service unit: %w", err)
	}
	return nil
}
