// Command relaytool exercises each configured relay command once, for wiring
// bring-up. It probes hardware the same way the thermostat does, steps
// through OFF / FAN / COOL / HEAT / EMERGENCY on operator confirmation, and
// always finishes by asserting OFF.
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/heatpump-thermostat/internal/config"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/hardware"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/logging"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, "")

	hw, err := hardware.Probe(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Hardware probe failed")
	}
	defer hw.Cleanup()

	steps := []struct {
		name string
		cmd  []byte
	}{
		{"OFF", cfg.Parsed.Off},
		{"FAN", cfg.Parsed.FanOnly},
		{"COOL", cfg.Parsed.Cool},
		{"HEAT", cfg.Parsed.Heat},
		{"EMERGENCY", cfg.Parsed.Emergency},
	}

	reader := bufio.NewReader(os.Stdin)
	for _, step := range steps {
		fmt.Printf("Press enter to assert %s (%s), or q+enter to abort: ", step.name, config.Render(step.cmd))
		line, _ := reader.ReadString('\n')
		if len(line) > 0 && (line[0] == 'q' || line[0] == 'Q') {
			break
		}
		hw.WriteRelay(step.cmd)
		fmt.Printf("%s asserted\n", step.name)
	}

	fmt.Println("Asserting OFF")
	hw.WriteRelay(cfg.Parsed.Off)
}
