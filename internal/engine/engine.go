// Package engine implements the closed-loop thermostat control state machine:
// hysteresis with a dead band, compressor cool-down protection, and the
// heat-pump to emergency-strip upgrade driven by observed heating rate.
package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/heatpump-thermostat/internal/config"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/datadog"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/hardware"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/history"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/model"
	"github.com/thatsimonsguy/heatpump-thermostat/internal/notifications"
)

type State string

const (
	StateOff           State = "off"
	StateBetweenStates State = "between_states"
	StateFanOnly       State = "fan_only"
	StateCooling       State = "cooling"
	StateHeating       State = "heating"
	StateEmergencyHeat State = "emergency_heat"
)

// Active reports whether the compressor or strip is engaged.
func (s State) Active() bool {
	return s == StateCooling || s == StateHeating || s == StateEmergencyHeat
}

func (s State) Idle() bool { return !s.Active() }

func (s State) heatingFamily() bool {
	return s == StateHeating || s == StateEmergencyHeat
}

// Mode maps the engine state onto the wire-level mode.
func (s State) Mode() model.Mode {
	switch s {
	case StateFanOnly:
		return model.ModeFan
	case StateCooling:
		return model.ModeCool
	case StateHeating:
		return model.ModeHeat
	case StateEmergencyHeat:
		return model.ModeEmergency
	default:
		return model.ModeOff
	}
}

// Settings are the tick thresholds, lifted from config at boot.
type Settings struct {
	CoolingOffset    float64
	HeatingOffset    float64
	Threshold        float64
	CompressorMinOff time.Duration
}

const (
	// minHeatingEvaluation is how long a heating cycle must run before its
	// performance is judged at all.
	minHeatingEvaluation = 10 * time.Minute

	// poorPerfConfirmation is how long poor performance must persist before
	// the strip heat upgrade fires.
	poorPerfConfirmation = 5 * time.Minute

	// negligibleRate is the slope below which time-to-target is unknowable.
	negligibleRate = 0.001
)

// RequiredRatePerMinute is the heating slope the heat pump must sustain for
// a given deficit below target. Bigger deficits demand faster recovery
// before the pump is declared ineffective.
func RequiredRatePerMinute(deficit float64) float64 {
	switch {
	case deficit < 3.0:
		return 0.04
	case deficit < 8.0:
		return 0.09
	default:
		return 0.15
	}
}

type ReadingSource interface {
	CurrentReadings() (model.Reading, bool)
}

type TargetSource interface {
	Get() float64
	Set(value float64, source model.SetPointSource)
}

// Engine is a single logical actor: ticks arrive from one goroutine and the
// mutex additionally serializes external operations against them. A tick
// never returns an error; every tick with a usable reading concludes with a
// committed state and a relay write, and a tick without one holds the state
// and writes nothing.
type Engine struct {
	mu sync.Mutex

	hw       hardware.Backend
	commands config.RelayCommands
	readings ReadingSource
	target   TargetSource
	history  *history.Window
	settings Settings

	state          State
	stateEnteredAt time.Time
	stateEntryTemp float64
	heatingSince   time.Time
	poorPerfSince  time.Time

	lastCompressorOff time.Time

	emergencyStop bool
	fanMode       bool
	stopped       bool

	lastEmittedMode model.Mode
	modeListeners   []func(model.Mode)

	logicErr error
}

func New(hw hardware.Backend, commands config.RelayCommands, readings ReadingSource, target TargetSource, hist *history.Window, settings Settings) *Engine {
	return &Engine{
		hw:       hw,
		commands: commands,
		readings: readings,
		target:   target,
		history:  hist,
		settings: settings,
		state:    StateOff,
	}
}

// OnModeChange registers a listener for deduplicated mode transitions. The
// relay write for a state always precedes its notification. Listeners run
// synchronously on whichever goroutine caused the transition (a tick or an
// external operation), with the engine lock held, and must not call back
// into the engine.
func (e *Engine) OnModeChange(fn func(model.Mode)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.modeListeners = append(e.modeListeners, fn)
}

// Run drives the periodic tick until the context is cancelled, then asserts
// OFF and stops accepting ticks.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	log.Info().Dur("interval", interval).Msg("Starting control engine")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.Shutdown()
			return
		case <-ticker.C:
			e.Tick(time.Now())
		}
	}
}

// Shutdown writes OFF and refuses further ticks. Idempotent.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return
	}
	e.stopped = true
	e.writeCommandLocked(StateOff)
	e.state = StateOff

	log.Info().Msg("Control engine stopped; relays off")
}

// Tick runs one decision cycle at the given instant.
func (e *Engine) Tick(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return
	}

	// 1. Emergency stop dominates everything; OFF is re-asserted every tick.
	if e.emergencyStop {
		e.forceOffLocked(now)
		return
	}

	// 2. Without a usable reading the engine holds state and relay output.
	reading, ok := e.readings.CurrentReadings()
	if !ok || reading.Temperature <= 0 {
		log.Warn().Bool("have_reading", ok).Msg("No usable sensor reading; holding state")
		return
	}
	temp := reading.Temperature
	target := e.target.Get()

	// 3. Record history before deciding.
	e.history.Record(now, temp)

	diff := temp - target
	needsCooling := diff > e.settings.Threshold
	needsHeating := diff < -e.settings.Threshold
	coolingCutoff := target - e.settings.CoolingOffset
	heatingCutoff := target + e.settings.HeatingOffset
	compressorBlocked := now.Sub(e.lastCompressorOff) < e.settings.CompressorMinOff

	log.Debug().
		Str("state", string(e.state)).
		Float64("temp", temp).
		Float64("target", target).
		Bool("needs_cooling", needsCooling).
		Bool("needs_heating", needsHeating).
		Bool("compressor_blocked", compressorBlocked).
		Msg("Control tick")

	// 4. Cool-down gate: no new cycle may start while the compressor timer
	// runs. This is the only path that enforces the min-off invariant.
	if e.state.Idle() && compressorBlocked {
		e.applyStateLocked(e.idleTargetLocked(), now, temp)
		return
	}

	// 5. Active-state cut-offs and mode-change handling.
	switch e.state {
	case StateCooling:
		if temp <= coolingCutoff {
			e.lastCompressorOff = now
			e.applyStateLocked(e.idleTargetLocked(), now, temp)
			return
		}
		if needsHeating {
			// Mode change must pass through idle; never cool-to-heat directly.
			e.lastCompressorOff = now
			e.applyStateLocked(StateBetweenStates, now, temp)
			return
		}
		e.writeCommandLocked(StateCooling)
		return

	case StateHeating:
		if temp >= heatingCutoff {
			e.lastCompressorOff = now
			e.applyStateLocked(e.idleTargetLocked(), now, temp)
			return
		}
		if e.heatingIneffectiveLocked(now, temp, target) {
			// Upgrade in place: the compressor is already running, so the
			// cool-down gate does not apply.
			log.Warn().
				Float64("temp", temp).
				Float64("target", target).
				Float64("rate_per_min", e.history.RatePerMinute()).
				Msg("Heat pump cannot keep up; engaging emergency heat")
			e.applyStateLocked(StateEmergencyHeat, now, temp)
			return
		}
		if needsCooling {
			e.lastCompressorOff = now
			e.applyStateLocked(StateBetweenStates, now, temp)
			return
		}
		e.writeCommandLocked(StateHeating)
		return

	case StateEmergencyHeat:
		if temp >= heatingCutoff {
			e.lastCompressorOff = now
			e.applyStateLocked(e.idleTargetLocked(), now, temp)
			return
		}
		if needsCooling {
			e.lastCompressorOff = now
			e.applyStateLocked(StateBetweenStates, now, temp)
			return
		}
		e.writeCommandLocked(StateEmergencyHeat)
		return
	}

	// Idle from here on, with the cool-down satisfied.

	// 6. Stable band: hold the current idle state, honoring the fan flag.
	if !needsCooling && !needsHeating {
		e.applyStateLocked(e.idleTargetLocked(), now, temp)
		return
	}

	// 7. Start a new cycle.
	if needsCooling {
		e.applyStateLocked(StateCooling, now, temp)
		return
	}
	if needsHeating {
		e.applyStateLocked(StateHeating, now, temp)
		return
	}

	// 8. Safety net; should be unreachable.
	err := fmt.Errorf("control tick fell through: state=%s temp=%.2f target=%.2f", e.state, temp, target)
	e.logicErr = err
	log.Error().Err(err).Msg("Control logic error; forcing off")
	datadog.Incr("engine.logic_error", "component:engine")
	if nerr := notifications.Send("Thermostat logic error", err.Error()); nerr != nil {
		log.Debug().Err(nerr).Msg("Logic error notification not sent")
	}
	e.forceOffLocked(now)
}

// idleTargetLocked picks where an idle engine should rest: the fan flag
// demands FanOnly, otherwise a resting FanOnly drops to BetweenStates and
// Off/BetweenStates hold where they are.
func (e *Engine) idleTargetLocked() State {
	if e.fanMode {
		return StateFanOnly
	}
	if e.state == StateFanOnly || e.state.Active() {
		return StateBetweenStates
	}
	return e.state
}

// heatingIneffectiveLocked implements the two-sample confirmation: the
// observed rate must stay below the deficit-scaled requirement for five
// minutes after first being seen, with the marker cleared on recovery.
func (e *Engine) heatingIneffectiveLocked(now time.Time, temp, target float64) bool {
	if now.Sub(e.stateEnteredAt) < minHeatingEvaluation {
		return false
	}
	if e.history.Span() < minHeatingEvaluation || e.history.Len() < 2 {
		return false
	}

	rate := e.history.RatePerMinute()
	required := RequiredRatePerMinute(target - temp)

	if rate >= required {
		if !e.poorPerfSince.IsZero() {
			log.Info().
				Float64("rate_per_min", rate).
				Float64("required", required).
				Msg("Heating rate recovered; clearing poor-performance marker")
			e.poorPerfSince = time.Time{}
		}
		return false
	}

	if e.poorPerfSince.IsZero() {
		e.poorPerfSince = now
		log.Info().
			Float64("rate_per_min", rate).
			Float64("required", required).
			Msg("Heating performance below requirement; watching")
		return false
	}

	return now.Sub(e.poorPerfSince) >= poorPerfConfirmation
}

// applyStateLocked commits a state, writing its relay bytes first and
// notifying listeners after. Re-applying the current state is an idempotent
// relay write with no event.
func (e *Engine) applyStateLocked(s State, now time.Time, temp float64) {
	if s == e.state {
		e.writeCommandLocked(s)
		return
	}

	prev := e.state

	// Exiting one active state for another must pass the relays through OFF,
	// except the in-place Heating to EmergencyHeat upgrade.
	if prev.Active() && s.Active() && !(prev == StateHeating && s == StateEmergencyHeat) {
		e.writeCommandLocked(StateOff)
	}

	if s.heatingFamily() {
		// Performance judgement starts fresh on every heating entry.
		e.history.Clear()
		if !prev.heatingFamily() {
			e.heatingSince = now
		}
	} else {
		e.heatingSince = time.Time{}
	}

	e.state = s
	e.stateEnteredAt = now
	e.stateEntryTemp = temp
	e.poorPerfSince = time.Time{}

	e.writeCommandLocked(s)

	log.Info().
		Str("from", string(prev)).
		Str("to", string(s)).
		Float64("temp", temp).
		Msg("Control state transition")
	datadog.Incr("engine.transition", "component:engine", "to:"+string(s))

	e.emitModeLocked(s.Mode())
}

func (e *Engine) emitModeLocked(mode model.Mode) {
	if mode == e.lastEmittedMode {
		return
	}
	e.lastEmittedMode = mode
	for _, fn := range e.modeListeners {
		fn(mode)
	}
}

func (e *Engine) writeCommandLocked(s State) {
	e.hw.WriteRelay(e.commandFor(s))
}

func (e *Engine) commandFor(s State) []byte {
	switch s {
	case StateFanOnly:
		return e.commands.FanOnly
	case StateCooling:
		return e.commands.Cool
	case StateHeating:
		return e.commands.Heat
	case StateEmergencyHeat:
		return e.commands.Emergency
	default:
		return e.commands.Off
	}
}

func (e *Engine) forceOffLocked(now time.Time) {
	if e.state.Active() {
		e.lastCompressorOff = now
	}
	e.applyStateLocked(StateOff, now, e.stateEntryTemp)
}

// SetFanMode updates the circulation flag. Under emergency stop the change
// is accepted but no relay is touched; a resting engine switches idle state
// immediately, an active one keeps running.
func (e *Engine) SetFanMode(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.fanMode = enabled
	log.Info().Bool("fan_mode", enabled).Msg("Fan mode updated")

	if e.emergencyStop {
		return
	}

	if e.state == StateOff || e.state == StateBetweenStates || e.state == StateFanOnly {
		temp := e.stateEntryTemp
		if r, ok := e.readings.CurrentReadings(); ok {
			temp = r.Temperature
		}
		e.applyStateLocked(e.idleTargetLocked(), time.Now(), temp)
	}
}

// EnableEmergencyStop forces OFF immediately and pins the engine there.
func (e *Engine) EnableEmergencyStop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.emergencyStop = true
	log.Warn().Msg("Emergency stop enabled")
	e.forceOffLocked(time.Now())
}

// UpdateSetPoint forwards a new target; the next tick consumes it.
func (e *Engine) UpdateSetPoint(value float64) {
	e.target.Set(value, model.SourceUser)
}

// DisableEmergencyStop releases the kill switch. The next tick re-decides.
func (e *Engine) DisableEmergencyStop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.emergencyStop = false
	log.Info().Msg("Emergency stop disabled")
}

func (e *Engine) EmergencyStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emergencyStop
}

func (e *Engine) FanMode() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fanMode
}

func (e *Engine) StateName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return string(e.state)
}

func (e *Engine) CurrentMode() model.Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Mode()
}

// RemainingCooldown is how much of the compressor min-off window is left.
func (e *Engine) RemainingCooldown(now time.Time) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	remaining := e.settings.CompressorMinOff - now.Sub(e.lastCompressorOff)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// StateTime is how long the engine has been in its current state.
func (e *Engine) StateTime(now time.Time) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stateEnteredAt.IsZero() {
		return 0
	}
	return now.Sub(e.stateEnteredAt)
}

// HeatingTime is how long the heating family (Heating or EmergencyHeat) has
// been engaged; the in-place upgrade does not reset it.
func (e *Engine) HeatingTime(now time.Time) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.heatingSince.IsZero() {
		return 0
	}
	return now.Sub(e.heatingSince)
}

// EstimatedTimeToTarget projects the current rate onto the remaining deficit
// while a cycle is active; 0 when idle or the rate is negligible.
func (e *Engine) EstimatedTimeToTarget() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.state.Active() {
		return 0
	}
	reading, ok := e.readings.CurrentReadings()
	if !ok {
		return 0
	}
	rate := e.history.RatePerMinute()
	if math.Abs(rate) < negligibleRate {
		return 0
	}

	deficit := e.target.Get() - reading.Temperature
	minutes := math.Abs(deficit) / math.Abs(rate)
	return time.Duration(minutes * float64(time.Minute))
}

// HistorySnapshot copies the temperature window for status readers.
func (e *Engine) HistorySnapshot() []history.Sample {
	return e.history.Snapshot()
}

// LogicError reports the safety-net error, if the unreachable branch ever
// fired.
func (e *Engine) LogicError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.logicErr
}
