package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kulshan/gatewatch/internal/health"
	"github.com/kulshan/gatewatch/internal/logging"
	"github.com/kulshan/gatewatch/internal/probe"
	"github.com/kulshan/gatewatch/internal/relay"
)

// State names one node of the control loop.
type State string

const (
	StateMonitoringModem    State = "monitoring_modem"
	StateMonitoringInternet State = "monitoring_internet"
	StateRebootModem        State = "reboot_modem"
	StateHalt               State = "halt"
)

// EventSink receives the machine's structured events. *logging.Logger
// satisfies it; tests use an in-memory capture.
type EventSink interface {
	Emit(logging.Emittable) error
}

type Options struct {
	ModemAddr      string
	ModemProbe     probe.Func
	InternetProbes []probe.Func
	Relay          relay.Driver
	Sink           EventSink

	PollInterval time.Duration
	PowerOff     time.Duration
	BootDuration time.Duration
	GraceWindow  time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration

	// Diagnose, when set, captures a route snapshot right before power
	// is cut; the returned record is emitted tagged with the cycle ID.
	Diagnose func(ctx context.Context) logging.Emittable

	// Start anchors the initial cooldown; zero means time.Now().
	Start time.Time
}

// Machine is the watchdog control loop. All state is owned by the single
// goroutine running Run; Tick is exposed for tests to drive directly.
type Machine struct {
	state     State
	prevState State

	modemAddr      string
	modemProbe     probe.Func
	internetProbes []probe.Func

	modem    health.Tracker
	internet *health.GraceTracker
	reboots  *health.RebootState

	relay    relay.Driver
	sink     EventSink
	diagnose func(ctx context.Context) logging.Emittable

	pollInterval time.Duration
	powerOff     time.Duration
	graceWindow  time.Duration

	// sleep is swapped out by tests to avoid real power-off waits.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(opts Options) (*Machine, error) {
	if opts.ModemProbe == nil {
		return nil, fmt.Errorf("watchdog: modem probe is required")
	}
	if len(opts.InternetProbes) == 0 {
		return nil, fmt.Errorf("watchdog: at least one internet probe is required")
	}
	if opts.Relay == nil {
		return nil, fmt.Errorf("watchdog: relay driver is required")
	}
	if opts.Sink == nil {
		return nil, fmt.Errorf("watchdog: event sink is required")
	}
	if opts.PollInterval <= 0 {
		return nil, fmt.Errorf("watchdog: poll interval must be positive")
	}
	if opts.PowerOff <= 0 {
		return nil, fmt.Errorf("watchdog: power-off duration must be positive")
	}

	start := opts.Start
	if start.IsZero() {
		start = time.Now()
	}

	return &Machine{
		state:          StateMonitoringModem,
		modemAddr:      opts.ModemAddr,
		modemProbe:     opts.ModemProbe,
		internetProbes: opts.InternetProbes,
		internet:       health.NewGraceTracker(opts.GraceWindow, start),
		reboots:        health.NewRebootState(start, opts.BootDuration, opts.BackoffBase, opts.BackoffMax),
		relay:          opts.Relay,
		sink:           opts.Sink,
		diagnose:       opts.Diagnose,
		pollInterval:   opts.PollInterval,
		powerOff:       opts.PowerOff,
		graceWindow:    opts.GraceWindow,
		sleep:          sleepCtx,
	}, nil
}

// State returns the machine's current state.
func (m *Machine) State() State {
	return m.state
}

// Run drives the machine at the poll interval until the context is
// cancelled, at which point the machine enters the halt state with the
// relay left powering the modem.
func (m *Machine) Run(ctx context.Context) error {
	m.emit(&logging.WatchdogStarted{
		BaseEvent:      logging.BaseEvent{Type: "watchdog_started", Level: "info", State: string(m.state)},
		ModemAddr:      m.modemAddr,
		PollIntervalMs: m.pollInterval.Milliseconds(),
		Targets:        len(m.internetProbes),
	})

	next := time.Now()
	for m.state != StateHalt {
		next = next.Add(m.pollInterval)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			m.halt()
		case <-timer.C:
			m.Tick(ctx, time.Now())
		}
	}

	m.emit(&logging.WatchdogStopped{
		BaseEvent: logging.BaseEvent{Type: "watchdog_stopped", Level: "info", State: string(m.state)},
		Reason:    "shutdown",
	})

	return nil
}

// Tick evaluates one transition of the table. Probes block inside the
// tick, so effective cadence is max(poll interval, probe latency).
func (m *Machine) Tick(ctx context.Context, now time.Time) State {
	if ctx.Err() != nil {
		m.halt()
		return m.state
	}

	m.noteEntry()

	switch m.state {
	case StateMonitoringModem:
		// While the modem is assumed booting no probe is issued at
		// all, so a half-started modem cannot be judged unresponsive.
		if m.reboots.InCooldown(now) {
			return m.state
		}

		if m.modem.Observe(m.modemProbe(ctx), now) {
			m.state = StateMonitoringInternet
		} else {
			m.emit(&logging.ModemUnresponsive{
				BaseEvent:   logging.BaseEvent{Type: "modem_unresponsive", Level: "warn", State: string(m.state)},
				Target:      m.modemAddr,
				DownSinceTS: m.modem.DownSince().UTC().Format(time.RFC3339Nano),
			})
		}

	case StateMonitoringInternet:
		// One reachable host is sufficient; a blocked or dead host
		// must not count against the link.
		good := false
		for _, p := range m.internetProbes {
			if p(ctx) {
				good = true
				break
			}
		}

		if m.internet.Observe(good, now) {
			m.reboots.NotifyRecovered()
		} else {
			m.emit(&logging.InternetDown{
				BaseEvent:   logging.BaseEvent{Type: "internet_down", Level: "warn", State: string(m.state)},
				DownSinceTS: m.internet.DownSince().UTC().Format(time.RFC3339Nano),
				GraceMs:     m.graceWindow.Milliseconds(),
			})
			m.state = StateRebootModem
		}

	case StateRebootModem:
		m.powerCycle(ctx, now)
		m.state = StateMonitoringModem

	case StateHalt:
	}

	return m.state
}

// powerCycle cuts and restores modem power, stamping reboot state first
// so the cooldown covers the unpowered window as well.
func (m *Machine) powerCycle(ctx context.Context, now time.Time) {
	cycleID := uuid.NewString()

	// Snapshot the broken path while the modem is still powered.
	if m.diagnose != nil {
		if rec := m.diagnose(ctx); rec != nil {
			rec.Base().CycleID = cycleID
			rec.Base().State = string(m.state)
			m.emit(rec)
		}
	}

	m.reboots.NotifyReboot(now)
	m.modem.MarkDown(now)
	m.internet.NotifyReboot(now)

	attempt := m.reboots.Cycles()
	m.emit(&logging.RebootStarted{
		BaseEvent:  logging.BaseEvent{Type: "reboot_started", Level: "warn", State: string(m.state), CycleID: cycleID},
		Attempt:    attempt,
		PowerOffMs: m.powerOff.Milliseconds(),
	})

	if ext := m.reboots.BackoffExtension(); ext > 0 {
		m.emit(&logging.RebootBackoff{
			BaseEvent:   logging.BaseEvent{Type: "reboot_backoff", Level: "info", State: string(m.state), CycleID: cycleID},
			Attempt:     attempt,
			ExtensionMs: ext.Milliseconds(),
		})
	}

	if err := m.relay.SetPower(false); err != nil {
		m.relayFault(cycleID, "power_off", err)
		// The cut may have been partially asserted; try to leave the
		// modem powered.
		_ = m.relay.SetPower(true)
		return
	}

	interrupted := m.sleep(ctx, m.powerOff) != nil

	// Power must come back no matter how the wait ended.
	if err := m.relay.SetPower(true); err != nil {
		m.relayFault(cycleID, "power_on", err)
		return
	}

	if interrupted {
		return
	}

	m.emit(&logging.RebootCompleted{
		BaseEvent:  logging.BaseEvent{Type: "reboot_completed", Level: "info", State: string(m.state), CycleID: cycleID},
		Attempt:    attempt,
		DurationMs: m.powerOff.Milliseconds(),
	})
}

// relayFault reports a driver failure at the highest severity. The loop
// keeps running; the next pass through the reboot state retries.
func (m *Machine) relayFault(cycleID, stage string, err error) {
	m.emit(&logging.RelayFault{
		BaseEvent: logging.BaseEvent{Type: "relay_fault", Level: "error", State: string(m.state), CycleID: cycleID},
		Stage:     stage,
		Err:       err.Error(),
	})
}

func (m *Machine) halt() {
	if m.state == StateHalt {
		return
	}

	m.state = StateHalt
	m.noteEntry()
}

// noteEntry emits state_entered once per transition, on the first tick
// inside the new state.
func (m *Machine) noteEntry() {
	if m.state == m.prevState {
		return
	}

	m.emit(&logging.StateEntered{
		BaseEvent: logging.BaseEvent{Type: "state_entered", Level: "info", State: string(m.state)},
		PrevState: string(m.prevState),
	})
	m.prevState = m.state
}

// emit is best effort; the sink failing must not stall monitoring.
func (m *Machine) emit(record logging.Emittable) {
	_ = m.sink.Emit(record)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
