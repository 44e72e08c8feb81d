package watchdog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kulshan/gatewatch/internal/logging"
	"github.com/kulshan/gatewatch/internal/probe"
	"github.com/kulshan/gatewatch/internal/relay"
)

type captureSink struct {
	events []logging.Emittable
}

func (c *captureSink) Emit(e logging.Emittable) error {
	c.events = append(c.events, e)
	return nil
}

func (c *captureSink) countType(typ string) int {
	n := 0
	for _, e := range c.events {
		if e.Base().Type == typ {
			n++
		}
	}
	return n
}

type fixture struct {
	machine  *Machine
	sink     *captureSink
	mem      *relay.Memory
	modemUp  bool
	inetUp   bool
	modemPbs int
	inetPbs  int
	slept    []time.Duration
	now      time.Time
}

var testStart = time.Unix(100000, 0)

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		sink: &captureSink{},
		mem:  relay.NewMemory(),
		now:  testStart,
	}

	modemProbe := func(context.Context) bool {
		f.modemPbs++
		return f.modemUp
	}
	inetProbe := func(context.Context) bool {
		f.inetPbs++
		return f.inetUp
	}

	m, err := New(Options{
		ModemAddr:      "10.1.10.1",
		ModemProbe:     modemProbe,
		InternetProbes: []probe.Func{inetProbe},
		Relay:          f.mem,
		Sink:           f.sink,
		PollInterval:   time.Second,
		PowerOff:       5 * time.Second,
		BootDuration:   120 * time.Second,
		GraceWindow:    60 * time.Second,
		BackoffBase:    30 * time.Second,
		BackoffMax:     10 * time.Minute,
		Start:          testStart,
	})
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}

	m.sleep = func(_ context.Context, d time.Duration) error {
		f.slept = append(f.slept, d)
		return nil
	}

	f.machine = m
	return f
}

// tick advances the synthetic clock by one poll interval and evaluates
// one transition.
func (f *fixture) tick(ctx context.Context) State {
	f.now = f.now.Add(time.Second)
	return f.machine.Tick(ctx, f.now)
}

// settle runs ticks until the initial boot cooldown has expired.
func (f *fixture) settle(ctx context.Context) {
	for f.now.Before(testStart.Add(121 * time.Second)) {
		f.tick(ctx)
	}
}

func TestCooldownSkipsModemProbe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.modemUp = true

	for i := 0; i < 60; i++ {
		if got := f.tick(ctx); got != StateMonitoringModem {
			t.Fatalf("state %s during boot cooldown, want monitoring_modem", got)
		}
	}
	if f.modemPbs != 0 {
		t.Fatalf("modem probed %d times during cooldown, want 0", f.modemPbs)
	}
}

func TestSteadyStateInternetUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.modemUp = true
	f.inetUp = true
	f.settle(ctx)

	if got := f.machine.State(); got != StateMonitoringInternet {
		t.Fatalf("state %s after cooldown with responsive modem, want monitoring_internet", got)
	}

	for i := 0; i < 1000; i++ {
		if got := f.tick(ctx); got != StateMonitoringInternet {
			t.Fatalf("tick %d: state %s, want monitoring_internet", i, got)
		}
	}

	if len(f.mem.History()) != 0 {
		t.Fatalf("relay toggled while internet healthy: %v", f.mem.History())
	}
	if n := f.sink.countType("reboot_started"); n != 0 {
		t.Fatalf("spurious reboots: %d", n)
	}
}

func TestModemNeverResponsive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.modemUp = false
	f.settle(ctx)

	for i := 0; i < 30; i++ {
		if got := f.tick(ctx); got != StateMonitoringModem {
			t.Fatalf("state %s with dead modem, want monitoring_modem", got)
		}
	}

	if n := f.sink.countType("modem_unresponsive"); n < 30 {
		t.Fatalf("modem_unresponsive emitted %d times, want >= 30", n)
	}
	if f.inetPbs != 0 {
		t.Fatalf("internet probed %d times without a responsive modem", f.inetPbs)
	}
}

func TestInternetOutageTriggersPowerCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.modemUp = true
	f.inetUp = true
	f.settle(ctx)
	f.tick(ctx) // one good internet sample anchors the grace window

	f.inetUp = false
	var st State
	for i := 0; i < 61; i++ {
		st = f.tick(ctx)
	}
	if st != StateRebootModem {
		t.Fatalf("state %s after 61s of internet silence, want reboot_modem", st)
	}

	rebootAt := f.now.Add(time.Second)
	if got := f.tick(ctx); got != StateMonitoringModem {
		t.Fatalf("state %s after reboot tick, want monitoring_modem", got)
	}

	hist := f.mem.History()
	if len(hist) != 2 || hist[0] != false || hist[1] != true {
		t.Fatalf("relay history %v, want [false true]", hist)
	}
	if len(f.slept) != 1 || f.slept[0] != 5*time.Second {
		t.Fatalf("power-off wait %v, want one 5s wait", f.slept)
	}
	if n := f.sink.countType("reboot_started"); n != 1 {
		t.Fatalf("reboot_started emitted %d times, want 1", n)
	}
	if n := f.sink.countType("reboot_completed"); n != 1 {
		t.Fatalf("reboot_completed emitted %d times, want 1", n)
	}
	if got := f.machine.reboots.LastReboot(); !got.Equal(rebootAt) {
		t.Fatalf("last_reboot %v, want %v", got, rebootAt)
	}

	// Immediately after the cycle the modem must not be probed.
	before := f.modemPbs
	f.tick(ctx)
	if f.modemPbs != before {
		t.Fatalf("modem probed during post-reboot cooldown")
	}
}

func TestGraceWindowAbsorbsBlip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.modemUp = true
	f.inetUp = true
	f.settle(ctx)
	f.tick(ctx)

	// 30s outage, then recovery: never leaves monitoring_internet.
	f.inetUp = false
	for i := 0; i < 30; i++ {
		if got := f.tick(ctx); got != StateMonitoringInternet {
			t.Fatalf("state %s during 30s blip, want monitoring_internet", got)
		}
	}
	f.inetUp = true
	if got := f.tick(ctx); got != StateMonitoringInternet {
		t.Fatalf("state %s after recovery, want monitoring_internet", got)
	}
	if len(f.mem.History()) != 0 {
		t.Fatalf("relay toggled for a blip inside the grace window")
	}
}

func TestOrAcrossHosts(t *testing.T) {
	sink := &captureSink{}
	mem := relay.NewMemory()

	failing := func(context.Context) bool { return false }
	succeeding := func(context.Context) bool { return true }

	m, err := New(Options{
		ModemAddr:      "10.1.10.1",
		ModemProbe:     succeeding,
		InternetProbes: []probe.Func{failing, succeeding},
		Relay:          mem,
		Sink:           sink,
		PollInterval:   time.Second,
		PowerOff:       5 * time.Second,
		BootDuration:   time.Second,
		GraceWindow:    60 * time.Second,
		Start:          testStart,
	})
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}

	ctx := context.Background()
	now := testStart.Add(2 * time.Second)
	m.Tick(ctx, now) // modem check
	for i := 0; i < 200; i++ {
		now = now.Add(time.Second)
		if got := m.Tick(ctx, now); got != StateMonitoringInternet {
			t.Fatalf("state %s with one healthy host, want monitoring_internet", got)
		}
	}
}

func TestRepeatedOutageBacksOff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.modemUp = true
	f.inetUp = false // dead upstream from the start
	f.settle(ctx)

	// The internet was never up, so the grace window anchored at
	// process start expired long ago and settle ends in reboot_modem.
	f.tick(ctx) // power cycle
	f.tick(ctx) // first cooldown tick

	firstReboot := f.machine.reboots.LastReboot()
	if f.sink.countType("reboot_started") != 1 {
		t.Fatalf("expected first power cycle")
	}
	if f.sink.countType("reboot_backoff") != 0 {
		t.Fatalf("backoff extension on the first cycle")
	}

	// Drive until the second cycle happens.
	for i := 0; i < 3600 && f.sink.countType("reboot_started") < 2; i++ {
		f.tick(ctx)
	}
	if f.sink.countType("reboot_started") != 2 {
		t.Fatalf("second power cycle never happened")
	}
	if f.sink.countType("reboot_backoff") != 1 {
		t.Fatalf("second cycle did not extend the cooldown")
	}

	second := f.machine.reboots.LastReboot()
	if gap := second.Sub(firstReboot); gap < 120*time.Second {
		t.Fatalf("cycles only %s apart, want at least the boot duration", gap)
	}

	// The second cycle stretches the cooldown by the backoff base, so
	// 121s after it the modem must still be left alone.
	if !f.machine.reboots.InCooldown(second.Add(121 * time.Second)) {
		t.Fatalf("backoff extension not applied to the cooldown")
	}

	// After recovery the counter resets.
	f.inetUp = true
	for i := 0; i < 700 && f.machine.State() != StateMonitoringInternet; i++ {
		f.tick(ctx)
	}
	f.tick(ctx)
	if f.machine.reboots.Cycles() != 0 {
		t.Fatalf("cycle counter not reset after recovery: %d", f.machine.reboots.Cycles())
	}
}

func TestRelayFaultKeepsLoopAlive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.modemUp = true
	f.inetUp = false
	f.settle(ctx) // ends in reboot_modem: internet never came up

	f.mem.FailWith(errors.New("pin unavailable"))
	if got := f.tick(ctx); got != StateMonitoringModem {
		t.Fatalf("state %s after relay fault, want monitoring_modem", got)
	}
	if f.sink.countType("relay_fault") != 1 {
		t.Fatalf("relay_fault not emitted")
	}
	if f.sink.countType("reboot_completed") != 0 {
		t.Fatalf("reboot_completed emitted despite fault")
	}

	// The loop keeps going and retries the cycle once cooldown and
	// grace expire again.
	f.mem.FailWith(nil)
	for i := 0; i < 3600 && f.sink.countType("reboot_completed") == 0; i++ {
		f.tick(ctx)
	}
	if f.sink.countType("reboot_completed") != 1 {
		t.Fatalf("power cycle never retried after fault cleared")
	}
}

// stuckCoilRelay refuses to cut power but accepts restores.
type stuckCoilRelay struct {
	*relay.Memory
}

func (r *stuckCoilRelay) SetPower(on bool) error {
	if !on {
		return errors.New("coil stuck")
	}
	return r.Memory.SetPower(on)
}

func TestPowerOffFaultStillRestoresPower(t *testing.T) {
	sink := &captureSink{}
	mem := relay.NewMemory()

	m, err := New(Options{
		ModemAddr:      "10.1.10.1",
		ModemProbe:     func(context.Context) bool { return true },
		InternetProbes: []probe.Func{func(context.Context) bool { return false }},
		Relay:          &stuckCoilRelay{Memory: mem},
		Sink:           sink,
		PollInterval:   time.Second,
		PowerOff:       5 * time.Second,
		BootDuration:   time.Second,
		GraceWindow:    10 * time.Second,
		Start:          testStart,
	})
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}

	ctx := context.Background()
	now := testStart
	for i := 0; i < 60 && sink.countType("relay_fault") == 0; i++ {
		now = now.Add(time.Second)
		m.Tick(ctx, now)
	}

	if sink.countType("relay_fault") != 1 {
		t.Fatalf("relay_fault not emitted for a failed power cut")
	}
	// A failed cut may have been partially asserted, so a restore must
	// still be attempted.
	hist := mem.History()
	if len(hist) != 1 || hist[0] != true {
		t.Fatalf("relay history %v, want [true] (restore attempt only)", hist)
	}
	if !mem.Powered() {
		t.Fatalf("relay left with power cut after a failed cycle")
	}
	if sink.countType("reboot_completed") != 0 {
		t.Fatalf("reboot_completed emitted despite power_off fault")
	}
	if got := m.State(); got != StateMonitoringModem {
		t.Fatalf("state %s after failed cycle, want monitoring_modem", got)
	}
}

func TestCancelDuringPowerOffRestoresPower(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.modemUp = true
	f.inetUp = false
	f.settle(ctx) // ends in reboot_modem

	f.machine.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	f.tick(ctx) // reboot tick, interrupted mid power-off

	if !f.mem.Powered() {
		t.Fatalf("relay left with power cut after cancellation")
	}
	if f.sink.countType("reboot_completed") != 0 {
		t.Fatalf("interrupted cycle reported as completed")
	}

	// The next tick observes the cancelled context and halts.
	if got := f.tick(ctx); got != StateHalt {
		t.Fatalf("state %s after cancellation, want halt", got)
	}
}

func TestStateEnteredEmittedOncePerTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.modemUp = true
	f.inetUp = true
	f.settle(ctx)

	for i := 0; i < 50; i++ {
		f.tick(ctx)
	}

	// One entry for the initial state, one for the transition to
	// monitoring_internet, none for the repeated ticks after it.
	if n := f.sink.countType("state_entered"); n != 2 {
		t.Fatalf("state_entered emitted %d times, want 2", n)
	}
	entered := 0
	for _, e := range f.sink.events {
		if e.Base().Type == "state_entered" && e.Base().State == string(StateMonitoringInternet) {
			entered++
		}
	}
	if entered != 1 {
		t.Fatalf("monitoring_internet entered %d times, want 1", entered)
	}
}

func TestDiagnoseRunsBeforePowerCut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.modemUp = true
	f.inetUp = false

	var sawPowerCut bool
	f.machine.diagnose = func(context.Context) logging.Emittable {
		sawPowerCut = len(f.mem.History()) > 0
		return &logging.RouteSnapshot{
			BaseEvent: logging.BaseEvent{Type: "route_snapshot", Level: "info"},
			Target:    "8.8.8.8",
		}
	}

	f.settle(ctx) // ends in reboot_modem
	f.tick(ctx)   // power cycle

	if f.sink.countType("route_snapshot") != 1 {
		t.Fatalf("route_snapshot not emitted")
	}
	if sawPowerCut {
		t.Fatalf("diagnostic ran after power was already cut")
	}
	for _, e := range f.sink.events {
		if e.Base().Type == "route_snapshot" && e.Base().CycleID == "" {
			t.Fatalf("route_snapshot missing cycle id")
		}
	}
}

func TestRunHaltsOnContextCancel(t *testing.T) {
	f := newFixture(t)
	f.modemUp = true
	f.inetUp = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.machine.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop after cancellation")
	}

	if got := f.machine.State(); got != StateHalt {
		t.Fatalf("state %s after shutdown, want halt", got)
	}
	if f.sink.countType("watchdog_stopped") != 1 {
		t.Fatalf("watchdog_stopped not emitted")
	}
}
