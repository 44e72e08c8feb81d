package health

import "time"

// Tracker converts raw reachability samples for a single target into a
// debounced up/down verdict with interval timestamps. After the first
// sample exactly one of UpSince/DownSince is set; the zero time means
// "not in that state".
type Tracker struct {
	upSince   time.Time
	downSince time.Time
}

// Observe records one sample and returns the verdict. A failed sample
// flips the target down immediately. A good sample while down starts a
// new up-streak; while up it leaves UpSince alone, so UpSince marks the
// start of the current streak rather than the most recent success.
func (t *Tracker) Observe(reachable bool, now time.Time) bool {
	if !reachable {
		t.downSince = now
		t.upSince = time.Time{}
	} else if t.upSince.IsZero() {
		t.upSince = now
		t.downSince = time.Time{}
	}

	return !t.upSince.IsZero()
}

// MarkDown forces the target down, used when the watchdog knows the
// target cannot be up (power was just cut).
func (t *Tracker) MarkDown(now time.Time) {
	t.downSince = now
	t.upSince = time.Time{}
}

// Up reports the current verdict without recording a sample.
func (t *Tracker) Up() bool {
	return !t.upSince.IsZero()
}

// UpSince returns the start of the current up-streak, zero while down.
func (t *Tracker) UpSince() time.Time {
	return t.upSince
}

// DownSince returns the start of the current down interval, zero while up.
func (t *Tracker) DownSince() time.Time {
	return t.downSince
}

// GraceTracker damps the down transition of a Tracker: a bad sample only
// counts once the time since the last good sample exceeds the grace
// window. Recovery is not damped; the first good sample flips the
// verdict up immediately.
type GraceTracker struct {
	tracker     Tracker
	grace       time.Duration
	lastSuccess time.Time
}

func NewGraceTracker(grace time.Duration, now time.Time) *GraceTracker {
	return &GraceTracker{grace: grace, lastSuccess: now}
}

// Observe records one sample and returns the damped verdict.
func (g *GraceTracker) Observe(reachable bool, now time.Time) bool {
	if reachable {
		g.lastSuccess = now
	}

	down := !reachable && now.Sub(g.lastSuccess) > g.grace
	return g.tracker.Observe(!down, now)
}

// NotifyReboot resets the grace window so a deliberate power cycle does
// not itself produce an internet-down verdict while the modem restarts.
func (g *GraceTracker) NotifyReboot(now time.Time) {
	g.lastSuccess = now
}

// Up reports the current verdict without recording a sample.
func (g *GraceTracker) Up() bool {
	return g.tracker.Up()
}

// DownSince returns the start of the current down interval, zero while up.
func (g *GraceTracker) DownSince() time.Time {
	return g.tracker.DownSince()
}
