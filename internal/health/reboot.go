package health

import "time"

// RebootState tracks when the modem was last power-cycled and how many
// cycles have happened without the internet recovering in between. While
// the modem is assumed to still be booting the watchdog must not judge
// it unresponsive, and repeated cycles stretch that quiet period with an
// exponential backoff so a dead upstream does not turn into a power-cycle
// loop.
type RebootState struct {
	lastReboot   time.Time
	bootDuration time.Duration
	backoffBase  time.Duration
	backoffMax   time.Duration
	cycles       int
}

func NewRebootState(start time.Time, bootDuration, backoffBase, backoffMax time.Duration) *RebootState {
	return &RebootState{
		lastReboot:   start,
		bootDuration: bootDuration,
		backoffBase:  backoffBase,
		backoffMax:   backoffMax,
	}
}

// NotifyReboot stamps the cycle time and counts it toward the backoff.
func (r *RebootState) NotifyReboot(now time.Time) {
	r.lastReboot = now
	r.cycles++
}

// NotifyRecovered resets the consecutive-cycle counter. Called when the
// internet verdict returns to up.
func (r *RebootState) NotifyRecovered() {
	r.cycles = 0
}

// InCooldown reports whether the modem is still within its boot window
// (plus any backoff extension) after the last reboot. The interval is
// half open: true on [lastReboot, lastReboot+window), false at the end.
func (r *RebootState) InCooldown(now time.Time) bool {
	return now.Sub(r.lastReboot) < r.bootDuration+r.BackoffExtension()
}

// BackoffExtension returns the extra cooldown earned by consecutive
// power cycles: base<<(n-2) for the n-th cycle, capped at backoffMax.
// The first cycle earns no extension.
func (r *RebootState) BackoffExtension() time.Duration {
	if r.cycles <= 1 || r.backoffBase <= 0 {
		return 0
	}

	d := r.backoffBase << (r.cycles - 2)
	if d > r.backoffMax || d <= 0 {
		return r.backoffMax
	}

	return d
}

// Cycles returns the number of power cycles since the last recovery.
func (r *RebootState) Cycles() int {
	return r.cycles
}

// LastReboot returns the time of the most recent power cycle, or the
// process start time if none has happened.
func (r *RebootState) LastReboot() time.Time {
	return r.lastReboot
}
