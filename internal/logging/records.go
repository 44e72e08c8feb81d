package logging

// Emittable is satisfied by every event record via its embedded BaseEvent.
type Emittable interface {
	Base() *BaseEvent
}

// BaseEvent is the envelope shared by all watchdog events. Type names the
// event kind, State the state machine state the event was produced in,
// and CycleID ties reboot events to one power cycle.
type BaseEvent struct {
	TSUTC         string `json:"ts_utc"`
	TSUnixMS      int64  `json:"ts_unix_ms"`
	Seq           uint64 `json:"seq"`
	Type          string `json:"type"`
	Level         string `json:"level"`
	State         string `json:"state"`
	CycleID       string `json:"cycle_id,omitempty"`
	SchemaVersion int    `json:"schema_version"`
	ToolName      string `json:"tool_name"`
	ToolVersion   string `json:"tool_version"`
	HostID        string `json:"host_id"`
	ClockSource   string `json:"clock_source"`
}

func (b *BaseEvent) Base() *BaseEvent {
	return b
}

type StateEntered struct {
	BaseEvent
	PrevState string `json:"prev_state"`
}

type ModemUnresponsive struct {
	BaseEvent
	Target      string `json:"target"`
	DownSinceTS string `json:"down_since_ts"`
}

type InternetDown struct {
	BaseEvent
	DownSinceTS string `json:"down_since_ts"`
	GraceMs     int64  `json:"grace_ms"`
}

type RebootStarted struct {
	BaseEvent
	Attempt    int   `json:"attempt"`
	PowerOffMs int64 `json:"power_off_ms"`
}

type RebootCompleted struct {
	BaseEvent
	Attempt    int   `json:"attempt"`
	DurationMs int64 `json:"duration_ms"`
}

type RebootBackoff struct {
	BaseEvent
	Attempt     int   `json:"attempt"`
	ExtensionMs int64 `json:"extension_ms"`
}

type RelayFault struct {
	BaseEvent
	Stage string `json:"stage"`
	Err   string `json:"err"`
}

type RouteSnapshot struct {
	BaseEvent
	Target   string     `json:"target"`
	Hops     []RouteHop `json:"hops"`
	PathHash string     `json:"path_hash"`
	Err      string     `json:"err,omitempty"`
}

type RouteHop struct {
	TTL   int     `json:"ttl"`
	IP    string  `json:"ip"`
	RttMs float64 `json:"rtt_ms"`
}

type WatchdogStarted struct {
	BaseEvent
	ModemAddr      string `json:"modem_addr"`
	PollIntervalMs int64  `json:"poll_interval_ms"`
	Targets        int    `json:"targets"`
}

type WatchdogStopped struct {
	BaseEvent
	Reason string `json:"reason"`
}
