package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Modem       ModemConfig       `toml:"modem"`
	Internet    InternetConfig    `toml:"internet"`
	Watchdog    WatchdogConfig    `toml:"watchdog"`
	Relay       RelayConfig       `toml:"relay"`
	Diagnostics DiagnosticsConfig `toml:"diagnostics"`
	Logging     LoggingConfig     `toml:"logging"`
}

type ModemConfig struct {
	LanIP            string `toml:"lan_ip"`
	Interface        string `toml:"interface"`
	BootDurationSecs int    `toml:"boot_duration_secs"`
	PowerOffSecs     int    `toml:"power_off_secs"`
}

type InternetConfig struct {
	Interface string         `toml:"interface"`
	GraceSecs int            `toml:"grace_secs"`
	Targets   []TargetConfig `toml:"targets"`
}

// TargetConfig names one internet probe. Kind selects the probe and
// which of the remaining fields apply: "http" needs url, "dns" needs
// query and resolver, "icmp" needs host.
type TargetConfig struct {
	Kind     string `toml:"kind"`
	URL      string `toml:"url"`
	Query    string `toml:"query"`
	Resolver string `toml:"resolver"`
	Host     string `toml:"host"`
}

type WatchdogConfig struct {
	PollIntervalMS  int `toml:"poll_interval_ms"`
	ProbeTimeoutMS  int `toml:"probe_timeout_ms"`
	BackoffBaseSecs int `toml:"backoff_base_secs"`
	BackoffMaxSecs  int `toml:"backoff_max_secs"`
}

type RelayConfig struct {
	Driver     string `toml:"driver"`
	Pin        string `toml:"pin"`
	ActiveHigh bool   `toml:"active_high"`
}

// DiagnosticsConfig controls the route snapshot taken before each power
// cycle. Disabled by default; the snapshot delays the cycle by at most
// max_hops * timeout_ms.
type DiagnosticsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Target    string `toml:"target"`
	MaxHops   int    `toml:"max_hops"`
	TimeoutMS int    `toml:"timeout_ms"`
}

type LoggingConfig struct {
	Dir      string `toml:"dir"`
	MaxMB    int    `toml:"max_mb"`
	MaxFiles int    `toml:"max_files"`
}

// maxProbeTimeout bounds how long one tick may block on a probe.
const maxProbeTimeout = 10 * time.Second

func Load(path string) (Config, error) {
	cfg := defaults()

	if _, err := os.Stat(path); err != nil {
		return cfg, fmt.Errorf("config file not found: %w", err)
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func defaults() Config {
	return Config{
		Modem: ModemConfig{
			BootDurationSecs: 120,
			PowerOffSecs:     5,
		},
		Internet: InternetConfig{
			GraceSecs: 60,
		},
		Watchdog: WatchdogConfig{
			PollIntervalMS:  1000,
			ProbeTimeoutMS:  10000,
			BackoffBaseSecs: 30,
			BackoffMaxSecs:  600,
		},
		Relay: RelayConfig{
			Driver:     "gpio",
			Pin:        "GPIO17",
			ActiveHigh: true,
		},
		Diagnostics: DiagnosticsConfig{
			MaxHops:   12,
			TimeoutMS: 2000,
		},
		Logging: LoggingConfig{
			MaxMB:    1,
			MaxFiles: 10,
		},
	}
}

func (c *Config) validate() error {
	var errs []string

	if strings.TrimSpace(c.Modem.LanIP) == "" {
		errs = append(errs, "modem.lan_ip is required")
	}
	if c.Modem.BootDurationSecs <= 0 {
		errs = append(errs, "modem.boot_duration_secs must be > 0")
	}
	if c.Modem.PowerOffSecs <= 0 {
		errs = append(errs, "modem.power_off_secs must be > 0")
	}

	if c.Internet.GraceSecs <= 0 {
		errs = append(errs, "internet.grace_secs must be > 0")
	}
	if len(c.Internet.Targets) == 0 {
		errs = append(errs, "internet.targets must not be empty")
	}
	for i, t := range c.Internet.Targets {
		switch t.Kind {
		case "http":
			if strings.TrimSpace(t.URL) == "" {
				errs = append(errs, fmt.Sprintf("internet.targets[%d].url is required for kind http", i))
			}
		case "dns":
			if strings.TrimSpace(t.Query) == "" {
				errs = append(errs, fmt.Sprintf("internet.targets[%d].query is required for kind dns", i))
			}
			if strings.TrimSpace(t.Resolver) == "" {
				errs = append(errs, fmt.Sprintf("internet.targets[%d].resolver is required for kind dns", i))
			}
		case "icmp":
			if strings.TrimSpace(t.Host) == "" {
				errs = append(errs, fmt.Sprintf("internet.targets[%d].host is required for kind icmp", i))
			}
		default:
			errs = append(errs, fmt.Sprintf("internet.targets[%d].kind must be http, dns or icmp", i))
		}
	}

	if c.Watchdog.PollIntervalMS <= 0 {
		errs = append(errs, "watchdog.poll_interval_ms must be > 0")
	}
	if c.Watchdog.ProbeTimeoutMS <= 0 {
		errs = append(errs, "watchdog.probe_timeout_ms must be > 0")
	} else if time.Duration(c.Watchdog.ProbeTimeoutMS)*time.Millisecond > maxProbeTimeout {
		errs = append(errs, fmt.Sprintf("watchdog.probe_timeout_ms must be <= %d", maxProbeTimeout.Milliseconds()))
	}
	if c.Watchdog.BackoffBaseSecs < 0 {
		errs = append(errs, "watchdog.backoff_base_secs must be >= 0")
	}
	if c.Watchdog.BackoffMaxSecs < c.Watchdog.BackoffBaseSecs {
		errs = append(errs, "watchdog.backoff_max_secs must be >= watchdog.backoff_base_secs")
	}

	switch c.Relay.Driver {
	case "gpio":
		if strings.TrimSpace(c.Relay.Pin) == "" {
			errs = append(errs, "relay.pin is required for the gpio driver")
		}
	case "memory":
	default:
		errs = append(errs, "relay.driver must be gpio or memory")
	}

	if c.Diagnostics.Enabled {
		if strings.TrimSpace(c.Diagnostics.Target) == "" {
			errs = append(errs, "diagnostics.target is required when diagnostics are enabled")
		}
		if c.Diagnostics.MaxHops <= 0 {
			errs = append(errs, "diagnostics.max_hops must be > 0")
		}
		if c.Diagnostics.TimeoutMS <= 0 {
			errs = append(errs, "diagnostics.timeout_ms must be > 0")
		}
	}

	if strings.TrimSpace(c.Logging.Dir) == "" {
		errs = append(errs, "logging.dir is required")
	}
	if c.Logging.MaxMB <= 0 {
		errs = append(errs, "logging.max_mb must be > 0")
	}
	if c.Logging.MaxFiles <= 0 {
		errs = append(errs, "logging.max_files must be > 0")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// Durations exposed as time.Duration for the rest of the program.

func (c *Config) BootDuration() time.Duration {
	return time.Duration(c.Modem.BootDurationSecs) * time.Second
}

func (c *Config) PowerOffDuration() time.Duration {
	return time.Duration(c.Modem.PowerOffSecs) * time.Second
}

func (c *Config) GraceWindow() time.Duration {
	return time.Duration(c.Internet.GraceSecs) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Watchdog.PollIntervalMS) * time.Millisecond
}

func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Watchdog.ProbeTimeoutMS) * time.Millisecond
}

func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.Watchdog.BackoffBaseSecs) * time.Second
}

func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.Watchdog.BackoffMaxSecs) * time.Second
}
