package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/kulshan/gatewatch/internal/config"
	"github.com/kulshan/gatewatch/internal/diag"
	"github.com/kulshan/gatewatch/internal/logging"
	"github.com/kulshan/gatewatch/internal/probe"
	"github.com/kulshan/gatewatch/internal/relay"
	"github.com/kulshan/gatewatch/internal/watchdog"
)

var version = "dev"

var opt struct {
	Config  string `short:"c" long:"config" default:"/etc/gatewatch/config.toml" description:"path to config file"`
	Version bool   `long:"version" description:"print version and exit"`
}

func main() {
	if _, err := flags.ParseArgs(&opt, os.Args[1:]); err != nil {
		if flags.WroteHelp(err) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if opt.Version {
		fmt.Println(version)
		return
	}

	if err := run(opt.Config); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	driver, err := newRelay(cfg)
	if err != nil {
		return err
	}
	// Whatever happens, exit with the modem powered.
	defer driver.Close()

	modemProbe, internetProbes, err := buildProbes(cfg)
	if err != nil {
		return err
	}

	machine, err := watchdog.New(watchdog.Options{
		ModemAddr:      cfg.Modem.LanIP,
		ModemProbe:     modemProbe,
		InternetProbes: internetProbes,
		Relay:          driver,
		Sink:           logger,
		PollInterval:   cfg.PollInterval(),
		PowerOff:       cfg.PowerOffDuration(),
		BootDuration:   cfg.BootDuration(),
		GraceWindow:    cfg.GraceWindow(),
		BackoffBase:    cfg.BackoffBase(),
		BackoffMax:     cfg.BackoffMax(),
		Diagnose:       newDiagnostic(cfg),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		cancel()
	}()

	return machine.Run(ctx)
}

func newLogger(cfg config.Config) (*logging.Logger, error) {
	hostID, err := os.Hostname()
	if err != nil || hostID == "" {
		hostID = "unknown"
	}
	return logging.New(logging.Config{
		Dir:         cfg.Logging.Dir,
		MaxMB:       cfg.Logging.MaxMB,
		MaxFiles:    cfg.Logging.MaxFiles,
		ToolName:    "gatewatch",
		ToolVersion: version,
		HostID:      hostID,
	})
}

func newDiagnostic(cfg config.Config) func(context.Context) logging.Emittable {
	if !cfg.Diagnostics.Enabled {
		return nil
	}

	trCfg := diag.Config{
		MaxHops: cfg.Diagnostics.MaxHops,
		Timeout: time.Duration(cfg.Diagnostics.TimeoutMS) * time.Millisecond,
	}
	target := cfg.Diagnostics.Target
	runTimeout := time.Duration(trCfg.MaxHops)*trCfg.Timeout + 2*time.Second

	return func(ctx context.Context) logging.Emittable {
		trCtx, cancel := context.WithTimeout(ctx, runTimeout)
		defer cancel()

		res := diag.Trace(trCtx, target, trCfg)
		hops := make([]logging.RouteHop, 0, len(res.Hops))
		for _, h := range res.Hops {
			hops = append(hops, logging.RouteHop{TTL: h.TTL, IP: h.IP, RttMs: h.RttMs})
		}

		return &logging.RouteSnapshot{
			BaseEvent: logging.BaseEvent{Type: "route_snapshot", Level: "info"},
			Target:    res.Target,
			Hops:      hops,
			PathHash:  res.PathHash,
			Err:       res.Err,
		}
	}
}

func newRelay(cfg config.Config) (relay.Driver, error) {
	switch cfg.Relay.Driver {
	case "gpio":
		return relay.NewGPIO(cfg.Relay.Pin, cfg.Relay.ActiveHigh)
	case "memory":
		return relay.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown relay driver %q", cfg.Relay.Driver)
	}
}

func buildProbes(cfg config.Config) (probe.Func, []probe.Func, error) {
	// The modem check is always ICMP; fail fast if raw sockets are
	// unavailable instead of probing into the void.
	if err := probe.CheckICMPSupport(); err != nil {
		return nil, nil, err
	}

	timeout := cfg.ProbeTimeout()

	pinger, err := probe.NewPinger(cfg.Modem.LanIP, cfg.Modem.Interface, timeout)
	if err != nil {
		return nil, nil, err
	}

	var internet []probe.Func
	for _, t := range cfg.Internet.Targets {
		f, err := buildInternetProbe(t, cfg.Internet.Interface, timeout)
		if err != nil {
			return nil, nil, err
		}
		internet = append(internet, f)
	}

	return pinger.Probe, internet, nil
}

func buildInternetProbe(t config.TargetConfig, iface string, timeout time.Duration) (probe.Func, error) {
	switch t.Kind {
	case "http":
		check, err := probe.NewHTTPCheck(t.URL, iface, timeout)
		if err != nil {
			return nil, err
		}
		return check.Probe, nil
	case "dns":
		return probe.NewDNSCheck(t.Query, t.Resolver, timeout).Probe, nil
	case "icmp":
		p, err := probe.NewPinger(t.Host, iface, timeout)
		if err != nil {
			return nil, err
		}
		return p.Probe, nil
	default:
		return nil, fmt.Errorf("unknown probe kind %q", t.Kind)
	}
}
