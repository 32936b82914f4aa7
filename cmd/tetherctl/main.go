package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tetherctl/internal/addrutil"
	"tetherctl/internal/agent"
	"tetherctl/internal/api"
	"tetherctl/internal/config"
	"tetherctl/internal/counters"
	"tetherctl/internal/discovery"
	"tetherctl/internal/events"
	"tetherctl/internal/fetch"
	"tetherctl/internal/logging"
	"tetherctl/internal/metrics"
	"tetherctl/internal/model"
	"tetherctl/internal/modem"
	"tetherctl/internal/netcheck"
	"tetherctl/internal/pairing"
	"tetherctl/internal/responder"
	"tetherctl/internal/server"
	"tetherctl/internal/session"
	"tetherctl/internal/store"
	"tetherctl/internal/telemetry"
)

const usage = `tetherctl - tethered phone signal and data-usage tracker

Usage:
  tetherctl phone serve --config <path> [--listen :0] [--name <name>]
  tetherctl desktop run --config <path>
  tetherctl discover --config <path>
  tetherctl fetch --config <path> [--addr host:port]
  tetherctl status --config <path> [--api host:port]
  tetherctl sessions --config <path> [--window 30d]
  tetherctl export csv --config <path> --out <file>
  tetherctl phones --config <path>
  tetherctl doctor --config <path> [--iface <name>]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd := os.Args[1]
	switch cmd {
	case "-h", "--help", "help":
		fmt.Print(usage)
	case "phone":
		handlePhone(os.Args[2:])
	case "desktop":
		handleDesktop(os.Args[2:])
	case "discover":
		handleDiscover(os.Args[2:])
	case "fetch":
		handleFetch(os.Args[2:])
	case "status":
		handleStatus(os.Args[2:])
	case "sessions":
		handleSessions(os.Args[2:])
	case "export":
		handleExport(os.Args[2:])
	case "phones":
		handlePhones(os.Args[2:])
	case "doctor":
		handleDoctor(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func handlePhone(args []string) {
	if len(args) == 0 || args[0] != "serve" {
		fmt.Fprint(os.Stderr, "phone subcommand required: serve\n")
		os.Exit(2)
	}

	fs := flag.NewFlagSet("phone serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	listen := fs.String("listen", "", "listen address")
	name := fs.String("name", "", "advertised phone name")
	_ = fs.Parse(args[1:])

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	if cfg.Phone == nil {
		cfg.Phone = &config.PhoneConfig{}
	}
	if *listen != "" {
		cfg.Phone.Listen = *listen
	}
	if *name != "" {
		cfg.Phone.Name = *name
	}
	config.ApplyDefaults(&cfg)
	if err := config.Validate(cfg); err != nil {
		fatal(err)
	}
	log := mustLogger(cfg)
	defer func() { _ = log.Sync() }()

	fatal(phoneServe(*cfg.Phone, log))
}

// phoneServe returns only after the advertisement is withdrawn and the
// listener is closed, so callers may exit on its error.
func phoneServe(p config.PhoneConfig, log *zap.Logger) error {
	log = logging.OrNop(log)
	src, err := signalSource(p)
	if err != nil {
		return err
	}

	resp, err := responder.Listen(p.Listen, src, log)
	if err != nil {
		return err
	}
	defer resp.Close()

	if p.AdvertiseEnabled() {
		adv, err := discovery.Advertise(p.Name, resp.Port(), p.Interfaces)
		if err != nil {
			return err
		}
		defer adv.Shutdown()
		log.Info("advertising", zap.String("name", p.Name), zap.String("service", discovery.ServiceType), zap.Int("port", resp.Port()))
	}

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Fprintf(os.Stdout, "serving signal readings on %s\n", resp.Addr())
	return resp.Serve(ctx)
}

func signalSource(p config.PhoneConfig) (responder.Source, error) {
	switch p.Source {
	case config.SourceModem:
		return modem.NewSource(p.Modem.MMCLIPath, p.Modem.Index, time.Duration(p.Modem.TimeoutMs)*time.Millisecond), nil
	case config.SourceStatic:
		typ, ok := model.ParseSignalType(p.Static.Type)
		if !ok {
			return nil, fmt.Errorf("phone.static.type %q is not a known signal type", p.Static.Type)
		}
		reading := model.SignalReading{Quality: model.SignalQuality(p.Static.Quality), Type: typ}
		if !reading.Valid() {
			return nil, fmt.Errorf("phone.static.quality %d out of range", p.Static.Quality)
		}
		return responder.StaticSource(reading), nil
	default:
		return nil, fmt.Errorf("unknown phone.source %q", p.Source)
	}
}

func handleDesktop(args []string) {
	if len(args) == 0 || args[0] != "run" {
		fmt.Fprint(os.Stderr, "desktop subcommand required: run\n")
		os.Exit(2)
	}

	fs := flag.NewFlagSet("desktop run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	_ = fs.Parse(args[1:])

	cfg := loadDesktop(*configPath)
	d := cfg.Desktop
	log := mustLogger(cfg)
	defer func() { _ = log.Sync() }()

	sampler, err := counters.NewProcSampler(d.ProcRoot)
	if err != nil {
		fatal(err)
	}
	history := metrics.NewHistory(d.HistoryPath)
	phones, err := store.OpenPhones(d.RegistryPath, nil, log)
	if err != nil {
		fatal(err)
	}
	tel := telemetry.New()

	sinks := session.MultiSink{history, phones, tel}
	observers := []agent.Observer{agent.NewLogObserver(log), phones, tel}

	if d.NATS.URL != "" {
		nc, err := events.Connect(d.NATS.URL, log)
		if err != nil {
			fatal(err)
		}
		defer func() { _ = nc.Drain() }()
		pub := events.NewPublisher(nc, d.NATS.SubjectPrefix, nil, log)
		sinks = append(sinks, pub)
		observers = append(observers, pub)
	}

	ctx, cancel := signalContext()
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if addr := d.APIAddr(); addr != "" {
		srv := server.New(server.Options{History: history, Metrics: tel.Handler(), Log: log})
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			fatal(fmt.Errorf("status api: %w", err))
		}
		observers = append(observers, srv)
		g.Go(func() error { return srv.Serve(gctx, ln) })
	}

	var notifier *session.Notifier
	if n := d.NotifyAfterBytes(); n > 0 {
		notifier = session.NewNotifier(n)
	}

	machine := pairing.New(discovery.New(d.DiscoveryTimeout(), log), fetch.New(d.FetchTimeout(), log), log)
	a := &agent.Agent{
		Poller:    machine,
		Tracker:   session.NewTracker(sampler, sinks, session.WithLogger(log)),
		Observers: observers,
		Notifier:  notifier,
		Delay:     d.RefreshDelay(),
		Log:       log,
	}
	g.Go(func() error {
		err := a.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	fatal(g.Wait())
}

func handleDiscover(args []string) {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	_ = fs.Parse(args)

	cfg := loadDesktop(*configPath)
	log := mustLogger(cfg)

	ctx, cancel := signalContext()
	defer cancel()

	ep, err := discovery.New(cfg.Desktop.DiscoveryTimeout(), log).Discover(ctx)
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "name=%s addr=%s\n", ep.DisplayName, ep.Addr())
}

func handleFetch(args []string) {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	addr := fs.String("addr", "", "phone host:port (skips discovery)")
	_ = fs.Parse(args)

	cfg := loadDesktop(*configPath)
	log := mustLogger(cfg)

	ctx, cancel := signalContext()
	defer cancel()

	var ep model.DiscoveredEndpoint
	var err error
	if *addr != "" {
		ep, err = addrutil.ParseEndpoint(*addr)
	} else {
		ep, err = discovery.New(cfg.Desktop.DiscoveryTimeout(), log).Discover(ctx)
	}
	if err != nil {
		fatal(err)
	}

	res, err := fetch.New(cfg.Desktop.FetchTimeout(), log).Fetch(ctx, ep)
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "phone=%s quality=%d (%s) type=%s interface=%s\n",
		ep.DisplayName, int(res.Reading.Quality), res.Reading.Quality, res.Reading.Type, res.InterfaceName)
}

func handleStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	apiAddr := fs.String("api", "", "status API host:port")
	_ = fs.Parse(args)

	addr := *apiAddr
	if addr == "" {
		addr = loadDesktop(*configPath).Desktop.APIAddr()
	}
	if addr == "" {
		fatal(errors.New("status api disabled; pass --api"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := api.NewClient(addr).Status(ctx)
	if err != nil {
		fatal(err)
	}

	if !st.Paired {
		fmt.Fprintln(os.Stdout, "status=unpaired")
	} else {
		fmt.Fprintf(os.Stdout, "status=paired phone=%s interface=%s\n", st.PhoneName, st.InterfaceName)
	}
	if st.Signal != nil {
		fmt.Fprintf(os.Stdout, "signal=%s (%d) type=%s\n", st.Signal.QualityName, st.Signal.Quality, st.Signal.Type)
	}
	if st.Session != nil {
		fmt.Fprintf(os.Stdout, "session=%s started=%s transferred=%s\n",
			st.Session.ID, st.Session.StartedAt.Format(time.RFC3339), agent.FormatBytes(st.Session.BytesTransferred))
	}
	if st.LastError != "" {
		fmt.Fprintf(os.Stdout, "last_error=%s reason=%s\n", st.LastError, st.LastReason)
	}
	if !st.LastTickAt.IsZero() {
		fmt.Fprintf(os.Stdout, "last_tick=%s\n", st.LastTickAt.Format(time.RFC3339))
	}
}

func handleSessions(args []string) {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	windowStr := fs.String("window", "30d", "time window, e.g. 24h or 7d")
	path := fs.String("path", "", "session history CSV override")
	_ = fs.Parse(args)

	window, err := server.ParseWindow(*windowStr)
	if err != nil {
		fatal(err)
	}
	items, err := metrics.NewHistory(historyPath(*configPath, *path)).Sessions()
	if err != nil {
		fatal(err)
	}

	since := time.Now().Add(-window)
	summary := metrics.Summarize(items, since)
	if summary.Count == 0 {
		fmt.Fprintln(os.Stdout, "no sessions in window")
		return
	}

	fmt.Fprintf(os.Stdout, "%-36s  %-16s  %-8s  %-20s  %-10s  %s\n", "ID", "PHONE", "IFACE", "STARTED", "DURATION", "TRANSFERRED")
	for _, s := range items {
		if s.StartedAt.Before(since) {
			continue
		}
		fmt.Fprintf(os.Stdout, "%-36s  %-16s  %-8s  %-20s  %-10s  %s\n",
			s.ID, s.PhoneName, s.InterfaceName, s.StartedAt.Local().Format("2006-01-02 15:04:05"),
			s.Duration().Round(time.Second), agent.FormatBytes(s.BytesTransferred))
	}

	fmt.Fprintln(os.Stdout)
	for _, day := range summary.Days {
		fmt.Fprintf(os.Stdout, "%s  sessions=%d  transferred=%s\n", day.Day.Format("2006-01-02"), day.Sessions, agent.FormatBytes(day.Bytes))
	}
	fmt.Fprintf(os.Stdout, "sessions=%d total=%s avg=%s p95=%s max=%s time=%s\n",
		summary.Count, agent.FormatBytes(summary.TotalBytes), agent.FormatBytes(uint64(summary.AvgSessionBytes)),
		agent.FormatBytes(summary.P95SessionBytes), agent.FormatBytes(summary.MaxSessionBytes), summary.TotalDuration.Round(time.Second))
}

func handleExport(args []string) {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, "export subcommand required\n")
		os.Exit(2)
	}
	if args[0] != "csv" {
		fmt.Fprintf(os.Stderr, "unknown export format %q\n", args[0])
		os.Exit(2)
	}

	fs := flag.NewFlagSet("export csv", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	out := fs.String("out", "", "output file")
	path := fs.String("path", "", "session history CSV override")
	_ = fs.Parse(args[1:])

	if *out == "" {
		fatal(errors.New("--out is required"))
	}

	items, err := metrics.NewHistory(historyPath(*configPath, *path)).Sessions()
	if err != nil {
		fatal(err)
	}

	file, err := os.OpenFile(*out, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		fatal(err)
	}
	if err := metrics.WriteCSV(file, items); err != nil {
		file.Close()
		fatal(err)
	}
	if err := file.Close(); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "exported %d sessions to %s\n", len(items), *out)
}

func handlePhones(args []string) {
	fs := flag.NewFlagSet("phones", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	_ = fs.Parse(args)

	cfg := loadDesktop(*configPath)
	reg, err := store.LoadRegistry(cfg.Desktop.RegistryPath)
	if err != nil {
		fatal(err)
	}
	if len(reg.Phones) == 0 {
		fmt.Fprintln(os.Stdout, "no known phones")
		return
	}

	phones := append([]store.PhoneInfo(nil), reg.Phones...)
	sort.Slice(phones, func(i, j int) bool { return phones[i].LastSeenAt.After(phones[j].LastSeenAt) })

	fmt.Fprintf(os.Stdout, "%-20s  %-20s  %-20s  %-8s  %s\n", "NAME", "FIRST_SEEN", "LAST_SEEN", "SESSIONS", "TRANSFERRED")
	for _, p := range phones {
		fmt.Fprintf(os.Stdout, "%-20s  %-20s  %-20s  %-8d  %s\n",
			p.Name, formatTime(p.FirstSeenAt), formatTime(p.LastSeenAt), p.Sessions, agent.FormatBytes(p.TotalBytes))
	}
}

func handleDoctor(args []string) {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	iface := fs.String("iface", "", "tether interface (default: the one the phone is reached through)")
	_ = fs.Parse(args)

	cfg := loadDesktop(*configPath)
	d := cfg.Desktop
	log := mustLogger(cfg)

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Fprintf(os.Stdout, "history=%s\nregistry=%s\nproc_root=%s\n", d.HistoryPath, d.RegistryPath, d.ProcRoot)

	sampler, err := counters.NewProcSampler(d.ProcRoot)
	if err != nil {
		fmt.Fprintf(os.Stdout, "counters error: %v\n", err)
	}

	machine := pairing.New(discovery.New(d.DiscoveryTimeout(), log), fetch.New(d.FetchTimeout(), log), log)
	res := machine.Poll(ctx)
	if name, ok := res.Status.PhoneName(); ok {
		fmt.Fprintf(os.Stdout, "phone=%s interface=%s\n", name, res.InterfaceName)
		if res.Reading != nil {
			fmt.Fprintf(os.Stdout, "signal=%s type=%s\n", res.Reading.Quality, res.Reading.Type)
		}
	} else {
		fmt.Fprintf(os.Stdout, "phone not reachable: %v (reason=%s)\n", res.Err, pairing.ReasonOf(res.Err))
	}

	if *iface == "" {
		*iface = res.InterfaceName
	}
	if *iface == "" {
		fmt.Fprintln(os.Stdout, "no tether interface; skipping counter and egress checks")
		return
	}

	if sampler != nil {
		if c, err := sampler.Sample(*iface); err == nil {
			fmt.Fprintf(os.Stdout, "counters iface=%s rx=%d tx=%d\n", *iface, c.InputBytes, c.OutputBytes)
		} else {
			fmt.Fprintf(os.Stdout, "counters iface=%s error: %v\n", *iface, err)
		}
	}

	ip, err := addrutil.InterfaceIP(*iface)
	if err != nil {
		fmt.Fprintf(os.Stdout, "egress check skipped: %v\n", err)
		return
	}
	rep, err := netcheck.PublicAddr(ctx, d.STUNServers, ip, 3*time.Second)
	for server, ferr := range rep.Failures {
		fmt.Fprintf(os.Stdout, "stun %s error: %v\n", server, ferr)
	}
	if err != nil {
		fmt.Fprintf(os.Stdout, "egress via %s (%s) failed: %v\n", *iface, ip, err)
		return
	}
	fmt.Fprintf(os.Stdout, "egress via %s (%s) ok public_addr=%s nat=%s\n", *iface, ip, rep.PublicAddr, rep.NATType)
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Config{}, nil
	}
	return config.Load(path)
}

// loadDesktop loads path and returns a validated config with a desktop
// section, exiting on error.
func loadDesktop(path string) config.Config {
	cfg, err := loadConfig(path)
	if err != nil {
		fatal(err)
	}
	if cfg.Desktop == nil {
		cfg.Desktop = &config.DesktopConfig{}
	}
	config.ApplyDefaults(&cfg)
	if err := config.Validate(cfg); err != nil {
		fatal(err)
	}
	return cfg
}

func historyPath(configPath, override string) string {
	if override != "" {
		return override
	}
	return loadDesktop(configPath).Desktop.HistoryPath
}

func mustLogger(cfg config.Config) *zap.Logger {
	log, err := logging.New(cfg.Log)
	if err != nil {
		fatal(err)
	}
	return log
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func fatal(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
