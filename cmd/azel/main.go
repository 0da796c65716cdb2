package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/cjeanneret/AzEl/internal/config"
	"github.com/cjeanneret/AzEl/internal/debug"
	"github.com/cjeanneret/AzEl/internal/estop"
	"github.com/cjeanneret/AzEl/internal/ledger"
	"github.com/cjeanneret/AzEl/internal/logic/geometry"
	"github.com/cjeanneret/AzEl/internal/logic/motion"
	"github.com/cjeanneret/AzEl/internal/logic/sweep"
	"github.com/cjeanneret/AzEl/internal/protocol"
	"github.com/cjeanneret/AzEl/internal/statuslog"
	"github.com/cjeanneret/AzEl/internal/transport"
	"github.com/cjeanneret/AzEl/internal/web"
)

// Process exit codes.
const (
	exitOK      = 0
	exitAborted = 3
)

// cliOverrides holds the flags that replace config values. Only flags set
// on the command line are applied.
type cliOverrides struct {
	set          map[string]bool
	delayUs      int
	azimuthDeg   float64
	elevationDeg float64
	report       int
	maxSize      string
	device       string
	logDir       string
}

func main() {
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "serve the live status page on port; -web= for default 8080")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	var o cliOverrides
	flag.IntVar(&o.delayUs, "t", 0, "pulse half-period in microseconds")
	flag.Float64Var(&o.azimuthDeg, "a", 0, "azimuth move in degrees")
	flag.Float64Var(&o.elevationDeg, "e", 0, "elevation move in degrees")
	flag.IntVar(&o.report, "r", 0, "status report interval in pulses")
	flag.StringVar(&o.maxSize, "m", "", "rotate the position log at this size (e.g. 10MB, 0 = never)")
	flag.StringVar(&o.device, "s", "", "serial device")
	flag.StringVar(&o.logDir, "log-dir", "", "directory of the position log")
	both := flag.Bool("both", false, "move both axes with a single combined command")
	stopOnly := flag.Bool("c", false, "send an emergency stop and exit")
	observe := flag.Bool("o", false, "run the observation sweep until stopped")
	flag.Parse()

	o.set = make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { o.set[f.Name] = true })

	cfg, err := loadConfig(*cfgPath, o.set["config"])
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if err := applyOverrides(cfg, o); err != nil {
		log.Fatalf("invalid flag: %v", err)
	}

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Serial device", cfg.Serial.Device)
	debug.PrintStruct("Moves", cfg.Moves)

	if *stopOnly {
		if err := sendStop(cfg); err != nil {
			log.Fatalf("send stop: %v", err)
		}
		return
	}

	var broadcaster *web.StatusBroadcaster
	if webPort.port() > 0 {
		broadcaster = web.NewStatusBroadcaster()
	}
	app, err := setup(cfg, broadcaster)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer app.close()

	ctx := context.Background()
	if app.guard == nil {
		var cancel context.CancelFunc
		ctx, cancel = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer cancel()
	}
	app.startMonitor(ctx, broadcaster != nil)

	var code int
	switch {
	case webPort.port() > 0:
		err = app.serveWeb(ctx, fmt.Sprintf(":%d", webPort.port()), broadcaster)
	case *observe:
		code, err = app.observe(ctx)
	default:
		code, err = app.moves(ctx, cfg.Moves.AzimuthDeg, cfg.Moves.ElevationDeg, *both)
	}
	if err != nil {
		app.close()
		log.Fatalf("%v", err)
	}
	app.close()
	os.Exit(code)
}

// loadConfig reads path. The default path may be absent, in which case the
// built-in defaults apply.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	if _, err := os.Stat(path); !explicit && errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return config.Load(path)
}

// applyOverrides validates the CLI values and copies them into cfg.
func applyOverrides(cfg *config.Config, o cliOverrides) error {
	for name, v := range map[string]float64{"a": o.azimuthDeg, "e": o.elevationDeg} {
		if o.set[name] && (math.IsNaN(v) || math.IsInf(v, 0)) {
			return fmt.Errorf("-%s must be a finite number of degrees", name)
		}
	}
	if o.set["t"] {
		if o.delayUs < 0 {
			return fmt.Errorf("-t must be >= 0, got %d", o.delayUs)
		}
		cfg.Moves.DelayUs = o.delayUs
	}
	if o.set["r"] {
		if o.report <= 0 {
			return fmt.Errorf("-r must be > 0, got %d", o.report)
		}
		cfg.Moves.Report = o.report
	}
	if o.set["a"] {
		cfg.Moves.AzimuthDeg = o.azimuthDeg
	}
	if o.set["e"] {
		cfg.Moves.ElevationDeg = o.elevationDeg
	}
	if o.set["m"] {
		if _, err := config.ParseSize(o.maxSize); err != nil {
			return fmt.Errorf("-m: %w", err)
		}
		cfg.Log.MaxSize = o.maxSize
	}
	if o.set["s"] && o.device != "" {
		cfg.Serial.Device = o.device
	}
	if o.set["log-dir"] && o.logDir != "" {
		cfg.Log.Dir = o.logDir
	}
	return nil
}

// sendStop opens the link only to send the abort line.
func sendStop(cfg *config.Config) error {
	port, err := transport.Open(transport.ConfigFrom(cfg))
	if err != nil {
		return err
	}
	defer port.Close()
	if err := transport.New(port).Writer.WriteLine(protocol.AbortLine); err != nil {
		return err
	}
	fmt.Println("Emergency stop sent")
	return nil
}

// app holds the host-side objects of one run.
type app struct {
	cfg    *config.Config
	tr     *transport.Transport
	raw    *transport.RawPort
	guard  *estop.Guard
	stdin  *estop.StdinInput
	flag   *estop.Flag
	conv   geometry.Converter
	ledger *ledger.Ledger
	log    *statuslog.Logger
	ctrl   *motion.Controller
	closed bool
}

// setup opens the link, recovers the position and builds the controller.
// A non-nil broadcaster receives live progress.
func setup(cfg *config.Config, broadcaster *web.StatusBroadcaster) (*app, error) {
	a := &app{cfg: cfg, flag: &estop.Flag{}, conv: geometry.NewConverter(cfg)}

	debug.Step(1, "Opening serial link")
	port, err := transport.Open(transport.ConfigFrom(cfg))
	if err != nil {
		return nil, err
	}
	a.tr = transport.New(port)

	debug.Step(2, "Arming signal stop")
	if raw, err := transport.OpenRaw(cfg.Serial.Device); err != nil {
		debug.Error(fmt.Errorf("signal stop disabled: %w", err))
	} else {
		a.raw = raw
		a.guard = estop.NewGuard(raw)
		a.guard.Start()
	}

	debug.Step(3, "Recovering position")
	naming := ledger.NamingFrom(cfg)
	st, err := ledger.Recover(naming)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("recover position: %w", err)
	}
	a.ledger = ledger.New(st)

	threshold, err := cfg.MaxLogSize()
	if err != nil {
		a.close()
		return nil, err
	}
	a.log, err = statuslog.Open(naming, st.Index, threshold)
	if err != nil {
		a.close()
		return nil, err
	}

	var obs motion.Observer
	if broadcaster != nil {
		obs = broadcaster
	}
	a.ctrl = motion.NewController(a.controllerOptions(obs))
	return a, nil
}

func (a *app) controllerOptions(obs motion.Observer) motion.Options {
	return motion.Options{
		Writer:      a.tr.Writer,
		Reader:      a.tr.Reader,
		Converter:   a.conv,
		Ledger:      a.ledger,
		Log:         a.log,
		Flag:        a.flag,
		Observer:    obs,
		DelayUs:     uint32(a.cfg.Moves.DelayUs),
		Report:      uint32(a.cfg.Moves.Report),
		ZeroDegrees: a.cfg.Moves.ZeroDegrees,
	}
}

// startMonitor arms the keyboard stop. With persistent set it survives
// stops, for the web mode where moves keep coming.
func (a *app) startMonitor(ctx context.Context, persistent bool) {
	in, err := estop.NewStdinInput()
	if err != nil {
		debug.Error(fmt.Errorf("keyboard stop disabled: %w", err))
		return
	}
	a.stdin = in
	if a.guard != nil {
		a.guard.AtExit(func() { in.Close() })
	}
	opts := []estop.MonitorOption{estop.WithStopper(a.ctrl)}
	if persistent {
		opts = append(opts, estop.Persistent())
	}
	m := estop.NewMonitor(a.flag, in, a.tr.Writer, a.cfg.StopPollInterval(), opts...)
	go func() {
		if err := m.Run(ctx); err != nil {
			debug.Error(fmt.Errorf("keyboard stop: %w", err))
		}
	}()
	fmt.Fprintln(os.Stderr, "Press any key to stop")
}

// moves runs the individual azimuth/elevation moves of a CLI invocation.
func (a *app) moves(ctx context.Context, azDeg, elDeg float64, combined bool) (int, error) {
	debug.Section("Moves")
	var results []motion.Result
	if combined {
		res, err := a.ctrl.MoveCombined(ctx, azDeg, elDeg)
		if err != nil {
			return 0, err
		}
		results = append(results, res)
	} else {
		for _, m := range []struct {
			axis protocol.AxisID
			deg  float64
		}{{protocol.Azimuth, azDeg}, {protocol.Elevation, elDeg}} {
			res, err := a.ctrl.Move(ctx, m.axis, m.deg)
			if err != nil {
				return 0, err
			}
			results = append(results, res)
			if res.Aborted {
				break
			}
		}
	}
	return a.report(results), nil
}

func (a *app) observe(ctx context.Context) (int, error) {
	n, err := sweep.NewSequence(a.ctrl, a.flag).Run(ctx, sweep.ParamsFrom(a.cfg))
	if err != nil {
		return 0, err
	}
	debug.Info("Observation stopped after %d moves", n)
	return a.report(nil), nil
}

// report prints the outcome and returns the exit code.
func (a *app) report(results []motion.Result) int {
	for _, r := range results {
		if r.LogErr != nil {
			fmt.Fprintf(os.Stderr, "warning: position log: %v\n", r.LogErr)
			break
		}
	}
	pos := a.ledger.Position()
	code := exitOK
	if a.flag.Requested() {
		debug.Summary("Emergency stop")
		code = exitAborted
	} else {
		debug.Summary("Moves complete")
	}
	fmt.Printf("Position: az=%d (%.2f°) el=%d (%.2f°)\n", pos.Az, a.conv.Degrees(pos.Az), pos.El, a.conv.Degrees(pos.El))
	if code == exitAborted {
		fmt.Println("Emergency stop: move aborted")
	}
	return code
}

func (a *app) serveWeb(ctx context.Context, addr string, broadcaster *web.StatusBroadcaster) error {
	debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

	srv := web.NewServer(addr, web.Deps{
		Broadcaster: broadcaster,
		Move: func(ctx context.Context, req web.MoveRequest) error {
			a.flag.Reset()
			_, err := a.moves(ctx, req.AzimuthDeg, req.ElevationDeg, req.Combined)
			return err
		},
		Stop: func() (bool, error) {
			return a.ctrl.Stop("web")
		},
		Position: func() web.PositionView {
			pos := a.ledger.Position()
			return web.PositionView{
				Steps:        pos,
				AzimuthDeg:   a.conv.Degrees(pos.Az),
				ElevationDeg: a.conv.Degrees(pos.El),
				LogIndex:     a.log.Index(),
				Stop:         a.flag.State().String(),
			}
		},
		Form: web.FormConfig{
			AzimuthDeg:   a.cfg.Moves.AzimuthDeg,
			ElevationDeg: a.cfg.Moves.ElevationDeg,
			DelayUs:      a.cfg.Moves.DelayUs,
			Report:       a.cfg.Moves.Report,
			ZeroDegrees:  a.cfg.Moves.ZeroDegrees,
		},
	})
	return srv.Run(ctx)
}

func (a *app) close() {
	if a.closed {
		return
	}
	a.closed = true
	if a.stdin != nil {
		a.stdin.Close()
	}
	if a.guard != nil {
		a.guard.Stop()
	}
	if a.log != nil {
		a.log.Close()
	}
	if a.raw != nil {
		a.raw.Close()
	}
	if a.tr != nil {
		a.tr.Close()
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= → default, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
