package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/pkg/errors"
	terminate "github.com/pulcy/go-terminate"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/usnistgov/multiadc"
	"github.com/usnistgov/multiadc/asyncbufio"
	"github.com/usnistgov/multiadc/converter"
	"github.com/usnistgov/multiadc/heartbeat"
	"github.com/usnistgov/multiadc/internal/server"
	"github.com/usnistgov/multiadc/internal/sessiondb"
	"github.com/usnistgov/multiadc/report"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"
)

var githash = "githash not computed"
var buildDate = "build date not computed"

var maskAny = errors.WithStack

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	// Replace 1 instance of "$HOME" in the path with the actual home directory.
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}

	// Create directory <path>, if needed
	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		err2 := os.MkdirAll(dir, 0775)
		if err2 != nil {
			return "", err2
		}
	}

	// Create an empty file path/filename, if it doesn't exist.
	fullname := path.Join(dir, filename)
	_, err := os.Stat(fullname)
	if os.IsNotExist(err) {
		f, err2 := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err2 != nil {
			return "", err2
		}
		f.Close()
	}
	return fullname, nil
}

// setupViper sets up the viper configuration manager: says where to find config
// files and the filename and suffix. An explicit configFile wins.
func setupViper(configFile string) error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %s", err)
		}
		return nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	dotMultiadc := filepath.Join(home, ".multiadc")
	const filename string = "config"
	const suffix string = ".yaml"
	if _, err := makeFileExist(dotMultiadc, filename+suffix); err != nil {
		return err
	}

	viper.SetConfigName(filename)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(filepath.FromSlash("/etc/multiadc"))
	viper.AddConfigPath(dotMultiadc)
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %s", err)
	}
	return nil
}

// rotating returns a size-limited log file writer.
func rotating(filename string) io.Writer {
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    10,   // megabytes after which new file is created
		MaxBackups: 4,    // number of backups
		MaxAge:     180,  // days
		Compress:   true, // whether to gzip the backups
	}
}

// startLoggers points the package loggers at 2 rotating log files; updates
// are also shown on the console.
func startLoggers(level zerolog.Level) (problems, updates string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", err
	}
	logdir := filepath.Join(home, ".multiadc", "logs")
	if problems, err = makeFileExist(logdir, "problems.log"); err != nil {
		return "", "", err
	}
	if updates, err = makeFileExist(logdir, "updates.log"); err != nil {
		return "", "", err
	}
	console := zerolog.ConsoleWriter{Out: os.Stderr}
	multiadc.ProblemLogger = zerolog.New(zerolog.MultiLevelWriter(console, rotating(problems))).
		With().Timestamp().Logger().Level(zerolog.WarnLevel)
	multiadc.UpdateLogger = zerolog.New(zerolog.MultiLevelWriter(console, rotating(updates))).
		With().Timestamp().Logger().Level(level)
	return problems, updates, nil
}

func main() {
	buildDate = strings.Replace(buildDate, ".", " ", -1) // workaround for Make problems
	multiadc.Build.Date = buildDate
	multiadc.Build.Githash = githash

	var (
		levelFlag  string
		configFile string
		cpuprofile string
		memprofile string
	)
	printVersion := pflag.Bool("version", false, "print version and quit")
	dumpConfig := pflag.Bool("dump-config", false, "print the effective configuration as YAML and quit")
	listPorts := pflag.Bool("list-ports", false, "list serial ports and quit")
	pflag.StringVarP(&levelFlag, "level", "l", "info", "Set log level")
	pflag.StringVarP(&configFile, "config", "c", "", "read configuration from this file")
	pflag.StringVar(&cpuprofile, "cpuprofile", "", "write CPU profile to given file")
	pflag.StringVar(&memprofile, "memprofile", "", "write memory profile to given file")
	pflag.Bool("verbose", false, "log every state change")
	pflag.Parse()

	if *printVersion {
		fmt.Printf("This is multiadc version %s\n", multiadc.Build.Version)
		fmt.Printf("Git commit hash: %s\n", githash)
		fmt.Printf("Build time: %s\n", buildDate)
		fmt.Printf("Built on go version %s\n", runtime.Version())
		fmt.Printf("Running on %d CPUs.\n", runtime.NumCPU())
		os.Exit(0)
	}
	if *listPorts {
		ports, err := report.SerialPorts()
		if err != nil {
			Exitf("%v\n", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		os.Exit(0)
	}

	if err := setupViper(configFile); err != nil {
		Exitf("%v\n", err)
	}
	if err := viper.BindPFlag("verbose", pflag.Lookup("verbose")); err != nil {
		Exitf("%v\n", err)
	}
	cfg, err := multiadc.LoadConfig(viper.GetViper())
	if err != nil {
		Exitf("Invalid configuration: %v\n", err)
	}
	if *dumpConfig {
		if err := cfg.WriteYAML(os.Stdout); err != nil {
			Exitf("%v\n", err)
		}
		os.Exit(0)
	}

	level, err := zerolog.ParseLevel(levelFlag)
	if err != nil {
		Exitf("Unknown log level %q\n", levelFlag)
	}
	if cfg.Verbose && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}
	problemname, logname, err := startLoggers(level)
	if err != nil {
		Exitf("Cannot start logging: %v\n", err)
	}
	banner := fmt.Sprintf("This is multiadc version %s (git commit %s)", multiadc.Build.Version, githash)
	fmt.Println(banner)
	fmt.Printf("Logging problems to %s\n", problemname)
	fmt.Printf("Logging updates  to %s\n\n", logname)
	multiadc.UpdateLogger.Info().Msg(banner)

	if cpuprofile != "" {
		f, err := os.Create(cpuprofile)
		if err != nil {
			Exitf("%v\n", err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	if err := run(cfg); err != nil {
		multiadc.ProblemLogger.Error().Err(err).Msg("acquisition failed")
		Exitf("Acquisition failed: %v\n", err)
	}
	writeMemoryProfile(memprofile)
}

// run acquires until a termination signal arrives.
func run(cfg multiadc.Config) error {
	log := multiadc.UpdateLogger
	acq := cfg.Acquisition
	layout := multiadc.LayoutOf(acq.Groups)

	block, err := converter.NewSimulated(layout.Converters,
		converter.WithCycleRate(cfg.Simulation.CycleRate),
		converter.WithDisarmLatency(cfg.Simulation.DisarmLatency))
	if err != nil {
		return maskAny(err)
	}
	if err := multiadc.ConfigureAnalogInputs(block, acq.Groups); err != nil {
		return maskAny(err)
	}

	reporter, closers, err := buildReporters(cfg.Report, layout)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	db := sessiondb.Dummy()
	if cfg.Session.Enabled {
		host, _ := os.Hostname()
		session := &sessiondb.SessionMessage{
			ID:        sessiondb.NewID(),
			Hostname:  host,
			Version:   multiadc.Build.Version,
			GoVersion: runtime.Version(),
			CPUs:      runtime.NumCPU(),
			Start:     multiadc.StartTime,
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		conn, err := sessiondb.Open(ctx, sessiondb.Options(cfg.Session.Addr, cfg.Session.User, cfg.Session.Password, multiadc.Build.Version),
			session,
			multiadc.ProblemLogger)
		cancel()
		if err != nil {
			multiadc.ProblemLogger.Warn().Err(err).Msg("not recording sessions")
		} else {
			db = conn
		}
	}
	defer db.Close()

	engine := multiadc.NewEngine(block,
		multiadc.WithDisarmTimeout(acq.DisarmTimeout),
		multiadc.WithPollInterval(acq.PollInterval))
	acqMsg := &sessiondb.AcquisitionMessage{
		ID:         sessiondb.NewID(),
		Converters: layout.Converters,
		Stride:     layout.Stride,
		Capacity:   acq.Capacity,
		Mode:       acq.Groups[0].Mode.String(),
		Inputs:     multiadc.Inputs(acq.Groups),
	}
	consumer := multiadc.NewSampleConsumer(engine, reporter,
		multiadc.WithPollPeriod(acq.ConsumerPoll),
		multiadc.WithStopOnFault(acq.StopOnFault),
		multiadc.WithFaultHandler(func(ae multiadc.AcquisitionError) {
			db.RecordFault(&sessiondb.FaultMessage{
				AcquisitionID: acqMsg.ID,
				Kind:          ae.Kind.String(),
				Generation:    ae.Generation,
				Lost:          ae.Lost,
				Time:          time.Now(),
			})
		}))

	if err := engine.Configure(acq.Groups, acq.Capacity, consumer); err != nil {
		return maskAny(err)
	}
	if err := engine.Start(); err != nil {
		return maskAny(err)
	}
	acqMsg.Start = time.Now()
	db.RecordAcquisition(acqMsg)

	var led heartbeat.LED = &heartbeat.LogLED{Log: log}
	if cfg.Heartbeat.Pin >= 0 {
		if led, err = heartbeat.NewGPIOLED(cfg.Heartbeat.Pin, cfg.Heartbeat.ActiveLow); err != nil {
			engine.Stop()
			return maskAny(err)
		}
	}
	httpCfg, err := server.ParseAddr(cfg.MetricsAddr)
	if err != nil {
		engine.Stop()
		return err
	}
	httpServer := server.New(httpCfg, log, func() any {
		return map[string]any{
			"state":      engine.State().String(),
			"generation": engine.Buffer().Generation(),
			"stats":      engine.Stats(),
			"reported":   consumer.Reported(),
			"lost":       consumer.Lost(),
		}
	})

	// Prepare to shutdown in a controlled manner
	ctx, cancel := context.WithCancel(context.Background())
	t := terminate.NewTerminator(func(template string, args ...interface{}) {
		log.Info().Msgf(template, args...)
	}, cancel)
	go t.ListenSignals()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Run(ctx) })
	g.Go(func() error { return heartbeat.Run(ctx, led, cfg.Heartbeat.Period) })
	g.Go(func() error { return httpServer.Run(ctx) })
	runErr := g.Wait()

	stopErr := engine.Stop()
	if multiadc.IsInvalidState(stopErr) {
		stopErr = nil // a one-shot acquisition stops itself
	}
	consumer.Drain(context.Background())
	acqMsg.Regions = consumer.Reported()
	acqMsg.Lost = consumer.Lost()
	db.FinishAcquisition(acqMsg)
	if err := reporter.Close(); err != nil {
		multiadc.ProblemLogger.Warn().Err(err).Msg("closing reporters")
	}
	if stopErr == nil {
		if err := engine.Close(); err != nil {
			multiadc.ProblemLogger.Warn().Err(err).Msg("closing converter block")
		}
	}
	log.Info().Uint64("regions", acqMsg.Regions).Uint64("lost", acqMsg.Lost).Msg("acquisition finished")
	if runErr != nil {
		return maskAny(runErr)
	}
	return maskAny(stopErr)
}

// buildReporters opens every configured report destination. The closers
// release what the reporters do not own.
func buildReporters(rc multiadc.ReportConfig, layout multiadc.Layout) (report.Multi, []io.Closer, error) {
	var reporters report.Multi
	var closers []io.Closer
	fail := func(err error) (report.Multi, []io.Closer, error) {
		reporters.Close()
		for _, c := range closers {
			c.Close()
		}
		return nil, nil, err
	}

	if rc.Serial != "" {
		var out io.Writer = os.Stdout
		if rc.Serial != "-" {
			port, err := report.OpenSerial(rc.Serial, rc.BaudRate)
			if err != nil {
				return fail(err)
			}
			closers = append(closers, port)
			out = port
		}
		w := asyncbufio.NewWriter(out, 1024, 50*time.Millisecond)
		switch rc.Format {
		case "", "text":
			reporters = append(reporters, report.NewTextReporter(w))
		case "binary":
			reporters = append(reporters, report.NewBinaryReporter(w, rc.SourceID))
		default:
			w.Close()
			return fail(fmt.Errorf("unknown report format %q (text|binary)", rc.Format))
		}
	}
	if rc.ZMQ != "" {
		zr, err := report.NewZMQReporter(rc.ZMQ, rc.ZMQTag, rc.SourceID)
		if err != nil {
			return fail(err)
		}
		reporters = append(reporters, zr)
	}
	if rc.NPY != "" {
		nr, err := report.CreateNPY(rc.NPY, layout.FrameSize())
		if err != nil {
			return fail(err)
		}
		reporters = append(reporters, nr)
	}
	return reporters, closers, nil
}

// writeMemoryProfile writes the memory use profile to the indicated file.
// If `memprofile` is an empty string, do not write.
func writeMemoryProfile(memprofile string) {
	if memprofile == "" {
		return
	}

	f, err := os.Create(memprofile)
	if err != nil {
		Exitf("could not create memory profile: %v\n", err)
	}
	defer f.Close()
	runtime.GC() // get up-to-date statistics
	if err := pprof.WriteHeapProfile(f); err != nil {
		Exitf("could not write memory profile: %v\n", err)
	}
}

// Exitf prints the given error message and exits with code 1
func Exitf(message string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, message, args...)
	os.Exit(1)
}
