// Command speedwatch runs the vehicle speed pipeline against one camera
// source and serves its live feed, statistics and configuration.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/speedwatch/internal/api"
	"github.com/banshee-data/speedwatch/internal/config"
	"github.com/banshee-data/speedwatch/internal/db"
	"github.com/banshee-data/speedwatch/internal/fsutil"
	"github.com/banshee-data/speedwatch/internal/livefeed"
	"github.com/banshee-data/speedwatch/internal/serialmux"
	"github.com/banshee-data/speedwatch/internal/site"
	"github.com/banshee-data/speedwatch/internal/sinks"
	"github.com/banshee-data/speedwatch/internal/timeutil"
	"github.com/banshee-data/speedwatch/internal/units"
	"github.com/banshee-data/speedwatch/internal/version"
	"github.com/banshee-data/speedwatch/internal/vision/pipeline"
	"github.com/banshee-data/speedwatch/internal/vision/source"
	"github.com/banshee-data/speedwatch/internal/vision/stats"
)

var (
	listen      = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen  = flag.String("grpc-listen", "", "gRPC live feed listen address (empty disables)")
	dbPath      = flag.String("db", "speedwatch.db", "SQLite database path (empty disables storage)")
	configPath  = flag.String("config", "", "Calibration file (.json, .yaml or .yml)")
	configDir   = flag.String("config-dir", "", "Reject calibration files outside this directory (empty allows any)")
	sourceKind  = flag.String("source", "synthetic", "Frame source: synthetic, replay, serial, udp or pcap")
	input       = flag.String("input", "", "Recording to read for the replay and pcap sources")
	serialPort  = flag.String("serial-port", "/dev/ttyUSB0", "Detector board serial port")
	baud        = flag.Int("baud", serialmux.DefaultBaudRate, "Detector board baud rate")
	udpPort     = flag.Int("udp-port", 2370, "UDP port for detection datagrams (also filters pcap captures)")
	udpRcvBuf   = flag.Int("udp-rcvbuf", 4<<20, "UDP socket receive buffer in bytes")
	logDir      = flag.String("log-dir", "logs", "Directory for daily CSV speed logs (empty disables)")
	snapshotDir = flag.String("snapshot-dir", "snapshots", "Directory for overspeed snapshots (empty disables)")
	jwtSecret   = flag.String("jwt-secret", os.Getenv("SPEEDWATCH_JWT_SECRET"), "HS256 secret guarding config writes (empty leaves them open)")
	prefetch    = flag.Int("prefetch", 4, "Frames acquired ahead of the tracker (0 processes inline)")
	realtime    = flag.Bool("realtime", true, "Pace synthetic and replay sources at their frame timestamps")
	frames      = flag.Uint64("frames", 0, "Stop the synthetic source after this many frames (0 runs until stopped)")
	diag        = flag.Bool("diag", false, "Log per-track speed decisions")
	trace       = flag.Bool("trace", false, "Log every frame")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

var sourceKinds = []string{"synthetic", "replay", "serial", "udp", "pcap"}

// sourceOptions is the flag-derived description of the frame source.
type sourceOptions struct {
	Kind       string
	Input      string
	SerialPort string
	Baud       int
	UDPPort    int
	UDPRcvBuf  int
	Realtime   bool
	Frames     uint64
	FS         fsutil.FileSystem
	Clock      timeutil.Clock
}

func validateFlags(o sourceOptions, prefetchDepth int) error {
	if !slices.Contains(sourceKinds, o.Kind) {
		return fmt.Errorf("unknown source %q: must be one of %v", o.Kind, sourceKinds)
	}
	if (o.Kind == "replay" || o.Kind == "pcap") && o.Input == "" {
		return fmt.Errorf("-input is required for the %s source", o.Kind)
	}
	if o.Kind == "udp" || o.Kind == "pcap" {
		if o.UDPPort < 1 || o.UDPPort > 65535 {
			return fmt.Errorf("invalid UDP port %d", o.UDPPort)
		}
	}
	if prefetchDepth < 0 {
		return fmt.Errorf("invalid prefetch depth %d", prefetchDepth)
	}
	return nil
}

// loadCalibration reads the calibration file over the built-in defaults.
func loadCalibration(path, baseDir string) (*config.CalibrationConfig, error) {
	if path == "" {
		return config.DefaultCalibration(), nil
	}
	var (
		t   *config.TuningConfig
		err error
	)
	if baseDir != "" {
		t, err = config.LoadTuningConfigWithin(path, baseDir)
	} else {
		t, err = config.LoadTuningConfig(path)
	}
	if err != nil {
		return nil, err
	}
	return config.FromTuning(t), nil
}

// openSource builds the frame source. The returned serial mux is the
// board connection for the serial source and a disabled mux otherwise, so
// callers can monitor it and mount its admin routes unconditionally.
func openSource(o sourceOptions, cal *config.CalibrationConfig) (source.Source, serialmux.SerialMuxInterface, error) {
	if o.FS == nil {
		o.FS = fsutil.OSFileSystem{}
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	disabled := serialmux.NewDisabledSerialMux()

	switch o.Kind {
	case "synthetic":
		sc := source.DefaultSyntheticConfig()
		sc.FPS = cal.FrameRateHz
		sc.PixelsPerMeter = cal.PixelsPerMeter
		sc.Frames = o.Frames
		sc.Start = o.Clock.Now()
		if o.Realtime {
			sc.Clock = o.Clock
		}
		return source.NewSyntheticSource(sc), disabled, nil
	case "replay":
		src, err := source.OpenReplay(o.FS, o.Input, o.Clock)
		if err != nil {
			return nil, nil, err
		}
		src.Paced = o.Realtime
		return src, disabled, nil
	case "pcap":
		src, err := source.OpenPCAP(o.FS, o.Input, o.UDPPort)
		if err != nil {
			return nil, nil, err
		}
		return src, disabled, nil
	case "udp":
		src, err := source.ListenUDP(fmt.Sprintf(":%d", o.UDPPort), o.UDPRcvBuf)
		if err != nil {
			return nil, nil, err
		}
		return src, disabled, nil
	case "serial":
		mux, err := serialmux.NewRealSerialMux(o.SerialPort, serialmux.PortOptions{BaudRate: o.Baud})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open detector board: %w", err)
		}
		if err := mux.Initialize(); err != nil {
			mux.Close()
			return nil, nil, fmt.Errorf("failed to initialise detector board: %w", err)
		}
		return source.NewSerialSource(mux), mux, nil
	}
	return nil, nil, fmt.Errorf("unknown source %q", o.Kind)
}

// debugWriter returns w when enabled; nil silences the stream.
func debugWriter(enabled bool, w io.Writer) io.Writer {
	if enabled {
		return w
	}
	return nil
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}

	opts := sourceOptions{
		Kind:       *sourceKind,
		Input:      *input,
		SerialPort: *serialPort,
		Baud:       *baud,
		UDPPort:    *udpPort,
		UDPRcvBuf:  *udpRcvBuf,
		Realtime:   *realtime,
		Frames:     *frames,
	}
	if err := validateFlags(opts, *prefetch); err != nil {
		log.Fatalf("invalid flags: %v", err)
	}
	pipeline.SetLogWriters(os.Stdout, debugWriter(*diag, os.Stderr), debugWriter(*trace, os.Stderr))
	log.Printf("starting %s", version.String())

	cal, err := loadCalibration(*configPath, *configDir)
	if err != nil {
		log.Fatalf("failed to load calibration: %v", err)
	}
	store, err := config.NewStore(cal)
	if err != nil {
		log.Fatalf("invalid calibration: %v", err)
	}

	src, board, err := openSource(opts, cal)
	if err != nil {
		log.Fatalf("failed to open %s source: %v", opts.Kind, err)
	}
	defer board.Close()
	if c, ok := src.(source.Closer); ok {
		defer c.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recent := sinks.NewRecent(1000)
	logSinks := []pipeline.LogSink{recent}
	apiCfg := api.Config{Store: store, Logs: recent, JWTSecret: []byte(*jwtSecret)}

	var database *db.DB
	if *dbPath != "" {
		database, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()
		session, err := database.StartSession(ctx, cal.CameraName, cal.Location, time.Now())
		if err != nil {
			log.Fatalf("failed to start session: %v", err)
		}
		log.Printf("recording session %s to %s", session.ID, database.Path())
		logSinks = append(logSinks, &sinks.DBLog{DB: database, SessionID: session.ID})
		apiCfg.Logs = database
		apiCfg.History = database
	}
	if *logDir != "" {
		csvLog, err := sinks.NewDailyCSV(fsutil.OSFileSystem{}, *logDir, store)
		if err != nil {
			log.Fatalf("failed to prepare CSV log directory: %v", err)
		}
		logSinks = append(logSinks, csvLog)
	}

	var snapshots *sinks.SnapshotWriter
	if *snapshotDir != "" {
		snapshots, err = sinks.NewSnapshotWriter(sinks.SnapshotConfig{
			Dir:      *snapshotDir,
			Location: func() *time.Location { return units.LocationOrUTC(store.Load().Timezone) },
		})
		if err != nil {
			log.Fatalf("failed to prepare snapshot directory: %v", err)
		}
	}

	hub := livefeed.NewHub()
	defer hub.Close()
	session := stats.NewCollector(time.Now(), 0)

	pcfg := pipeline.Config{
		Store:         store,
		Logs:          sinks.NewFanOut(logSinks...),
		Feed:          hub,
		Observers:     []pipeline.Observer{session},
		PrefetchDepth: *prefetch,
	}
	if snapshots != nil {
		pcfg.Snapshots = snapshots
	}
	p, err := pipeline.New(pcfg)
	if err != nil {
		log.Fatalf("failed to build pipeline: %v", err)
	}

	locator := site.NewLocator(nil, func() site.Fixed {
		c := store.Load()
		return site.Fixed{Name: c.Location, Latitude: c.Latitude, Longitude: c.Longitude}
	})
	apiCfg.Pipeline = p
	apiCfg.Session = session
	apiCfg.Feed = hub
	apiCfg.Locator = locator

	var wg sync.WaitGroup

	// the board monitor owns serial IO; the disabled mux just waits
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := board.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	if snapshots != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snapshots.Run(ctx)
			log.Print("snapshot writer stopped")
		}()
	}

	// the pipeline stops at the end of a recording; the server keeps
	// running so the results can still be inspected
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := p.Run(ctx, src)
		switch {
		case err == nil:
			log.Printf("%s source exhausted after %d frames", opts.Kind, p.Stats().Frames)
		case errors.Is(err, context.Canceled):
		default:
			log.Printf("pipeline stopped: %v", err)
		}
		log.Print("pipeline routine terminated")
	}()

	if *grpcListen != "" {
		lis, err := net.Listen("tcp", *grpcListen)
		if err != nil {
			log.Fatalf("failed to listen for gRPC on %s: %v", *grpcListen, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("gRPC live feed listening on %s", lis.Addr())
			if err := livefeed.NewServer(hub).Serve(ctx, lis); err != nil {
				log.Printf("gRPC server error: %v", err)
			}
			log.Print("gRPC routine stopped")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(apiCfg).ServeMux()
		board.AttachAdminRoutes(mux)
		if database != nil {
			database.AttachAdminRoutes(mux)
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("HTTP server listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
