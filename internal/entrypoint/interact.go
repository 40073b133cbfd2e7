package entrypoint

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cozmonaut/cozmonaut/internal/api"
	"github.com/cozmonaut/cozmonaut/internal/config"
	"github.com/cozmonaut/cozmonaut/internal/db"
	"github.com/cozmonaut/cozmonaut/internal/monitor"
	"github.com/cozmonaut/cozmonaut/internal/monitoring"
	"github.com/cozmonaut/cozmonaut/internal/registry"
	"github.com/cozmonaut/cozmonaut/internal/robot"
	"github.com/cozmonaut/cozmonaut/internal/supervisor"
	"github.com/cozmonaut/cozmonaut/internal/vision"
)

// Robot main routine: leave the charger and roll forward.
const (
	driveDistanceMM = 500
	driveSpeedMMPS  = 50
)

// interact connects every configured robot, supervises it and serves the
// API until ctx is cancelled or every robot has hung up. It fails when no
// robot connects.
func (r *Runner) interact(ctx context.Context, args Args) int {
	cfg, err := loadConfig(args)
	if err != nil {
		r.errorf("%v", err)
		return ExitUsage
	}

	maxSize, backups, age, compress := cfg.GetLogRotation()
	logCloser := monitoring.SetOutput(cfg.GetLogFile(), monitoring.LogFileOptions{
		MaxSizeMB:  maxSize,
		MaxBackups: backups,
		MaxAgeDays: age,
		Compress:   compress,
	})
	defer logCloser.Close()

	store, err := openDB(cfg)
	if err != nil {
		r.errorf("%v", err)
		return ExitFailure
	}
	defer store.Close()

	// The writer outlives the signal context so it can flush after the
	// loops stop.
	var writer *db.SampleWriter
	monitorOpts := monitor.Options{Delays: cfg.GetDelays()}
	if !cfg.Samples.Disabled {
		writer = db.NewSampleWriter(store, db.SampleWriterConfig{
			Buffer:    cfg.GetSampleBuffer(),
			BatchSize: cfg.GetSampleBatchSize(),
			Interval:  cfg.GetSampleFlushInterval(),
		})
		go writer.Run(context.WithoutCancel(ctx))
		defer func() {
			writer.Stop()
			<-writer.Done()
			log.Printf("sample writer stopped: %d written, %d dropped", writer.Written(), writer.Dropped())
		}()
		monitorOpts.Recorder = writer
	}

	detectors := newDetectorPool(cfg)
	defer detectors.Close()

	reg := registry.New(registry.Options{
		Monitor:  monitorOpts,
		Tracker:  cfg.GetTrackerOptions(),
		Detector: detectors.New,
	})
	recent := supervisor.NewRecentTracks(cfg.GetRecentTracks())
	sup := supervisor.New(reg, supervisor.Options{
		Sink: supervisor.MultiSink(recent, store, supervisor.LogSink{}),
	})
	defer sup.StopAll()

	mux := http.NewServeMux()
	store.AttachAdminRoutes(mux)
	reg.AttachAdminRoutes(mux)
	mux.Handle("/api/", api.LoggingMiddleware(api.NewServer(reg, sup, recent, store).ServeMux()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	dial := r.Dial
	if dial == nil {
		dial = DialRobot
	}
	var links sync.WaitGroup
	connected := 0
	for _, rc := range cfg.Robots {
		conn, err := dial(ctx, rc, mux)
		if err != nil {
			log.Printf("robot %d: %v", rc.ID, err)
			continue
		}
		if err := sup.StartForRobot(ctx, conn); err != nil {
			log.Printf("robot %d: %v", rc.ID, err)
			conn.Close()
			continue
		}
		connected++
		links.Add(1)
		go func() {
			defer links.Done()
			pump(ctx, sup, conn)
		}()
		go robotMain(ctx, conn)
	}
	if connected == 0 {
		r.errorf("no robot connection could be established")
		return ExitFailure
	}
	log.Printf("%d of %d robots connected", connected, len(cfg.Robots))

	allGone := make(chan struct{})
	go func() {
		links.Wait()
		close(allGone)
	}()

	srv, addr, err := serve(cfg.GetListen(), mux)
	if err != nil {
		r.errorf("failed to start server: %v", err)
		cancel()
		links.Wait()
		return ExitFailure
	}
	log.Printf("serving on http://%s", addr)
	if r.OnServing != nil {
		r.OnServing(addr)
	}

	select {
	case <-ctx.Done():
		log.Printf("shutting down")
	case <-allGone:
		log.Printf("every robot disconnected")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	cancel()
	links.Wait()
	sup.StopAll()
	log.Printf("graceful shutdown complete")
	return ExitOK
}

// pump runs conn until it hangs up or ctx ends, then stops the robot's
// session.
func pump(ctx context.Context, sup *supervisor.Supervisor, conn Connection) {
	defer conn.Close()
	err := conn.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("%s link stopped: %v", conn.ID(), err)
	}
	sup.StopForRobot(conn.ID())
}

// robotMain enables the camera and drives the robot off its charger and
// forward. Failures are logged; the session keeps running.
func robotMain(ctx context.Context, rb robot.Robot) {
	logf := monitoring.Prefixed(monitoring.RobotPrefix(int64(rb.ID())))
	if err := rb.EnableCamera(ctx, true); err != nil {
		logf("failed to enable camera: %v", err)
	}
	if err := rb.DriveOffChargerContacts(ctx); err != nil {
		logf("failed to drive off charger: %v", err)
		return
	}
	if err := rb.DriveStraight(ctx, driveDistanceMM, driveSpeedMMPS); err != nil {
		logf("failed to drive straight: %v", err)
	}
}

func serve(listen string, h http.Handler) (*http.Server, string, error) {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, "", err
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
		}
	}()
	return srv, ln.Addr().String(), nil
}

// detectorPool hands each robot its own detector. A robot that reconnects
// gets a fresh detector and the one it replaces is closed in the background.
type detectorPool struct {
	cfg *config.Config

	mu      sync.Mutex
	async   map[robot.ID]*vision.Async
	retired sync.WaitGroup
}

func newDetectorPool(cfg *config.Config) *detectorPool {
	return &detectorPool{cfg: cfg, async: make(map[robot.ID]*vision.Async)}
}

// New is called under the registry lock, so a replaced detector is closed
// without waiting for its running detections.
func (p *detectorPool) New(id robot.ID) vision.Detector {
	blob := vision.NewBlobDetector(vision.BlobOptions{
		FriendID:   p.cfg.GetVisionFriendID(),
		MaxLatency: p.cfg.GetVisionMaxLatency(),
		Seed:       uint64(id),
	})
	a := vision.NewAsync(blob.Detect, p.cfg.GetVisionWorkers())

	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.async[id]; ok {
		p.retired.Add(1)
		go func() {
			defer p.retired.Done()
			old.Close()
		}()
	}
	p.async[id] = a
	return a
}

// Len returns how many detectors are live.
func (p *detectorPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.async)
}

func (p *detectorPool) Close() {
	p.mu.Lock()
	for id, a := range p.async {
		a.Close()
		delete(p.async, id)
	}
	p.mu.Unlock()
	p.retired.Wait()
}
