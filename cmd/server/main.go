package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"gridcity.ai/internal/sim/catalogs"
	"gridcity.ai/internal/sim/multiroom"
	"gridcity.ai/internal/sim/tuning"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		roomsPath  = flag.String("rooms", "./configs/rooms.yaml", "room list (empty runs a single default room)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index (tx/audit/snapshot/victory rows + catalogs)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "resume each room from its latest snapshot if present")
		segmentMB  = flag.Int64("log_segment_mb", 64, "start a new tx/audit log segment after this many MB of JSON (0 = hourly only)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	rp := strings.TrimSpace(*roomsPath)
	if rp != "" {
		if _, err := os.Stat(rp); os.IsNotExist(err) {
			logger.Printf("rooms config not found (%s); running default room", rp)
			rp = ""
		}
	}
	rooms, err := multiroom.Load(rp)
	if err != nil {
		logger.Fatalf("load rooms config: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, err := newServer(ctx, serverConfig{
		Addr:            *addr,
		ConfigDir:       *configDir,
		DataDir:         *dataDir,
		DisableDB:       *disableDB,
		LoadLatest:      *loadLatest,
		AdminHTTP:       envBool("GRIDCITY_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
		PprofHTTP:       envBool("GRIDCITY_ENABLE_PPROF_HTTP", false),
		LogSegmentBytes: segmentBytes(*segmentMB),
	}, rooms, tune, cats, logger)
	if err != nil {
		logger.Fatalf("start rooms: %v", err)
	}
	defer s.Close()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s rooms=%v", *addr, s.roomIDs())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func segmentBytes(mb int64) int64 {
	if mb <= 0 {
		return -1
	}
	return mb << 20
}
