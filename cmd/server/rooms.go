package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gridcity.ai/internal/persistence/indexdb"
	persistlog "gridcity.ai/internal/persistence/log"
	"gridcity.ai/internal/persistence/snapshot"
	"gridcity.ai/internal/sim/catalogs"
	"gridcity.ai/internal/sim/multiroom"
	"gridcity.ai/internal/sim/room"
	"gridcity.ai/internal/sim/tuning"
	"gridcity.ai/internal/transport/observer"
)

type serverConfig struct {
	Addr            string
	ConfigDir       string
	DataDir         string
	DisableDB       bool
	LoadLatest      bool
	AdminHTTP       bool
	PprofHTTP       bool
	LogSegmentBytes int64
}

// roomHost owns the goroutines and log files of one running room.
type roomHost struct {
	id   string
	dir  string
	room *room.Room

	txLog    *persistlog.TxLogger
	auditLog *persistlog.AuditLogger
	snapCh   chan snapshot.SnapshotV1

	cancel context.CancelFunc
	done   chan struct{}
}

type server struct {
	cfg    serverConfig
	rooms  multiroom.Config
	tune   tuning.Tuning
	cats   *catalogs.Catalogs
	logger *log.Logger

	ctx context.Context
	idx *indexdb.SQLiteIndex
	hub *observer.Hub
	mgr *multiroom.Manager

	mu        sync.Mutex
	hosts     map[string]*roomHost
	closeOnce sync.Once
}

// newServer starts every configured room (and any dynamic room recorded in
// the state file) under ctx. Close stops them and flushes final snapshots.
func newServer(ctx context.Context, cfg serverConfig, rooms multiroom.Config, tune tuning.Tuning, cats *catalogs.Catalogs, logger *log.Logger) (*server, error) {
	if logger == nil {
		logger = log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)
	}
	s := &server{
		cfg:    cfg,
		rooms:  rooms,
		tune:   tune,
		cats:   cats,
		logger: logger,
		ctx:    ctx,
		hub:    observer.NewHub(),
		hosts:  map[string]*roomHost{},
	}

	// Optional read-model index; the simulation never reads from it.
	if !cfg.DisableDB {
		idx, err := indexdb.OpenSQLite(filepath.Join(cfg.DataDir, "index", "gridcity.sqlite"))
		if err != nil {
			return nil, fmt.Errorf("open index db: %w", err)
		}
		s.idx = idx
		if err := idx.UpsertCatalogs(cfg.ConfigDir, cats, tune); err != nil {
			logger.Printf("index db upsert catalogs: %v", err)
		}
	}

	runtimes := map[string]*multiroom.Runtime{}
	for _, spec := range rooms.Rooms {
		rt, err := s.startRoom(spec)
		if err != nil {
			s.Close()
			return nil, err
		}
		runtimes[spec.ID] = rt
	}

	stateFile := filepath.Join(cfg.DataDir, "global", "state.json")
	mgr, err := multiroom.NewManager(rooms, runtimes, s.startRoom, stateFile)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("multiroom manager: %w", err)
	}
	s.mgr = mgr
	return s, nil
}

// startRoom is also the manager's factory for rooms created on demand.
func (s *server) startRoom(spec multiroom.RoomSpec) (*multiroom.Runtime, error) {
	dir := filepath.Join(s.cfg.DataDir, "rooms", spec.ID)
	if err := os.MkdirAll(filepath.Join(dir, "snapshots"), 0o755); err != nil {
		return nil, fmt.Errorf("room %s: %w", spec.ID, err)
	}

	rc := spec.RoomConfig(s.tune)
	rc.Broadcast = s.hub.Publish
	rc.Logger = log.New(os.Stdout, fmt.Sprintf("[room %s] ", spec.ID), log.LstdFlags|log.Lmicroseconds)
	r, err := room.New(rc, s.tune, s.cats)
	if err != nil {
		return nil, err
	}

	if s.cfg.LoadLatest {
		if path := snapshot.Latest(filepath.Join(dir, "snapshots")); path != "" {
			snap, err := snapshot.ReadSnapshot(path)
			if err != nil {
				return nil, fmt.Errorf("room %s: read snapshot: %w", spec.ID, err)
			}
			if snap.Header.RoomID != "" && snap.Header.RoomID != spec.ID {
				return nil, fmt.Errorf("room %s: snapshot belongs to room %s", spec.ID, snap.Header.RoomID)
			}
			if err := r.ImportSnapshot(snap); err != nil {
				return nil, err
			}
			s.logger.Printf("room %s resumed from snapshot=%s tick=%d", spec.ID, filepath.Base(path), r.CurrentTick())
		}
	}

	logOpts := persistlog.Options{
		SegmentBytes: s.cfg.LogSegmentBytes,
		OnSeal: func(path string) {
			rc.Logger.Printf("sealed %s", filepath.Base(path))
		},
	}
	h := &roomHost{
		id:       spec.ID,
		dir:      dir,
		room:     r,
		txLog:    persistlog.NewTxLogger(dir, logOpts),
		auditLog: persistlog.NewAuditLogger(dir, logOpts),
		snapCh:   make(chan snapshot.SnapshotV1, 2),
		done:     make(chan struct{}),
	}
	txs := txFanout{h.txLog}
	audits := auditFanout{h.auditLog}
	if s.idx != nil {
		txs = append(txs, s.idx)
		audits = append(audits, s.idx)
		r.SetVictoryRecorder(s.idx)
	}
	r.SetTxLogger(txs)
	r.SetAuditLogger(audits)
	r.SetSnapshotSink(h.snapCh)

	ctx, cancel := context.WithCancel(s.ctx)
	h.cancel = cancel

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-h.snapCh:
				s.writeSnapshot(h, snap)
			}
		}
	}()

	go func() {
		defer close(h.done)
		if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Printf("room stopped (%s): %v", h.id, err)
		}
		cancel()
		<-writerDone

		// The loop has exited, so the state is ours to export.
		if r.CurrentTick() > 0 {
			s.writeSnapshot(h, r.ExportSnapshot())
		}
		if err := h.txLog.Close(); err != nil {
			s.logger.Printf("close tx log (%s): %v", h.id, err)
		}
		if err := h.auditLog.Close(); err != nil {
			s.logger.Printf("close audit log (%s): %v", h.id, err)
		}
	}()

	s.mu.Lock()
	s.hosts[spec.ID] = h
	s.mu.Unlock()
	return &multiroom.Runtime{Spec: spec, Room: r}, nil
}

func (s *server) writeSnapshot(h *roomHost, snap snapshot.SnapshotV1) {
	path := filepath.Join(h.dir, "snapshots", snapshot.FileName(snap.Header.Tick))
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		s.logger.Printf("snapshot write (%s): %v", h.id, err)
		return
	}
	if s.idx != nil {
		s.idx.RecordSnapshot(path, snap)
	}
}

func (s *server) host(id string) *roomHost {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hosts[id]
}

func (s *server) roomIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.hosts))
	for id := range s.hosts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close stops every room, waits for final snapshots and closes the index.
func (s *server) Close() {
	s.closeOnce.Do(s.close)
}

func (s *server) close() {
	s.mu.Lock()
	hosts := make([]*roomHost, 0, len(s.hosts))
	for _, h := range s.hosts {
		hosts = append(hosts, h)
	}
	s.mu.Unlock()

	for _, h := range hosts {
		h.cancel()
	}
	for _, h := range hosts {
		<-h.done
	}
	if s.mgr != nil {
		s.mgr.Close()
	}
	if s.idx != nil {
		if err := s.idx.Close(); err != nil {
			s.logger.Printf("close index db: %v", err)
		}
	}
}
