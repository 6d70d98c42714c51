package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"gridcity.ai/internal/persistence/snapshot"
	"gridcity.ai/internal/protocol"
	"gridcity.ai/internal/sim/catalogs"
	"gridcity.ai/internal/sim/room"
	"gridcity.ai/internal/sim/tuning"
)

// SQLiteIndex is a secondary, queryable index of what the rooms did. The
// JSONL logs and snapshots stay the source of truth; writes are queued and
// dropped if the indexer falls behind.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

type reqKind int

const (
	reqTx reqKind = iota + 1
	reqAudit
	reqSnapshot
	reqVictory
)

type req struct {
	kind reqKind

	tx       room.TxLogEntry
	audit    room.AuditEntry
	snapshot snapshotRow
	victory  victoryRow
}

type snapshotRow struct {
	RoomID     string
	Tick       uint64
	Path       string
	Players    int
	Buildings  int
	Parcels    int
	Population int
	Treasury   int64
	Listings   int
	Auctions   int
}

type victoryRow struct {
	RoomID     string
	Tick       uint64
	Victory    protocol.Victory
	RecordedAt string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS transactions (
			room_id TEXT NOT NULL,
			tx_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			player_id TEXT NOT NULL,
			type TEXT NOT NULL,
			success INTEGER NOT NULL,
			code TEXT NOT NULL,
			new_balance INTEGER,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (room_id, tx_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_player_tick ON transactions(room_id, player_id, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_tick ON transactions(room_id, tick);`,
		`CREATE TABLE IF NOT EXISTS audits (
			room_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			loc_row INTEGER NOT NULL,
			loc_col INTEGER NOT NULL,
			amount INTEGER NOT NULL,
			target TEXT,
			reason TEXT,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (room_id, tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_actor_tick ON audits(room_id, actor, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_loc_tick ON audits(room_id, loc_row, loc_col, tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			room_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			path TEXT NOT NULL,
			players INTEGER NOT NULL,
			buildings INTEGER NOT NULL,
			parcels INTEGER NOT NULL,
			population INTEGER NOT NULL,
			treasury INTEGER NOT NULL,
			listings INTEGER NOT NULL,
			auctions INTEGER NOT NULL,
			PRIMARY KEY (room_id, tick)
		);`,
		`CREATE TABLE IF NOT EXISTS victories (
			room_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			day INTEGER NOT NULL,
			winner TEXT NOT NULL,
			winner_score REAL NOT NULL,
			total_wealth INTEGER NOT NULL,
			final_population INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (room_id, tick)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Dropped is the number of writes discarded because the queue was full.
func (s *SQLiteIndex) Dropped() uint64 { return s.dropped.Load() }

func (s *SQLiteIndex) enqueue(r req) {
	select {
	case s.ch <- r:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		s.dropped.Add(1)
	}
}

// WriteTx implements room.TxLogger.
func (s *SQLiteIndex) WriteTx(entry room.TxLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	s.enqueue(req{kind: reqTx, tx: entry})
	return nil
}

// WriteAudit implements room.AuditLogger.
func (s *SQLiteIndex) WriteAudit(entry room.AuditEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	s.enqueue(req{kind: reqAudit, audit: entry})
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	s.enqueue(req{kind: reqSnapshot, snapshot: snapshotRow{
		RoomID:     snap.Header.RoomID,
		Tick:       snap.Header.Tick,
		Path:       path,
		Players:    len(snap.Players),
		Buildings:  len(snap.Buildings),
		Parcels:    len(snap.Parcels),
		Population: snap.Population.Children + snap.Population.Adults + snap.Population.Seniors,
		Treasury:   snap.Governance.Treasury,
		Listings:   len(snap.Listings),
		Auctions:   len(snap.Auctions),
	}})
}

// RecordVictory implements room.VictoryRecorder.
func (s *SQLiteIndex) RecordVictory(roomID string, tick uint64, v protocol.Victory) {
	if s == nil || s.closed.Load() {
		return
	}
	s.enqueue(req{kind: reqVictory, victory: victoryRow{
		RoomID:     roomID,
		Tick:       tick,
		Victory:    v,
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}})
}

// UpsertCatalogs stores the building catalog and the tuning in effect so
// logged transactions can be matched with the rules they ran under.
func (s *SQLiteIndex) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if configDir != "" {
		if b, err := os.ReadFile(filepath.Join(configDir, "buildings.json")); err == nil && len(b) > 0 {
			rows = append(rows, kv{name: "buildings", digest: cats.Buildings.Digest, json: b})
		}
	}
	{
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.name == "" || r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTx, _ := s.db.Prepare(`INSERT OR REPLACE INTO transactions(room_id,tx_id,tick,player_id,type,success,code,new_balance,raw_json) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertAudit, _ := s.db.Prepare(`INSERT OR REPLACE INTO audits(room_id,tick,seq,actor,action,loc_row,loc_col,amount,target,reason,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(room_id,tick,path,players,buildings,parcels,population,treasury,listings,auctions) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertVictory, _ := s.db.Prepare(`INSERT OR REPLACE INTO victories(room_id,tick,day,winner,winner_score,total_wealth,final_population,raw_json,recorded_at) VALUES(?,?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTx, insertAudit, insertSnapshot, insertVictory} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		auditRoom string
		auditTick uint64
		auditSeq  int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTx:
			e := r.tx
			raw, _ := json.Marshal(e)
			var bal any
			if e.Result.NewBalance != nil {
				bal = *e.Result.NewBalance
			}
			exec(insertTx,
				e.RoomID,
				e.Result.TransactionID,
				int64(e.Tick),
				e.Intent.PlayerID,
				string(e.Intent.Type),
				e.Result.Success,
				e.Result.Code,
				bal,
				string(raw),
			)

		case reqAudit:
			a := r.audit
			if a.RoomID != auditRoom || a.Tick != auditTick {
				auditRoom, auditTick = a.RoomID, a.Tick
				auditSeq = 0
			}
			seq := auditSeq
			auditSeq++
			raw, _ := json.Marshal(a)
			exec(insertAudit,
				a.RoomID,
				int64(a.Tick),
				seq,
				a.Actor,
				a.Action,
				a.Loc[0], a.Loc[1],
				a.Amount,
				a.Target,
				a.Reason,
				string(raw),
			)

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot,
				sn.RoomID,
				int64(sn.Tick),
				sn.Path,
				sn.Players,
				sn.Buildings,
				sn.Parcels,
				sn.Population,
				sn.Treasury,
				sn.Listings,
				sn.Auctions,
			)

		case reqVictory:
			v := r.victory
			raw, _ := json.Marshal(v.Victory)
			var (
				winner string
				score  float64
			)
			if len(v.Victory.Leaderboard) > 0 {
				winner = v.Victory.Leaderboard[0].PlayerID
				score = v.Victory.Leaderboard[0].Score
			}
			exec(insertVictory,
				v.RoomID,
				int64(v.Tick),
				v.Victory.Day,
				winner,
				score,
				v.Victory.Stats.TotalWealth,
				v.Victory.Stats.FinalPopulation,
				string(raw),
				v.RecordedAt,
			)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
