package indexdb

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Reader runs read-only queries against an index written by SQLiteIndex.
type Reader struct {
	conn *sqlx.DB
}

func OpenReader(path string) (*Reader, error) {
	conn, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open index: %w", err)
	}
	return &Reader{conn: conn}, nil
}

func (r *Reader) Close() error { return r.conn.Close() }

type TxRow struct {
	RoomID     string `db:"room_id" json:"room_id"`
	TxID       string `db:"tx_id" json:"tx_id"`
	Tick       int64  `db:"tick" json:"tick"`
	PlayerID   string `db:"player_id" json:"player_id"`
	Type       string `db:"type" json:"type"`
	Success    bool   `db:"success" json:"success"`
	Code       string `db:"code" json:"code,omitempty"`
	NewBalance *int64 `db:"new_balance" json:"new_balance,omitempty"`
}

type TxFilter struct {
	RoomID   string
	PlayerID string
	Type     string
	FromTick int64
	ToTick   int64 // 0 means no upper bound
	Limit    int
}

// QueryTransactions returns matching transactions, newest first.
func (r *Reader) QueryTransactions(f TxFilter) ([]TxRow, error) {
	var (
		where []string
		args  []any
	)
	if f.RoomID != "" {
		where = append(where, "room_id = ?")
		args = append(args, f.RoomID)
	}
	if f.PlayerID != "" {
		where = append(where, "player_id = ?")
		args = append(args, f.PlayerID)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.FromTick > 0 {
		where = append(where, "tick >= ?")
		args = append(args, f.FromTick)
	}
	if f.ToTick > 0 {
		where = append(where, "tick <= ?")
		args = append(args, f.ToTick)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q := "SELECT room_id, tx_id, tick, player_id, type, success, code, new_balance FROM transactions"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY tick DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	var rows []TxRow
	err := r.conn.Select(&rows, q, args...)
	return rows, err
}

type AuditRow struct {
	RoomID string `db:"room_id" json:"room_id"`
	Tick   int64  `db:"tick" json:"tick"`
	Seq    int    `db:"seq" json:"seq"`
	Actor  string `db:"actor" json:"actor"`
	Action string `db:"action" json:"action"`
	Row    int    `db:"loc_row" json:"row"`
	Col    int    `db:"loc_col" json:"col"`
	Amount int64  `db:"amount" json:"amount"`
	Target string `db:"target" json:"target,omitempty"`
	Reason string `db:"reason" json:"reason,omitempty"`
}

// QueryAudits lists the audit trail of one room, newest first. An empty
// actor matches everyone.
func (r *Reader) QueryAudits(roomID, actor string, limit int) ([]AuditRow, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []AuditRow
	err := r.conn.Select(&rows,
		`SELECT room_id, tick, seq, actor, action, loc_row, loc_col, amount,
			COALESCE(target, '') AS target, COALESCE(reason, '') AS reason
		FROM audits WHERE room_id = ? AND (? = '' OR actor = ?)
		ORDER BY tick DESC, seq DESC LIMIT ?`,
		roomID, actor, actor, limit,
	)
	return rows, err
}

type SnapshotRow struct {
	RoomID     string `db:"room_id" json:"room_id"`
	Tick       int64  `db:"tick" json:"tick"`
	Path       string `db:"path" json:"path"`
	Players    int    `db:"players" json:"players"`
	Buildings  int    `db:"buildings" json:"buildings"`
	Parcels    int    `db:"parcels" json:"parcels"`
	Population int    `db:"population" json:"population"`
	Treasury   int64  `db:"treasury" json:"treasury"`
	Listings   int    `db:"listings" json:"listings"`
	Auctions   int    `db:"auctions" json:"auctions"`
}

func (r *Reader) QuerySnapshots(roomID string, limit int) ([]SnapshotRow, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []SnapshotRow
	err := r.conn.Select(&rows,
		`SELECT room_id, tick, path, players, buildings, parcels, population, treasury, listings, auctions
		FROM snapshots WHERE room_id = ? ORDER BY tick DESC LIMIT ?`,
		roomID, limit,
	)
	return rows, err
}

type VictoryRow struct {
	RoomID          string  `db:"room_id" json:"room_id"`
	Tick            int64   `db:"tick" json:"tick"`
	Day             int     `db:"day" json:"day"`
	Winner          string  `db:"winner" json:"winner"`
	WinnerScore     float64 `db:"winner_score" json:"winner_score"`
	TotalWealth     int64   `db:"total_wealth" json:"total_wealth"`
	FinalPopulation int     `db:"final_population" json:"final_population"`
	RawJSON         string  `db:"raw_json" json:"-"`
	RecordedAt      string  `db:"recorded_at" json:"recorded_at"`
}

// QueryVictories lists recorded game endings; an empty roomID lists all rooms.
func (r *Reader) QueryVictories(roomID string) ([]VictoryRow, error) {
	var rows []VictoryRow
	err := r.conn.Select(&rows,
		`SELECT room_id, tick, day, winner, winner_score, total_wealth, final_population, raw_json, recorded_at
		FROM victories WHERE (? = '' OR room_id = ?) ORDER BY recorded_at DESC`,
		roomID, roomID,
	)
	return rows, err
}

type CatalogRow struct {
	Name      string `db:"name" json:"name"`
	Digest    string `db:"digest" json:"digest"`
	UpdatedAt string `db:"updated_at" json:"updated_at"`
}

func (r *Reader) Catalogs() ([]CatalogRow, error) {
	var rows []CatalogRow
	err := r.conn.Select(&rows, `SELECT name, digest, updated_at FROM catalogs ORDER BY name`)
	return rows, err
}

// CatalogJSON returns the stored document for one catalog entry.
func (r *Reader) CatalogJSON(name string) (string, error) {
	var doc string
	err := r.conn.Get(&doc, `SELECT json FROM catalogs WHERE name = ?`, name)
	return doc, err
}
