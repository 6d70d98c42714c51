package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	RoomID  string `json:"room_id"`
	Tick    uint64 `json:"tick"`
}

// SnapshotV1 is the complete state of one room. Everything a room needs
// to resume deterministically is in here; derived indices are recomputed.
type SnapshotV1 struct {
	Header Header `json:"header"`

	TickRateHz    int    `json:"tick_rate_hz"`
	DayTicks      int    `json:"day_ticks"`
	MonthDays     int    `json:"month_days"`
	GridSize      int    `json:"grid_size"`
	VictoryDay    int    `json:"victory_day"`
	SinglePlayer  bool   `json:"single_player,omitempty"`
	CatalogDigest string `json:"catalog_digest"`

	Started  bool `json:"started"`
	GameOver bool `json:"game_over"`
	Month    int  `json:"month"`
	LastDay  int  `json:"last_day"`

	NextBuildingNum uint64 `json:"next_building_num"`
	NextListingNum  uint64 `json:"next_listing_num"`
	NextAuctionNum  uint64 `json:"next_auction_num"`
	NextPlayerNum   uint64 `json:"next_player_num"`

	Parcels    []ParcelV1   `json:"parcels"`
	Buildings  []BuildingV1 `json:"buildings"`
	Players    []PlayerV1   `json:"players"`
	Sessions   []SessionV1  `json:"sessions,omitempty"`
	Population PopulationV1 `json:"population"`
	Listings   []ListingV1  `json:"listings,omitempty"`
	Auctions   []AuctionV1  `json:"auctions,omitempty"`
	Governance GovernanceV1 `json:"governance"`
	Seen       []string     `json:"seen,omitempty"`
}

type ParcelV1 struct {
	Loc                [2]int `json:"loc"`
	Owner              string `json:"owner"`
	Price              int64  `json:"price"`
	PurchasedTick      uint64 `json:"purchased_tick,omitempty"`
	ProtectedUntilTick uint64 `json:"protected_until_tick,omitempty"`
	UnderAuction       string `json:"under_auction,omitempty"`
}

type BuildingV1 struct {
	ID                string  `json:"id"`
	Type              string  `json:"type"`
	Category          string  `json:"category"`
	Owner             string  `json:"owner"`
	Loc               [2]int  `json:"loc"`
	UnderConstruction bool    `json:"under_construction"`
	StartTick         uint64  `json:"start_tick"`
	ConstructionTicks uint64  `json:"construction_ticks"`
	CompletedTick     uint64  `json:"completed_tick,omitempty"`
	Age               int     `json:"age"`
	Condition         float64 `json:"condition"`
	Residents         int     `json:"residents"`
}

type PlayerV1 struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Cash             int64          `json:"cash"`
	MonthlyActions   int            `json:"monthly_actions"`
	PurchasedActions int            `json:"purchased_actions"`
	VotingPoints     int            `json:"voting_points"`
	Allocations      map[string]int `json:"allocations,omitempty"`
	TxLog            []string       `json:"tx_log,omitempty"`
	JoinedTick       uint64         `json:"joined_tick"`
}

type SessionV1 struct {
	ResumeToken string `json:"resume_token"`
	PlayerID    string `json:"player_id"`
}

type PopulationV1 struct {
	Children    int        `json:"children"`
	Adults      int        `json:"adults"`
	Seniors     int        `json:"seniors"`
	Ages        [3]float64 `json:"ages"`
	Accumulator float64    `json:"accumulator"`
	PoorDays    int        `json:"poor_days"`
}

type ListingV1 struct {
	ID              string `json:"id"`
	Seller          string `json:"seller"`
	Quantity        int    `json:"quantity"`
	ReservePrice    int64  `json:"reserve_price"`
	BuyNowPrice     int64  `json:"buy_now_price,omitempty"`
	CurrentBid      int64  `json:"current_bid,omitempty"`
	CurrentBidder   string `json:"current_bidder,omitempty"`
	Status          string `json:"status"`
	CreatedTick     uint64 `json:"created_tick"`
	ExpiresTick     uint64 `json:"expires_tick"`
	Month           int    `json:"month"`
	EscrowMonthly   int    `json:"escrow_monthly,omitempty"`
	EscrowPurchased int    `json:"escrow_purchased,omitempty"`
}

type AuctionV1 struct {
	ID                   string `json:"id"`
	Loc                  [2]int `json:"loc"`
	Starter              string `json:"starter"`
	Owner                string `json:"owner"`
	OpeningBid           int64  `json:"opening_bid"`
	CurrentBid           int64  `json:"current_bid"`
	HighBidder           string `json:"high_bidder,omitempty"`
	HighBidTotal         int64  `json:"high_bid_total,omitempty"`
	BuildingValue        int64  `json:"building_value"`
	Phase                string `json:"phase"`
	Outcome              string `json:"outcome,omitempty"`
	StartedTick          uint64 `json:"started_tick"`
	ExpiresTick          uint64 `json:"expires_tick"`
	ResponseDeadlineTick uint64 `json:"response_deadline_tick,omitempty"`
}

type GovernanceV1 struct {
	Treasury       int64            `json:"treasury"`
	Budgets        map[string]int64 `json:"budgets"`
	LVTRate        float64          `json:"lvt_rate"`
	LVTCollected   int64            `json:"lvt_collected"`
	PublicSpending int64            `json:"public_spending"`
	FeesCollected  int64            `json:"fees_collected"`
}

// FileName is the on-disk name of a snapshot taken at tick.
func FileName(tick uint64) string { return fmt.Sprintf("%d.snap.zst", tick) }

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 64*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)

	// The JSON header line is for tools that only need room and tick; gob
	// carries it again.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the leading JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, err
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("snapshot header: %w", err)
	}
	return h, nil
}

// Latest returns the path of the highest-tick snapshot in dir, or "".
func Latest(dir string) string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}
