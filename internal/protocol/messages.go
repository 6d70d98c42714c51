package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	RoomID          string     `json:"room_id,omitempty"`
	PlayerName      string     `json:"player_name"`
	Auth            *HelloAuth `json:"auth,omitempty"`
}

type HelloAuth struct {
	// ResumeToken reattaches to an existing player in the room.
	ResumeToken string `json:"resume_token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	RoomID          string     `json:"room_id"`
	PlayerID        string     `json:"player_id"`
	ResumeToken     string     `json:"resume_token"`
	RoomParams      RoomParams `json:"room_params"`
	CatalogDigest   string     `json:"catalog_digest"`
	RoomManifest    []RoomRef  `json:"room_manifest,omitempty"`
}

type RoomParams struct {
	GridSize     int  `json:"grid_size"`
	TickRateHz   int  `json:"tick_rate_hz"`
	DayTicks     int  `json:"day_ticks"`
	MonthDays    int  `json:"month_days"`
	VictoryDay   int  `json:"victory_day"`
	SinglePlayer bool `json:"single_player,omitempty"`
}

type RoomRef struct {
	RoomID  string `json:"room_id"`
	Name    string `json:"name,omitempty"`
	Players int    `json:"players"`
}

// TX (client -> server)
type TxMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Tx              TxIntent `json:"tx"`
}

// TX_RESULT (server -> client)
type TxResultMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Result          TxResult `json:"result"`
}

// ERROR (server -> client) for handshake and transport failures.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

type ParcelView struct {
	Loc                [2]int `json:"loc"`
	Owner              string `json:"owner"`
	Price              int64  `json:"price"`
	BuildingID         string `json:"buildingId,omitempty"`
	ProtectedUntilTick uint64 `json:"protectedUntilTick,omitempty"`
	UnderAuction       string `json:"underAuction,omitempty"`
}

type BuildingView struct {
	ID                string  `json:"id"`
	Type              string  `json:"type"`
	Category          string  `json:"category"`
	Owner             string  `json:"owner"`
	Loc               [2]int  `json:"loc"`
	UnderConstruction bool    `json:"underConstruction"`
	Progress          float64 `json:"progress"`
	Age               int     `json:"age"`
	Condition         float64 `json:"condition"`
	Residents         int     `json:"residents"`
	Revenue           float64 `json:"revenue"`
	Maintenance       float64 `json:"maintenance"`
	LocalNeeds        float64 `json:"localNeeds"`
	LocalCARENS       float64 `json:"localCarens"`
}

type ActionsView struct {
	Monthly   int `json:"monthly"`
	Purchased int `json:"purchased"`
	Total     int `json:"total"`
}

type PlayerView struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Cash         int64          `json:"cash"`
	Wealth       int64          `json:"wealth"`
	Actions      ActionsView    `json:"actions"`
	VotingPoints int            `json:"votingPoints"`
	Allocations  map[string]int `json:"allocations,omitempty"`
}

type ResourceView struct {
	Supply     float64 `json:"supply"`
	Demand     float64 `json:"demand"`
	Multiplier float64 `json:"multiplier"`
}

type JEEFHHView struct {
	Resources map[string]ResourceView `json:"resources"`
	Global    float64                 `json:"global"`
}

type CARENSView struct {
	Points     map[string]float64 `json:"points"`
	Multiplier float64            `json:"multiplier"`
}

type PopulationView struct {
	Total          int     `json:"total"`
	Children       int     `json:"children"`
	Adults         int     `json:"adults"`
	Seniors        int     `json:"seniors"`
	Capacity       int     `json:"capacity"`
	Attractiveness float64 `json:"attractiveness"`
	PoorDays       int     `json:"poorDays"`
}

type CashflowView struct {
	Revenue     float64 `json:"revenue"`
	Maintenance float64 `json:"maintenance"`
	Net         float64 `json:"net"`
}

type GovernanceView struct {
	Treasury       int64            `json:"treasury"`
	Budgets        map[string]int64 `json:"budgets"`
	LVTRate        float64          `json:"lvtRate"`
	LVTCollected   int64            `json:"lvtCollected"`
	PublicSpending int64            `json:"publicSpending"`
}

type ListingView struct {
	ID            string `json:"id"`
	Seller        string `json:"seller"`
	Quantity      int    `json:"quantity"`
	ReservePrice  int64  `json:"reservePrice"`
	BuyNowPrice   int64  `json:"buyNowPrice,omitempty"`
	CurrentBid    int64  `json:"currentBid,omitempty"`
	CurrentBidder string `json:"currentBidder,omitempty"`
	Status        string `json:"status"`
	CreatedTick   uint64 `json:"createdTick"`
	ExpiresTick   uint64 `json:"expiresTick"`
	Month         int    `json:"month"`
}

type AuctionView struct {
	ID                   string `json:"id"`
	Loc                  [2]int `json:"loc"`
	Starter              string `json:"starter"`
	Owner                string `json:"owner"`
	OpeningBid           int64  `json:"openingBid"`
	CurrentBid           int64  `json:"currentBid"`
	HighBidder           string `json:"highBidder,omitempty"`
	HighBidTotal         int64  `json:"highBidTotal,omitempty"`
	BuildingValue        int64  `json:"buildingValue"`
	Phase                string `json:"phase"`
	Outcome              string `json:"outcome,omitempty"`
	StartedTick          uint64 `json:"startedTick"`
	ExpiresTick          uint64 `json:"expiresTick"`
	ResponseDeadlineTick uint64 `json:"responseDeadlineTick,omitempty"`
}

// GameState is the full authoritative room snapshot sent on join and on resync.
type GameState struct {
	RoomID     string                  `json:"roomId"`
	Tick       uint64                  `json:"tick"`
	GameTime   float64                 `json:"gameTime"`
	GameDay    int                     `json:"gameDay"`
	Month      int                     `json:"month"`
	Started    bool                    `json:"started"`
	GameOver   bool                    `json:"gameOver"`
	GridSize   int                     `json:"gridSize"`
	Grid       [][]ParcelView          `json:"grid"`
	Buildings  []BuildingView          `json:"buildings"`
	Players    []PlayerView            `json:"players"`
	JEEFHH     JEEFHHView              `json:"jeefhh"`
	CARENS     CARENSView              `json:"carens"`
	Population PopulationView          `json:"population"`
	Cashflow   map[string]CashflowView `json:"cashflow"`
	Governance GovernanceView          `json:"governance"`
	Listings   []ListingView           `json:"listings"`
	Auctions   []AuctionView           `json:"auctions"`
}

// GameStateDelta carries only what changed since the previous broadcast.
type GameStateDelta struct {
	Parcels          []ParcelView    `json:"parcels,omitempty"`
	Buildings        []BuildingView  `json:"buildings,omitempty"`
	RemovedBuildings [][2]int        `json:"removedBuildings,omitempty"`
	Players          []PlayerView    `json:"players,omitempty"`
	RemovedPlayers   []string        `json:"removedPlayers,omitempty"`
	JEEFHH           *JEEFHHView     `json:"jeefhh,omitempty"`
	CARENS           *CARENSView     `json:"carens,omitempty"`
	Population       *PopulationView `json:"population,omitempty"`
	Governance       *GovernanceView `json:"governance,omitempty"`
}

func (d GameStateDelta) Empty() bool {
	return len(d.Parcels) == 0 && len(d.Buildings) == 0 && len(d.RemovedBuildings) == 0 &&
		len(d.Players) == 0 && len(d.RemovedPlayers) == 0 &&
		d.JEEFHH == nil && d.CARENS == nil && d.Population == nil && d.Governance == nil
}

type TransactionComplete struct {
	Transaction TxIntent `json:"transaction"`
	Result      TxResult `json:"result"`
}

type BuildingCompleted struct {
	Building BuildingView `json:"building"`
}

type MonthlyUpdate struct {
	Month        int              `json:"month"`
	Allowance    int              `json:"allowance"`
	LVTRate      float64          `json:"lvtRate"`
	LVTCollected int64            `json:"lvtCollected"`
	Distributed  map[string]int64 `json:"distributed,omitempty"`
	Resolved     []ListingView    `json:"resolved,omitempty"`
}

type PopulationWarning struct {
	Severe         bool    `json:"severe"`
	PoorDays       int     `json:"poorDays"`
	Attractiveness float64 `json:"attractiveness"`
	Population     int     `json:"population"`
	Lost           int     `json:"lost,omitempty"`
}

type ScoreView struct {
	Rank     int     `json:"rank"`
	PlayerID string  `json:"playerId"`
	Name     string  `json:"name"`
	Wealth   int64   `json:"wealth"`
	Civic    float64 `json:"civic"`
	Score    float64 `json:"score"`
}

type VictoryStats struct {
	FinalPopulation int     `json:"finalPopulation"`
	TotalWealth     int64   `json:"totalWealth"`
	TotalBuildings  int     `json:"totalBuildings"`
	LVTCollected    int64   `json:"lvtCollected"`
	PublicSpending  int64   `json:"publicSpending"`
	FinalLVTRate    float64 `json:"finalLvtRate"`
}

type Victory struct {
	Day         int          `json:"day"`
	Leaderboard []ScoreView  `json:"leaderboard"`
	Stats       VictoryStats `json:"stats"`
}
