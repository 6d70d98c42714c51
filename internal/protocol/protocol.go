package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello    = "HELLO"
	TypeWelcome  = "WELCOME"
	TypeTx       = "TX"
	TypeTxResult = "TX_RESULT"
	TypeError    = "ERROR"

	TypeGameState           = "GAME_STATE"
	TypeGameStateDelta      = "GAME_STATE_DELTA"
	TypeTransactionComplete = "TRANSACTION_COMPLETE"
	TypeBuildingCompleted   = "BUILDING_COMPLETED"
	TypeMonthlyUpdate       = "MONTHLY_UPDATE"
	TypeParcelAuctionUpdate = "PARCEL_AUCTION_UPDATE"
	TypeListingUpdate       = "LISTING_UPDATE"
	TypePopulationWarning   = "POPULATION_WARNING"
	TypeGameVictory         = "GAME_VICTORY"
)

// Parcel auction update subtypes.
const (
	AuctionStarted            = "started"
	AuctionNewBid             = "new_bid"
	AuctionOwnerResponsePhase = "owner_response_phase"
	AuctionCompleted          = "completed"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// Message is a room broadcast. Data holds one of the view types below.
type Message struct {
	Type     string  `json:"type"`
	Subtype  string  `json:"subtype,omitempty"`
	RoomID   string  `json:"roomId"`
	Tick     uint64  `json:"tick"`
	GameTime float64 `json:"gameTime"`
	Data     any     `json:"data,omitempty"`
}
