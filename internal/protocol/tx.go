package protocol

// TxType is the closed set of transaction kinds a room accepts.
type TxType string

const (
	TxBuildStart      TxType = "BUILD_START"
	TxBuildComplete   TxType = "BUILD_COMPLETE"
	TxDestroy         TxType = "DESTROY"
	TxRepair          TxType = "REPAIR"
	TxPurchaseParcel  TxType = "PURCHASE_PARCEL"
	TxSpendCash       TxType = "SPEND_CASH"
	TxGovernanceVote  TxType = "GOVERNANCE_VOTE"
	TxListingCreate   TxType = "LISTING_CREATE"
	TxListingBid      TxType = "LISTING_BID"
	TxListingBuyNow   TxType = "LISTING_BUY_NOW"
	TxListingCancel   TxType = "LISTING_CANCEL"
	TxListingEndEarly TxType = "LISTING_END_EARLY"
	TxAuctionStart    TxType = "AUCTION_START"
	TxAuctionBid      TxType = "AUCTION_BID"
	TxAuctionRespond  TxType = "AUCTION_RESPOND"
	TxSpendActions    TxType = "SPEND_ACTIONS"
)

var AllTxTypes = []TxType{
	TxBuildStart, TxBuildComplete, TxDestroy, TxRepair, TxPurchaseParcel, TxSpendCash,
	TxGovernanceVote, TxListingCreate, TxListingBid, TxListingBuyNow, TxListingCancel,
	TxListingEndEarly, TxAuctionStart, TxAuctionBid, TxAuctionRespond, TxSpendActions,
}

func (t TxType) Valid() bool {
	for _, v := range AllTxTypes {
		if v == t {
			return true
		}
	}
	return false
}

// AffectsBuildings reports whether the transaction can change the set of
// completed buildings, their owners or their condition.
func (t TxType) AffectsBuildings() bool {
	switch t {
	case TxBuildStart, TxBuildComplete, TxDestroy, TxRepair, TxAuctionRespond:
		return true
	}
	return false
}

// Auction owner responses.
const (
	ResponseMatch   = "MATCH"
	ResponseDecline = "DECLINE"
)

// TxIntent is a client transaction. Only the fields relevant to Type are read.
type TxIntent struct {
	ID       string `json:"id,omitempty"`
	Type     TxType `json:"type"`
	PlayerID string `json:"playerId,omitempty"`

	Loc          *[2]int `json:"loc,omitempty"`
	BuildingType string  `json:"buildingType,omitempty"`

	Amount   int64  `json:"amount,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Category string `json:"category,omitempty"`
	Points   int    `json:"points,omitempty"`

	Quantity     int    `json:"quantity,omitempty"`
	ReservePrice int64  `json:"reservePrice,omitempty"`
	BuyNowPrice  int64  `json:"buyNowPrice,omitempty"`
	ListingID    string `json:"listingId,omitempty"`

	AuctionID string `json:"auctionId,omitempty"`
	Response  string `json:"response,omitempty"`
}

// TxResult is returned for every intent, accepted or not.
type TxResult struct {
	Success       bool           `json:"success"`
	TransactionID string         `json:"transactionId"`
	NewBalance    *int64         `json:"newBalance,omitempty"`
	GameTime      float64        `json:"gameTime"`
	Error         string         `json:"error,omitempty"`
	Code          string         `json:"code,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}
