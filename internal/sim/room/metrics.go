package room

import "gridcity.ai/internal/sim/room/economy"

// RoomMetrics is a thread-safe read-only view of key room runtime signals.
// It is updated from the room goroutine and read from HTTP handlers/tests.
type RoomMetrics struct {
	Tick     uint64 `json:"tick"`
	GameDay  int    `json:"game_day"`
	Started  bool   `json:"started"`
	GameOver bool   `json:"game_over"`

	Players        int   `json:"players"`
	Clients        int   `json:"clients"`
	Buildings      int   `json:"buildings"`
	Population     int   `json:"population"`
	Treasury       int64 `json:"treasury"`
	ActiveListings int   `json:"active_listings"`
	OpenAuctions   int   `json:"open_auctions"`

	TxAccepted  uint64 `json:"tx_accepted"`
	TxRejected  uint64 `json:"tx_rejected"`
	TxDuplicate uint64 `json:"tx_duplicate"`
	Panics      uint64 `json:"panics"`

	QueueDepths QueueDepths `json:"queue_depths"`

	StepMS float64 `json:"step_ms"`

	Cache economy.CacheStats `json:"cache"`
}

type QueueDepths struct {
	Inbox int `json:"inbox"`
	Join  int `json:"join"`
	Leave int `json:"leave"`
}

// counters are bumped on the room goroutine only.
type counters struct {
	accepted  uint64
	rejected  uint64
	duplicate uint64
	panics    uint64
}

func (r *Room) publishMetrics(stepMS float64) {
	now := r.tick.Load()
	r.metrics.Store(RoomMetrics{
		Tick:           now,
		GameDay:        r.gameDay(now),
		Started:        r.ledger.Started(),
		GameOver:       r.gameOver,
		Players:        r.ledger.Len(),
		Clients:        len(r.clients),
		Buildings:      len(r.grid.Buildings()),
		Population:     r.pop.Total(),
		Treasury:       r.gov.Treasury(),
		ActiveListings: len(r.market.Active()),
		OpenAuctions:   len(r.auctions.Open()),
		TxAccepted:     r.stats.accepted,
		TxRejected:     r.stats.rejected,
		TxDuplicate:    r.stats.duplicate,
		Panics:         r.stats.panics,
		QueueDepths: QueueDepths{
			Inbox: len(r.inbox),
			Join:  len(r.join),
			Leave: len(r.leave),
		},
		StepMS: stepMS,
		Cache:  r.econ.Stats(),
	})
}

func (r *Room) Metrics() RoomMetrics {
	if r == nil {
		return RoomMetrics{}
	}
	v := r.metrics.Load()
	if v == nil {
		return RoomMetrics{}
	}
	m, ok := v.(RoomMetrics)
	if !ok {
		return RoomMetrics{}
	}
	return m
}
