package observerproto

import "gridcity.ai/internal/protocol"

// Version is the spectator protocol version (separate from the player WS protocol).
const Version = "0.1"

// Client -> Server. First message on the spectator WS connection; re-sending
// it switches the watched room.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RoomID          string `json:"room_id"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string     `json:"protocol_version"`
	Rooms           []RoomInfo `json:"rooms"`
}

type RoomInfo struct {
	RoomID     string              `json:"room_id"`
	Name       string              `json:"name"`
	Params     protocol.RoomParams `json:"room_params"`
	Tick       uint64              `json:"tick"`
	GameDay    int                 `json:"game_day"`
	Started    bool                `json:"started"`
	GameOver   bool                `json:"game_over"`
	Players    int                 `json:"players"`
	Clients    int                 `json:"clients"`
	Population int                 `json:"population"`
	Treasury   int64               `json:"treasury"`
}
