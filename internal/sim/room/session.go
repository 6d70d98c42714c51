package room

import (
	"github.com/google/uuid"

	"gridcity.ai/internal/protocol"
)

// Params describes the room to clients.
func (r *Room) Params() protocol.RoomParams {
	return protocol.RoomParams{
		GridSize:     r.cfg.GridSize,
		TickRateHz:   r.tune.TickRateHz,
		DayTicks:     r.tune.DayTicks,
		MonthDays:    r.tune.MonthDays,
		VictoryDay:   r.cfg.VictoryDay,
		SinglePlayer: r.cfg.SinglePlayer,
	}
}

// AddPlayer registers a new player and returns its id and resume token.
func (r *Room) AddPlayer(name string) (id, token string) {
	now := r.tick.Load()
	id = r.newPlayerID()
	r.ledger.Ensure(id, name, now)
	token = uuid.NewString()
	r.tokens[token] = id
	r.touchPlayer(id)
	r.audit(AuditEntry{Actor: id, Action: "PLAYER_JOIN", Reason: name})
	r.maybeStart()
	return id, token
}

// RemovePlayer drops a departed player from the ledger. Parcels and
// buildings stay with the departed owner id.
func (r *Room) RemovePlayer(id string) bool {
	if !r.ledger.Remove(id) {
		return false
	}
	for tok, pid := range r.tokens {
		if pid == id {
			delete(r.tokens, tok)
		}
	}
	delete(r.clients, id)
	r.econ.InvalidatePlayer(id)
	r.delta.removePlayer(id)
	r.audit(AuditEntry{Actor: id, Action: "PLAYER_LEAVE"})
	return true
}

func (r *Room) handleJoin(req JoinRequest) {
	resp := r.joinOrResume(req)
	r.publishMetrics(r.Metrics().StepMS)
	if req.Resp != nil {
		select {
		case req.Resp <- resp:
		default:
		}
	}
	r.flushDelta()
}

func (r *Room) joinOrResume(req JoinRequest) JoinResponse {
	if req.Observe {
		return JoinResponse{
			Welcome: protocol.WelcomeMsg{
				Type:            protocol.TypeWelcome,
				ProtocolVersion: protocol.Version,
				RoomID:          r.cfg.ID,
				RoomParams:      r.Params(),
				CatalogDigest:   r.cats.Buildings.Digest,
			},
			State: r.GameState(),
		}
	}
	var id, token string
	if req.ResumeToken != "" {
		pid, ok := r.tokens[req.ResumeToken]
		if !ok || r.ledger.Get(pid) == nil {
			return JoinResponse{Err: protocol.Reject(protocol.ErrNotFound, "unknown resume token")}
		}
		id, token = pid, req.ResumeToken
	} else {
		id, token = r.AddPlayer(req.Name)
	}
	if req.Out != nil {
		r.clients[id] = &clientState{Out: req.Out}
	}
	return JoinResponse{
		Welcome: protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			RoomID:          r.cfg.ID,
			PlayerID:        id,
			ResumeToken:     token,
			RoomParams:      r.Params(),
			CatalogDigest:   r.cats.Buildings.Digest,
		},
		State: r.GameState(),
	}
}

func (r *Room) handleLeave(req LeaveRequest) {
	delete(r.clients, req.PlayerID)
	if req.Remove {
		r.RemovePlayer(req.PlayerID)
		r.flushDelta()
	}
	r.publishMetrics(r.Metrics().StepMS)
}
