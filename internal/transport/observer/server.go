package observer

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"gridcity.ai/internal/observerproto"
	"gridcity.ai/internal/protocol"
	"gridcity.ai/internal/sim/multiroom"
	"gridcity.ai/internal/sim/room"
)

// Hub fans room broadcasts out to spectators. Publish is installed as each
// room's broadcast hook, so it runs on room goroutines and never blocks.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[uint64]chan []byte
}

func NewHub() *Hub {
	return &Hub{subs: map[string]map[uint64]chan []byte{}}
}

func (h *Hub) Publish(msg protocol.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := h.subs[msg.RoomID]
	if len(subs) == 0 {
		return
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	for _, ch := range subs {
		sendLatest(ch, b)
	}
}

func (h *Hub) subscribe(roomID string, id uint64, ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[roomID] == nil {
		h.subs[roomID] = map[uint64]chan []byte{}
	}
	h.subs[roomID][id] = ch
}

func (h *Hub) unsubscribe(roomID string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[roomID], id)
	if len(h.subs[roomID]) == 0 {
		delete(h.subs, roomID)
	}
}

// Spectators reports how many connections watch roomID.
func (h *Hub) Spectators(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[roomID])
}

type Server struct {
	hub   *Hub
	rooms *multiroom.Manager
	log   *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(hub *Hub, m *multiroom.Manager, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[observer] ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Server{
		hub:   hub,
		rooms: m,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Bootstrap() observerproto.BootstrapResponse {
	resp := observerproto.BootstrapResponse{ProtocolVersion: observerproto.Version}
	for _, id := range s.rooms.RoomIDs() {
		rt := s.rooms.Runtime(id)
		if rt == nil {
			continue
		}
		m := rt.Room.Metrics()
		resp.Rooms = append(resp.Rooms, observerproto.RoomInfo{
			RoomID:     id,
			Name:       rt.Spec.Name,
			Params:     rt.Room.Params(),
			Tick:       m.Tick,
			GameDay:    m.GameDay,
			Started:    m.Started,
			GameOver:   m.GameOver,
			Players:    m.Players,
			Clients:    m.Clients,
			Population: m.Population,
			Treasury:   m.Treasury,
		})
	}
	return resp
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.Bootstrap())
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := parseSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := s.nextID.Add(1)
		out := make(chan []byte, 256)
		current := ""
		defer func() {
			if current != "" {
				s.hub.unsubscribe(current, sid)
			}
		}()
		watch := func(roomID string) bool {
			rt := s.rooms.Runtime(roomID)
			if rt == nil {
				return false
			}
			if current != "" {
				s.hub.unsubscribe(current, sid)
			}
			current = roomID
			s.hub.subscribe(roomID, sid, out)
			s.pushState(r.Context(), rt.Room, out)
			return true
		}
		if !watch(sub.RoomID) {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, protocol.ErrRoomNotFound), time.Now().Add(time.Second))
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE to switch rooms.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			sub, ok := parseSubscribe(msg)
			if !ok || sub.RoomID == current {
				continue
			}
			if !watch(sub.RoomID) {
				s.log.Printf("spectator %d: unknown room %q", sid, sub.RoomID)
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// pushState queues a full GAME_STATE so the spectator can apply later deltas.
func (s *Server) pushState(ctx context.Context, r *room.Room, out chan []byte) {
	reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	resp, err := r.RequestJoin(reqCtx, room.JoinRequest{Observe: true})
	if err != nil {
		s.log.Printf("state for %s: %v", r.ID(), err)
		return
	}
	b, err := json.Marshal(protocol.Message{
		Type:     protocol.TypeGameState,
		RoomID:   resp.State.RoomID,
		Tick:     resp.State.Tick,
		GameTime: resp.State.GameTime,
		Data:     resp.State,
	})
	if err != nil {
		return
	}
	sendLatest(out, b)
}

func parseSubscribe(msg []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
		return sub, false
	}
	sub.RoomID = strings.TrimSpace(sub.RoomID)
	return sub, true
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}

// IsLoopbackRemote reports whether a request's RemoteAddr is on this host.
func IsLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
