package multiroom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gridcity.ai/internal/protocol"
	"gridcity.ai/internal/sim/room"
)

type Session struct {
	PlayerID string
	RoomID   string
	Out      chan []byte
}

type Runtime struct {
	Spec RoomSpec
	Room *room.Room
}

// Factory builds and starts a room for spec. The manager calls it for rooms
// created on demand and for dynamic rooms restored from the state file.
type Factory func(spec RoomSpec) (*Runtime, error)

const (
	stateVersion       = 1
	roomRequestTimeout = 3 * time.Second
)

var ErrResumeNotFound = errors.New("resume token not found")

type persistedState struct {
	Version      int               `json:"version"`
	ResumeToRoom map[string]string `json:"resume_to_room"`
	PlayerToRoom map[string]string `json:"player_to_room,omitempty"`
	DynamicRooms []string          `json:"dynamic_rooms,omitempty"`
}

type Manager struct {
	mu sync.RWMutex

	cfg       Config
	runtimes  map[string]*Runtime
	dynamic   map[string]bool
	factory   Factory
	defaultID string
	stateFile string

	// playerToRoom is keyed by room-qualified player id ("room/P0001"):
	// player ids are only unique within a room.
	playerToRoom map[string]string
	resumeToRoom map[string]string

	persistDebounce time.Duration
	persistCh       chan struct{}
	persistFlush    chan chan struct{}
	persistStop     chan struct{}
	persistWG       sync.WaitGroup
	closeOnce       sync.Once
}

func NewManager(cfg Config, runtimes map[string]*Runtime, factory Factory, stateFile string) (*Manager, error) {
	if len(runtimes) == 0 {
		return nil, fmt.Errorf("empty runtimes")
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, spec := range cfg.Rooms {
		rt := runtimes[spec.ID]
		if rt == nil || rt.Room == nil {
			return nil, fmt.Errorf("missing runtime for room %s", spec.ID)
		}
	}
	m := &Manager{
		cfg:             cfg,
		runtimes:        runtimes,
		dynamic:         map[string]bool{},
		factory:         factory,
		defaultID:       cfg.DefaultRoomID,
		stateFile:       stateFile,
		playerToRoom:    map[string]string{},
		resumeToRoom:    map[string]string{},
		persistDebounce: 200 * time.Millisecond,
		persistCh:       make(chan struct{}, 1),
		persistFlush:    make(chan chan struct{}, 8),
		persistStop:     make(chan struct{}),
	}
	m.loadState()
	m.persistWG.Add(1)
	go m.persistLoop()
	return m, nil
}

func playerKey(roomID, playerID string) string { return roomID + "/" + playerID }

func (m *Manager) RoomIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.runtimes))
	for id := range m.runtimes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) Runtime(id string) *Runtime {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runtimes[id]
}

// Manifest lists every room with its current player count.
func (m *Manager) Manifest() []protocol.RoomRef {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]protocol.RoomRef, 0, len(m.runtimes))
	for id, rt := range m.runtimes {
		out = append(out, protocol.RoomRef{
			RoomID:  id,
			Name:    rt.Spec.Name,
			Players: rt.Room.Metrics().Players,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

// Join creates a new player in the preferred room (or the default room).
// With allow_dynamic an unknown room id creates that room.
func (m *Manager) Join(ctx context.Context, name string, out chan []byte, roomPref string) (Session, room.JoinResponse, error) {
	rt, err := m.pickRoom(roomPref)
	if err != nil {
		return Session{}, room.JoinResponse{}, err
	}
	if limit := rt.Spec.MaxPlayers; limit > 0 && rt.Room.Metrics().Players >= limit {
		return Session{}, room.JoinResponse{}, protocol.Reject(protocol.ErrRoomBusy, "room %s is full", rt.Spec.ID)
	}

	reqCtx, cancel := m.requestCtx(ctx)
	defer cancel()
	resp, err := rt.Room.RequestJoin(reqCtx, room.JoinRequest{Name: name, Out: out})
	if err != nil {
		return Session{}, room.JoinResponse{}, fmt.Errorf("join request failed: %w", err)
	}
	if resp.Err != nil {
		return Session{}, room.JoinResponse{}, resp.Err
	}
	if resp.Welcome.PlayerID == "" {
		return Session{}, room.JoinResponse{}, fmt.Errorf("join failed")
	}
	resp.Welcome.RoomManifest = m.Manifest()
	s := Session{PlayerID: resp.Welcome.PlayerID, RoomID: rt.Spec.ID, Out: out}
	m.updateResidency(s.RoomID, s.PlayerID, resp.Welcome.ResumeToken)
	return s, resp, nil
}

// Attach resumes a player by token, trying the room that issued it first.
func (m *Manager) Attach(ctx context.Context, resumeToken string, out chan []byte) (Session, room.JoinResponse, error) {
	resumeToken = strings.TrimSpace(resumeToken)
	if resumeToken == "" {
		return Session{}, room.JoinResponse{}, ErrResumeNotFound
	}
	roomID := m.roomByResumeToken(resumeToken)
	try := []string{}
	if roomID != "" {
		try = append(try, roomID)
	}
	for _, id := range m.RoomIDs() {
		if id != roomID {
			try = append(try, id)
		}
	}
	for _, id := range try {
		rt := m.Runtime(id)
		if rt == nil {
			continue
		}
		reqCtx, cancel := m.requestCtx(ctx)
		resp, err := rt.Room.RequestJoin(reqCtx, room.JoinRequest{ResumeToken: resumeToken, Out: out})
		cancel()
		if err != nil || resp.Err != nil || resp.Welcome.PlayerID == "" {
			continue
		}
		resp.Welcome.RoomManifest = m.Manifest()
		s := Session{PlayerID: resp.Welcome.PlayerID, RoomID: id, Out: out}
		m.updateResidency(id, s.PlayerID, resumeToken)
		return s, resp, nil
	}
	return Session{}, room.JoinResponse{}, ErrResumeNotFound
}

// Leave detaches the session's client; the player stays in the room and
// can resume later.
func (m *Manager) Leave(s Session) {
	if rt := m.Runtime(s.RoomID); rt != nil {
		rt.Room.Leave(room.LeaveRequest{PlayerID: s.PlayerID})
	}
}

// Submit routes an intent to the session's room. The intent always acts as
// the session's player.
func (m *Manager) Submit(ctx context.Context, s Session, in protocol.TxIntent) (protocol.TxResult, error) {
	rt := m.Runtime(s.RoomID)
	if rt == nil {
		return protocol.TxResult{}, protocol.Reject(protocol.ErrRoomNotFound, "room %s not found", s.RoomID)
	}
	in.PlayerID = s.PlayerID
	reqCtx, cancel := m.requestCtx(ctx)
	defer cancel()
	return rt.Room.Submit(reqCtx, in)
}

func (m *Manager) PlayerRoom(roomID, playerID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.playerToRoom[playerKey(roomID, playerID)]
}

func (m *Manager) requestCtx(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, roomRequestTimeout)
}

func (m *Manager) pickRoom(pref string) (*Runtime, error) {
	p := strings.TrimSpace(pref)
	if p == "" {
		p = m.defaultID
	}
	if rt := m.Runtime(p); rt != nil {
		return rt, nil
	}
	if !m.cfg.AllowDynamic || m.factory == nil {
		return nil, protocol.Reject(protocol.ErrRoomNotFound, "room %s not found", p)
	}
	return m.createRoom(p)
}

func (m *Manager) createRoom(id string) (*Runtime, error) {
	if !ValidRoomID(id) {
		return nil, protocol.Reject(protocol.ErrRoomNotFound, "invalid room id %q", id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if rt := m.runtimes[id]; rt != nil {
		return rt, nil
	}
	if len(m.runtimes) >= m.cfg.MaxRooms {
		return nil, protocol.Reject(protocol.ErrRoomBusy, "room limit %d reached", m.cfg.MaxRooms)
	}
	rt, err := m.factory(m.cfg.DynamicSpec(id))
	if err != nil {
		return nil, fmt.Errorf("create room %s: %w", id, err)
	}
	m.runtimes[id] = rt
	m.dynamic[id] = true
	m.schedulePersistLocked()
	return rt, nil
}

func (m *Manager) roomByResumeToken(token string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resumeToRoom[token]
}

func (m *Manager) updateResidency(roomID, playerID, resumeToken string) {
	if roomID == "" || playerID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playerToRoom[playerKey(roomID, playerID)] = roomID
	if strings.TrimSpace(resumeToken) != "" {
		m.resumeToRoom[resumeToken] = roomID
	}
	m.schedulePersistLocked()
}

func (m *Manager) loadState() {
	if m.stateFile == "" {
		return
	}
	b, err := os.ReadFile(m.stateFile)
	if err != nil {
		return
	}
	var st persistedState
	if err := json.Unmarshal(b, &st); err != nil {
		return
	}
	for k, v := range st.ResumeToRoom {
		if k != "" && v != "" {
			m.resumeToRoom[k] = v
		}
	}
	for k, v := range st.PlayerToRoom {
		if k != "" && v != "" {
			m.playerToRoom[k] = v
		}
	}
	if m.factory == nil {
		return
	}
	for _, id := range st.DynamicRooms {
		if _, ok := m.runtimes[id]; ok || !ValidRoomID(id) || len(m.runtimes) >= m.cfg.MaxRooms {
			continue
		}
		rt, err := m.factory(m.cfg.DynamicSpec(id))
		if err != nil {
			continue
		}
		m.runtimes[id] = rt
		m.dynamic[id] = true
	}
}

func (m *Manager) schedulePersistLocked() {
	if m.stateFile == "" || m.persistCh == nil {
		return
	}
	select {
	case m.persistCh <- struct{}{}:
	default:
	}
}

func (m *Manager) persistLoop() {
	defer m.persistWG.Done()
	var timer *time.Timer
	stopTimer := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer = nil
	}
	for {
		var timerCh <-chan time.Time
		if timer != nil {
			timerCh = timer.C
		}
		select {
		case <-m.persistStop:
			stopTimer()
			m.persistNow()
			return
		case <-m.persistCh:
			stopTimer()
			timer = time.NewTimer(m.persistDebounce)
		case ack := <-m.persistFlush:
			stopTimer()
			m.persistNow()
			if ack != nil {
				close(ack)
			}
		case <-timerCh:
			timer = nil
			m.persistNow()
		}
	}
}

// Close stops the persistence loop after a final write. Rooms are owned by
// the caller.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.persistStop)
		m.persistWG.Wait()
	})
}

func (m *Manager) FlushState(ctx context.Context) error {
	if m.stateFile == "" {
		return nil
	}
	ack := make(chan struct{})
	select {
	case m.persistFlush <- ack:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) persistNow() {
	m.writeState(m.snapshotState())
}

func (m *Manager) snapshotState() persistedState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := persistedState{
		Version:      stateVersion,
		ResumeToRoom: make(map[string]string, len(m.resumeToRoom)),
		PlayerToRoom: make(map[string]string, len(m.playerToRoom)),
	}
	for k, v := range m.resumeToRoom {
		st.ResumeToRoom[k] = v
	}
	for k, v := range m.playerToRoom {
		st.PlayerToRoom[k] = v
	}
	for id := range m.dynamic {
		st.DynamicRooms = append(st.DynamicRooms, id)
	}
	sort.Strings(st.DynamicRooms)
	return st
}

func (m *Manager) writeState(st persistedState) {
	if m.stateFile == "" {
		return
	}
	b, _ := json.MarshalIndent(st, "", "  ")
	_ = os.MkdirAll(filepath.Dir(m.stateFile), 0o755)
	tmp := m.stateFile + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, m.stateFile)
}
