package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"gridcity.ai/internal/protocol"
	"gridcity.ai/internal/sim/multiroom"
	"gridcity.ai/internal/sim/room"
	"gridcity.ai/internal/sim/tuning"
)

const (
	handshakeTimeout = 5 * time.Second
	readTimeout      = 60 * time.Second
	writeTimeout     = 5 * time.Second
	outQueue         = 64
)

type Server struct {
	rooms *multiroom.Manager
	log   *log.Logger

	txRate  rate.Limit
	txBurst int

	upgrader websocket.Upgrader
}

func NewServer(m *multiroom.Manager, limits tuning.RateLimits, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[ws] ", log.LstdFlags|log.Lmicroseconds)
	}
	s := &Server{
		rooms:   m,
		log:     logger,
		txRate:  rate.Limit(limits.TxPerSecond),
		txBurst: limits.TxBurst,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	if s.txRate <= 0 {
		s.txRate = rate.Inf
	}
	if s.txBurst <= 0 {
		s.txBurst = 1
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess, ok := s.handshake(r.Context(), conn)
		if !ok {
			return
		}
		defer s.rooms.Leave(sess)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Replies are never dropped; room broadcasts on sess.Out may be.
		replies := make(chan []byte, 16)
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			for {
				var b []byte
				select {
				case <-ctx.Done():
					return
				case b = <-replies:
				case b = <-sess.Out:
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					cancel()
					return
				}
			}
		}()
		reply := func(v any) bool {
			b, err := json.Marshal(v)
			if err != nil {
				s.log.Printf("marshal reply: %v", err)
				return true
			}
			select {
			case replies <- b:
				return true
			case <-ctx.Done():
				return false
			}
		}

		limiter := rate.NewLimiter(s.txRate, s.txBurst)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if !reply(s.handleMessage(ctx, sess, limiter, msg)) {
				break
			}
		}
		cancel()
		<-writerDone
	}
}

// handleMessage turns one client frame into the reply to send back.
func (s *Server) handleMessage(ctx context.Context, sess multiroom.Session, limiter *rate.Limiter, msg []byte) any {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return errorMsg(protocol.ErrProtoBadRequest, "malformed json")
	}
	if base.Type != protocol.TypeTx {
		return errorMsg(protocol.ErrProtoBadRequest, "unexpected message type "+base.Type)
	}
	var tx protocol.TxMsg
	if err := json.Unmarshal(msg, &tx); err != nil {
		return errorMsg(protocol.ErrProtoBadRequest, "malformed TX")
	}
	if tx.ProtocolVersion != protocol.Version {
		return errorMsg(protocol.ErrProtoBadRequest, "bad protocol_version")
	}
	if !limiter.Allow() {
		return txResult(protocol.TxResult{
			TransactionID: tx.Tx.ID,
			Error:         "too many transactions",
			Code:          protocol.ErrRateLimit,
		})
	}
	res, err := s.rooms.Submit(ctx, sess, tx.Tx)
	if err != nil {
		code := protocol.CodeOf(err)
		if errors.Is(err, room.ErrStopped) || errors.Is(err, context.DeadlineExceeded) {
			code = protocol.ErrRoomBusy
		}
		return txResult(protocol.TxResult{TransactionID: tx.Tx.ID, Error: err.Error(), Code: code})
	}
	return txResult(res)
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (multiroom.Session, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return multiroom.Session{}, false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		s.refuse(conn, protocol.ErrProtoBadRequest, "expected HELLO")
		return multiroom.Session{}, false
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		s.refuse(conn, protocol.ErrProtoBadRequest, "malformed HELLO")
		return multiroom.Session{}, false
	}
	if hello.ProtocolVersion != protocol.Version {
		s.refuse(conn, protocol.ErrProtoBadRequest, "bad protocol_version")
		return multiroom.Session{}, false
	}
	name := strings.TrimSpace(hello.PlayerName)
	if name == "" {
		name = "player"
	}

	out := make(chan []byte, outQueue)

	// Optional: resume an existing player (reconnect).
	var (
		sess multiroom.Session
		resp room.JoinResponse
	)
	if hello.Auth != nil && strings.TrimSpace(hello.Auth.ResumeToken) != "" {
		sess, resp, err = s.rooms.Attach(ctx, hello.Auth.ResumeToken, out)
	}
	if sess.PlayerID == "" {
		sess, resp, err = s.rooms.Join(ctx, name, out, hello.RoomID)
	}
	if err != nil {
		s.log.Printf("join %q room=%q: %v", name, hello.RoomID, err)
		s.refuse(conn, protocol.CodeOf(err), err.Error())
		return multiroom.Session{}, false
	}

	if err := writeJSON(conn, resp.Welcome); err != nil {
		s.rooms.Leave(sess)
		return multiroom.Session{}, false
	}
	state := protocol.Message{
		Type:     protocol.TypeGameState,
		RoomID:   resp.State.RoomID,
		Tick:     resp.State.Tick,
		GameTime: resp.State.GameTime,
		Data:     resp.State,
	}
	if err := writeJSON(conn, state); err != nil {
		s.rooms.Leave(sess)
		return multiroom.Session{}, false
	}
	return sess, true
}

// refuse reports a handshake failure and closes the connection.
func (s *Server) refuse(conn *websocket.Conn, code, message string) {
	_ = writeJSON(conn, errorMsg(code, message))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code), time.Now().Add(time.Second))
}

func errorMsg(code, message string) protocol.ErrorMsg {
	return protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         message,
	}
}

func txResult(res protocol.TxResult) protocol.TxResultMsg {
	return protocol.TxResultMsg{
		Type:            protocol.TypeTxResult,
		ProtocolVersion: protocol.Version,
		Result:          res,
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
