package room

import (
	"context"
	"errors"
	"time"

	"gridcity.ai/internal/protocol"
)

var ErrStopped = errors.New("room stopped")

// Run owns the room state until ctx is done or Stop is called.
// Transactions are processed as they arrive; the ticker drives the clock.
func (r *Room) Run(ctx context.Context) error {
	hz := r.tune.TickRateHz
	if hz <= 0 {
		hz = 1
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	r.logger.Printf("running at %d Hz, grid %dx%d", hz, r.cfg.GridSize, r.cfg.GridSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stop:
			return nil
		case req := <-r.join:
			r.handleJoin(req)
		case req := <-r.leave:
			r.handleLeave(req)
		case ack := <-r.snapReq:
			ack <- r.pushSnapshot()
		case req := <-r.inbox:
			res := r.Process(req.Intent)
			if req.Resp != nil {
				select {
				case req.Resp <- res:
				default:
				}
			}
		case <-ticker.C:
			r.Tick()
			if !r.ledger.Started() {
				r.publishMetrics(0)
			}
		}
	}
}

func (r *Room) Stop() { r.stopOnce.Do(func() { close(r.stop) }) }

// Submit hands an intent to the room goroutine and waits for its result.
func (r *Room) Submit(ctx context.Context, in protocol.TxIntent) (protocol.TxResult, error) {
	req := SubmitRequest{Intent: in, Resp: make(chan protocol.TxResult, 1)}
	select {
	case r.inbox <- req:
	case <-r.stop:
		return protocol.TxResult{}, ErrStopped
	case <-ctx.Done():
		return protocol.TxResult{}, ctx.Err()
	}
	select {
	case res := <-req.Resp:
		return res, nil
	case <-r.stop:
		return protocol.TxResult{}, ErrStopped
	case <-ctx.Done():
		return protocol.TxResult{}, ctx.Err()
	}
}

// RequestJoin attaches a client through the room goroutine.
func (r *Room) RequestJoin(ctx context.Context, req JoinRequest) (JoinResponse, error) {
	if req.Resp == nil {
		req.Resp = make(chan JoinResponse, 1)
	}
	select {
	case r.join <- req:
	case <-r.stop:
		return JoinResponse{}, ErrStopped
	case <-ctx.Done():
		return JoinResponse{}, ctx.Err()
	}
	select {
	case resp := <-req.Resp:
		return resp, nil
	case <-r.stop:
		return JoinResponse{}, ErrStopped
	case <-ctx.Done():
		return JoinResponse{}, ctx.Err()
	}
}

// RequestSnapshot asks the room goroutine to push a snapshot to the sink now.
func (r *Room) RequestSnapshot(ctx context.Context) (uint64, error) {
	ack := make(chan uint64, 1)
	select {
	case r.snapReq <- ack:
	case <-r.stop:
		return 0, ErrStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case tick := <-ack:
		return tick, nil
	case <-r.stop:
		return 0, ErrStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Leave detaches a client. It never blocks the caller for long: if the
// room is stopped the request is dropped.
func (r *Room) Leave(req LeaveRequest) {
	select {
	case r.leave <- req:
	case <-r.stop:
	case <-time.After(time.Second):
		r.logger.Printf("leave %s dropped: queue full", req.PlayerID)
	}
}
