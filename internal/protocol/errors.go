package protocol

import (
	"errors"
	"fmt"
)

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrRoomNotFound    = "E_ROOM_NOT_FOUND"
	ErrRoomBusy        = "E_ROOM_BUSY"
	ErrRateLimit       = "E_RATE_LIMIT"

	// Transaction rule layer.
	ErrNoFunds         = "E_NO_FUNDS"
	ErrNotOwner        = "E_NOT_OWNER"
	ErrOccupied        = "E_OCCUPIED"
	ErrInvalidLocation = "E_INVALID_LOCATION"
	ErrUnknownTx       = "E_UNKNOWN_TX"
	ErrDuplicateTx     = "E_DUPLICATE_TX"
	ErrBadPhase        = "E_BAD_PHASE"
	ErrNotFound        = "E_NOT_FOUND"
	ErrNoActions       = "E_NO_ACTIONS"
	ErrBadRequest      = "E_BAD_REQUEST"
	ErrConflict        = "E_CONFLICT"
	ErrProtected       = "E_PROTECTED"
	ErrNotReady        = "E_NOT_READY"
	ErrGameOver        = "E_GAME_OVER"
	ErrInternal        = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrRoomNotFound:    {},
	ErrRoomBusy:        {},
	ErrRateLimit:       {},
	ErrNoFunds:         {},
	ErrNotOwner:        {},
	ErrOccupied:        {},
	ErrInvalidLocation: {},
	ErrUnknownTx:       {},
	ErrDuplicateTx:     {},
	ErrBadPhase:        {},
	ErrNotFound:        {},
	ErrNoActions:       {},
	ErrBadRequest:      {},
	ErrConflict:        {},
	ErrProtected:       {},
	ErrNotReady:        {},
	ErrGameOver:        {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// TxError is a rule rejection: a protocol code plus a human-readable message.
type TxError struct {
	Code string
	Msg  string
}

func (e *TxError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Msg
}

func Reject(code, format string, args ...any) *TxError {
	return &TxError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf returns the protocol code carried by err, or E_INTERNAL.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var te *TxError
	if errors.As(err, &te) {
		return te.Code
	}
	return ErrInternal
}
