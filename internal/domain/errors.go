package domain

import (
	"errors"
	"fmt"
)

// Error classes shared by every component. Callers wrap them with %w
// and classify with errors.Is.
var (
	ErrAuth       = errors.New("unauthorized")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrResource   = errors.New("resource unavailable")
	ErrBadRequest = errors.New("bad request")
	ErrRoomClosed = errors.New("room closed")
	ErrRateLimit  = errors.New("rate limited")
)

var (
	ErrUserIDEmpty   = fmt.Errorf("%w: user id empty", ErrBadRequest)
	ErrUserIDTooLong = fmt.Errorf("%w: user id too long", ErrBadRequest)
	ErrEmailTooLong  = fmt.Errorf("%w: email too long", ErrBadRequest)
	ErrRoomIDEmpty   = fmt.Errorf("%w: room id empty", ErrBadRequest)
	ErrRoomIDTooLong = fmt.Errorf("%w: room id too long", ErrBadRequest)
)

// Code maps an error to the stable code sent to clients.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuth):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrResource):
		return "resource"
	case errors.Is(err, ErrRoomClosed):
		return "room_closed"
	case errors.Is(err, ErrRateLimit):
		return "rate_limited"
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	default:
		return "internal"
	}
}
