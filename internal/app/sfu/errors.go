package sfu

import (
	"errors"
	"fmt"

	"github.com/dkeye/Huddle/internal/domain"
)

var (
	ErrUnsupportedCodec = fmt.Errorf("%w: codec not in advertised capabilities", domain.ErrBadRequest)
	ErrTransportState   = fmt.Errorf("%w: transport not in the required state", domain.ErrConflict)
	ErrWrongDirection   = fmt.Errorf("%w: wrong transport direction", domain.ErrBadRequest)
	ErrAlreadyProducing = fmt.Errorf("%w: kind already produced", domain.ErrConflict)
	ErrAlreadyConsuming = fmt.Errorf("%w: producer already consumed on this transport", domain.ErrConflict)
	ErrOwnProducer      = fmt.Errorf("%w: cannot consume own producer", domain.ErrBadRequest)
	ErrGraphClosed      = fmt.Errorf("%w: media graph closed", domain.ErrResource)
)

// MediaError wraps a media-engine failure with the operation that
// triggered it. It always classifies as domain.ErrResource so the
// client sees a recoverable error and the room survives.
type MediaError struct {
	Op  string
	Err error
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("media %s: %v", e.Op, e.Err)
}

func (e *MediaError) Unwrap() error { return e.Err }

func (e *MediaError) Is(target error) bool { return target == domain.ErrResource }

func engineErr(op string, err error) error {
	var me *MediaError
	if errors.As(err, &me) {
		return err
	}
	return &MediaError{Op: op, Err: err}
}
