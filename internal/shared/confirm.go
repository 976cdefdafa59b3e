package shared

import (
	"context"
	"net/http"
	"strings"
)

// Prompt describes a yes/no question put to the user.
type Prompt struct {
	Title   string
	Message string
}

// ConfirmationGate asks the user to approve a destructive operation.
type ConfirmationGate interface {
	Confirm(ctx context.Context, p Prompt) (bool, error)
}

// ConfirmFunc adapts a function to ConfirmationGate.
type ConfirmFunc func(ctx context.Context, p Prompt) (bool, error)

// Confirm implements ConfirmationGate.
func (f ConfirmFunc) Confirm(ctx context.Context, p Prompt) (bool, error) { return f(ctx, p) }

// ConfirmDeleteHeader is the header a client sets after the user accepted the
// delete prompt.
const ConfirmDeleteHeader = "X-Confirm-Delete"

// HeaderConfirmation treats an affirmative header value on r as the user's
// answer to any prompt.
func HeaderConfirmation(r *http.Request, header string) ConfirmationGate {
	return ConfirmFunc(func(context.Context, Prompt) (bool, error) {
		switch strings.ToLower(strings.TrimSpace(r.Header.Get(header))) {
		case "yes", "true", "1":
			return true, nil
		}
		return false, nil
	})
}

// ConfirmThen runs fn only when the gate answers yes. A declined prompt
// returns ErrNotConfirmed without calling fn.
func ConfirmThen(ctx context.Context, gate ConfirmationGate, p Prompt, fn func(context.Context) error) error {
	if gate == nil {
		return ErrNotConfirmed
	}
	ok, err := gate.Confirm(ctx, p)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotConfirmed
	}
	return fn(ctx)
}
