// Package auth models caller-identity assertions as an explicit capability
// check. An operation claims "the caller is X"; the Authorizer decides whether
// the acting caller can prove that identity.
package auth

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnauthenticated is returned when the acting caller cannot prove the
// claimed identity.
var ErrUnauthenticated = errors.New("auth: caller cannot prove claimed identity")

// Authorizer validates "caller is identity" assertions. A nil return means
// the assertion holds for the acting caller attached to ctx.
type Authorizer interface {
	RequireAuth(ctx context.Context, identity string) error
}

type contextKey string

const callerKey contextKey = "caller"

// WithCaller attaches the acting caller's proven identity to the context.
func WithCaller(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, callerKey, identity)
}

// CallerFrom retrieves the acting caller's identity from the context.
func CallerFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(callerKey).(string)
	return id, ok && id != ""
}

// Static is an Authorizer trusting the caller identity already attached to the
// context by transport middleware. The assertion holds only when the claimed
// identity matches the attached one.
type Static struct{}

func (Static) RequireAuth(ctx context.Context, identity string) error {
	caller, ok := CallerFrom(ctx)
	if !ok {
		return fmt.Errorf("%w: no caller in context", ErrUnauthenticated)
	}
	if caller != identity {
		return fmt.Errorf("%w: caller %q is not %q", ErrUnauthenticated, caller, identity)
	}
	return nil
}
