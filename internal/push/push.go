// Package push derives the device push registration state.
//
// The OS permission can change outside the process, so callers re-derive the
// state with [Derive] every time they need it instead of caching it.
package push

import (
	"context"
	"errors"

	"github.com/inovacc/deploywatch/internal/model"
)

// ErrPermissionDenied is returned when the user declines push permission.
var ErrPermissionDenied = errors.New("push permission denied")

// Registrar is the platform notification permission and token provider.
type Registrar interface {
	// Permission reports whether push permission is currently granted.
	Permission(ctx context.Context) (bool, error)

	// RequestPermission asks the user for permission and reports the outcome.
	RequestPermission(ctx context.Context) (bool, error)

	// Token returns the device push token, empty when unavailable.
	Token(ctx context.Context) (string, error)
}

// Derive reads the current push state from r. A token is only fetched when
// permission is granted.
func Derive(ctx context.Context, r Registrar) (model.PushState, error) {
	granted, err := r.Permission(ctx)
	if err != nil {
		return model.PushState{}, err
	}

	if !granted {
		return model.PushState{}, nil
	}

	token, err := r.Token(ctx)
	if err != nil {
		return model.PushState{Granted: true}, err
	}

	return model.PushState{Granted: true, Token: token}, nil
}

// Request asks for permission and returns the resulting state.
// ErrPermissionDenied is returned when the user declines.
func Request(ctx context.Context, r Registrar) (model.PushState, error) {
	granted, err := r.RequestPermission(ctx)
	if err != nil {
		return model.PushState{}, err
	}

	if !granted {
		return model.PushState{}, ErrPermissionDenied
	}

	return Derive(ctx, r)
}

// Static is a fixed Registrar, mostly for tests.
type Static struct {
	Granted bool
	Value   string

	// Grant is the answer given to RequestPermission
	Grant bool
}

func (s *Static) Permission(context.Context) (bool, error) { return s.Granted, nil }

func (s *Static) RequestPermission(context.Context) (bool, error) {
	if s.Grant {
		s.Granted = true
	}

	return s.Granted, nil
}

func (s *Static) Token(context.Context) (string, error) {
	if !s.Granted {
		return "", nil
	}

	return s.Value, nil
}
