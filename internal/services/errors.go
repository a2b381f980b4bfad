// Package services implements the bidirectional sync core between a Discord
// forum channel and GitHub Discussions. This file centralizes the
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// Translation into HTTP status codes is performed at the handler layer.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrStore wraps a mapping-store failure. It aborts the current sync
	// attempt and is surfaced to the caller (the webhook answers 500).
	ErrStore = errors.New("mapping store failure")

	// ErrRemote wraps a failure of the GitHub API. Forward sync catches it
	// per event and reports it in Discord instead of returning it.
	ErrRemote = errors.New("remote api failure")

	// ErrChat wraps a failure of the Discord API.
	ErrChat = errors.New("chat api failure")
)

func remoteFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrRemote, op, err)
}
