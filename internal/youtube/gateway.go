package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	ytapi "google.golang.org/api/youtube/v3"

	"github.com/user/ytstats-ingest/internal/apikeys"
	"github.com/user/ytstats-ingest/internal/server"
)

// KeySource supplies API keys from a shared rotating pool.
type KeySource interface {
	// Current reads the active key without advancing the pool cursor.
	Current() (string, error)
	// Rotate advances the cursor and returns the key at the new position.
	Rotate() (string, error)
	// First returns the fallback key used when the cursor lock times out.
	First() string
}

// Gateway wraps the YouTube Data API service and handles quota-exhaustion
// rotation. Each concurrent fetch task owns its own Gateway instance, so no
// network session state is shared across tasks.
type Gateway struct {
	keys KeySource
	svc  *ytapi.Service
}

// NewGateway builds a service bound to the pool's current key.
func NewGateway(ctx context.Context, keys KeySource) (*Gateway, error) {
	key, err := keys.Current()
	if err != nil {
		if !errors.Is(err, apikeys.ErrLockTimeout) {
			return nil, err
		}
		key = keys.First()
	}

	g := &Gateway{keys: keys}
	if err := g.rebuild(ctx, key); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Gateway) rebuild(ctx context.Context, key string) error {
	svc, err := ytapi.NewService(ctx, option.WithAPIKey(key))
	if err != nil {
		return fmt.Errorf("failed to create YouTube service: %w", err)
	}
	g.svc = svc
	return nil
}

// execute runs one API call. If the call is rejected for quota exhaustion
// it rotates the key pool once, rebuilds the service, and retries the same
// call exactly once; every other failure is surfaced unmodified. A single
// retry keeps systemic outages from being masked as quota issues.
func (g *Gateway) execute(ctx context.Context, call func(*ytapi.Service) error) error {
	err := call(g.svc)
	if err == nil || !IsQuotaExceeded(err) {
		return err
	}

	log.Info().Msg("Quota exceeded, rotating API key")

	key, rerr := g.keys.Rotate()
	if rerr != nil {
		if !errors.Is(rerr, apikeys.ErrLockTimeout) {
			return err
		}
		key = g.keys.First()
	} else {
		server.KeyRotations.Inc()
	}
	if berr := g.rebuild(ctx, key); berr != nil {
		return berr
	}
	return call(g.svc)
}

// IsQuotaExceeded reports whether err is a quota-exhaustion rejection for
// the current API key.
func IsQuotaExceeded(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || gerr.Code != http.StatusForbidden {
		return false
	}
	for _, item := range gerr.Errors {
		if item.Reason == "quotaExceeded" || item.Reason == "dailyLimitExceeded" {
			return true
		}
	}
	return strings.Contains(gerr.Body, "quotaExceeded")
}

// IsCommentsDisabled reports whether err signals that the video owner has
// disabled comments. This is a valid terminal state, not a failure.
func IsCommentsDisabled(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || gerr.Code != http.StatusForbidden {
		return false
	}
	for _, item := range gerr.Errors {
		if item.Reason == "commentsDisabled" {
			return true
		}
	}
	return strings.Contains(gerr.Body, "commentsDisabled")
}
