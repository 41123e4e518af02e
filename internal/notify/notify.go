// Package notify delivers import lifecycle events to owners. Delivery is best
// effort: callers log failures and move on.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

const (
	KindImportCompleted = "import.completed"
	KindImportFailed    = "import.failed"
)

type Notifier interface {
	Notify(ctx context.Context, ownerID, kind string, payload map[string]any) error
}

// Event is the envelope published for one notification.
type Event struct {
	Kind    string         `json:"kind"`
	OwnerID string         `json:"owner_id"`
	At      time.Time      `json:"at"`
	Payload map[string]any `json:"payload"`
}

// Log writes notifications to a zerolog logger.
type Log struct {
	Logger zerolog.Logger
}

func (l Log) Notify(_ context.Context, ownerID, kind string, payload map[string]any) error {
	l.Logger.Info().Str("owner_id", ownerID).Str("kind", kind).Fields(payload).Msg("notification")
	return nil
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ownerID, kind string, payload map[string]any) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ownerID, kind, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Notify(context.Context, string, string, map[string]any) error { return nil }
