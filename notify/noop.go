package notify

import (
	"context"

	"github.com/sandboxhq/devicelink/domain"
)

// NoopNotifier is used when no post-link hook is configured.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, string, string) error { return nil }

var _ domain.Notifier = NoopNotifier{}
