//go:generate go run go.uber.org/mock/mockgen -source=directory.go -destination=../mocks/mock_directory.go -package=mocks
package chat

import (
	"context"

	"whchat/internal/user"
)

// Directory is the user directory as the core sees it. user.Service
// implements it.
type Directory interface {
	Exists(ctx context.Context, userID string) (bool, error)
	GetProfile(ctx context.Context, userID string) (*user.Profile, error)
	GetProfiles(ctx context.Context, userIDs []string) (map[string]user.Profile, error)
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
}

// Metrics is the slice of metrics.Collector the core reports to.
type Metrics interface {
	MessagePersisted(messageType string)
	PushResult(event string, ok bool)
	SessionsChanged(live int)
}

type nopMetrics struct{}

func (nopMetrics) MessagePersisted(string) {}
func (nopMetrics) PushResult(string, bool) {}
func (nopMetrics) SessionsChanged(int) {}
