// Package bridge orchestrates the Emby transport and the canonical
// normalizers. It produces the current-activity view, synchronizes the
// user and library inventory, and drives both on a schedule through the
// Poller.
package bridge

import (
	"context"
	"log/slog"

	"github.com/opd-ai/go-emby-bridge/internal/canonical"
	"github.com/opd-ai/go-emby-bridge/internal/emby"
)

// Source is the part of the Emby client the bridge depends on.
type Source interface {
	GetSessions(ctx context.Context) ([]emby.RawSession, error)
	GetUsers(ctx context.Context) ([]emby.RawUser, error)
	GetLibraries(ctx context.Context) ([]emby.RawLibrary, error)
	GetServerInfo(ctx context.Context) (*emby.ServerInfo, error)
	GetPublicServerInfo(ctx context.Context) (*emby.PublicServerInfo, error)
	Ping(ctx context.Context) error
	TerminateSession(ctx context.Context, sessionID, message string) error
}

var _ Source = (*emby.Client)(nil)

// SessionNormalizer converts one raw session.
type SessionNormalizer func(*emby.RawSession) (canonical.Session, bool)

// Bridge is safe for concurrent use; it holds no mutable state.
type Bridge struct {
	source     Source
	logger     *slog.Logger
	normalize  SessionNormalizer
	serverName string
}

// Option customizes a Bridge.
type Option func(*Bridge)

// WithNormalizer replaces the session normalizer.
func WithNormalizer(fn SessionNormalizer) Option {
	return func(b *Bridge) {
		b.normalize = fn
	}
}

// WithServerName sets the name reported when the server cannot be asked.
func WithServerName(name string) Option {
	return func(b *Bridge) {
		b.serverName = name
	}
}

// New creates a bridge over source.
func New(source Source, logger *slog.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		source:    source,
		logger:    logger,
		normalize: canonical.NewSession,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Ping checks that the Emby server answers.
func (b *Bridge) Ping(ctx context.Context) error {
	return b.source.Ping(ctx)
}
