package bridge

import (
	"context"
	"fmt"

	"github.com/opd-ai/go-emby-bridge/internal/canonical"
)

// ServerIdentity returns the identity of the server from its public info.
func (b *Bridge) ServerIdentity(ctx context.Context) (*canonical.ServerIdentity, error) {
	info, err := b.source.GetPublicServerInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get server identity: %w", err)
	}

	identity, ok := canonical.NewServerIdentity(info)
	if !ok {
		return nil, fmt.Errorf("server returned no identity")
	}
	return &identity, nil
}

// ServerFriendlyName asks the server for its name. When the server cannot
// be reached the configured name is returned along with the error.
func (b *Bridge) ServerFriendlyName(ctx context.Context) (string, error) {
	info, err := b.source.GetServerInfo(ctx)
	if err != nil {
		return b.serverName, fmt.Errorf("failed to get server name: %w", err)
	}

	if info.ServerName == "" {
		return b.serverName, nil
	}

	if info.ServerName != b.serverName {
		b.log(ctx).Info("Server name retrieved",
			"server_name", info.ServerName,
			"configured", b.serverName)
	}
	return info.ServerName, nil
}

// TerminateSession stops a stream after showing message to the viewer. An
// empty message uses the default text.
func (b *Bridge) TerminateSession(ctx context.Context, sessionID, message string) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	b.log(ctx).Info("Terminating session", "session_id", sessionID)

	if err := b.source.TerminateSession(ctx, sessionID, message); err != nil {
		return fmt.Errorf("failed to terminate session %s: %w", sessionID, err)
	}
	return nil
}
