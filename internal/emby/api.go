package emby

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"

	"github.com/opd-ai/go-emby-bridge/internal/metrics"
)

// DefaultTerminateMessage is shown to the viewer when no message is given.
const DefaultTerminateMessage = "The server owner has ended the stream."

// playbackCommands go to /Playing/{cmd}; every other command goes to
// /Command/{cmd}.
var playbackCommands = map[string]bool{
	"Play":      true,
	"Pause":     true,
	"Stop":      true,
	"PlayPause": true,
}

// GetSessions returns every session the server knows about, playing or not.
// A session that cannot be decoded is logged and dropped.
func (c *Client) GetSessions(ctx context.Context) ([]RawSession, error) {
	var raw []json.RawMessage
	if err := c.Decode(ctx, Request{Path: "/Sessions"}, &raw); err != nil {
		return nil, err
	}

	sessions := make([]RawSession, 0, len(raw))
	for i, item := range raw {
		var s RawSession
		if err := json.Unmarshal(item, &s); err != nil {
			c.skipRecord("session", i, err)
			continue
		}
		s.Raw = item
		sessions = append(sessions, s)
	}

	return sessions, nil
}

// GetUsers returns all users from /Users/Query.
func (c *Client) GetUsers(ctx context.Context) ([]RawUser, error) {
	var page struct {
		Items []json.RawMessage `json:"Items"`
	}
	if err := c.Decode(ctx, Request{Path: "/Users/Query"}, &page); err != nil {
		return nil, err
	}
	return decodeEach[RawUser](c, "user", page.Items), nil
}

// GetLibraries returns the virtual folders (libraries) of the server.
func (c *Client) GetLibraries(ctx context.Context) ([]RawLibrary, error) {
	var raw []json.RawMessage
	if err := c.Decode(ctx, Request{Path: "/Library/VirtualFolders"}, &raw); err != nil {
		return nil, err
	}
	return decodeEach[RawLibrary](c, "library", raw), nil
}

// GetServerInfo returns the authenticated system information.
func (c *Client) GetServerInfo(ctx context.Context) (*ServerInfo, error) {
	var info ServerInfo
	if err := c.Decode(ctx, Request{Path: "/System/Info"}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetPublicServerInfo returns the unauthenticated identity of the server.
func (c *Client) GetPublicServerInfo(ctx context.Context) (*PublicServerInfo, error) {
	var info PublicServerInfo
	if err := c.Decode(ctx, Request{Path: "/System/Info/Public"}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Ping checks that the server answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Do(ctx, Request{Path: "/System/Ping"})
	return err
}

// SendMessage displays a message on the client of a session.
func (c *Client) SendMessage(ctx context.Context, sessionID string, msg Message) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	_, err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/Sessions/" + url.PathEscape(sessionID) + "/Message",
		Body:   msg,
	})
	return err
}

// SendCommand sends a playstate or general command to a session.
func (c *Client) SendCommand(ctx context.Context, sessionID, command string) error {
	if sessionID == "" || command == "" {
		return fmt.Errorf("session id and command are required")
	}

	path := "/Sessions/" + url.PathEscape(sessionID)
	if playbackCommands[command] {
		path += "/Playing/" + url.PathEscape(command)
	} else {
		path += "/Command/" + url.PathEscape(command)
	}

	_, err := c.Do(ctx, Request{Method: http.MethodPost, Path: path})
	return err
}

// TerminateSession tells the viewer why playback is ending, then stops it.
// A failed message does not prevent the stop; the stop result is returned.
func (c *Client) TerminateSession(ctx context.Context, sessionID, message string) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if message == "" {
		message = DefaultTerminateMessage
	}

	if err := c.SendMessage(ctx, sessionID, Message{
		Header:    "Stream Terminated",
		Text:      message,
		TimeoutMs: 5000,
	}); err != nil {
		c.logger.Warn("Failed to send termination message",
			"session_id", sessionID,
			"error", err)
	}

	return c.SendCommand(ctx, sessionID, "Stop")
}

// decodeEach decodes every element independently so one malformed record
// cannot fail the whole list.
func decodeEach[T any](c *Client, kind string, raw []json.RawMessage) []T {
	out := make([]T, 0, len(raw))
	for i, item := range raw {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			c.skipRecord(kind, i, err)
			continue
		}
		out = append(out, v)
	}
	return out
}

func (c *Client) skipRecord(kind string, index int, err error) {
	metrics.EmbyRecordsSkipped.WithLabelValues(kind).Inc()
	c.logger.Warn("Skipping malformed Emby record",
		"kind", kind,
		"index", index,
		"error", err)
}
