package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/opd-ai/go-emby-bridge/internal/canonical"
	"github.com/opd-ai/go-emby-bridge/internal/emby"
	"github.com/opd-ai/go-emby-bridge/internal/metrics"
)

// CurrentActivity returns the canonical view of what is playing now. It is
// the one place where a transport failure becomes an empty result: any
// failure yields canonical.EmptyActivity and a log record, never an error
// or a panic.
func (b *Bridge) CurrentActivity(ctx context.Context) (activity canonical.Activity) {
	logger := b.log(ctx)
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered while building activity", "panic", fmt.Sprint(r))
			activity = canonical.EmptyActivity()
			metrics.ActivityPollsTotal.WithLabelValues("degraded").Inc()
		}
		metrics.ActivityPollDuration.Observe(time.Since(started).Seconds())
	}()

	raw, err := b.source.GetSessions(ctx)
	if err != nil {
		logger.Error("Failed to get Emby sessions", "error", err)
		metrics.ActivityPollsTotal.WithLabelValues("degraded").Inc()
		return canonical.EmptyActivity()
	}

	sessions := make([]canonical.Session, 0, len(raw))
	for i := range raw {
		if !raw[i].IsPlaying() {
			continue
		}
		if s, ok := b.normalizeSession(ctx, &raw[i]); ok {
			sessions = append(sessions, s)
		}
	}

	activity = canonical.NewActivity(sessions)
	metrics.ActivityPollsTotal.WithLabelValues("ok").Inc()
	logger.Debug("Built current activity",
		"sessions_seen", len(raw),
		"stream_count", activity.StreamCount)

	return activity
}

// normalizeSession runs the normalizer on one record. A panic is logged and
// counted and the record is treated as producing no session.
func (b *Bridge) normalizeSession(ctx context.Context, raw *emby.RawSession) (s canonical.Session, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.log(ctx).Error("Failed to normalize session",
				"session_id", raw.ID,
				"panic", fmt.Sprint(r))
			metrics.NormalizeFailures.Inc()
			s, ok = canonical.Session{}, false
		}
	}()
	return b.normalize(raw)
}
