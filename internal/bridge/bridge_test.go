package bridge

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/go-emby-bridge/internal/canonical"
	"github.com/opd-ai/go-emby-bridge/internal/emby"
	"github.com/opd-ai/go-emby-bridge/pkg/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// fakeSource is an in-memory Source.
type fakeSource struct {
	mu         sync.Mutex
	sessions   []emby.RawSession
	users      []emby.RawUser
	libraries  []emby.RawLibrary
	info       *emby.ServerInfo
	public     *emby.PublicServerInfo
	err        error
	usersErr   error
	terminated []string
	calls      atomic.Int32
}

func (f *fakeSource) GetSessions(ctx context.Context) ([]emby.RawSession, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.sessions, nil
}

func (f *fakeSource) GetUsers(ctx context.Context) ([]emby.RawUser, error) {
	if f.usersErr != nil {
		return nil, f.usersErr
	}
	return f.users, f.err
}

func (f *fakeSource) GetLibraries(ctx context.Context) ([]emby.RawLibrary, error) {
	return f.libraries, f.err
}

func (f *fakeSource) GetServerInfo(ctx context.Context) (*emby.ServerInfo, error) {
	return f.info, f.err
}

func (f *fakeSource) GetPublicServerInfo(ctx context.Context) (*emby.PublicServerInfo, error) {
	return f.public, f.err
}

func (f *fakeSource) Ping(ctx context.Context) error {
	return f.err
}

func (f *fakeSource) TerminateSession(ctx context.Context, sessionID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, sessionID+":"+message)
	return f.err
}

func playing(id, playMethod string) emby.RawSession {
	return emby.RawSession{
		ID:             id,
		UserName:       "user-" + id,
		PlayState:      &emby.RawPlayState{PlayMethod: playMethod},
		NowPlayingItem: &emby.RawItem{ID: "item-" + id, Name: "Title " + id, Type: "Movie"},
	}
}

func idle(id string) emby.RawSession {
	return emby.RawSession{ID: id, UserName: "idle"}
}

func TestCurrentActivity(t *testing.T) {
	source := &fakeSource{sessions: []emby.RawSession{
		playing("a", "DirectPlay"),
		idle("b"),
		playing("c", "Transcode"),
		{ID: "d", NowPlayingItem: &emby.RawItem{}},
		playing("e", "DirectStream"),
	}}
	b := New(source, testLogger())

	activity := b.CurrentActivity(context.Background())

	assert.Equal(t, "3", activity.StreamCount)
	require.Len(t, activity.Sessions, 3)
	assert.Equal(t, "a", activity.Sessions[0].SessionID)
	assert.Equal(t, "c", activity.Sessions[1].SessionID)
	assert.Equal(t, "e", activity.Sessions[2].SessionID)
	assert.Equal(t, 1, activity.StreamCountDirectPlay)
	assert.Equal(t, 1, activity.StreamCountDirectStream)
	assert.Equal(t, 1, activity.StreamCountTranscode)
}

func TestCurrentActivityNothingPlaying(t *testing.T) {
	b := New(&fakeSource{sessions: []emby.RawSession{idle("a"), idle("b")}}, testLogger())
	assert.Equal(t, canonical.EmptyActivity(), b.CurrentActivity(context.Background()))
}

func TestCurrentActivityDegradesOnFailure(t *testing.T) {
	failures := []error{
		&emby.Failure{Kind: emby.FailureTimeout, Err: context.DeadlineExceeded},
		&emby.Failure{Kind: emby.FailureConnection, Err: errors.New("connection refused")},
		&emby.Failure{Kind: emby.FailureHTTPStatus, StatusCode: http.StatusUnauthorized},
		errors.New("unexpected"),
	}

	for _, failure := range failures {
		t.Run(failure.Error(), func(t *testing.T) {
			b := New(&fakeSource{err: failure}, testLogger())

			var activity canonical.Activity
			assert.NotPanics(t, func() {
				activity = b.CurrentActivity(context.Background())
			})

			data, err := json.Marshal(activity)
			require.NoError(t, err)
			assert.JSONEq(t, `{
				"stream_count": "0",
				"stream_count_direct_play": 0,
				"stream_count_direct_stream": 0,
				"stream_count_transcode": 0,
				"sessions": []
			}`, string(data))
		})
	}
}

func TestCurrentActivityRecoversNormalizerPanic(t *testing.T) {
	source := &fakeSource{sessions: []emby.RawSession{
		playing("good", "DirectPlay"),
		playing("bad", "DirectPlay"),
	}}
	b := New(source, testLogger(), WithNormalizer(func(raw *emby.RawSession) (canonical.Session, bool) {
		if raw.ID == "bad" {
			panic("boom")
		}
		return canonical.NewSession(raw)
	}))

	var activity canonical.Activity
	require.NotPanics(t, func() {
		activity = b.CurrentActivity(context.Background())
	})

	assert.Equal(t, "1", activity.StreamCount)
	require.Len(t, activity.Sessions, 1)
	assert.Equal(t, "good", activity.Sessions[0].SessionID)
}

func TestUsersAndLibraries(t *testing.T) {
	source := &fakeSource{
		users: []emby.RawUser{
			{ID: "u1", Name: "alice", Policy: &emby.RawPolicy{IsAdministrator: true}},
			{ID: "u2", Name: "bob"},
		},
		libraries: []emby.RawLibrary{
			{ItemID: "l1", Name: "Movies", CollectionType: "movies"},
			{ItemID: "l2", Name: "Books", CollectionType: "audiobooks"},
		},
	}
	b := New(source, testLogger())

	users, err := b.Users(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, 1, users[0].IsAdmin)
	assert.Equal(t, 0, users[1].IsAdmin)

	libraries, err := b.Libraries(context.Background())
	require.NoError(t, err)
	require.Len(t, libraries, 2)
	assert.Equal(t, canonical.SectionMovie, libraries[0].SectionType)
	assert.Equal(t, canonical.SectionMixed, libraries[1].SectionType)
}

func TestSyncInventory(t *testing.T) {
	source := &fakeSource{
		users:     []emby.RawUser{{ID: "u1"}},
		libraries: []emby.RawLibrary{{ItemID: "l1"}, {ItemID: "l2"}},
	}
	b := New(source, testLogger())

	inv, err := b.SyncInventory(context.Background())
	require.NoError(t, err)
	assert.Len(t, inv.Users, 1)
	assert.Len(t, inv.Libraries, 2)

	source.usersErr = &emby.Failure{Kind: emby.FailureHTTPStatus, StatusCode: http.StatusForbidden}
	_, err = b.SyncInventory(context.Background())
	require.Error(t, err)
	assert.True(t, emby.IsStatus(err, http.StatusForbidden))
}

func TestServerIdentity(t *testing.T) {
	source := &fakeSource{public: &emby.PublicServerInfo{ID: "machine", Version: "4.8.0.0", ServerName: "Home"}}
	b := New(source, testLogger())

	identity, err := b.ServerIdentity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "machine", identity.MachineIdentifier)
	assert.Equal(t, "Emby Server", identity.ProductName)

	source.err = &emby.Failure{Kind: emby.FailureTimeout}
	_, err = b.ServerIdentity(context.Background())
	assert.True(t, emby.IsTimeout(err))
}

func TestServerFriendlyName(t *testing.T) {
	source := &fakeSource{info: &emby.ServerInfo{ServerName: "Living Room"}}
	b := New(source, testLogger(), WithServerName("Emby Server"))

	name, err := b.ServerFriendlyName(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Living Room", name)

	source.err = errors.New("down")
	name, err = b.ServerFriendlyName(context.Background())
	assert.Error(t, err)
	assert.Equal(t, "Emby Server", name)
}

func TestTerminateSession(t *testing.T) {
	source := &fakeSource{}
	b := New(source, testLogger())

	require.NoError(t, b.TerminateSession(context.Background(), "s1", "Too many streams"))
	assert.Equal(t, []string{"s1:Too many streams"}, source.terminated)

	assert.Error(t, b.TerminateSession(context.Background(), "", ""))

	source.err = &emby.Failure{Kind: emby.FailureHTTPStatus, StatusCode: http.StatusNotFound}
	err := b.TerminateSession(context.Background(), "gone", "")
	assert.True(t, emby.IsStatus(err, http.StatusNotFound))
}

func TestPollIDContext(t *testing.T) {
	ctx := ContextWithPollID(context.Background(), "abc")
	assert.Equal(t, "abc", PollIDFromContext(ctx))
	assert.Equal(t, "", PollIDFromContext(context.Background()))
}

// memoryStore records what the poller persists.
type memoryStore struct {
	mu         sync.Mutex
	activities []canonical.Activity
	users      []canonical.User
	libraries  []canonical.Library
	identity   *canonical.ServerIdentity
}

func (m *memoryStore) SaveActivity(a canonical.Activity, observedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activities = append(m.activities, a)
	return nil
}

func (m *memoryStore) SaveUsers(users []canonical.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = users
	return nil
}

func (m *memoryStore) SaveLibraries(libraries []canonical.Library) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.libraries = libraries
	return nil
}

func (m *memoryStore) SaveIdentity(identity canonical.ServerIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity = &identity
	return nil
}

func (m *memoryStore) activityCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.activities)
}

type recordingPublisher struct {
	mu        sync.Mutex
	snapshots []canonical.Activity
}

func (r *recordingPublisher) PublishActivity(a canonical.Activity, observedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, a)
}

func TestPollerPollActivity(t *testing.T) {
	source := &fakeSource{sessions: []emby.RawSession{playing("a", "DirectPlay")}}
	store := &memoryStore{}
	pub := &recordingPublisher{}

	p := NewPoller(New(source, testLogger()), store, &config.PollerConfig{
		Interval:          time.Second,
		InventoryInterval: time.Minute,
	}, testLogger())
	p.AddPublisher(pub)

	activity := p.PollActivity(context.Background())
	assert.Equal(t, "1", activity.StreamCount)
	assert.Equal(t, 1, store.activityCount())
	require.Len(t, pub.snapshots, 1)
	assert.Equal(t, activity, pub.snapshots[0])
}

func TestPollerSyncInventory(t *testing.T) {
	source := &fakeSource{
		users:     []emby.RawUser{{ID: "u1"}},
		libraries: []emby.RawLibrary{{ItemID: "l1"}},
		public:    &emby.PublicServerInfo{ID: "m1"},
	}
	store := &memoryStore{}
	p := NewPoller(New(source, testLogger()), store, &config.PollerConfig{}, testLogger())

	inv, err := p.SyncInventory(context.Background())
	require.NoError(t, err)
	assert.Len(t, inv.Users, 1)
	assert.Len(t, store.users, 1)
	assert.Len(t, store.libraries, 1)
	require.NotNil(t, store.identity)
	assert.Equal(t, "m1", store.identity.MachineIdentifier)
}

func TestPollerLifecycle(t *testing.T) {
	source := &fakeSource{sessions: []emby.RawSession{playing("a", "Transcode")}}
	store := &memoryStore{}
	p := NewPoller(New(source, testLogger()), store, &config.PollerConfig{
		Enabled:           true,
		Interval:          10 * time.Millisecond,
		InventoryInterval: time.Hour,
	}, testLogger())

	require.NoError(t, p.Start(context.Background()))
	assert.True(t, p.IsRunning())
	assert.Error(t, p.Start(context.Background()), "second Start must fail")

	require.Eventually(t, func() bool {
		return store.activityCount() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, p.Stop())
	assert.False(t, p.IsRunning())
	require.NoError(t, p.Stop(), "Stop on a stopped poller is a no-op")

	calls := source.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, source.calls.Load(), "no polls after Stop")
}

func TestPollerStopsWithContext(t *testing.T) {
	source := &fakeSource{}
	p := NewPoller(New(source, testLogger()), nil, &config.PollerConfig{
		Interval:          10 * time.Millisecond,
		InventoryInterval: time.Hour,
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Start(ctx))
	cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller loop did not exit after context cancel")
	}
	require.NoError(t, p.Stop())
}
