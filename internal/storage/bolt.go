// Package storage persists bridge snapshots in BoltDB and writes inventory
// exports to disk.
//
// Buckets:
//   - activity: the latest activity snapshot under "latest"
//   - users: canonical users keyed by user_id
//   - libraries: canonical libraries keyed by section_id
//   - server: the server identity under "identity"
package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"go.etcd.io/bbolt"

	"github.com/opd-ai/go-emby-bridge/internal/canonical"
	"github.com/opd-ai/go-emby-bridge/pkg/config"
)

// DatabaseFile is the name of the BoltDB file inside the storage directory.
const DatabaseFile = "go-emby-bridge.db"

var (
	bucketActivity  = []byte("activity")
	bucketUsers     = []byte("users")
	bucketLibraries = []byte("libraries")
	bucketServer    = []byte("server")

	keyLatest   = []byte("latest")
	keyIdentity = []byte("identity")
)

// ErrNotFound is returned when a requested record has never been stored.
var ErrNotFound = errors.New("record not found")

// Manager handles all BoltDB operations.
type Manager struct {
	db     *bbolt.DB
	logger *slog.Logger
	path   string
}

// Snapshot is a stored activity view. ObservedAt is kept outside the
// canonical record, which has no timestamp of its own.
type Snapshot struct {
	ObservedAt time.Time          `json:"observed_at"`
	Activity   canonical.Activity `json:"activity"`
}

// Stats summarizes what the store currently holds.
type Stats struct {
	Users          int       `json:"users"`
	Libraries      int       `json:"libraries"`
	HasIdentity    bool      `json:"has_identity"`
	LastObservedAt time.Time `json:"last_observed_at,omitempty"`
	LastStreams    string    `json:"last_stream_count,omitempty"`
	SizeBytes      int64     `json:"size_bytes"`
}

// NewManager opens (or creates) the database in cfg.Directory.
func NewManager(cfg *config.StorageConfig, logger *slog.Logger) (*Manager, error) {
	dbPath := filepath.Join(cfg.Directory, DatabaseFile)

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", dbPath, err)
	}

	manager := &Manager{
		db:     db,
		logger: logger,
		path:   dbPath,
	}

	if err := manager.initializeBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	logger.Info("Storage manager initialized", "db_path", dbPath)

	return manager, nil
}

func (m *Manager) initializeBuckets() error {
	return m.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketActivity, bucketUsers, bucketLibraries, bucketServer} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", string(bucket), err)
			}
		}
		return nil
	})
}

// Close closes the database connection.
func (m *Manager) Close() error {
	m.logger.Info("Closing storage manager")
	return m.db.Close()
}

// SaveActivity replaces the latest activity snapshot.
func (m *Manager) SaveActivity(activity canonical.Activity, observedAt time.Time) error {
	data, err := json.Marshal(&Snapshot{ObservedAt: observedAt.UTC(), Activity: activity})
	if err != nil {
		return fmt.Errorf("failed to marshal activity snapshot: %w", err)
	}

	return m.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketActivity).Put(keyLatest, data); err != nil {
			return fmt.Errorf("failed to store activity snapshot: %w", err)
		}
		return nil
	})
}

// LatestActivity returns the last saved snapshot, or ErrNotFound.
func (m *Manager) LatestActivity() (*Snapshot, error) {
	var snapshot Snapshot
	err := m.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketActivity).Get(keyLatest)
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &snapshot)
	})
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// SaveUsers replaces the stored user list.
func (m *Manager) SaveUsers(users []canonical.User) error {
	return m.replaceBucket(bucketUsers, len(users), func(i int) (string, interface{}) {
		return users[i].UserID, &users[i]
	})
}

// ListUsers returns the stored users ordered by user_id.
func (m *Manager) ListUsers() ([]canonical.User, error) {
	users := []canonical.User{}
	err := m.forEach(bucketUsers, func(k, v []byte) {
		var u canonical.User
		if err := json.Unmarshal(v, &u); err != nil {
			m.logger.Warn("Failed to unmarshal stored user", "key", string(k), "error", err)
			return
		}
		users = append(users, u)
	})
	return users, err
}

// SaveLibraries replaces the stored library list.
func (m *Manager) SaveLibraries(libraries []canonical.Library) error {
	return m.replaceBucket(bucketLibraries, len(libraries), func(i int) (string, interface{}) {
		return libraries[i].SectionID, &libraries[i]
	})
}

// ListLibraries returns the stored libraries ordered by section_id.
func (m *Manager) ListLibraries() ([]canonical.Library, error) {
	libraries := []canonical.Library{}
	err := m.forEach(bucketLibraries, func(k, v []byte) {
		var l canonical.Library
		if err := json.Unmarshal(v, &l); err != nil {
			m.logger.Warn("Failed to unmarshal stored library", "key", string(k), "error", err)
			return
		}
		libraries = append(libraries, l)
	})
	return libraries, err
}

// SaveIdentity stores the server identity.
func (m *Manager) SaveIdentity(identity canonical.ServerIdentity) error {
	data, err := json.Marshal(&identity)
	if err != nil {
		return fmt.Errorf("failed to marshal server identity: %w", err)
	}

	return m.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketServer).Put(keyIdentity, data)
	})
}

// Identity returns the stored server identity, or ErrNotFound.
func (m *Manager) Identity() (*canonical.ServerIdentity, error) {
	var identity canonical.ServerIdentity
	err := m.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketServer).Get(keyIdentity)
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &identity)
	})
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

// HealthCheck verifies the database is readable and has its buckets.
func (m *Manager) HealthCheck() error {
	return m.db.View(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketActivity, bucketUsers, bucketLibraries, bucketServer} {
			if tx.Bucket(bucket) == nil {
				return fmt.Errorf("bucket %s is missing", string(bucket))
			}
		}
		return nil
	})
}

// GetStats returns counts and the age of the last snapshot.
func (m *Manager) GetStats() (*Stats, error) {
	stats := &Stats{}

	err := m.db.View(func(tx *bbolt.Tx) error {
		stats.Users = tx.Bucket(bucketUsers).Stats().KeyN
		stats.Libraries = tx.Bucket(bucketLibraries).Stats().KeyN
		stats.HasIdentity = tx.Bucket(bucketServer).Get(keyIdentity) != nil

		if data := tx.Bucket(bucketActivity).Get(keyLatest); data != nil {
			var snapshot Snapshot
			if err := json.Unmarshal(data, &snapshot); err == nil {
				stats.LastObservedAt = snapshot.ObservedAt
				stats.LastStreams = snapshot.Activity.StreamCount
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if info, err := os.Stat(m.path); err == nil {
		stats.SizeBytes = info.Size()
	}

	return stats, nil
}

// replaceBucket drops every key in bucket and writes n records. Records
// with an empty key are skipped.
func (m *Manager) replaceBucket(bucket []byte, n int, record func(i int) (string, interface{})) error {
	return m.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucket); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return fmt.Errorf("failed to clear bucket %s: %w", string(bucket), err)
		}
		b, err := tx.CreateBucket(bucket)
		if err != nil {
			return fmt.Errorf("failed to recreate bucket %s: %w", string(bucket), err)
		}

		stored := 0
		for i := 0; i < n; i++ {
			key, value := record(i)
			if key == "" {
				m.logger.Warn("Skipping record without id", "bucket", string(bucket))
				continue
			}

			data, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("failed to marshal %s record %s: %w", string(bucket), key, err)
			}
			if err := b.Put([]byte(key), data); err != nil {
				return fmt.Errorf("failed to store %s record %s: %w", string(bucket), key, err)
			}
			stored++
		}

		m.logger.Debug("Bucket replaced", "bucket", string(bucket), "records", stored)
		return nil
	})
}

func (m *Manager) forEach(bucket []byte, fn func(k, v []byte)) error {
	return m.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(k, v []byte) error {
			fn(k, v)
			return nil
		})
	})
}
