package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"sitemirror/pkg/log"
	"sitemirror/pkg/utils"
)

const (
	metaKeyPrefix = "meta:" // JSON-encoded Entry per URL
	bodyKeyPrefix = "body:" // Raw response body per URL
	cacheDBDir    = "cache_db"
)

// Entry holds the cached validator metadata for one URL.
type Entry struct {
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	ContentType  string `json:"content_type,omitempty"`
}

// BadgerCache stores response bodies and their HTTP validators so later
// runs can issue conditional requests and serve 304 responses from disk.
type BadgerCache struct {
	db  *badger.DB
	log *logrus.Entry
}

// Open initializes the cache database under cacheDir.
func Open(cacheDir string, logger *logrus.Entry) (*BadgerCache, error) {
	dbPath := filepath.Join(cacheDir, cacheDBDir)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("cannot create cache directory %s: %w", dbPath, err)
	}

	badgerLogger := log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))
	opts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database at %s: %w", dbPath, err)
	}

	logger.Infof("Response cache initialized at: %s", dbPath)
	return &BadgerCache{db: db, log: logger}, nil
}

// Validators returns the cached validator metadata for a URL. The second
// return value reports whether an entry exists.
func (c *BadgerCache) Validators(url string) (Entry, bool) {
	var entry Entry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metaKeyPrefix + url))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			c.log.Warnf("Failed to read cache metadata for %s: %v", url, err)
		}
		return Entry{}, false
	}
	return entry, true
}

// Store saves a response body and its validators for a URL. Entries
// without any validator are still stored so Load can serve the body.
func (c *BadgerCache) Store(url string, body []byte, entry Entry) error {
	metaBytes, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal cache metadata for %s: %v", utils.ErrDatabase, url, err)
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(metaKeyPrefix+url), metaBytes); err != nil {
			return err
		}
		return txn.Set([]byte(bodyKeyPrefix+url), body)
	})
	if err != nil {
		return fmt.Errorf("%w: failed to store cache entry for %s: %v", utils.ErrDatabase, url, err)
	}
	return nil
}

// Load returns the cached body for a URL, or ErrNotCached when absent.
func (c *BadgerCache) Load(url string) ([]byte, Entry, error) {
	var body []byte
	var entry Entry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(bodyKeyPrefix + url))
		if err != nil {
			return err
		}
		body, err = item.ValueCopy(nil)
		if err != nil {
			return err
		}
		metaItem, err := txn.Get([]byte(metaKeyPrefix + url))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil // Body without metadata is still servable
			}
			return err
		}
		return metaItem.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, Entry{}, fmt.Errorf("%w: %s", utils.ErrNotCached, url)
		}
		return nil, Entry{}, fmt.Errorf("%w: failed to load cache entry for %s: %v", utils.ErrDatabase, url, err)
	}
	return body, entry, nil
}

// Close flushes and closes the underlying database.
func (c *BadgerCache) Close() error {
	if c.db == nil {
		return nil
	}
	c.log.Debug("Closing response cache database")
	return c.db.Close()
}
