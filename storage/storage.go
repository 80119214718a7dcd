// Package storage persists finalized audit reports and run summaries in a
// bbolt database under the data directory.
package storage

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	DATABASE_FILE = "rewardaudit.db"

	REPORTS_BUCKET       = "reports"
	RUNS_BUCKET          = "runs"
	CONFIG_BUCKET        = "config"
	NOTIFICATIONS_BUCKET = "notifications"

	LATEST_RUN = "latest"
)

type Storage struct {
	db *bolt.DB
}

// Open opens, or creates, the database in dataDir and makes sure every
// bucket exists.
func Open(dataDir string) (*Storage, error) {

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, errors.Wrapf(err, "Unable to create data directory %s", dataDir)
	}

	dbFile := filepath.Join(dataDir, DATABASE_FILE)

	db, err := bolt.Open(dbFile, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to init db %s", dbFile)
	}

	err = db.Update(func(tx *bolt.Tx) error {

		for _, name := range []string{REPORTS_BUCKET, RUNS_BUCKET} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return errors.Wrapf(err, "Cannot create %s bucket", name)
			}
		}

		cfgBucket, err := tx.CreateBucketIfNotExists([]byte(CONFIG_BUCKET))
		if err != nil {
			return errors.Wrap(err, "Cannot create config bucket")
		}

		if _, err := cfgBucket.CreateBucketIfNotExists([]byte(NOTIFICATIONS_BUCKET)); err != nil {
			return errors.Wrap(err, "Cannot create notifications bucket")
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	log.WithField("File", dbFile).Debug("Database opened")

	return &Storage{db: db}, nil
}

func (s *Storage) Close() {
	if err := s.db.Close(); err != nil {
		log.WithError(err).Error("Unable to close database")
		return
	}
	log.Info("Database closed")
}

// itob returns an 8-byte big endian representation of v.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// btoi returns the integer in an 8-byte big endian slice.
func btoi(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
