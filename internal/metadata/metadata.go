package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"trackcast/internal/stream"
)

const sessionKeyPrefix = "session:"

var ErrNotFound = errors.New("session record not found")

// SessionRecord is the persisted outcome of a finished session.
type SessionRecord struct {
	Id        string    `json:"id"`
	Origin    string    `json:"origin"`
	Source    string    `json:"source,omitempty"`
	Remote    string    `json:"remote,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
	Reason    string    `json:"reason"`
	Kind      string    `json:"kind,omitempty"`
	Error     string    `json:"error,omitempty"`
	Delivered uint64    `json:"delivered"`
	Dropped   uint64    `json:"dropped"`
	LastSeq   *uint64   `json:"lastSeq,omitempty"`
}

func NewSessionRecord(status stream.Status, source, remote string) *SessionRecord {
	record := &SessionRecord{
		Id:        status.SessionID,
		Origin:    status.Origin,
		Source:    source,
		Remote:    remote,
		StartedAt: status.StartedAt,
		EndedAt:   status.EndedAt,
		Reason:    status.Reason.String(),
		Kind:      status.Kind(),
		Delivered: status.Delivered,
		Dropped:   status.Dropped,
	}
	if status.Err != nil {
		record.Error = status.Err.Error()
	}
	if status.Delivered > 0 {
		lastSeq := status.LastSeq
		record.LastSeq = &lastSeq
	}
	return record
}

type MetadataDB struct {
	db     *badger.DB
	logger *logrus.Entry
}

func NewMetadataDB(dir string, logger *logrus.Entry) (*MetadataDB, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	return open(opts, logger)
}

func open(opts badger.Options, logger *logrus.Entry) (*MetadataDB, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &MetadataDB{
		db:     db,
		logger: logger,
	}, nil
}

func (m *MetadataDB) Close() error {
	return m.db.Close()
}

// sessionKey orders records by start time, then id.
func sessionKey(r *SessionRecord) []byte {
	return fmt.Appendf(nil, "%s%020d:%s", sessionKeyPrefix, r.StartedAt.UnixNano(), r.Id)
}

func (m *MetadataDB) PutSession(r *SessionRecord) error {
	val, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sessionKey(r), val)
	})
}

// ListSessions returns up to limit records, most recent first. A limit <= 0 returns all records.
func (m *MetadataDB) ListSessions(limit int) ([]*SessionRecord, error) {
	var records []*SessionRecord
	prefix := []byte(sessionKeyPrefix)
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 10
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// reverse iteration starts from the last key under prefix
		seek := append(append([]byte{}, prefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(records) >= limit {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				r := &SessionRecord{}
				if err := json.Unmarshal(val, r); err != nil {
					m.logger.WithError(err).Warnf("skip malformed session record %s", it.Item().Key())
					return nil
				}
				records = append(records, r)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (m *MetadataDB) GetSession(id string) (*SessionRecord, error) {
	records, err := m.ListSessions(0)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.Id == id {
			return r, nil
		}
	}
	return nil, ErrNotFound
}

// Prune deletes records that ended before cutoff and returns how many were removed.
func (m *MetadataDB) Prune(cutoff time.Time) (int, error) {
	records, err := m.ListSessions(0)
	if err != nil {
		return 0, err
	}
	removed := 0
	err = m.db.Update(func(txn *badger.Txn) error {
		for _, r := range records {
			if r.EndedAt.Before(cutoff) {
				if err := txn.Delete(sessionKey(r)); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
