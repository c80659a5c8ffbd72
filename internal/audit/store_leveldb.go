package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBStore is the durable audit sink. Keys are nanosecond timestamps plus
// an in-process sequence number, so iteration returns events in emission
// order.
type LevelDBStore struct {
	db  *leveldb.DB
	seq atomic.Uint64
}

// OpenLevelDB opens (or creates) the audit database at path.
func OpenLevelDB(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open audit leveldb: %w", err)
	}
	return &LevelDBStore{db: db}, nil
}

func (s *LevelDBStore) Append(_ context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	key := fmt.Sprintf("ae:%020d:%012d", event.At.UnixNano(), s.seq.Add(1))
	return s.db.Put([]byte(key), value, nil)
}

// List returns all stored events in emission order. Intended for operator
// tooling and tests, not the request path.
func (s *LevelDBStore) List() ([]Event, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte("ae:")), nil)
	defer iter.Release()

	var events []Event
	for iter.Next() {
		var event Event
		if err := json.Unmarshal(iter.Value(), &event); err != nil {
			return nil, fmt.Errorf("decode audit event %q: %w", iter.Key(), err)
		}
		events = append(events, event)
	}
	return events, iter.Error()
}

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}
