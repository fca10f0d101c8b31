// Package storage persists a vault's observable history: the event
// journal every state transition appends to, plus a single epoch
// metadata record that callers can save and load. Backed by pebble.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/optionvault/pkg/vault/event"
)

// Record is one journaled event.
type Record struct {
	Seq     uint64          `json:"seq"`
	Name    string          `json:"name"`
	At      int64           `json:"at"` // unix seconds at append time
	Payload json.RawMessage `json:"payload"`
}

// Meta is the monitoring snapshot; each SaveMeta overwrites the last.
type Meta struct {
	Epoch            uint64 `json:"epoch"`
	StartTime        int64  `json:"startTime"`
	AuctionProcessed bool   `json:"auctionProcessed"`
	UpdatedAt        int64  `json:"updatedAt"`
}

// keys: ev:<8-byte big-endian seq>, seq (counter), meta
func kEvent(seq uint64) []byte {
	k := append([]byte("ev:"), 0, 0, 0, 0, 0, 0, 0, 0)
	binary.BigEndian.PutUint64(k[3:], seq)
	return k
}

var (
	kSeq  = []byte("seq")
	kMeta = []byte("meta")
)

type Store struct {
	db   *pebble.DB
	next uint64
}

func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("storage open: %w", err)
	}
	s := &Store{db: db}
	if val, closer, err := db.Get(kSeq); err == nil {
		s.next = binary.BigEndian.Uint64(val)
		closer.Close()
	} else if err != pebble.ErrNotFound {
		db.Close()
		return nil, fmt.Errorf("storage open: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Append journals one event at the next sequence number.
func (s *Store) Append(at int64, ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("storage append: %w", err)
	}
	rec := Record{Seq: s.next, Name: ev.Name(), At: at, Payload: payload}
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("storage append: %w", err)
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(kEvent(rec.Seq), val, nil); err != nil {
		return err
	}
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], s.next+1)
	if err := b.Set(kSeq, seq[:], nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("storage append: %w", err)
	}
	s.next++
	return nil
}

// Recent returns up to n of the latest records, oldest first.
func (s *Store) Recent(n int) ([]Record, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: kEvent(0),
		UpperBound: kEvent(^uint64(0)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Record
	for ok := iter.Last(); ok && len(out) < n; ok = iter.Prev() {
		var rec Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("storage recent: %w", err)
		}
		out = append(out, rec)
	}
	// reverse into chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// SaveMeta overwrites the monitoring snapshot.
func (s *Store) SaveMeta(m Meta) error {
	val, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.db.Set(kMeta, val, pebble.Sync)
}

// LoadMeta returns the last snapshot, or false if none was saved.
func (s *Store) LoadMeta() (Meta, bool, error) {
	val, closer, err := s.db.Get(kMeta)
	if err == pebble.ErrNotFound {
		return Meta{}, false, nil
	}
	if err != nil {
		return Meta{}, false, err
	}
	defer closer.Close()
	var m Meta
	if err := json.Unmarshal(val, &m); err != nil {
		return Meta{}, false, err
	}
	return m, true, nil
}

// JournalSink adapts the store to the event.Sink interface. Append
// failures surface through the error callback; the core never blocks on
// persistence errors.
type JournalSink struct {
	Store *Store
	Now   func() int64
	OnErr func(error)
}

func (j JournalSink) Emit(ev event.Event) {
	if err := j.Store.Append(j.Now(), ev); err != nil && j.OnErr != nil {
		j.OnErr(err)
	}
}
