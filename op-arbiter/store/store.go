// Package store journals instance snapshots in pebble so the registry survives restarts.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/hashicorp/go-multierror"

	"github.com/mantlenetworkio/arbiter/op-arbiter/game"
	"github.com/mantlenetworkio/arbiter/op-arbiter/game/types"
)

var ErrNotFound = errors.New("not found")

var instancePrefix = []byte("instance/")

// eventBuffer is how many events may queue up before the registry blocks on the journal.
const eventBuffer = 256

type Metrics interface {
	RecordJournalWrite(success bool)
}

// EventSource is the registry surface the journal follows.
type EventSource interface {
	SubscribeEvents(ch chan<- game.Event) event.Subscription
}

// Journal keeps the latest snapshot of every instance, keyed by index.
type Journal struct {
	log     log.Logger
	metrics Metrics
	db      *pebble.DB

	// mu serialises the read-compare-write in Put.
	mu sync.Mutex

	sub  event.Subscription
	done chan struct{}
}

func Open(logger log.Logger, m Metrics, dir string) (*Journal, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal at %q: %w", dir, err)
	}
	return &Journal{
		log:     logger,
		metrics: m,
		db:      db,
	}, nil
}

func instanceKey(index uint64) []byte {
	key := make([]byte, len(instancePrefix)+8)
	copy(key, instancePrefix)
	binary.BigEndian.PutUint64(key[len(instancePrefix):], index)
	return key
}

// Put stores snap unless the journal already holds a record of the instance at the same or a
// later sequence number. Events can be delivered out of order when operations race.
func (j *Journal) Put(snap types.Snapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	prev, err := j.get(snap.Index)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return err
	case prev.Seq >= snap.Seq:
		j.log.Trace("Skipping stale snapshot", "index", snap.Index, "seq", snap.Seq, "stored", prev.Seq)
		return nil
	}
	value, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode instance %d: %w", snap.Index, err)
	}
	if err := j.db.Set(instanceKey(snap.Index), value, pebble.Sync); err != nil {
		return fmt.Errorf("failed to store instance %d: %w", snap.Index, err)
	}
	return nil
}

// Get returns the stored snapshot of an instance, or ErrNotFound.
func (j *Journal) Get(index uint64) (types.Snapshot, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.get(index)
}

func (j *Journal) get(index uint64) (types.Snapshot, error) {
	value, closer, err := j.db.Get(instanceKey(index))
	if errors.Is(err, pebble.ErrNotFound) {
		return types.Snapshot{}, ErrNotFound
	} else if err != nil {
		return types.Snapshot{}, fmt.Errorf("failed to load instance %d: %w", index, err)
	}
	defer closer.Close()
	var snap types.Snapshot
	if err := json.Unmarshal(value, &snap); err != nil {
		return types.Snapshot{}, fmt.Errorf("failed to decode instance %d: %w", index, err)
	}
	return snap, nil
}

// Load returns every stored snapshot in index order. Indices must be contiguous from zero.
func (j *Journal) Load() ([]types.Snapshot, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: instancePrefix,
		UpperBound: instanceKey(^uint64(0)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate journal: %w", err)
	}
	var snaps []types.Snapshot
	for iter.First(); iter.Valid(); iter.Next() {
		index := binary.BigEndian.Uint64(iter.Key()[len(instancePrefix):])
		if index != uint64(len(snaps)) {
			err = fmt.Errorf("journal is missing instance %d", len(snaps))
			break
		}
		var snap types.Snapshot
		if err = json.Unmarshal(iter.Value(), &snap); err != nil {
			err = fmt.Errorf("failed to decode instance %d: %w", index, err)
			break
		}
		snaps = append(snaps, snap)
	}
	if closeErr := iter.Close(); closeErr != nil {
		err = multierror.Append(err, closeErr)
	}
	if err != nil {
		return nil, err
	}
	return snaps, nil
}

// Follow persists the snapshot carried by every event of src until Close.
func (j *Journal) Follow(src EventSource) {
	ch := make(chan game.Event, eventBuffer)
	j.sub = src.SubscribeEvents(ch)
	j.done = make(chan struct{})
	go func() {
		defer close(j.done)
		for {
			select {
			case ev := <-ch:
				j.record(ev)
			case <-j.sub.Err():
				// drain what was already delivered
				for {
					select {
					case ev := <-ch:
						j.record(ev)
					default:
						return
					}
				}
			}
		}
	}()
}

func (j *Journal) record(ev game.Event) {
	if err := j.Put(ev.Snapshot); err != nil {
		j.metrics.RecordJournalWrite(false)
		j.log.Error("Failed to journal instance", "index", ev.Index, "event", ev.Kind, "err", err)
		return
	}
	j.metrics.RecordJournalWrite(true)
}

// Close stops following events and closes the database.
func (j *Journal) Close() error {
	if j.sub != nil {
		j.sub.Unsubscribe()
		<-j.done
	}
	return j.db.Close()
}
