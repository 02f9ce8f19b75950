package responder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"

	"github.com/mantlenetworkio/arbiter/op-arbiter/game"
	"github.com/mantlenetworkio/arbiter/op-arbiter/game/types"
)

// eventBuffer only smooths bursts. A dedicated receiver moves events into an unbounded inbox
// as they arrive, so the feed never waits on the loop's actions.
const eventBuffer = 256

// Source is the registry surface the loop watches.
type Source interface {
	Count() uint64
	GetState(index uint64, caller common.Address) (types.Snapshot, error)
	SubscribeEvents(ch chan<- game.Event) event.Subscription
}

// Loop drives a Responder. It acts whenever an open instance the party takes part in changes and
// re-examines open instances every interval so expired deadlines get aborted.
type Loop struct {
	log       log.Logger
	responder *Responder
	source    Source
	party     common.Address
	interval  time.Duration

	open map[uint64]struct{}
}

func NewLoop(logger log.Logger, responder *Responder, source Source, party common.Address, interval time.Duration) *Loop {
	return &Loop{
		log:       logger.New("party", party),
		responder: responder,
		source:    source,
		party:     party,
		interval:  interval,
		open:      make(map[uint64]struct{}),
	}
}

// Run blocks until ctx is done or the subscription fails.
func (l *Loop) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan game.Event, eventBuffer)
	sub := l.source.SubscribeEvents(events)
	defer sub.Unsubscribe()

	box := newInbox()
	subErr := make(chan error, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sub.Err():
				subErr <- err
				return
			case ev := <-events:
				box.push(ev)
			}
		}
	}()

	l.scan()
	l.poll(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-subErr:
			return err
		case <-box.wake:
			for _, ev := range box.drain() {
				if ctx.Err() != nil {
					return nil
				}
				l.handle(ctx, ev)
			}
		case <-ticker.C:
			l.poll(ctx)
		}
	}
}

// inbox queues received events until the acting side is free to handle them.
type inbox struct {
	mu     sync.Mutex
	events []game.Event
	wake   chan struct{}
}

func newInbox() *inbox {
	return &inbox{wake: make(chan struct{}, 1)}
}

func (b *inbox) push(ev game.Event) {
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *inbox) drain() []game.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	evs := b.events
	b.events = nil
	return evs
}

// scan finds the open instances the party already belongs to.
func (l *Loop) scan() {
	count := l.source.Count()
	for index := uint64(0); index < count; index++ {
		if l.concerned(index) {
			l.open[index] = struct{}{}
		}
	}
	l.log.Info("Watching instances", "count", count, "open", len(l.open))
}

// concerned reports whether the party is a side of the dispute or provides one of its drives.
func (l *Loop) concerned(index uint64) bool {
	snap, err := l.source.GetState(index, l.party)
	if err != nil {
		l.log.Warn("Failed to check instance", "index", index, "err", err)
		return false
	}
	if snap.Phase.IsTerminal() {
		return false
	}
	if snap.Claimer == l.party || snap.Challenger == l.party {
		return true
	}
	for _, d := range snap.Drives {
		if d.Provider == l.party {
			return true
		}
	}
	return false
}

func (l *Loop) handle(ctx context.Context, ev game.Event) {
	if ev.Kind == game.InstanceCreated && l.concerned(ev.Index) {
		l.open[ev.Index] = struct{}{}
	}
	if _, ok := l.open[ev.Index]; !ok {
		return
	}
	if ev.Phase.IsTerminal() {
		delete(l.open, ev.Index)
		return
	}
	l.act(ctx, ev.Index)
}

func (l *Loop) poll(ctx context.Context) {
	for index := range l.open {
		if ctx.Err() != nil {
			return
		}
		l.act(ctx, index)
	}
}

func (l *Loop) act(ctx context.Context, index uint64) {
	action, err := l.responder.Act(ctx, index)
	switch {
	case errors.Is(err, types.ErrInstanceTerminal):
		delete(l.open, index)
	case err != nil:
		l.log.Warn("Failed to act on instance", "index", index, "action", action.Type, "err", err)
	}
}
