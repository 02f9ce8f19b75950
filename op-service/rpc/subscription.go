package rpc

import (
	"context"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// subscriptionBuffer is how many values a subscriber may fall behind the feed before it is dropped.
const subscriptionBuffer = 64

// SubscribeRPC forwards the values of feed that pass the filter to an RPC subscription.
// A nil filter forwards everything. The subscription ends when the client unsubscribes or
// disconnects, or when it falls too far behind the feed.
func SubscribeRPC[T any](ctx context.Context, logger log.Logger, feed *event.FeedOf[T], filter func(T) bool) (*gethrpc.Subscription, error) {
	notifier, supported := gethrpc.NotifierFromContext(ctx)
	if !supported {
		return &gethrpc.Subscription{}, gethrpc.ErrNotificationsUnsupported
	}

	rpcSub := notifier.CreateSubscription()
	logger = logger.New("subscription", rpcSub.ID)
	logger.Info("Opening subscription via RPC")
	forward(logger, feed, filter, func(v T) error {
		return notifier.Notify(rpcSub.ID, v)
	}, rpcSub.Err())
	return rpcSub, nil
}

// forward relays feed values to notify. Receiving from the feed never waits on notify, so a
// slow client cannot hold up the other subscribers of the feed.
func forward[T any](logger log.Logger, feed *event.FeedOf[T], filter func(T) bool, notify func(T) error, clientErr <-chan error) {
	ch := make(chan T, subscriptionBuffer)
	feedSub := feed.Subscribe(ch)
	queue := make(chan T, subscriptionBuffer)
	lagged := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer feedSub.Unsubscribe()
		for {
			select {
			case v := <-ch:
				if filter != nil && !filter(v) {
					continue
				}
				select {
				case queue <- v:
				default:
					close(lagged)
					return
				}
			case <-done:
				return
			}
		}
	}()

	go func() {
		defer close(done)
		defer logger.Info("Closing RPC subscription")
		for {
			select {
			case v := <-queue:
				if err := notify(v); err != nil {
					logger.Warn("Failed to notify RPC subscription", "err", err)
					return
				}
			case <-lagged:
				logger.Warn("Dropping RPC subscription that fell behind", "buffer", subscriptionBuffer)
				return
			case err, ok := <-clientErr:
				if !ok || err == nil {
					logger.Debug("Exiting subscription")
					return
				}
				logger.Warn("RPC subscription failed", "err", err)
				return
			}
		}
	}()
}
