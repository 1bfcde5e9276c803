package brokerService

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// deliverLocally hands text to the callback of every subscriber of the topic
// that is attached to this broker. Subscribers attached elsewhere are
// skipped. Returns the number of callbacks reached.
func (b *Broker) deliverLocally(ctx context.Context, id int, text string) (int, error) {
	names, err := b.registry.GetAllSubscriberNames(ctx, id)
	if err != nil {
		return 0, err
	}

	delivered, failed := 0, 0
	for _, name := range names {
		b.subsMu.RLock()
		cb, ok := b.localSubscribers[name]
		b.subsMu.RUnlock()
		if !ok {
			continue
		}

		if err := cb.ReceiveMessage(text); err != nil {
			failed++
			b.log.WithError(err).WithFields(map[string]interface{}{"user": name, "topic_id": id}).
				Warn("Failed to deliver message to subscriber")
			continue
		}
		delivered++
	}

	b.metrics.IncDelivered(id, delivered)
	b.metrics.IncDeliveryFailed(id, failed)
	return delivered, nil
}

// federationBroadcast forwards text to every peer exactly once. A peer that
// fails is logged and skipped; it never stops delivery to the others.
func (b *Broker) federationBroadcast(ctx context.Context, id int, text string) {
	peers := b.peerSnapshot()
	if len(peers) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	if b.cfg.FederationConcurrency > 0 {
		g.SetLimit(b.cfg.FederationConcurrency)
	}

	for addr, peer := range peers {
		addr, peer := addr, peer
		g.Go(func() error {
			callCtx, cancel := b.requestContext(gctx)
			defer cancel()

			if err := peer.ReceiveMessageFromBroker(callCtx, id, text); err != nil {
				b.metrics.IncFederated(false)
				b.log.WithError(err).WithFields(map[string]interface{}{"peer": addr, "topic_id": id}).
					Warn("Failed to forward message to peer")
				return nil
			}
			b.metrics.IncFederated(true)
			return nil
		})
	}
	_ = g.Wait()
}

// ReceiveMessageFromBroker delivers a message forwarded by a peer to this
// broker's local subscribers. It does not forward again.
func (b *Broker) ReceiveMessageFromBroker(ctx context.Context, id int, message string) error {
	if _, err := b.deliverLocally(ctx, id, message); err != nil {
		return b.registryErr(err)
	}
	return nil
}

func (b *Broker) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.cfg.RequestTimeout > 0 {
		return context.WithTimeout(ctx, b.cfg.RequestTimeout)
	}
	return context.WithCancel(ctx)
}
