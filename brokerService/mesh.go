package brokerService

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/tanmay-xvx/meshbus/internals/buserr"
	"github.com/tanmay-xvx/meshbus/internals/models"
)

// Join registers this broker with the directory and connects to every
// broker that registered before it. It does not announce itself; call
// Announce once the broker is serving.
func (b *Broker) Join(ctx context.Context, dir Registrar, self models.BrokerAddress) (*models.Registration, error) {
	reg, err := dir.RegisterBroker(ctx, self.Host, self.Port)
	if err != nil {
		return nil, fmt.Errorf("register with directory: %w", err)
	}

	b.peersMu.Lock()
	b.id = reg.ID
	b.self = self.String()
	b.peersMu.Unlock()

	b.log = b.log.WithField("broker", reg.ID)

	for _, p := range reg.Peers {
		if err := b.AddPeer(p.String()); err != nil {
			b.log.WithError(err).Warnf("Failed to connect to peer %s", p)
		}
	}

	b.log.Infof("Registered with directory as broker %d, %d peer(s)", reg.ID, len(reg.Peers))
	return reg, nil
}

// Announce tells every known peer to connect back to this broker.
func (b *Broker) Announce(ctx context.Context) {
	b.peersMu.RLock()
	self := b.self
	b.peersMu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for addr, peer := range b.peerSnapshot() {
		addr, peer := addr, peer
		g.Go(func() error {
			callCtx, cancel := b.requestContext(gctx)
			defer cancel()

			if err := peer.ReceiveConnection(callCtx, self); err != nil {
				b.log.WithError(err).Warnf("Failed to announce to peer %s", addr)
				return nil
			}
			b.log.Infof("Announced to peer %s", addr)
			return nil
		})
	}
	_ = g.Wait()
}

// ReceiveConnection adds the broker at address as a peer.
func (b *Broker) ReceiveConnection(ctx context.Context, address string) error {
	if err := b.AddPeer(address); err != nil {
		return err
	}
	b.log.Infof("Connection established with broker %s", address)
	return nil
}

// AddPeer dials address and keeps the handle. Known addresses and this
// broker's own address are ignored.
func (b *Broker) AddPeer(address string) error {
	b.peersMu.RLock()
	_, known := b.peers[address]
	self := b.self
	b.peersMu.RUnlock()
	if known || address == self {
		return nil
	}

	if b.dial == nil {
		return buserr.Communication(address, fmt.Errorf("no peer dialer configured"))
	}
	peer, err := b.dial(address)
	if err != nil {
		return buserr.Communication(address, err)
	}

	b.peersMu.Lock()
	if _, known := b.peers[address]; !known {
		b.peers[address] = peer
	}
	b.peersMu.Unlock()
	return nil
}

// Peers returns the addresses of the connected peers.
func (b *Broker) Peers() []string {
	b.peersMu.RLock()
	defer b.peersMu.RUnlock()

	out := make([]string, 0, len(b.peers))
	for addr := range b.peers {
		out = append(out, addr)
	}
	return out
}

func (b *Broker) peerSnapshot() map[string]PeerOps {
	b.peersMu.RLock()
	defer b.peersMu.RUnlock()

	out := make(map[string]PeerOps, len(b.peers))
	for addr, p := range b.peers {
		out[addr] = p
	}
	return out
}
