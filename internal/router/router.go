// Package router fans packets in from N transports and fans them back out to
// every other transport, with no deduplication: it is the wire between the
// transport layer and the engine.
package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"

	"github.com/soft-mesh/meshgate/internal/transport"
)

// Received pairs an Inbound with the index of the transport it arrived on,
// so the caller can fan it back out to every other transport.
type Received struct {
	TransportIndex int
	Inbound        transport.Inbound
}

// Router owns a fixed set of transports, reading from all of them
// concurrently and writing to a caller-selected subset.
type Router struct {
	transports []transport.Transport
	log        *log.Logger

	recvCh chan Received
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Router over the given transports. Transport indices are
// assigned by position in ts and are stable for the Router's lifetime.
func New(ts ...transport.Transport) *Router {
	return &Router{
		transports: ts,
		log:        log.Default().WithPrefix("router"),
	}
}

// Connect dials every transport concurrently; if any fails, the others that
// succeeded are left connected and the first error is returned. Once all
// succeed, a background goroutine per transport starts forwarding Inbound
// items into Recv's channel.
func (r *Router) Connect(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)
	for i, t := range r.transports {
		i, t := i, t
		eg.Go(func() error {
			if err := t.Connect(egCtx); err != nil {
				return fmt.Errorf("router: connecting transport %d (%s): %w", i, t, err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.recvCh = make(chan Received, 64)

	for i, t := range r.transports {
		r.wg.Add(1)
		go r.recvLoop(runCtx, i, t)
	}
	return nil
}

func (r *Router) recvLoop(ctx context.Context, index int, t transport.Transport) {
	defer r.wg.Done()
	for {
		inbound, err := t.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Error("transport recv failed, stopping its read loop", "transport", t, "err", err)
			return
		}
		select {
		case r.recvCh <- Received{TransportIndex: index, Inbound: inbound}:
		case <-ctx.Done():
			return
		}
	}
}

// Recv returns the next item received on any transport.
func (r *Router) Recv(ctx context.Context) (Received, error) {
	select {
	case <-ctx.Done():
		return Received{}, ctx.Err()
	case item := <-r.recvCh:
		return item, nil
	}
}

// Send writes packet to every transport except exceptIndex (pass -1 to send
// to all). Each transport's send runs independently; a failure on one
// transport is logged and does not prevent delivery to the others.
func (r *Router) Send(ctx context.Context, exceptIndex int, packet *meshtastic.MeshPacket) {
	var wg sync.WaitGroup
	for i, t := range r.transports {
		if i == exceptIndex {
			continue
		}
		wg.Add(1)
		go func(i int, t transport.Transport) {
			defer wg.Done()
			if err := t.Send(ctx, packet); err != nil {
				r.log.Error("forwarding packet failed", "transport", t, "err", err)
			}
		}(i, t)
	}
	wg.Wait()
}

// Disconnect tears down every transport concurrently and stops the receive
// loops. Individual disconnect failures are logged, not returned, since
// shutdown should proceed regardless.
func (r *Router) Disconnect(ctx context.Context) {
	if r.cancel != nil {
		r.cancel()
	}
	var wg sync.WaitGroup
	for _, t := range r.transports {
		wg.Add(1)
		go func(t transport.Transport) {
			defer wg.Done()
			if err := t.Disconnect(ctx); err != nil {
				r.log.Error("disconnecting transport failed", "transport", t, "err", err)
			}
		}(t)
	}
	wg.Wait()
	r.wg.Wait()
}

// Len reports the number of transports the router owns.
func (r *Router) Len() int {
	return len(r.transports)
}
