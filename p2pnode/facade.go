package p2pnode

import (
	"context"

	"github.com/libp2p/go-libp2p"
	connmgr "github.com/libp2p/go-libp2p-connmgr"
	"github.com/libp2p/go-libp2p-core/peer"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/multiformats/go-multiaddr"
	"github.com/pkg/errors"
)

// Options configures a Facade. Spec.md §4.C.
type Options struct {
	// ListenAddr is the multiaddress to bind to, e.g.
	// "/ip6/::/udp/0/quic-v1" to let the OS choose a port.
	ListenAddr multiaddr.Multiaddr
	// FileProvider serves inbound file requests from remote peers.
	FileProvider FileProvider
}

// Facade is the handle every other component uses to talk to a node's
// network stack. It is cheap to copy: all state lives in the event loop
// goroutine it was constructed with, and every method is a request/reply
// round trip over the command channel. Spec.md §4.C.
type Facade struct {
	loop       *EventLoop
	peerID     peer.ID
	listenAddr multiaddr.Multiaddr
}

// New builds a libp2p host and DHT, starts the event loop, binds the
// requested listen address, and blocks until the bound address is known.
// Spec.md §4.C New.
func New(ctx context.Context, opts Options) (*Facade, error) {
	cm, err := connmgr.NewConnManager(64, 256)
	if err != nil {
		return nil, errors.Wrap(err, "p2pnode: building connection manager")
	}

	h, err := libp2p.New(
		libp2p.UserAgent(agentVersion),
		libp2p.ConnectionManager(cm),
	)
	if err != nil {
		return nil, errors.Wrap(err, "p2pnode: constructing libp2p host")
	}

	kad, err := dht.New(ctx, h, dht.Mode(dht.ModeServer))
	if err != nil {
		h.Close()
		return nil, errors.Wrap(err, "p2pnode: constructing dht")
	}

	fp := opts.FileProvider
	if fp == nil {
		fp = DiskFileProvider{}
	}

	loop := newEventLoop(h, kad, fp)
	go loop.run(ctx)

	f := &Facade{loop: loop, peerID: h.ID()}

	addr, err := f.startListening(ctx, opts.ListenAddr)
	if err != nil {
		return nil, err
	}
	f.listenAddr = addr
	return f, nil
}

func (f *Facade) startListening(ctx context.Context, addr multiaddr.Multiaddr) (multiaddr.Multiaddr, error) {
	reply := make(chan result[multiaddr.Multiaddr], 1)
	cmd := cmdStartListening{addr: addr, reply: reply}
	select {
	case f.loop.commands <- cmd:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.Val, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PeerID returns this node's libp2p peer identity.
func (f *Facade) PeerID() peer.ID { return f.peerID }

// ListenAddr returns the address resolved during New.
func (f *Facade) ListenAddr() multiaddr.Multiaddr { return f.listenAddr }

// AddFile advertises key as locally available. Spec.md §4.C AddFile.
func (f *Facade) AddFile(ctx context.Context, key string) error {
	reply := make(chan result[struct{}], 1)
	if err := f.send(ctx, cmdAddFile{path: key, reply: reply}); err != nil {
		return err
	}
	r, err := awaitReply(ctx, reply)
	if err != nil {
		return err
	}
	return r.Err
}

// RemoveFile tells the event loop that key is no longer held locally. The
// loop records this locally and replies at once; the DHT provider record
// published by AddFile is not withdrawn, so peers can still find this node
// as a provider of key. Spec.md §4.C RemoveFile.
func (f *Facade) RemoveFile(ctx context.Context, key string) error {
	reply := make(chan result[struct{}], 1)
	if err := f.send(ctx, cmdRemoveFile{path: key, reply: reply}); err != nil {
		return err
	}
	r, err := awaitReply(ctx, reply)
	if err != nil {
		return err
	}
	return r.Err
}

// GetFile fetches path from a remote provider. A nil, nil return means no
// provider was found or the provider did not have the file. Spec.md §4.C
// GetFile.
func (f *Facade) GetFile(ctx context.Context, path string) ([]byte, error) {
	reply := make(chan result[[]byte], 1)
	if err := f.send(ctx, cmdGetFile{path: path, reply: reply}); err != nil {
		return nil, err
	}
	r, err := awaitReply(ctx, reply)
	if err != nil {
		return nil, err
	}
	return r.Val, r.Err
}

// AddPeer dials and adds a peer from its full multiaddress (including the
// /p2p/<peer-id> suffix). Spec.md §4.C AddPeer.
func (f *Facade) AddPeer(ctx context.Context, addr multiaddr.Multiaddr) error {
	reply := make(chan result[struct{}], 1)
	if err := f.send(ctx, cmdAddPeer{addr: addr, reply: reply}); err != nil {
		return err
	}
	r, err := awaitReply(ctx, reply)
	if err != nil {
		return err
	}
	return r.Err
}

func (f *Facade) send(ctx context.Context, cmd command) error {
	select {
	case f.loop.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func awaitReply[V any](ctx context.Context, reply chan result[V]) (result[V], error) {
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return result[V]{}, ctx.Err()
	}
}
