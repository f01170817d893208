package p2pnode

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p-core/event"
	"github.com/libp2p/go-libp2p-core/host"
	"github.com/libp2p/go-libp2p-core/network"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-core/peerstore"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"
)

// errEventLoopClosed is delivered to every outstanding pending entry when
// the loop terminates (spec.md §4.B Termination).
var errEventLoopClosed = errors.New("p2pnode: event loop terminated")

// EventLoop is the single owner of all mutable network state: the libp2p
// host, the DHT, and the four pending-correlation tables. Every other
// component (Facade, CacheNotifier, DiskFileProvider) only ever talks to
// it through the command channel. Spec.md §4.B.
//
// go-libp2p has no single SwarmEvent enum the way rust-libp2p's Swarm
// does: DHT queries (Provide, FindProvidersAsync) are blocking calls that
// already correlate their own result by return value, and Identify
// completion arrives over the host's event bus instead of a unified
// handle_event switch. To keep a single goroutine as the sole mutator of
// host/dht state and of the pending tables, blocking calls are farmed out
// to short-lived helper goroutines that report back by submitting a
// closure on internal, which only the loop goroutine ever executes.
type EventLoop struct {
	host         host.Host
	dht          *dht.IpfsDHT
	fileProvider FileProvider

	commands chan command
	internal chan func()

	pendingStartProviding *pendingTable[string, struct{}]
	pendingGetProviders   *pendingTable[string, []byte]
	pendingGetFile        *pendingTable[string, []byte]
	pendingStartListening *pendingTable[string, multiaddr.Multiaddr]

	// retracted is local-only bookkeeping of keys RemoveFile was called
	// on; only ever touched from the loop goroutine (handleAddFile /
	// handleRemoveFile), never from the stream handler goroutine.
	retracted map[string]struct{}

	done chan struct{}
}

func newEventLoop(h host.Host, d *dht.IpfsDHT, fp FileProvider) *EventLoop {
	e := &EventLoop{
		host:                  h,
		dht:                   d,
		fileProvider:          fp,
		commands:              make(chan command, 32),
		internal:              make(chan func(), 32),
		pendingStartProviding: newPendingTable[string, struct{}](),
		pendingGetProviders:   newPendingTable[string, []byte](),
		pendingGetFile:        newPendingTable[string, []byte](),
		pendingStartListening: newPendingTable[string, multiaddr.Multiaddr](),
		retracted:             make(map[string]struct{}),
		done:                  make(chan struct{}),
	}
	h.SetStreamHandler(fileExchangeProtocol, e.handleStream)
	return e
}

// run is the event loop body. It returns (and closes e.done) when ctx is
// canceled or the command channel is closed, at which point every
// outstanding pending entry is delivered errEventLoopClosed.
func (e *EventLoop) run(ctx context.Context) {
	sub, err := e.host.EventBus().Subscribe(new(event.EvtPeerIdentificationCompleted))
	if err != nil {
		logrus.WithError(err).Warn("p2pnode: failed to subscribe to identify events")
	} else {
		go e.watchIdentify(sub)
		defer sub.Close()
	}

	defer close(e.done)
	defer e.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-e.commands:
			if !ok {
				return
			}
			e.handleCommand(ctx, cmd)
		case fn := <-e.internal:
			fn()
		}
	}
}

func (e *EventLoop) shutdown() {
	e.pendingStartProviding.CloseAll(errEventLoopClosed)
	e.pendingGetProviders.CloseAll(errEventLoopClosed)
	e.pendingGetFile.CloseAll(errEventLoopClosed)
	e.pendingStartListening.CloseAll(errEventLoopClosed)
}

func (e *EventLoop) handleCommand(ctx context.Context, cmd command) {
	switch c := cmd.(type) {
	case cmdAddFile:
		e.handleAddFile(ctx, c)
	case cmdRemoveFile:
		e.handleRemoveFile(c)
	case cmdGetFile:
		e.handleGetFile(ctx, c)
	case cmdAddPeer:
		e.handleAddPeer(ctx, c)
	case cmdStartListening:
		e.handleStartListening(c)
	}
}

// handleAddFile issues start_providing and registers the command's own
// reply channel as the sink under a fresh query-id. Spec.md §4.B AddFile.
func (e *EventLoop) handleAddFile(ctx context.Context, c cmdAddFile) {
	key, err := keyToCID(c.path)
	if err != nil {
		c.reply <- result[struct{}]{Err: err}
		return
	}
	delete(e.retracted, c.path)
	queryID := uuid.NewString()
	e.pendingStartProviding.Put(queryID, c.reply)
	go func() {
		provideErr := e.dht.Provide(ctx, key, true)
		e.internal <- func() {
			e.pendingStartProviding.Deliver(queryID, result[struct{}]{Err: provideErr})
		}
	}()
}

// handleRemoveFile is fire-and-forget: it replies success immediately.
// go-libp2p-kad-dht's provider store exposes no remove/retract primitive
// (DHT writes are monotonic advertisements, spec.md §5), so there is
// nothing to undo on the wire; this only records local bookkeeping,
// matching the synchronous-local-only semantics stop_providing already
// has in original_source. retracted is consulted by nothing today (no
// reprovide loop exists to skip over it), but records the decision for
// whenever one is added.
func (e *EventLoop) handleRemoveFile(c cmdRemoveFile) {
	e.retracted[c.path] = struct{}{}
	c.reply <- result[struct{}]{}
}

// handleGetFile registers the command's reply channel under a fresh
// query-id in pendingGetProviders, then asks the DHT for a provider in a
// helper goroutine. Spec.md §4.B GetFile, AwaitingProviders state.
func (e *EventLoop) handleGetFile(ctx context.Context, c cmdGetFile) {
	key, err := keyToCID(c.path)
	if err != nil {
		c.reply <- result[[]byte]{Err: err}
		return
	}
	queryID := uuid.NewString()
	e.pendingGetProviders.Put(queryID, c.reply)
	go e.runGetProviders(ctx, queryID, c.path, key)
}

// runGetProviders asks the DHT for a single provider of key. Per spec.md
// §9 (Open Question resolved): only the first provider returned is ever
// tried, no retry against a second one. On success the sink is moved
// (not delivered) into pendingGetFile under a fresh request-id, and a
// FileRequest is sent to the chosen provider.
func (e *EventLoop) runGetProviders(ctx context.Context, queryID, path string, key cid.Cid) {
	providersCh := e.dht.FindProvidersAsync(ctx, key, 1)
	provider, found := <-providersCh
	e.internal <- func() {
		sink, ok := e.pendingGetProviders.Take(queryID)
		if !ok {
			return
		}
		if !found {
			sink <- result[[]byte]{}
			return
		}
		requestID := uuid.NewString()
		e.pendingGetFile.Put(requestID, sink)
		go e.runFileRequest(ctx, requestID, provider, path)
	}
}

func (e *EventLoop) runFileRequest(ctx context.Context, requestID string, provider peer.AddrInfo, path string) {
	if len(provider.Addrs) > 0 {
		e.host.Peerstore().AddAddrs(provider.ID, provider.Addrs, peerstore.TempAddrTTL)
	}
	stream, err := e.host.NewStream(ctx, provider.ID, fileExchangeProtocol)
	if err != nil {
		e.internal <- func() {
			e.pendingGetFile.Deliver(requestID, result[[]byte]{Err: err})
		}
		return
	}
	resp, err := sendFileRequest(stream, fileRequest{Path: path})
	e.internal <- func() {
		e.pendingGetFile.Deliver(requestID, result[[]byte]{Val: resp.Content, Err: err})
	}
}

func (e *EventLoop) handleAddPeer(ctx context.Context, c cmdAddPeer) {
	go func() {
		info, err := peer.AddrInfoFromP2pAddr(c.addr)
		if err != nil {
			c.reply <- result[struct{}]{Err: err}
			return
		}
		err = e.host.Connect(ctx, *info)
		c.reply <- result[struct{}]{Err: err}
	}()
}

// handleStartListening is synchronous in go-libp2p (unlike rust-libp2p's
// listen_on, Network().Listen blocks until the listener is bound and the
// address resolved), but is still routed through pendingStartListening so
// the table's invariants are exercised uniformly with the other three.
func (e *EventLoop) handleStartListening(c cmdStartListening) {
	listenerID := uuid.NewString()
	e.pendingStartListening.Put(listenerID, c.reply)
	if err := e.host.Network().Listen(c.addr); err != nil {
		e.pendingStartListening.Deliver(listenerID, result[multiaddr.Multiaddr]{Err: err})
		return
	}
	addr := e.resolveListenAddr(c.addr)
	e.pendingStartListening.Deliver(listenerID, result[multiaddr.Multiaddr]{Val: addr})
}

// resolveListenAddr picks the host's externally-visible address matching
// what was requested (same protocol stack), covering the :0 ("let the OS
// choose a port") case.
func (e *EventLoop) resolveListenAddr(requested multiaddr.Multiaddr) multiaddr.Multiaddr {
	addrs := e.host.Addrs()
	if len(addrs) == 0 {
		return requested
	}
	want := requested.Protocols()
	for _, a := range addrs {
		got := a.Protocols()
		same := len(got) == len(want)
		for i := 0; same && i < len(got); i++ {
			same = got[i].Code == want[i].Code
		}
		if same {
			return a
		}
	}
	return addrs[0]
}

func (e *EventLoop) watchIdentify(sub event.Subscription) {
	for ev := range sub.Out() {
		idEvt, ok := ev.(event.EvtPeerIdentificationCompleted)
		if !ok {
			continue
		}
		if len(idEvt.ListenAddrs) == 0 {
			continue
		}
		addr := idEvt.ListenAddrs[0]
		p := idEvt.Peer
		e.internal <- func() {
			e.host.Peerstore().AddAddr(p, addr, peerstore.PermanentAddrTTL)
			if _, err := e.dht.RoutingTable().TryAddPeer(p, true, false); err != nil {
				logrus.WithError(err).WithField("peer", p).Debug("p2pnode: failed to add peer to routing table")
			}
		}
	}
}

// handleStream serves one inbound file request. It runs on whichever
// goroutine go-libp2p dispatches the stream handler on (not the event
// loop goroutine) because FileProvider is guaranteed side-effect-free on
// shared state: it only touches the filesystem, never the pending tables
// or the diskcache LRU index (spec.md §9).
func (e *EventLoop) handleStream(s network.Stream) {
	req, err := receiveFileRequest(s)
	if err != nil {
		logrus.WithError(err).Debug("p2pnode: failed to read file request")
		s.Close()
		return
	}
	content := e.fileProvider.GetFile(req.Path)
	// sendFileResponse closes s itself (protocol.go), on both the success
	// and the write-error path.
	if err := sendFileResponse(s, fileResponse{Content: content}); err != nil {
		logrus.WithError(err).Debug("p2pnode: failed to write file response")
	}
}
