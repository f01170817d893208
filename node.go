// Package disca composes a bounded disk cache with a libp2p-backed peer
// network into a single content-addressed file cache: a Get that misses
// locally fetches from whichever peer is advertising the key, then admits
// the fetched bytes into the local cache. Spec.md §4.F.
package disca

import (
	"context"
	"os"
	"sync"

	"github.com/multiformats/go-multiaddr"
	"github.com/pkg/errors"

	"github.com/discache/disca/diskcache"
	"github.com/discache/disca/p2pnode"
)

// Options configures a Node. Spec.md §4.F Options.
type Options struct {
	// Root is the disk cache directory.
	Root string
	// Capacity is the maximum total size, in bytes, of cached blobs.
	Capacity int64
	// FilesToEvict is the eviction batch size: each eviction pass removes
	// up to FilesToEvict-1 LRU entries (diskcache.Options.FilesToEvict).
	FilesToEvict int
	// ListenAddr is the multiaddress the p2p node binds to.
	ListenAddr multiaddr.Multiaddr
}

// Node is the top-level facade: a diskcache.Cache backed by a p2pnode
// Facade that advertises and fetches keys across peers. Spec.md §4.F.
type Node struct {
	// mu serializes all cache access, per spec.md §5: the diskcache.Cache
	// is not internally synchronized (matching bazel-remote's
	// SizedLRU, also single-threaded under its own caller-held lock),
	// so Node owns the one mutex guarding it.
	mu    sync.Mutex
	cache *diskcache.Cache
	net   *p2pnode.Facade
}

// New builds a Node: the disk cache first, then a p2p Facade whose
// FileProvider reads directly out of the cache's root directory and whose
// notifier advertises keys as they are admitted and sends RemoveFile for
// them as they are evicted.
func New(ctx context.Context, opts Options) (*Node, error) {
	n := &Node{}

	notifier := p2pnode.CacheNotifier{} // Facade is filled in below; CacheNotifier only reads it when Added/Removed actually fires.
	cache, err := diskcache.New(diskcache.Options{
		Root:         opts.Root,
		Capacity:     opts.Capacity,
		FilesToEvict: opts.FilesToEvict,
	}, &lazyNotifier{inner: &notifier})
	if err != nil {
		return nil, errors.Wrap(err, "disca: constructing disk cache")
	}
	n.cache = cache

	net, err := p2pnode.New(ctx, p2pnode.Options{
		ListenAddr:   opts.ListenAddr,
		FileProvider: p2pnode.DiskFileProvider{Root: opts.Root},
	})
	if err != nil {
		return nil, errors.Wrap(err, "disca: constructing p2p node")
	}
	n.net = net
	notifier.Facade = net

	return n, nil
}

// lazyNotifier defers to a CacheNotifier whose Facade field is filled in
// after construction: Node.New needs the disk cache built (so its root
// exists) before it can build the p2p Facade that the notifier targets,
// but diskcache.New takes its Notifier up front (a nil one would be
// replaced by a NopNotifier for the cache's lifetime).
type lazyNotifier struct {
	inner *p2pnode.CacheNotifier
}

func (l *lazyNotifier) Added(key string)   { l.inner.Added(key) }
func (l *lazyNotifier) Removed(key string) { l.inner.Removed(key) }

// Add inserts content under key into the local cache and, via the
// notifier, advertises it to the network. Spec.md §4.F Add.
func (n *Node) Add(key string, content []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cache.Insert(key, content)
}

// Get returns key's content, fetching from a remote peer on a local miss
// and admitting the fetched bytes into the cache before returning them
// (spec.md §4.F Get, the miss -> fetch -> admit pipeline). A nil file and
// nil error means the key is absent everywhere.
func (n *Node) Get(ctx context.Context, key string) (*os.File, error) {
	n.mu.Lock()
	f, err := n.cache.Get(key)
	n.mu.Unlock()
	if err != nil {
		return nil, errors.Wrap(err, "disca: local cache lookup")
	}
	if f != nil {
		return f, nil
	}

	content, err := n.net.GetFile(ctx, key)
	if err != nil {
		return nil, errors.Wrap(err, "disca: fetching from peer")
	}
	if content == nil {
		return nil, nil
	}

	n.mu.Lock()
	insertErr := n.cache.Insert(key, content)
	var f2 *os.File
	var getErr error
	if insertErr == nil {
		f2, getErr = n.cache.Get(key)
	}
	n.mu.Unlock()

	if insertErr != nil {
		return nil, errors.Wrap(insertErr, "disca: admitting fetched content")
	}
	if getErr != nil {
		return nil, errors.Wrap(getErr, "disca: reading admitted content")
	}
	return f2, nil
}

// AddPeer dials and registers a remote peer by its full multiaddress.
// Spec.md §4.F AddPeer.
func (n *Node) AddPeer(ctx context.Context, addr multiaddr.Multiaddr) error {
	return n.net.AddPeer(ctx, addr)
}

// Addr returns this node's resolved listen address.
func (n *Node) Addr() multiaddr.Multiaddr { return n.net.ListenAddr() }

// PeerID returns this node's libp2p peer identity.
func (n *Node) PeerID() string { return n.net.PeerID().String() }

// Size reports the current total size of cached blobs, in bytes.
func (n *Node) Size() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cache.Size()
}
