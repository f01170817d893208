package p2pnode

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// CacheNotifier adapts a Facade into a diskcache.Notifier: Added pushes an
// advertise command to the event loop, Removed sends RemoveFile (which
// does not withdraw the DHT provider record; see Facade.RemoveFile).
// Spec.md §4.E.
//
// It depends only on Facade's exported operations (not on diskcache) so
// diskcache stays free of any p2p import; the two are wired together by
// the top-level disca.Node.
type CacheNotifier struct {
	Facade *Facade
	// Timeout bounds how long a single Added/Removed call waits for the
	// event loop before giving up and logging. Notifier calls are
	// fire-and-forget by contract (spec.md §4.A), so this must never
	// block the caller (a diskcache.Cache.Insert/evict) indefinitely.
	Timeout time.Duration
}

func (n CacheNotifier) timeout() time.Duration {
	if n.Timeout <= 0 {
		return 10 * time.Second
	}
	return n.Timeout
}

func (n CacheNotifier) Added(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout())
	defer cancel()
	if err := n.Facade.AddFile(ctx, key); err != nil {
		logrus.WithError(err).WithField("key", key).Warn("p2pnode: failed to advertise added key")
	}
}

func (n CacheNotifier) Removed(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout())
	defer cancel()
	if err := n.Facade.RemoveFile(ctx, key); err != nil {
		logrus.WithError(err).WithField("key", key).Warn("p2pnode: failed to retract removed key")
	}
}
