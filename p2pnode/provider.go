package p2pnode

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// FileProvider maps a blob name to local bytes for remote peers. It must
// be safe to call synchronously from inside the event loop's single
// goroutine and must never call back into a diskcache.Cache -- only into
// the filesystem -- to avoid the cache-callback cycle warned about in
// spec.md §9.
type FileProvider interface {
	GetFile(path string) []byte // nil means absent
}

// DiskFileProvider reads root/path directly. It never raises: any failure
// (missing file, path traversal attempt, I/O error) is treated as absent
// and logged at debug level, matching spec.md §4.D.
type DiskFileProvider struct {
	Root string
}

func (p DiskFileProvider) GetFile(path string) []byte {
	if path == "" || strings.Contains(path, "..") || strings.ContainsAny(path, "/\\") {
		logrus.WithField("path", path).Debug("p2pnode: rejecting unsafe file request path")
		return nil
	}
	data, err := os.ReadFile(filepath.Join(p.Root, path))
	if err != nil {
		logrus.WithError(err).WithField("path", path).Debug("p2pnode: file request for absent path")
		return nil
	}
	return data
}
