package diskcache

import "errors"

// ErrInvalidKey is returned when a key is empty or contains a path
// separator, since keys double as single-segment filesystem names.
var ErrInvalidKey = errors.New("diskcache: invalid key")
