// Package artifact retrieves layer artifacts from the remote object store
// into the local staging directory. Fetch failures are soft by design: a
// missing remote object simply leaves the local path absent and downstream
// stages must tolerate that.
package artifact

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// ErrNotFound indicates the remote object does not exist. Callers treat it
// as a soft failure.
var ErrNotFound = errors.New("artifact not found")

// Fetcher retrieves a remote object by key into a local path.
type Fetcher interface {
	Fetch(ctx context.Context, key, localPath string) error
}

// Nop is a Fetcher that skips all downloads. It backs --skip-download, used
// to re-run layers against files already staged locally.
type Nop struct {
	Log zerolog.Logger
}

// Fetch implements Fetcher by doing nothing.
func (n Nop) Fetch(_ context.Context, key, localPath string) error {
	n.Log.Debug().Str("key", key).Str("path", localPath).Msg("download skipped")
	return nil
}
