package collector

import (
	"context"

	"github.com/skyrus-io/skyrus/internal/opensky"
)

// Source is the upstream the manager polls. It exists so cycle tests can
// substitute a fake feed for the OpenSky client.
type Source interface {
	FetchStates(ctx context.Context) (*opensky.FetchResult, error)
	Close() error
}
