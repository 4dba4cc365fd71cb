package fetch

import (
	"context"
	"io"

	"github.com/tonimelisma/ssofetch/internal/account"
	"github.com/tonimelisma/ssofetch/internal/resource"
)

// DataSource tells a loading pipeline where bytes came from, which it uses
// to decide what is worth caching.
type DataSource int

// Data sources.
const (
	DataSourceLocal DataSource = iota
	DataSourceRemote
	DataSourceMemoryCache
)

func (d DataSource) String() string {
	switch d {
	case DataSourceLocal:
		return "local"
	case DataSourceRemote:
		return "remote"
	case DataSourceMemoryCache:
		return "memory_cache"
	default:
		return "unknown"
	}
}

// DataCallback receives the outcome of StreamFetcher.LoadData. Exactly one
// method is called per LoadData.
type DataCallback interface {
	OnDataReady(data io.ReadCloser)
	OnLoadFailed(err error)
}

// StreamFetcher binds one identifier to a Fetcher for a loading pipeline
// that drives fetches through a callback contract.
type StreamFetcher struct {
	fetcher  *Fetcher
	resolver account.Resolver
	id       resource.Identifier
}

// Stream returns a StreamFetcher for id using the Fetcher's resolver.
func (f *Fetcher) Stream(id resource.Identifier) *StreamFetcher {
	return &StreamFetcher{fetcher: f, resolver: f.resolver, id: id}
}

// StreamAs returns a StreamFetcher for id fetched as the account resolver
// yields.
func (f *Fetcher) StreamAs(resolver account.Resolver, id resource.Identifier) *StreamFetcher {
	return &StreamFetcher{fetcher: f, resolver: resolver, id: id}
}

// LoadData fetches the identifier and reports through cb.
func (s *StreamFetcher) LoadData(ctx context.Context, cb DataCallback) {
	body, err := s.fetcher.FetchAs(ctx, s.resolver, s.id)
	if err != nil {
		cb.OnLoadFailed(err)
		return
	}

	cb.OnDataReady(body)
}

// Cleanup is a no-op: no per-call resources are held outside the registry.
func (s *StreamFetcher) Cleanup() {}

// Cancel is a no-op. Cancel the context passed to LoadData instead.
func (s *StreamFetcher) Cancel() {}

// DataSource always reports DataSourceRemote.
func (s *StreamFetcher) DataSource() DataSource {
	return DataSourceRemote
}

// DataClass names the type handed to OnDataReady.
func (s *StreamFetcher) DataClass() string {
	return "io.ReadCloser"
}
