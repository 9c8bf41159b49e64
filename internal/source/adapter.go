// Package source defines the source adapter contract and the HTTP adapters
// for the external market-data and web-search services. Adapters are safe for
// concurrent use and honor context cancellation; every failure surfaces as a
// *FetchError so the aggregator can degrade instead of aborting.
package source

import (
	"context"
	"fmt"
)

// Query describes one fetch against an adapter.
type Query struct {
	// Subject is the project under research, e.g. "Solana".
	Subject string

	// Fields the caller expects the payload to cover. Advisory: adapters
	// return what they have; the aggregator arbitrates.
	Fields []string

	// Params are adapter-specific knobs. They participate in the cache key,
	// so equal queries must produce equal params.
	Params map[string]string
}

// Payload is the normalized field map an adapter returns. Keys follow the
// shared field names in package report; adapters may also include a
// "references" entry ([]map[string]string with title/url) consumed by the
// aggregator.
type Payload map[string]any

// Adapter is the contract the pipeline consumes data sources through.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, q Query) (Payload, error)
}

// FetchError marks a failed or timed-out source call. It never escapes the
// gathering stage: the aggregator records it and falls through to the next
// source or the synthetic generator.
type FetchError struct {
	Source string
	Reason string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Source, e.Reason)
}

func (e *FetchError) Unwrap() error { return e.Err }

// fetchErr builds a FetchError, wrapping err when present.
func fetchErr(source, reason string, err error) *FetchError {
	return &FetchError{Source: source, Reason: reason, Err: err}
}
