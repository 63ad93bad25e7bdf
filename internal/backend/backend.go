// Package backend abstracts the streaming text-generation engine.
//
// DESIGN: The engine is an opaque incremental text producer behind a
// pull-based contract: Next() returns the next fragment, io.EOF at clean end
// of stream, or an error for a hard backend failure. The session layer never
// inspects transport details; it only drives this iterator.
package backend

import "context"

// Stream yields generation fragments in backend emission order.
type Stream interface {
	// Next returns the next fragment. io.EOF signals a clean end of stream;
	// any other error is a backend failure.
	Next() (string, error)

	// Close releases the underlying connection. Safe to call after Next
	// returned an error.
	Close() error
}

// Generator opens one streaming generation call for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (Stream, error)
}
