// Package interfaces defines the core interfaces used throughout the application.
package interfaces

import "context"

// Source delivers domain-name observations extracted from a live
// certificate stream, in the order the stream produced them. Run drives
// the stream until ctx is canceled or the connection fails permanently;
// the Domains channel is closed when Run returns.
type Source interface {
	Run(ctx context.Context) error
	Domains() <-chan string
}

// RateLimiter limits notification frequency.
type RateLimiter interface {
	Allow() bool
	Reset()
}
