// Package types contains shared data structures used across the application.
package types

import "time"

// MatchEvent records the first observation of a watch-listed domain within
// a run. The matcher creates exactly one event per normalized domain.
type MatchEvent struct {
	Domain     string    `json:"domain"`
	Pattern    string    `json:"pattern"`
	RootDomain string    `json:"root_domain,omitempty"`
	Addresses  []string  `json:"addresses,omitempty"`
	Seen       time.Time `json:"seen"`
	RunID      string    `json:"run_id"`
}
