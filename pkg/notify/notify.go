// Package notify delivers match notifications to chat webhooks.
package notify

import "time"

// Message is one human-readable notification describing a match.
type Message struct {
	Domain  string
	Pattern string
	Text    string
	Time    time.Time
}

// Notifier sends match notifications to a single destination.
type Notifier interface {
	Send(msg Message) error
}
