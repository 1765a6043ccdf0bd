package notify

import "fmt"

// StdoutNotifier prints match notifications to stdout. Useful for piping
// matches into other tooling without configuring a webhook.
type StdoutNotifier struct{}

// NewStdoutNotifier creates a stdout notifier.
func NewStdoutNotifier() *StdoutNotifier {
	return &StdoutNotifier{}
}

// Send prints the message text.
func (n *StdoutNotifier) Send(msg Message) error {
	fmt.Println(msg.Text)
	return nil
}
