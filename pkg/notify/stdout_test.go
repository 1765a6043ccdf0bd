package notify

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"
	"time"
)

func TestStdoutNotifierSend(t *testing.T) {
	// Capture stdout
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	notifier := NewStdoutNotifier()
	err := notifier.Send(Message{
		Domain:  "phish-paypal.com",
		Pattern: "paypal",
		Text:    "Suspicious domain phish-paypal.com matched \"paypal\"",
		Time:    time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
	})

	// Restore stdout and read output
	_ = w.Close()
	os.Stdout = old
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)

	if err != nil {
		t.Errorf("Send() error = %v, want nil", err)
	}
	if !strings.Contains(buf.String(), "phish-paypal.com matched \"paypal\"") {
		t.Errorf("Send() printed %q, want the message text", buf.String())
	}
}

func TestNewStdoutNotifier(t *testing.T) {
	notifier := NewStdoutNotifier()
	if notifier == nil {
		t.Fatal("NewStdoutNotifier() returned nil")
	}

	// Verify it implements the Notifier interface
	var _ Notifier = notifier
}
