// Package status renders interactive output: the startup banner, the
// colored match echo, and periodic progress logging for long
// unattended runs.
package status

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/0xdap/certsquat/pkg/types"
)

const (
	green     = "\033[32m"
	red       = "\033[31m"
	boldGreen = "\033[1;32m"
	boldRed   = "\033[1;31m"
	reset     = "\033[0m"

	// Minimum width of the domain column; it grows to the longest
	// domain seen so the arrows line up.
	defaultPadding = 25

	separatorWidth = 70
)

// Console echoes matches to a terminal, colored when the output
// supports it.
type Console struct {
	mu     sync.Mutex
	writer io.Writer
	color  bool
	width  int
}

// NewConsole creates a console echo writing to writer. Pass color
// false when writer is not a terminal.
func NewConsole(writer io.Writer, color bool) *Console {
	return &Console{
		writer: writer,
		color:  color,
		width:  defaultPadding,
	}
}

// Banner prints the startup banner.
func (c *Console) Banner() {
	separator := strings.Repeat("─", separatorWidth)
	art := []string{
		"┌─┐┌─┐┬─┐┌┬┐┌─┐┌─┐ ┬ ┬┌─┐┌┬┐",
		"│  ├┤ ├┬┘ │ └─┐│─┼┐│ │├─┤ │ ",
		"└─┘└─┘┴└─ ┴ └─┘└─┘└└─┘┴ ┴ ┴ ",
	}
	padding := strings.Repeat(" ", (separatorWidth-utf8.RuneCountInString(art[0]))/2)

	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintln(c.writer, c.paint(separator, boldRed))
	for _, line := range art {
		_, _ = fmt.Fprintln(c.writer, padding+c.paint(line, boldGreen))
	}
	_, _ = fmt.Fprintln(c.writer, c.paint(separator, boldRed))
}

// Match echoes one confirmed match. Writes are best effort; a broken
// terminal never interrupts the pipeline.
func (c *Console) Match(event types.MatchEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n := len(event.Domain); n > c.width {
		c.width = n
	}
	pad := strings.Repeat(" ", c.width+5-len(event.Domain))

	line := c.paint(event.Domain, green) + pad + "Match -> " + c.paint(event.Pattern, red)
	if len(event.Addresses) > 0 {
		line += " [" + strings.Join(event.Addresses, ", ") + "]"
	}
	_, _ = fmt.Fprintln(c.writer, line)
}

func (c *Console) paint(s, color string) string {
	if !c.color {
		return s
	}
	return color + s + reset
}
