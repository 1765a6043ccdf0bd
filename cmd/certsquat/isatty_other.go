//go:build !linux
// +build !linux

package main

// isatty reports false on platforms without terminal detection, which
// only downgrades the console output to plain text.
func isatty(fd uintptr) bool {
	return false
}
