//go:build !windows

package main

// enableVT is a no-op outside Windows; ANSI terminals need no setup.
func enableVT() {}
