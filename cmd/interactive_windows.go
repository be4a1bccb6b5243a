//go:build windows

package main

import (
	"os"

	"golang.org/x/sys/windows"
)

// enableVT turns on virtual terminal input and output so arrow keys arrive
// as ANSI sequences and the redraw escapes are interpreted by the console.
func enableVT() {
	for _, h := range []struct {
		handle windows.Handle
		flag   uint32
	}{
		{windows.Handle(os.Stdin.Fd()), windows.ENABLE_VIRTUAL_TERMINAL_INPUT},
		{windows.Handle(os.Stdout.Fd()), windows.ENABLE_VIRTUAL_TERMINAL_PROCESSING},
	} {
		var mode uint32
		if windows.GetConsoleMode(h.handle, &mode) == nil {
			_ = windows.SetConsoleMode(h.handle, mode|h.flag)
		}
	}
}
