package main

import (
	"bufio"
	"fmt"
	"os"
	"runtime"

	"golang.org/x/term"
)

// rawTerminal remembers the terminal state from before the first switch to
// raw mode so every restore goes back to it.
type rawTerminal struct {
	fd   int
	orig *term.State
}

func makeRaw(fd int) (*rawTerminal, error) {
	st, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return &rawTerminal{fd: fd, orig: st}, nil
}

func (t *rawTerminal) reenter() error {
	_, err := term.MakeRaw(t.fd)
	return err
}

func (t *rawTerminal) restore() {
	if t.orig != nil {
		_ = term.Restore(t.fd, t.orig)
	}
}

// interactiveSelect lets the user move through lines with the arrow keys and
// press Enter to call onSelect with the chosen index. It reports false when
// the terminal cannot be put in raw mode.
func interactiveSelect(lines []string, onSelect func(i int)) bool {
	if len(lines) == 0 {
		return true
	}

	if runtime.GOOS == "windows" {
		enableVT()
	}

	tty, err := makeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return false
	}
	defer tty.restore()

	reader := bufio.NewReader(os.Stdin)
	selected := 0

	redraw := func() {
		// Clear screen (ANSI reset to top + clear screen)
		fmt.Print("\033[H\033[2J")
		for i, l := range lines {
			prefix := "  "
			if i == selected {
				prefix = "> "
			}
			// raw mode disables output post-processing, so emit CR explicitly
			fmt.Print(prefix + l + "\r\n")
		}
		fmt.Print("(↑/↓ to navigate, Enter to view, Esc to quit)\r\n")
	}

	up := func() {
		if selected > 0 {
			selected--
			redraw()
		}
	}
	down := func() {
		if selected < len(lines)-1 {
			selected++
			redraw()
		}
	}
	choose := func() bool {
		tty.restore()
		fmt.Println()
		onSelect(selected)

		fmt.Print("\n(press Enter to return)")
		_, _ = bufio.NewReader(os.Stdin).ReadBytes('\n')

		if err := tty.reenter(); err != nil {
			return false
		}
		reader = bufio.NewReader(os.Stdin)
		redraw()
		return true
	}

	redraw()

	for {
		b1, err := reader.ReadByte()
		if err != nil {
			return true
		}
		// Windows console arrow sequences (0 or 224, then code)
		if b1 == 0 || b1 == 224 {
			b2, _ := reader.ReadByte()
			switch b2 {
			case 72:
				up()
			case 80:
				down()
			case 13:
				if !choose() {
					return true
				}
			}
			continue
		}

		switch b1 {
		case 27: // ESC or ANSI sequence
			if reader.Buffered() == 0 {
				fmt.Print("\r\n")
				return true
			}
			b2, _ := reader.ReadByte()
			if b2 != '[' || reader.Buffered() == 0 {
				continue
			}
			b3, _ := reader.ReadByte()
			switch b3 {
			case 'A':
				up()
			case 'B':
				down()
			}
		case 'k':
			up()
		case 'j':
			down()
		case '\r', '\n':
			if !choose() {
				return true
			}
		case 3, 'q': // Ctrl-C
			fmt.Print("\r\n")
			return true
		}
	}
}
