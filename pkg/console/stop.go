// Package console holds the terminal side of the daemon: the listener that
// lets the user end a session and the rendering of updates.
package console

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/eiannone/keyboard"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// ListenForStop reads lines from in and calls stop on the first bare
// newline. It returns after stop was called, when in is exhausted or when ctx
// is done. Other input is ignored. The listener never touches session state
// itself.
func ListenForStop(ctx context.Context, in io.Reader, stop func()) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if strings.TrimRight(line, "\r") == "" {
				log.Debug().Msg("stop requested from console")
				stop()
				return
			}
		}
	}
}

// ListenForKeys reads single key presses from the terminal and calls stop on
// Enter, Esc or Ctrl-C. It returns an error when the keyboard cannot be
// opened.
func ListenForKeys(ctx context.Context, stop func()) error {
	if err := keyboard.Open(); err != nil {
		return err
	}

	keys := make(chan keyboard.Key, 8)
	go func() {
		defer close(keys)
		for {
			_, key, err := keyboard.GetKey()
			if err != nil {
				return
			}
			select {
			case keys <- key:
			default:
			}
		}
	}()

	defer func() { _ = keyboard.Close() }()
	for {
		select {
		case <-ctx.Done():
			return nil
		case key, ok := <-keys:
			if !ok {
				return nil
			}
			if isStopKey(key) {
				log.Debug().Msg("stop requested from keyboard")
				stop()
				return nil
			}
		}
	}
}

func isStopKey(key keyboard.Key) bool {
	switch key {
	case keyboard.KeyEnter, keyboard.KeyEsc, keyboard.KeyCtrlC:
		return true
	}
	return false
}

// Listen picks the listener for in: single keys on an interactive terminal,
// lines otherwise.
func Listen(ctx context.Context, in *os.File, stop func()) {
	if term.IsTerminal(int(in.Fd())) {
		err := ListenForKeys(ctx, stop)
		if err == nil {
			return
		}
		log.Debug().Err(err).Msg("keyboard unavailable, reading lines")
	}
	ListenForStop(ctx, in, stop)
}
