package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"

	"songshare/internal/consent"
)

// Terminal reads stdin lines and hands each one either to a pending
// prompt or to the command loop. It implements consent.UI.
type Terminal struct {
	out *lockedWriter

	commands chan string
	eof      chan struct{}

	askMu   sync.Mutex
	mu      sync.Mutex
	waiting chan string

	barMu sync.Mutex
	bar   *progressbar.ProgressBar
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

var _ consent.UI = (*Terminal)(nil)

func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	t := &Terminal{
		out:      &lockedWriter{w: out},
		commands: make(chan string, 16),
		eof:      make(chan struct{}),
	}
	go t.route(in)
	return t
}

func (t *Terminal) route(in io.Reader) {
	defer close(t.commands)
	defer close(t.eof)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		t.mu.Lock()
		w := t.waiting
		t.waiting = nil
		t.mu.Unlock()
		if w != nil {
			w <- line
			continue
		}
		t.commands <- line
	}
}

// Commands yields the lines that were not answers to a prompt. It is
// closed when input ends.
func (t *Terminal) Commands() <-chan string { return t.commands }

func (t *Terminal) Printf(format string, args ...any) {
	fmt.Fprintf(t.out, format, args...)
}

// ask prints prompt and waits for the next line. It reports false when
// input has ended.
func (t *Terminal) ask(prompt string) (string, bool) {
	t.askMu.Lock()
	defer t.askMu.Unlock()

	answer := make(chan string, 1)
	t.mu.Lock()
	t.waiting = answer
	t.mu.Unlock()

	t.Printf("\r\033[K%s", prompt)
	select {
	case line := <-answer:
		return line, true
	case <-t.eof:
		return "", false
	}
}

func (t *Terminal) Confirm(title, prompt string) bool {
	line, ok := t.ask(fmt.Sprintf("%s: %s [y/N] ", title, prompt))
	if !ok {
		return false
	}
	switch strings.ToLower(line) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// SaveLocation offers suggested as the default path. A single "-" cancels.
func (t *Terminal) SaveLocation(suggested string) (string, bool) {
	line, ok := t.ask(fmt.Sprintf("Save to [%s]: ", suggested))
	switch {
	case !ok || line == "-":
		return "", false
	case line == "":
		return suggested, true
	default:
		return line, true
	}
}

func (t *Terminal) Notify(event string, payload any) {
	switch event {
	case consent.EventRemoteCatalogUpdated:
		t.Printf("\r\033[KRemote catalog updated\n")
	case consent.EventDownloadStarted:
		t.startBar()
	case consent.EventDownloadProgress:
		if percent, ok := payload.(int); ok {
			t.setBar(percent)
		}
	case consent.EventDownloadFinished:
		t.stopBar(true)
		t.Printf("Download finished\n")
	case consent.EventDownloadFailed:
		t.stopBar(false)
		t.Printf("Download failed: %v\n", payload)
	case consent.EventRemoteError:
		t.Printf("\r\033[KPeer reported an error: %v\n", payload)
	case consent.EventDisconnected:
		t.Printf("\r\033[KDisconnected\n")
	}
}

func (t *Terminal) startBar() {
	t.barMu.Lock()
	defer t.barMu.Unlock()
	t.bar = progressbar.NewOptions(100,
		progressbar.OptionSetWriter(t.out),
		progressbar.OptionSetDescription("Downloading"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(0),
	)
}

func (t *Terminal) setBar(percent int) {
	t.barMu.Lock()
	defer t.barMu.Unlock()
	if t.bar != nil {
		t.bar.Set(percent)
	}
}

func (t *Terminal) stopBar(complete bool) {
	t.barMu.Lock()
	defer t.barMu.Unlock()
	if t.bar == nil {
		return
	}
	if complete {
		t.bar.Finish()
	} else {
		t.bar.Exit()
	}
	t.bar = nil
	t.Printf("\n")
}
