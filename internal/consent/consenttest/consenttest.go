// Package consenttest provides a scripted consent.UI for tests.
package consenttest

import (
	"fmt"
	"sync"
)

type Prompt struct {
	Title string
	Text  string
}

type Event struct {
	Name    string
	Payload any
}

// UI answers prompts with fixed values and records everything it is asked.
type UI struct {
	Accept   bool
	SavePath string

	mu      sync.Mutex
	prompts []Prompt
	events  []Event
	notify  chan Event
}

func New(accept bool, savePath string) *UI {
	return &UI{Accept: accept, SavePath: savePath, notify: make(chan Event, 1024)}
}

func (u *UI) Confirm(title, prompt string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.prompts = append(u.prompts, Prompt{title, prompt})
	return u.Accept
}

func (u *UI) SaveLocation(string) (string, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.SavePath, u.SavePath != ""
}

func (u *UI) Notify(event string, payload any) {
	e := Event{Name: event, Payload: payload}
	u.mu.Lock()
	u.events = append(u.events, e)
	u.mu.Unlock()
	select {
	case u.notify <- e:
	default:
	}
}

func (u *UI) Prompts() []Prompt {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]Prompt(nil), u.prompts...)
}

func (u *UI) Events() []Event {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]Event(nil), u.events...)
}

// Lines renders events as "name: payload", payload omitted when nil.
func (u *UI) Lines() []string {
	var out []string
	for _, e := range u.Events() {
		if e.Payload == nil {
			out = append(out, e.Name)
		} else {
			out = append(out, fmt.Sprintf("%s: %v", e.Name, e.Payload))
		}
	}
	return out
}

// Notified delivers events as they arrive.
func (u *UI) Notified() <-chan Event {
	return u.notify
}
