package kiosk

import (
	"fmt"
	"io"
	"sync"
)

// WriterDisplay prints the conversation log and status changes as text lines.
type WriterDisplay struct {
	mu  sync.Mutex
	out io.Writer

	status string
	mic    string
}

func NewWriterDisplay(out io.Writer) *WriterDisplay {
	return &WriterDisplay{out: out}
}

func (d *WriterDisplay) Utterance(u Utterance) {
	d.mu.Lock()
	defer d.mu.Unlock()
	label := "anubis"
	if u.Speaker == SpeakerUser {
		label = "tú"
	}
	fmt.Fprintf(d.out, "%s: %s\n", label, u.Text)
}

// Status prints the status line when it changes.
func (d *WriterDisplay) Status(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if text == d.status {
		return
	}
	d.status = text
	fmt.Fprintf(d.out, "[%s]\n", text)
}

func (d *WriterDisplay) MicStatus(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if text == d.mic {
		return
	}
	d.mic = text
	fmt.Fprintf(d.out, "[micrófono: %s]\n", text)
}
