package action

import (
	"sync"

	"github.com/roach88/valetsync/internal/bus"
)

// Level is the severity of a confirmation.
type Level string

const (
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Confirmation is the acknowledgment shown after every user action.
type Confirmation struct {
	Level   Level  `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Confirmer displays confirmations.
type Confirmer interface {
	Confirm(c Confirmation)
}

// ConfirmerFunc adapts a function to Confirmer.
type ConfirmerFunc func(Confirmation)

func (f ConfirmerFunc) Confirm(c Confirmation) { f(c) }

// TopicConfirmation carries Confirmation payloads on the bus.
const TopicConfirmation = "action.confirmation"

// BusConfirmer publishes confirmations on a bus.
type BusConfirmer struct {
	Bus *bus.Bus
}

func (b BusConfirmer) Confirm(c Confirmation) {
	b.Bus.Publish(TopicConfirmation, c)
}

// Recorder keeps every confirmation it receives.
//
// Thread-safety: safe for concurrent use.
type Recorder struct {
	mu  sync.Mutex
	all []Confirmation
}

func (r *Recorder) Confirm(c Confirmation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, c)
}

// All returns a copy of the recorded confirmations.
func (r *Recorder) All() []Confirmation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Confirmation(nil), r.all...)
}

// Last returns the latest confirmation.
func (r *Recorder) Last() (Confirmation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.all) == 0 {
		return Confirmation{}, false
	}
	return r.all[len(r.all)-1], true
}
