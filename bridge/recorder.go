package bridge

import (
	"context"
	"sync"
)

// Recorder is an in-memory Adapter that records everything sent to it.
type Recorder struct {
	NopLifecycle

	Name string

	mu          sync.Mutex
	updates     map[string][]Update
	completions map[string][]Completion
	errors      map[string][]string
}

// Completion is a recorded SendCompletion call.
type Completion struct {
	Message    string
	SessionURL string
}

// NewRecorder creates a Recorder registered under name.
func NewRecorder(name string) *Recorder {
	return &Recorder{
		Name:        name,
		updates:     make(map[string][]Update),
		completions: make(map[string][]Completion),
		errors:      make(map[string][]string),
	}
}

func (r *Recorder) ServiceName() string { return r.Name }

func (r *Recorder) SendUpdate(_ context.Context, sessionID string, update Update) error {
	r.mu.Lock()
	r.updates[sessionID] = append(r.updates[sessionID], update)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) SendCompletion(_ context.Context, sessionID, message, sessionURL string) error {
	r.mu.Lock()
	r.completions[sessionID] = append(r.completions[sessionID], Completion{Message: message, SessionURL: sessionURL})
	r.mu.Unlock()
	return nil
}

func (r *Recorder) SendError(_ context.Context, sessionID, message string) error {
	r.mu.Lock()
	r.errors[sessionID] = append(r.errors[sessionID], message)
	r.mu.Unlock()
	return nil
}

// Updates returns the updates recorded for sessionID.
func (r *Recorder) Updates(sessionID string) []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates[sessionID]...)
}

// Completions returns the completions recorded for sessionID.
func (r *Recorder) Completions(sessionID string) []Completion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Completion(nil), r.completions[sessionID]...)
}

// Errors returns the error messages recorded for sessionID.
func (r *Recorder) Errors(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors[sessionID]...)
}

// Outcomes returns the number of completions plus errors for sessionID.
func (r *Recorder) Outcomes(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.completions[sessionID]) + len(r.errors[sessionID])
}
