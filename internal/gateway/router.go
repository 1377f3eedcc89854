package gateway

import (
	"log"
	"sync"

	"github.com/clawline/clawline/internal/protocol"
)

// RunCallbacks receive the streaming lifecycle of one chat run. OnChunk gets
// the cumulative text so far, not an increment: each invocation replaces the
// previous value. OnDone fires once on final or aborted; OnError fires once
// on error. After a terminal event no callback is invoked again.
type RunCallbacks struct {
	OnChunk func(text string)
	OnDone  func()
	OnError func(message string)
}

// Router maps server-issued run ids to the callbacks awaiting them. Chat
// events for unknown runs are dropped, which covers both replays of already
// finished runs and runs started by another client on the same session.
type Router struct {
	mu   sync.Mutex
	runs map[string]RunCallbacks
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{runs: make(map[string]RunCallbacks)}
}

// Register associates callbacks with a run id.
func (r *Router) Register(runID string, cb RunCallbacks) {
	r.mu.Lock()
	r.runs[runID] = cb
	r.mu.Unlock()
}

// Unregister drops the registration for a run. Used when a caller abandons a
// run locally (cancellation); terminal events unregister on their own.
func (r *Router) Unregister(runID string) {
	r.mu.Lock()
	delete(r.runs, runID)
	r.mu.Unlock()
}

// Registered reports whether a run still has callbacks attached.
func (r *Router) Registered(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.runs[runID]
	return ok
}

// HandleEvent dispatches one chat event to the callbacks of its run.
func (r *Router) HandleEvent(ev *protocol.EventFrame) {
	if ev.Event != protocol.EventChat {
		return
	}

	payload, err := protocol.DecodeChatPayload(ev.Payload)
	if err != nil {
		log.Printf("gateway: bad chat payload: %v", err)
		return
	}

	switch payload.State {
	case protocol.ChatStateDelta:
		r.mu.Lock()
		cb, ok := r.runs[payload.RunID]
		r.mu.Unlock()
		if ok && cb.OnChunk != nil {
			cb.OnChunk(payload.Message.Text())
		}

	case protocol.ChatStateFinal:
		cb, ok := r.take(payload.RunID)
		if !ok {
			return
		}
		if cb.OnChunk != nil {
			cb.OnChunk(payload.Message.Text())
		}
		if cb.OnDone != nil {
			cb.OnDone()
		}

	case protocol.ChatStateError:
		cb, ok := r.take(payload.RunID)
		if !ok {
			return
		}
		message := payload.ErrorMessage
		if message == "" {
			message = "chat run failed"
		}
		if cb.OnError != nil {
			cb.OnError(message)
		}

	case protocol.ChatStateAborted:
		cb, ok := r.take(payload.RunID)
		if !ok {
			return
		}
		if cb.OnDone != nil {
			cb.OnDone()
		}
	}
}

// take removes and returns the registration for a run. Removing before the
// callbacks fire guarantees nothing runs after a terminal event, even if a
// stray duplicate arrives.
func (r *Router) take(runID string) (RunCallbacks, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.runs[runID]
	if ok {
		delete(r.runs, runID)
	}
	return cb, ok
}
