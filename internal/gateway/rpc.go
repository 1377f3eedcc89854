package gateway

import (
	"encoding/json"
	"sync"
	"time"

	clierrors "github.com/clawline/clawline/internal/errors"
)

// DefaultRequestTimeout applies to RPC calls that don't override it.
const DefaultRequestTimeout = 30 * time.Second

// rpcResult is the terminal outcome of one pending call.
type rpcResult struct {
	payload json.RawMessage
	err     error
}

// pendingCall tracks one in-flight request until its response, timeout, or a
// connection flush settles it.
type pendingCall struct {
	method string
	done   chan rpcResult
	timer  *time.Timer
}

// callTable correlates outbound request ids with their eventual responses.
// Every entry is settled exactly once: resolve, reject, timeout, and flush all
// pop the entry under the lock before delivering, so a late response after a
// timeout finds nothing and is ignored.
type callTable struct {
	mu    sync.Mutex
	calls map[string]*pendingCall
}

func newCallTable() *callTable {
	return &callTable{calls: make(map[string]*pendingCall)}
}

// add registers a pending call and arms its timeout. The returned channel
// receives exactly one result.
func (t *callTable) add(id, method string, timeout time.Duration) <-chan rpcResult {
	call := &pendingCall{
		method: method,
		done:   make(chan rpcResult, 1),
	}

	t.mu.Lock()
	t.calls[id] = call
	t.mu.Unlock()

	call.timer = time.AfterFunc(timeout, func() {
		t.settle(id, rpcResult{err: clierrors.Timeout(method, timeout.Milliseconds())})
	})

	return call.done
}

// settle pops the call and delivers the result. Returns false if the call was
// already settled or never existed.
func (t *callTable) settle(id string, res rpcResult) bool {
	t.mu.Lock()
	call, ok := t.calls[id]
	if ok {
		delete(t.calls, id)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	if call.timer != nil {
		call.timer.Stop()
	}
	call.done <- res
	return true
}

// resolve completes a call successfully with the response payload.
func (t *callTable) resolve(id string, payload json.RawMessage) bool {
	return t.settle(id, rpcResult{payload: payload})
}

// reject fails a call with the given error.
func (t *callTable) reject(id string, err error) bool {
	return t.settle(id, rpcResult{err: err})
}

// flush rejects every pending call with err. Called on connection teardown so
// no caller is left hanging across a reconnect.
func (t *callTable) flush(err error) {
	t.mu.Lock()
	calls := t.calls
	t.calls = make(map[string]*pendingCall)
	t.mu.Unlock()

	for _, call := range calls {
		if call.timer != nil {
			call.timer.Stop()
		}
		call.done <- rpcResult{err: err}
	}
}

// pending returns the number of in-flight calls.
func (t *callTable) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
