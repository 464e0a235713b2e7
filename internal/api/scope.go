package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrScopeClosed is returned by calls issued after Close.
var ErrScopeClosed = errors.New("api: scope closed")

// Scope groups the calls of one consumer. Loading and the recorded error
// reflect only this scope's calls. Closing a scope cancels everything it
// issued; siblings are unaffected.
type Scope struct {
	client *Client
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	inflight int
	err      string
	closed   bool
}

// NewScope creates a scope whose calls are also cancelled when parent is.
func (c *Client) NewScope(parent context.Context) *Scope {
	ctx, cancel := context.WithCancel(parent)
	return &Scope{client: c, ctx: ctx, cancel: cancel}
}

// Send issues one call and returns the raw JSON payload, or nil for an
// empty success. Failures are *APIError values and are recorded on the
// scope unless the call was cancelled.
func (s *Scope) Send(ctx context.Context, r Request) (json.RawMessage, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrScopeClosed
	}
	s.inflight++
	s.mu.Unlock()

	callCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	if s.ctx.Err() != nil {
		cancel()
	}
	payload, err := s.client.roundTrip(callCtx, r)
	stop()
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		if err == nil {
			err = ErrScopeClosed
		}
		return nil, err
	}
	s.inflight--
	if err != nil && !errors.Is(err, context.Canceled) {
		s.err = Message(err)
	}
	return payload, err
}

// Do issues one call and decodes the payload into out. A nil out or an
// empty payload skips decoding. A payload that does not fit out fails like
// any other call.
func (s *Scope) Do(ctx context.Context, r Request, out any) error {
	payload, err := s.Send(ctx, r)
	if err != nil {
		return err
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		apiErr := &APIError{
			Message: GenericMessage,
			err:     fmt.Errorf("decoding response from %s %s: %w", r.Method, r.Path, err),
		}
		s.record(apiErr)
		return apiErr
	}
	return nil
}

func (s *Scope) record(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.err = Message(err)
	}
}

// Loading reports whether any call issued by this scope is in flight.
func (s *Scope) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight > 0
}

// Err returns the message of the most recent failure, or "".
func (s *Scope) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// ClearError forgets the recorded failure. In-flight calls continue.
func (s *Scope) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = ""
}

// Close cancels every call issued through the scope. Completions arriving
// afterwards no longer touch the scope state.
func (s *Scope) Close() {
	s.mu.Lock()
	s.closed = true
	s.inflight = 0
	s.mu.Unlock()
	s.cancel()
}

// Closed reports whether Close has been called.
func (s *Scope) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
