package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/biglietto/sealbridge/internal/logging"
	"github.com/biglietto/sealbridge/internal/protocol"
)

// Sentinel errors surfaced to operation callers. Connectivity and device
// conditions never reach here; they live in the status snapshot.
var (
	ErrChannelClosed  = errors.New("bridge channel is not open")
	ErrRequestPending = errors.New("a request of this type is already in progress")
	ErrRequestTimeout = errors.New("bridge did not reply in time")
)

type pendingResult struct {
	data json.RawMessage
	err  error
}

// pendingRequest is one in-flight correlated command, keyed by the reply
// type it expects. At most one may exist per reply type at a time.
type pendingRequest struct {
	replyType string
	done      chan pendingResult // buffered, written exactly once
}

// sendCorrelated sends a command that expects exactly one reply of
// replyType and waits for it, the timeout, or ctx cancellation, whichever
// comes first. A second concurrent request for the same reply type is
// rejected before anything is sent.
func (s *Session) sendCorrelated(ctx context.Context, cmdType string, payload interface{}, replyType string, timeout time.Duration) (json.RawMessage, error) {
	if !s.isOpen() {
		return nil, ErrChannelClosed
	}

	msg, err := protocol.NewMessage(cmdType, payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmdType, err)
	}

	p := &pendingRequest{
		replyType: replyType,
		done:      make(chan pendingResult, 1),
	}
	s.pmu.Lock()
	if _, exists := s.pending[replyType]; exists {
		s.pmu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrRequestPending, cmdType)
	}
	s.pending[replyType] = p
	s.pmu.Unlock()

	if err := s.send(msg); err != nil {
		s.removePending(p)
		return nil, err
	}

	logging.Debug(logging.CatChannel, "Correlated command sent", map[string]any{
		"type":  cmdType,
		"id":    msg.ID,
		"reply": replyType,
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-p.done:
		if res.err != nil {
			return nil, res.err
		}
		return res.data, nil
	case <-timer.C:
		s.removePending(p)
		return nil, fmt.Errorf("%w: no %s within %s", ErrRequestTimeout, replyType, timeout)
	case <-ctx.Done():
		s.removePending(p)
		return nil, ctx.Err()
	}
}

// resolvePending completes the waiter registered for replyType, if any.
// Returns false when no request was waiting, e.g. for a reply that arrived
// after its timeout; such stale replies are ignored by the router.
func (s *Session) resolvePending(replyType string, data json.RawMessage) bool {
	s.pmu.Lock()
	p, ok := s.pending[replyType]
	if ok {
		delete(s.pending, replyType)
	}
	s.pmu.Unlock()
	if !ok {
		return false
	}
	p.done <- pendingResult{data: data}
	return true
}

// removePending unregisters a specific waiter. The pointer comparison keeps
// a timed-out request from evicting a successor of the same type.
func (s *Session) removePending(p *pendingRequest) {
	s.pmu.Lock()
	if cur, ok := s.pending[p.replyType]; ok && cur == p {
		delete(s.pending, p.replyType)
	}
	s.pmu.Unlock()
}

// rejectAllPending fails every in-flight request, used on channel loss so
// callers hear about the failure immediately instead of waiting out their
// timeouts.
func (s *Session) rejectAllPending(err error) {
	s.pmu.Lock()
	pending := s.pending
	s.pending = make(map[string]*pendingRequest)
	s.pmu.Unlock()

	for _, p := range pending {
		p.done <- pendingResult{err: err}
	}
}
