package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/biglietto/sealbridge/internal/logging"
	"github.com/biglietto/sealbridge/internal/protocol"
	"github.com/biglietto/sealbridge/internal/status"
)

// Precondition errors. Each names the exact missing condition so dialogs can
// show it verbatim; none of them causes a message to be sent.
var (
	ErrBridgeNotConnected = errors.New("desktop bridge is not connected")
	ErrReaderNotDetected  = errors.New("smart card reader not detected")
	ErrCardNotInserted    = errors.New("card not inserted")
	ErrPinBlocked         = errors.New("PIN is blocked, unlock it with the PUK")
)

// checkCard rejects operations that need a card in the reader.
func (s *Session) checkCard() error {
	if !s.isOpen() {
		return ErrChannelClosed
	}
	if !s.store.Snapshot().CardInserted {
		return ErrCardNotInserted
	}
	return nil
}

// IssueSeal asks the card to emit one fiscal seal for a ticket sale. All
// device preconditions are checked client-side before anything hits the
// channel, each with its own rejection.
func (s *Session) IssueSeal(ctx context.Context, req protocol.SealRequest) (*protocol.Seal, error) {
	if !s.isOpen() {
		return nil, ErrChannelClosed
	}
	snap := s.store.Snapshot()
	if !snap.BridgeConnected {
		return nil, ErrBridgeNotConnected
	}
	if !snap.ReaderDetected {
		return nil, ErrReaderNotDetected
	}
	if !snap.CardInserted {
		return nil, ErrCardNotInserted
	}
	if req.Timestamp == "" {
		req.Timestamp = time.Now().Format(time.RFC3339)
	}

	raw, err := s.sendCorrelated(ctx, protocol.TypeRequestSeal, req, protocol.TypeSealResponse, s.cfg.OperationTimeout)
	if err != nil {
		return nil, err
	}

	var resp protocol.SealResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode seal response: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("seal emission failed: %s", resp.Error)
	}
	if resp.Seal == nil {
		return nil, errors.New("seal response carried no seal")
	}
	logging.Info(logging.CatCard, "Fiscal seal emitted", map[string]any{
		"sealNumber":   resp.Seal.SealNumber,
		"serialNumber": resp.Seal.SerialNumber,
		"counter":      resp.Seal.Counter,
	})
	return resp.Seal, nil
}

// VerifyPin submits the PIN to the card. The reply is returned even when
// verification failed: the attempt always reports a retry count, and the
// snapshot is updated either way.
func (s *Session) VerifyPin(ctx context.Context, pin string) (*protocol.PinVerifyResponse, error) {
	if err := s.checkCard(); err != nil {
		return nil, err
	}

	raw, err := s.sendCorrelated(ctx, protocol.TypeVerifyPin, protocol.PinVerifyRequest{Pin: pin},
		protocol.TypePinVerifyResponse, s.cfg.OperationTimeout)
	if err != nil {
		return nil, err
	}

	var resp protocol.PinVerifyResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode PIN verify response: %w", err)
	}
	s.store.Update(func(cur status.DeviceStatus) status.DeviceStatus {
		return status.ApplyPinVerify(cur, resp)
	})
	return &resp, nil
}

// ChangePin replaces the card PIN. Rejected up front while the PIN is
// blocked: a blocked card only accepts a PUK unlock.
func (s *Session) ChangePin(ctx context.Context, oldPin, newPin string) (*protocol.PinChangeResponse, error) {
	if err := s.checkCard(); err != nil {
		return nil, err
	}
	if s.store.Snapshot().PinBlocked {
		return nil, ErrPinBlocked
	}

	raw, err := s.sendCorrelated(ctx, protocol.TypeChangePin, protocol.PinChangeRequest{OldPin: oldPin, NewPin: newPin},
		protocol.TypePinChangeResponse, s.cfg.OperationTimeout)
	if err != nil {
		return nil, err
	}

	var resp protocol.PinChangeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode PIN change response: %w", err)
	}
	s.store.Update(func(cur status.DeviceStatus) status.DeviceStatus {
		return status.ApplyPinChange(cur, resp)
	})
	return &resp, nil
}

// UnlockWithPuk unblocks the PIN using the PUK and sets a new PIN. A failed
// attempt still consumes a PUK try, so the snapshot is updated either way.
func (s *Session) UnlockWithPuk(ctx context.Context, puk, newPin string) (*protocol.PukUnlockResponse, error) {
	if err := s.checkCard(); err != nil {
		return nil, err
	}

	raw, err := s.sendCorrelated(ctx, protocol.TypeUnlockWithPuk, protocol.PukUnlockRequest{Puk: puk, NewPin: newPin},
		protocol.TypePukUnlockResponse, s.cfg.OperationTimeout)
	if err != nil {
		return nil, err
	}

	var resp protocol.PukUnlockResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode PUK unlock response: %w", err)
	}
	s.store.Update(func(cur status.DeviceStatus) status.DeviceStatus {
		return status.ApplyPukUnlock(cur, resp)
	})
	return &resp, nil
}

// QueryRetries reads the PIN and PUK retry counters from the card.
func (s *Session) QueryRetries(ctx context.Context) (*protocol.RetriesStatusResponse, error) {
	if err := s.checkCard(); err != nil {
		return nil, err
	}

	raw, err := s.sendCorrelated(ctx, protocol.TypeGetRetriesStatus, nil,
		protocol.TypeRetriesStatusResponse, s.cfg.QueryTimeout)
	if err != nil {
		return nil, err
	}

	var resp protocol.RetriesStatusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode retries response: %w", err)
	}
	s.store.Update(func(cur status.DeviceStatus) status.DeviceStatus {
		return status.ApplyRetries(cur, resp)
	})
	return &resp, nil
}

// EnableDemoMode switches the bridge into its simulation state. The bridge
// confirms with a status message; the local flag flips right away so the UI
// reflects the request.
func (s *Session) EnableDemoMode() error {
	return s.setDemoMode(true)
}

// DisableDemoMode leaves the simulation state.
func (s *Session) DisableDemoMode() error {
	return s.setDemoMode(false)
}

func (s *Session) setDemoMode(enabled bool) error {
	cmdType := protocol.TypeEnableDemo
	if !enabled {
		cmdType = protocol.TypeDisableDemo
	}
	msg, err := protocol.NewMessage(cmdType, nil)
	if err != nil {
		return err
	}
	if err := s.send(msg); err != nil {
		return err
	}
	s.store.Update(func(cur status.DeviceStatus) status.DeviceStatus {
		return status.ApplyDemoMode(cur, enabled)
	})
	logging.Info(logging.CatSession, "Demo mode toggled", map[string]any{
		"enabled": enabled,
	})
	return nil
}

// ResetPinState discards locally held PIN state, e.g. when the operator
// signs out. The card itself is untouched.
func (s *Session) ResetPinState() {
	s.store.Update(status.ApplyPinReset)
}
