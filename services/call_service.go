package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/serofero/server/models"
	"github.com/serofero/server/pkg"
	"github.com/serofero/server/repository"
)

// apiMessageType tags authorization checks made over HTTP in the security
// event log.
const apiMessageType = "api"

// CallService is the HTTP-facing side of calls. Every operation on an
// existing call is restricted to its two participants.
type CallService interface {
	InitiateCall(ctx context.Context, caller *models.User, receiverID int64, callType models.CallType) (*models.CallSession, error)
	ActiveCalls(userID int64) []models.ActiveCall

	Health(userID int64, callID string) (models.CallHealth, error)
	Heartbeat(userID int64, callID string) error
	EndCall(userID int64, callID string) error

	Encrypt(userID int64, callID string, data json.RawMessage) (*models.SealedPayload, error)
	Decrypt(userID int64, callID string, sealed models.SealedPayload) (json.RawMessage, error)
}

type callService struct {
	calls CallSecurityManager
	users repository.UserRepository
}

func NewCallService(calls CallSecurityManager, users repository.UserRepository) CallService {
	return &callService{calls: calls, users: users}
}

func (s *callService) InitiateCall(ctx context.Context, caller *models.User, receiverID int64, callType models.CallType) (*models.CallSession, error) {
	if caller.ID == receiverID {
		return nil, fmt.Errorf("%w: Cannot call yourself", pkg.ErrBadRequest)
	}
	if !callType.Valid() {
		return nil, fmt.Errorf("%w: call_type must be audio or video", pkg.ErrBadRequest)
	}

	receiver, err := s.users.GetByID(ctx, receiverID)
	if err != nil {
		if errors.Is(err, pkg.ErrNotFound) {
			return nil, fmt.Errorf("%w: User not found", pkg.ErrNotFound)
		}
		return nil, fmt.Errorf("load receiver: %w", err)
	}
	if !receiver.IsActive {
		return nil, fmt.Errorf("%w: User not found", pkg.ErrNotFound)
	}

	allowed, reason := s.calls.ValidateCallPermissions(ctx, caller.ID, receiverID)
	if !allowed {
		switch reason {
		case ReasonRateLimited:
			return nil, fmt.Errorf("%w: %s", pkg.ErrTooManyRequests, reason)
		case ReasonLookupFailed:
			return nil, errors.New(reason)
		default:
			return nil, fmt.Errorf("%w: %s", pkg.ErrForbidden, reason)
		}
	}

	return s.calls.CreateCallSession(caller.ID, receiverID, callType)
}

func (s *callService) ActiveCalls(userID int64) []models.ActiveCall {
	return s.calls.ActiveCallsForUser(userID)
}

// authorize checks the call exists and userID takes part in it. Refusals
// are recorded in the security event log.
func (s *callService) authorize(userID int64, callID string) error {
	if !IsValidCallID(callID) {
		return fmt.Errorf("%w: %s", pkg.ErrBadRequest, ReasonInvalidCallID)
	}
	if _, ok := s.calls.GetCall(callID); !ok {
		return fmt.Errorf("%w: call not found", pkg.ErrNotFound)
	}

	ok, reason := s.calls.ValidateSignalingMessage(models.SignalingMessage{
		Type:   apiMessageType,
		CallID: callID,
	}, userID)
	if !ok {
		return fmt.Errorf("%w: %s", pkg.ErrForbidden, reason)
	}
	return nil
}

func (s *callService) Health(userID int64, callID string) (models.CallHealth, error) {
	if err := s.authorize(userID, callID); err != nil {
		return models.CallHealth{}, err
	}
	return s.calls.CheckCallHealth(callID), nil
}

func (s *callService) Heartbeat(userID int64, callID string) error {
	if err := s.authorize(userID, callID); err != nil {
		return err
	}
	if !s.calls.UpdateCallHeartbeat(callID) {
		return fmt.Errorf("%w: call not found", pkg.ErrNotFound)
	}
	return nil
}

func (s *callService) EndCall(userID int64, callID string) error {
	if err := s.authorize(userID, callID); err != nil {
		return err
	}
	if !s.calls.EndCallSession(callID, ReasonEndedByUser) {
		return fmt.Errorf("%w: call not found", pkg.ErrNotFound)
	}
	return nil
}

func (s *callService) Encrypt(userID int64, callID string, data json.RawMessage) (*models.SealedPayload, error) {
	if err := s.authorize(userID, callID); err != nil {
		return nil, err
	}
	sealed := s.calls.EncryptSignalingData(callID, data)
	if sealed == nil {
		return nil, fmt.Errorf("encrypt signaling data for call %s", callID)
	}
	return sealed, nil
}

func (s *callService) Decrypt(userID int64, callID string, sealed models.SealedPayload) (json.RawMessage, error) {
	if err := s.authorize(userID, callID); err != nil {
		return nil, err
	}
	data, ok := s.calls.DecryptSignalingData(callID, sealed.EncryptedData, sealed.Nonce)
	if !ok {
		return nil, fmt.Errorf("%w: decryption failed", pkg.ErrBadRequest)
	}
	return data, nil
}
