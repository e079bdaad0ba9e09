package giftcard

import (
	"errors"
	"fmt"

	"solbox/native/common"
)

var (
	ErrNilState             = errors.New("giftcard: state not configured")
	ErrNotInitialized       = errors.New("giftcard: store not initialized")
	ErrAlreadyInitialized   = errors.New("giftcard: store already initialized")
	ErrContractPaused       = fmt.Errorf("giftcard: contract paused: %w", common.ErrModulePaused)
	ErrUnauthorized         = errors.New("giftcard: unauthorized")
	ErrInvalidAmount        = errors.New("giftcard: invalid gift card amount")
	ErrSelfReferral         = errors.New("giftcard: self referral not allowed")
	ErrArithmetic           = errors.New("giftcard: arithmetic overflow")
	ErrNoSpilloverAvailable = errors.New("giftcard: no spillover position available")
	ErrInvalidConfig        = errors.New("giftcard: invalid config")
	ErrInvalidAddress       = errors.New("giftcard: invalid address")
	ErrInsufficientFunds    = errors.New("giftcard: insufficient balance")
)
