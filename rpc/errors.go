package rpc

import (
	"context"
	"errors"
	"net/http"

	"solbox/native/giftcard"
)

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{giftcard.ErrContractPaused, http.StatusConflict, "contract_paused"},
	{giftcard.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{giftcard.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{giftcard.ErrSelfReferral, http.StatusBadRequest, "self_referral"},
	{giftcard.ErrArithmetic, http.StatusUnprocessableEntity, "arithmetic"},
	{giftcard.ErrNoSpilloverAvailable, http.StatusConflict, "no_spillover_available"},
	{giftcard.ErrInvalidConfig, http.StatusBadRequest, "invalid_config"},
	{giftcard.ErrInvalidAddress, http.StatusBadRequest, "invalid_address"},
	{giftcard.ErrInsufficientFunds, http.StatusPaymentRequired, "insufficient_funds"},
	{giftcard.ErrNotInitialized, http.StatusServiceUnavailable, "not_initialized"},
	{giftcard.ErrAlreadyInitialized, http.StatusConflict, "already_initialized"},
	{context.Canceled, 499, "canceled"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "deadline_exceeded"},
}

// classify maps an error to its HTTP status and stable code.
func classify(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}
