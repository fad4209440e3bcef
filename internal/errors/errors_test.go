package errors

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeInvalidRequest, 400},
		{ErrCodeInvalidSiteID, 400},
		{ErrCodeInvalidAppCode, 400},
		{ErrCodeInvalidPlayerCount, 400},
		{ErrCodeInvalidToken, 401},
		{ErrCodeInvalidCredentials, 401},
		{ErrCodeInsufficientBalance, 402},
		{ErrCodeInvalidTokenType, 403},
		{ErrCodeAccountLocked, 403},
		{ErrCodeAppNotAuthorized, 403},
		{ErrCodeSiteNotOwned, 403},
		{ErrCodeSessionAccessDenied, 403},
		{ErrCodeAppNotFound, 404},
		{ErrCodeSiteNotFound, 404},
		{ErrCodeOperatorNotFound, 404},
		{ErrCodeSessionNotFound, 404},
		{ErrCodeInvalidState, 409},
		{ErrCodeInternalError, 500},
		{ErrorCode("unknown_code"), 500},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	retryable := []ErrorCode{ErrCodeInternalError, ErrCodeDatabaseError}
	for _, code := range retryable {
		if !code.IsRetryable() {
			t.Errorf("IsRetryable(%s) = false, want true", code)
		}
	}

	permanent := []ErrorCode{
		ErrCodeInvalidRequest,
		ErrCodeInvalidToken,
		ErrCodeInsufficientBalance,
		ErrCodeInvalidState,
		ErrCodeAppNotFound,
	}
	for _, code := range permanent {
		if code.IsRetryable() {
			t.Errorf("IsRetryable(%s) = true, want false", code)
		}
	}
}

func TestErrorValue(t *testing.T) {
	err := New(ErrCodeInsufficientBalance, "balance below required amount").
		WithDetail("current_balance", "30.00").
		WithDetail("required", "50.00")

	if err.Error() != "insufficient_balance: balance below required amount" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !Is(err, ErrCodeInsufficientBalance) {
		t.Error("Is() = false, want true")
	}
	if CodeOf(err) != ErrCodeInsufficientBalance {
		t.Errorf("CodeOf() = %s", CodeOf(err))
	}

	// Wrapped taxonomy errors keep their code.
	wrapped := fmt.Errorf("authorize: %w", err)
	if CodeOf(wrapped) != ErrCodeInsufficientBalance {
		t.Errorf("CodeOf(wrapped) = %s, want insufficient_balance", CodeOf(wrapped))
	}

	// Plain errors collapse to internal.
	if CodeOf(fmt.Errorf("boom")) != ErrCodeInternalError {
		t.Errorf("CodeOf(plain) = %s, want internal_error", CodeOf(fmt.Errorf("boom")))
	}
}

func TestWriteServiceError(t *testing.T) {
	t.Run("taxonomy error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteServiceError(rec, New(ErrCodeAccountLocked, "operator account is locked"))

		if rec.Code != 403 {
			t.Errorf("status = %d, want 403", rec.Code)
		}

		var resp ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		if resp.Error.Code != ErrCodeAccountLocked {
			t.Errorf("code = %s, want account_locked", resp.Error.Code)
		}
		if resp.Error.Retryable {
			t.Error("retryable = true, want false")
		}
	})

	t.Run("plain error never leaks", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteServiceError(rec, fmt.Errorf("pq: connection refused to 10.0.0.5"))

		if rec.Code != 500 {
			t.Errorf("status = %d, want 500", rec.Code)
		}

		var resp ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		if resp.Error.Code != ErrCodeInternalError {
			t.Errorf("code = %s, want internal_error", resp.Error.Code)
		}
		if resp.Error.Message != "internal server error" {
			t.Errorf("message leaked internals: %q", resp.Error.Message)
		}
	})
}

func TestErrorDetailsSerialization(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, ErrCodeInsufficientBalance, "balance below required amount",
		map[string]interface{}{"current_balance": "30.00", "required": "50.00"})

	if rec.Code != 402 {
		t.Errorf("status = %d, want 402", rec.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error.Details["current_balance"] != "30.00" {
		t.Errorf("details.current_balance = %v, want 30.00", resp.Error.Details["current_balance"])
	}
	if resp.Error.Details["required"] != "50.00" {
		t.Errorf("details.required = %v, want 50.00", resp.Error.Details["required"])
	}
}
