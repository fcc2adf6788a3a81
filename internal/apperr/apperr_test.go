package apperr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusForCode_MapsEveryErrorCode(t *testing.T) {
	cases := []struct {
		code   string
		status int
	}{
		{ErrCodeBadRequest, http.StatusBadRequest},
		{ErrCodeMalformedMessage, http.StatusBadRequest},
		{ErrCodeUnknownAction, http.StatusBadRequest},
		{ErrCodeUnknownCategory, http.StatusBadRequest},
		{ErrCodeTooManySymbols, http.StatusBadRequest},
		{ErrCodeAuthMissingToken, http.StatusUnauthorized},
		{ErrCodeAuthInvalidToken, http.StatusUnauthorized},
		{ErrCodeAuthExpiredToken, http.StatusUnauthorized},
		{ErrCodeScanForbidden, http.StatusForbidden},
		{ErrCodeScanNotFound, http.StatusNotFound},
		{ErrCodeListNotFound, http.StatusNotFound},
		{ErrCodeServiceUnavailable, http.StatusServiceUnavailable},
		{ErrCodeUpstreamUnhealthy, http.StatusServiceUnavailable},
		{ErrCodeInternalServer, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			err := New(tc.code, "msg")
			assert.Equal(t, tc.status, err.StatusCode)
		})
	}
}

func TestAppError_Error_IncludesDetailsWhenPresent(t *testing.T) {
	withDetails := NewWithDetails(ErrCodeInternalServer, "boom", "stack trace here")
	assert.Equal(t, "INTERNAL_SERVER_ERROR: boom - stack trace here", withDetails.Error())

	withoutDetails := New(ErrCodeInternalServer, "boom")
	assert.Equal(t, "INTERNAL_SERVER_ERROR: boom", withoutDetails.Error())
}

func TestWrap_CapturesWrappedErrorMessageAsDetails(t *testing.T) {
	wrapped := Wrap(ErrCodeUpstreamUnhealthy, "connector down", errors.New("dial tcp: refused"))
	assert.Equal(t, "dial tcp: refused", wrapped.Details)
}

func TestWrap_NilError_NoDetails(t *testing.T) {
	wrapped := Wrap(ErrCodeInternalServer, "oops", nil)
	assert.Empty(t, wrapped.Details)
}

func TestScanForbidden_CarriesScanIDInMessage(t *testing.T) {
	err := ScanForbidden("abc123")
	assert.Equal(t, ErrCodeScanForbidden, err.Code)
	assert.Contains(t, err.Message, "abc123")
	assert.Equal(t, http.StatusForbidden, err.StatusCode)
}

func TestToResponse_MirrorsAppError(t *testing.T) {
	err := NewWithDetails(ErrCodeListNotFound, "list not found", "gappers_down")
	resp := err.ToResponse()

	assert.Equal(t, ErrCodeListNotFound, resp.Error)
	assert.Equal(t, "list not found", resp.Message)
	assert.Equal(t, "gappers_down", resp.Details)
}
