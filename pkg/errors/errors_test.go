package errors

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppErrorMessage(t *testing.T) {
	err := New("TEST", "something broke", http.StatusTeapot)
	require.Equal(t, "something broke", err.Error())

	wrapped := err.WithInternal(stderrors.New("root cause"))
	require.Equal(t, "something broke: root cause", wrapped.Error())
}

func TestWithInternalCopies(t *testing.T) {
	base := New("TEST", "msg", http.StatusBadRequest)
	withCause := base.WithInternal(stderrors.New("cause"))

	require.Nil(t, base.Internal)
	require.NotNil(t, withCause.Internal)
	require.Equal(t, base.Code, withCause.Code)
}

func TestErrorsIsAgainstSentinels(t *testing.T) {
	cause := stderrors.New("signature mismatch")
	err := ErrInvalidToken.WithInternal(cause)

	require.True(t, stderrors.Is(err, ErrInvalidToken))
	require.True(t, stderrors.Is(err, cause))
	require.False(t, stderrors.Is(err, ErrNotFound))
}

func TestSentinelMatchesItsWrappedCopy(t *testing.T) {
	// WithInternal returns a copy; matching is by code, not pointer identity.
	err := ErrNotFound.WithInternal(stderrors.New("record not found"))
	require.True(t, stderrors.Is(err, ErrNotFound))
	require.False(t, stderrors.Is(err, ErrBadRequest))

	require.True(t, stderrors.Is(New("NOT_FOUND", "different message", http.StatusNotFound), ErrNotFound))
}

func TestWrap(t *testing.T) {
	cause := stderrors.New("db offline")
	err := Wrap(cause, "store unavailable")

	require.Equal(t, "INTERNAL_ERROR", err.Code)
	require.Equal(t, http.StatusInternalServerError, err.StatusCode)
	require.True(t, stderrors.Is(err, cause))
}

func TestFromError(t *testing.T) {
	require.Nil(t, FromError(nil))

	require.Equal(t, ErrNotFound, FromError(ErrNotFound))

	appErr := FromError(ErrBadRequest.WithInternal(stderrors.New("x")))
	require.Equal(t, "BAD_REQUEST", appErr.Code)

	generic := FromError(stderrors.New("boom"))
	require.Equal(t, ErrInternalServer.Code, generic.Code)
	require.Equal(t, http.StatusInternalServerError, generic.StatusCode)
}
