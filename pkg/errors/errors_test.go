package errors

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppErrorMessageIncludesInternal(t *testing.T) {
	base := stderrors.New("db timeout")
	err := Wrap(base, "saving result failed")

	require.Equal(t, "saving result failed: db timeout", err.Error())
	require.ErrorIs(t, err, base)
}

func TestWithInternalPreservesSentinel(t *testing.T) {
	cause := stderrors.New("subscription lapsed")
	err := ErrEntitlementDenied.WithInternal(cause)

	require.ErrorIs(t, err, ErrEntitlementDenied)
	require.ErrorIs(t, err, cause)
	require.Equal(t, ErrEntitlementDenied.Code, err.Code)

	// The sentinel itself must remain untouched.
	require.Nil(t, ErrEntitlementDenied.Internal)
}

func TestFromError(t *testing.T) {
	require.Nil(t, FromError(nil))

	appErr := FromError(ErrNotFound)
	require.Same(t, ErrNotFound, appErr)

	wrapped := FromError(ErrBattleEnded.WithInternal(stderrors.New("late join")))
	require.Equal(t, ErrBattleEnded.Code, wrapped.Code)

	generic := FromError(stderrors.New("boom"))
	require.Equal(t, ErrInternalServer.Code, generic.Code)
	require.Equal(t, http.StatusInternalServerError, generic.StatusCode)
}

func TestNewBadRequestKeepsCode(t *testing.T) {
	err := NewBadRequest("questionNumber is required")
	require.Equal(t, ErrBadRequest.Code, err.Code)
	require.Equal(t, http.StatusBadRequest, err.StatusCode)
	require.Equal(t, "questionNumber is required", err.Message)
	require.ErrorIs(t, err, ErrBadRequest)
}
