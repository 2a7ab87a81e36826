package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorFormatting(t *testing.T) {
	err := New(CodeInvalidBounds, "lmax below lmin")
	assert.Equal(t, "[INVALID_BOUNDS] lmax below lmin", err.Error())

	wrapped := Wrap(CodeIOError, "write stats", stderrors.New("disk full"))
	assert.Equal(t, "[IO_ERROR] write stats: disk full", wrapped.Error())
}

func TestErrorMatching(t *testing.T) {
	err := Newf(CodeInvalidBounds, "lmax[%d] < lmin[%d]", 1, 1)
	assert.True(t, IsInvalidBounds(err))
	assert.False(t, IsTimeout(err))

	wrapped := Wrap(CodeTimeout, "third level", stderrors.New("deadline"))
	assert.True(t, IsTimeout(wrapped))
}

func TestUnwrap(t *testing.T) {
	inner := stderrors.New("socket closed")
	err := Wrap(CodeProtocolViolation, "handshake", inner)

	require.True(t, IsProtocolViolation(err))
	assert.True(t, stderrors.Is(err, inner))
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, CodeGroupFailure, GetErrorCode(New(CodeGroupFailure, "group 2 died")))
	assert.Equal(t, CodeUnknown, GetErrorCode(stderrors.New("plain")))
}
