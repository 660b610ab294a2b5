package kpnc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type blankError struct{}

func (blankError) Error() string { return "" }

func TestKind(t *testing.T) {
	assert.Equal(t, "", Kind(nil))
	assert.Equal(t, "Timeout", Kind(fmt.Errorf("x: %w", context.DeadlineExceeded)))
	assert.Equal(t, "Canceled", Kind(context.Canceled))
	assert.Equal(t, "BadStatus", Kind(&APIError{StatusCode: 500}))
	assert.Equal(t, "EmptyBody", Kind(ErrEmptyBody))
	assert.Equal(t, "MalformedResponse", Kind(&MalformedResponseError{What: "x", Err: errors.New("bad")}))
	assert.Equal(t, "AccountInvalid", Kind(ErrAccountInvalid))
	assert.Equal(t, "MissingIdentifier", Kind(ErrMissingIdentifier))
	assert.Equal(t, "Unsupported", Kind(fmt.Errorf("%w: reboot", ErrUnsupported)))
	assert.Equal(t, "ServerError", Kind(&ServerError{Message: "x"}))
	assert.Equal(t, "TransportFailure", Kind(&TransportError{Err: errors.New("refused")}))
	assert.Equal(t, "blankError", Kind(blankError{}))
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "", UserMessage(nil))
	assert.Equal(t, "Account does not exist", UserMessage(fmt.Errorf("getting account info: %w", &ServerError{Message: "Account does not exist"})))
	assert.Equal(t, "account is not valid", UserMessage(ErrAccountInvalid))
	assert.Equal(t, "blankError", UserMessage(blankError{}))
}

func TestIsImportant(t *testing.T) {
	assert.False(t, IsImportant(nil))
	assert.False(t, IsImportant(context.Canceled))
	assert.False(t, IsImportant(&APIError{StatusCode: 404}))
	assert.False(t, IsImportant(fmt.Errorf("x: %w", ErrEmptyBody)))
	assert.True(t, IsImportant(&MalformedResponseError{What: "x", Err: errors.New("bad")}))
	assert.True(t, IsImportant(ErrMissingIdentifier))
}

func TestLogValue(t *testing.T) {
	assert.Equal(t, "BadStatus", LogValue(&APIError{StatusCode: 500}))
	assert.Equal(t, "MissingIdentifier: account id is not set", LogValue(ErrMissingIdentifier))
	assert.Equal(t, "", LogValue(nil))
}
