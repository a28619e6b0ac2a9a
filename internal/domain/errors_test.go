package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationErrorMessage(t *testing.T) {
	err := NewValidationError("age", "patient age must be a positive integer", 0)
	assert.Contains(t, err.Error(), "age")
	assert.Contains(t, err.Error(), "positive integer")
	assert.True(t, IsValidationError(err))
	assert.True(t, IsValidationError(fmt.Errorf("submit: %w", err)))
	assert.False(t, IsValidationError(errors.New("boom")))
}

func TestTransportErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewTransportError("Could not reach the diagnostic service.", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "Could not reach the diagnostic service.")
	assert.Contains(t, err.Error(), "connection refused")

	bare := NewTransportError("History fetch returned status 500.", nil)
	assert.Equal(t, "History fetch returned status 500.", bare.Error())
}

func TestCorrelationErrorMessage(t *testing.T) {
	err := &CorrelationError{Sent: "#11111", Got: "#22222"}
	assert.Contains(t, err.Error(), "#11111")
	assert.Contains(t, err.Error(), "#22222")
}
