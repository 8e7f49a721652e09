package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrappedError(t *testing.T) {
	base := errors.New("connection refused")
	err := fmt.Errorf("submit failed: %w", New(KindTransport, "POST /prompt", base))

	assert.Equal(t, KindTransport, KindOf(err))
	assert.True(t, Is(err, KindTransport))
	assert.False(t, Is(err, KindProtocol))
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "POST /prompt: transport error: connection refused")
}

func TestNewNilError(t *testing.T) {
	assert.NoError(t, New(KindIO, "write", nil))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.False(t, Is(nil, KindIO))
}

func TestErrorfWithoutOp(t *testing.T) {
	err := Errorf(KindValidation, "", "node %q has no inputs", "5")
	assert.Equal(t, `validation error: node "5" has no inputs`, err.Error())
}
