package outcome

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := TransientIO(cause, "write fingerprint %s", "x.txt")

	assert.True(t, Is(err, KindTransientIO))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "write fingerprint x.txt")
}

func TestNewHasNoCause(t *testing.T) {
	err := Validation("missing %s", "path")
	assert.Nil(t, err.Unwrap())
	assert.True(t, Is(err, KindValidation))
}

func TestIsRejectsPlainErrors(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), KindFatal))
}
