package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap(t *testing.T) {
	t.Run("nil error stays nil", func(t *testing.T) {
		assert.NoError(t, Wrap(nil, CodeInternal, "ignored"))
	})

	t.Run("cause is reachable through errors.Is", func(t *testing.T) {
		cause := errors.New("connection reset")
		err := Wrap(cause, CodeInternal, "append verification record")

		assert.ErrorIs(t, err, cause)
		assert.Equal(t, "append verification record: connection reset", err.Error())
		assert.True(t, HasCode(err, CodeInternal))
	})
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeNotFound, CodeOf(New(CodeNotFound, "no record")))
	assert.Equal(t, CodeValidation, CodeOf(fmt.Errorf("outer: %w", New(CodeValidation, "bad hash"))))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}
