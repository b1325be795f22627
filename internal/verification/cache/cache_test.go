package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"aidtrace/pkg/platform/sentinel"
)

func TestConfirmationKey(t *testing.T) {
	assert.Equal(t, "aidtrace:confirmed:abc", confirmationKey("abc"))
}

func TestNoopNeverHits(t *testing.T) {
	ctx := context.Background()
	var c Noop
	assert.NoError(t, c.MarkConfirmed(ctx, "abc", "0x1"))
	_, err := c.IsConfirmed(ctx, "abc")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
