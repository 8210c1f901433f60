package tcpserve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveOptionsDefaults(t *testing.T) {
	cfg, err := resolveOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.pollTimeout)
	assert.Equal(t, 1024, cfg.batchSize)
	assert.False(t, cfg.closeOnDrain)
	assert.Nil(t, cfg.logger)
}

func TestResolveOptionsApplied(t *testing.T) {
	cfg, err := resolveOptions([]Option{
		WithPollTimeout(-1),
		WithEventBatchSize(64),
		WithCloseOnDrain(true),
	})
	require.NoError(t, err)
	assert.Equal(t, -1, cfg.pollTimeout)
	assert.Equal(t, 64, cfg.batchSize)
	assert.True(t, cfg.closeOnDrain)
}

func TestResolveOptionsSkipsNil(t *testing.T) {
	cfg, err := resolveOptions([]Option{nil, WithPollTimeout(5)})
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.pollTimeout)
}

func TestWithEventBatchSizeRejectsNonPositive(t *testing.T) {
	_, err := resolveOptions([]Option{WithEventBatchSize(0)})
	assert.ErrorIs(t, err, ErrInvalidBatchSize)

	_, err = resolveOptions([]Option{WithEventBatchSize(-3)})
	assert.ErrorIs(t, err, ErrInvalidBatchSize)
}
