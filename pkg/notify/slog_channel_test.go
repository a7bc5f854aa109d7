package notify_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caravel-hq/caravel/pkg/notify"
)

func TestSlogChannelSend(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	channel := notify.NewSlogChannel(slog.New(slog.NewTextHandler(&buf, nil)))

	err := channel.Send(t.Context(), "approvals", "invoice ready", map[string]any{"amount": 42})
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "approvals")
	assert.Contains(t, buf.String(), "invoice ready")
}
