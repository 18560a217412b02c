package log_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lpyedge/oxicloud/internal/log"
)

func TestNewProdModeEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	l := log.New("idmap", &buf, "prod")

	ctx := log.WithTrace(context.Background(), "req-1")
	log.Event(ctx, l, zerolog.InfoLevel).Msg("flushed snapshot")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "idmap", line["component"])
	assert.Equal(t, "req-1", line["trace"])
	assert.Equal(t, "flushed snapshot", line["message"])
}

func TestEventWithoutTraceOmitsField(t *testing.T) {
	var buf bytes.Buffer
	l := log.New("trashstore", &buf, "prod")

	log.Event(context.Background(), l, zerolog.InfoLevel).Msg("purged")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	_, hasTrace := line["trace"]
	assert.False(t, hasTrace)
}
