package trace

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventDoneWritesJSONToSink(t *testing.T) {
	var buf bytes.Buffer
	Sink(&buf)

	ev := Event("build", 2)
	ev.Done()

	require.True(t, strings.HasPrefix(buf.String(), "["))
	raw := strings.TrimSuffix(strings.TrimPrefix(buf.String(), "["), ",")
	var decoded PendingEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	require.Equal(t, "build", decoded.Name)
	require.Equal(t, "X", decoded.Type)
	require.Equal(t, uint64(2), decoded.Tid)
}

func TestInstantWritesZeroDurationEvent(t *testing.T) {
	var buf bytes.Buffer
	Sink(&buf)

	Instant("web started", 3, nil)

	raw := strings.TrimSuffix(strings.TrimPrefix(buf.String(), "["), ",")
	var decoded PendingEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	require.Equal(t, "i", decoded.Type)
	require.Equal(t, uint64(3), decoded.Pid)
}
