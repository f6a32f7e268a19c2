package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
)

func TestTestLogger_Levels(t *testing.T) {
	testLogger, buffer := NewTestLogger(LevelInfo)

	testLogger.Debug("hidden")
	testLogger.Info("epoch finished", EpochKey, 2, LossKey, 0.5)
	testLogger.Warn("metric undefined")
	testLogger.Error("checkpoint failed", fmt.Errorf("disk full"), CheckpointPathKey, "/tmp/x.ckpt")

	require.NotEmpty(t, buffer.String())
	assert.False(t, testLogger.ContainsMessage("hidden"))
	assert.True(t, testLogger.ContainsField(EpochKey, 2.0))
	assert.True(t, testLogger.ContainsField("error", "disk full"))
	assert.True(t, testLogger.ContainsField(CheckpointPathKey, "/tmp/x.ckpt"))

	assert.False(t, testLogger.Enabled(context.Background(), LevelDebug))
	assert.True(t, testLogger.Enabled(context.Background(), LevelError))
}

func TestTestLogger_With(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelDebug)
	child := testLogger.With(ComponentKey, "trainer", PhaseKey, PhaseTraining)
	child.Info("step", StepKey, 10)

	entries, err := testLogger.GetLogEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "trainer", entries[0][ComponentKey])
	assert.Equal(t, PhaseTraining, entries[0][PhaseKey])
	assert.Equal(t, 10.0, entries[0][StepKey])
}

func TestZerologLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(zerolog.New(&buf).Level(zerolog.InfoLevel))

	logger.Debug("dropped")
	logger.With(ComponentKey, "sed").Info("validation", ObjMetricKey, 0.42)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "validation", entry["message"])
	assert.Equal(t, "sed", entry[ComponentKey])
	assert.Equal(t, 0.42, entry[ObjMetricKey])
	assert.False(t, logger.Enabled(context.Background(), LevelDebug))
}

func TestZerologLogger_ErrorWithStack(t *testing.T) {
	var buf bytes.Buffer
	zerolog.ErrorStackMarshaler = marshalStack
	logger := NewZerologLogger(zerolog.New(&buf))

	logger.Error("load failed", errors.NewCheckpointError("load", "best.ckpt", fmt.Errorf("bad magic")), "extra", 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Contains(t, entry["error"], "best.ckpt")
	assert.NotEmpty(t, entry["stack"])
	assert.Equal(t, 1.0, entry["extra"])
}

func TestSetupLogger_RoutesWarnings(t *testing.T) {
	var buf bytes.Buffer
	SetupLogger(LevelDebug, "json", &buf)
	defer errors.SetZerologWarnFunc(nil)

	errors.Warn(errors.NewUndefinedMetricWarning("event_f1", "no reference events", 0))
	assert.Contains(t, buf.String(), `"type":"UndefinedMetricWarning"`)
	assert.NotNil(t, GetLogger())
}

func TestParseLevel(t *testing.T) {
	lvl, ok := ParseLevel("warn")
	assert.True(t, ok)
	assert.Equal(t, LevelWarn, lvl)

	_, ok = ParseLevel("verbose")
	assert.False(t, ok)
}
