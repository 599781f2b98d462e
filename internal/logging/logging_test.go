package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger(t *testing.T) {
	t.Run("Should filter messages below the configured level", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, InitLoggerTo(&buf, "warning"))

		log := Get("logging-test")
		log.Info("hidden")
		log.Warning("visible")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "visible")
		assert.Contains(t, buf.String(), "[logging-test]")
	})

	t.Run("Should reject unknown levels", func(t *testing.T) {
		err := InitLoggerTo(&bytes.Buffer{}, "LOUD")
		assert.Error(t, err)
	})
}

func TestCronLogger(t *testing.T) {
	t.Run("Should render errors with key value pairs", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, InitLoggerTo(&buf, "DEBUG"))

		cl := CronLogger{Log: Get("cron-test")}
		cl.Error(errors.New("boom"), "panic", "job", "resync:baseline", "attempt", 2)

		out := buf.String()
		assert.Contains(t, out, "panic: boom")
		assert.Contains(t, out, "job=resync:baseline")
		assert.Contains(t, out, "attempt=2")
	})
}
