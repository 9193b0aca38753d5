package slogpretty_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/fatih/color"
	"github.com/nirvaankohli/north-pole-consensus/lib/logger/sl"
	"github.com/nirvaankohli/north-pole-consensus/lib/logger/slogpretty"
	"github.com/stretchr/testify/assert"
)

func TestPrettyHandler(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{Level: slog.LevelInfo},
	}
	log := slog.New(opts.NewPrettyHandler(&buf)).With(slog.String("op", "test.op"))

	log.Debug("hidden")
	assert.Empty(t, buf.String())

	log.Warn("room not found", slog.String("room", "ABCDEF"), sl.Err(assert.AnError))

	out := buf.String()
	assert.Contains(t, out, "WARN:")
	assert.Contains(t, out, "room not found")
	assert.Contains(t, out, `"room": "ABCDEF"`)
	assert.Contains(t, out, `"op": "test.op"`)
	assert.Contains(t, out, assert.AnError.Error())
}
