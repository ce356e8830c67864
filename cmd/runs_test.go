//go:build !integration

package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/stageload/internal/runmeta"
)

func TestFormatRunsList(t *testing.T) {
	start := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	dur := 92.5
	runs := []runmeta.Run{
		{
			Task:            "orders_daily",
			RunID:           "abc12345-6789-0000-0000-000000000000",
			Status:          runmeta.Completed,
			StartedAt:       &start,
			DurationSeconds: &dur,
		},
		{
			Task:   "orders_daily",
			RunID:  "def12345-6789-0000-0000-000000000000",
			Status: runmeta.Failed,
			Error:  strings.Repeat("x", 80),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	out := buf.String()
	assert.Contains(t, out, "RUN")
	assert.Contains(t, out, "abc12345")
	assert.NotContains(t, out, "abc12345-6789")
	assert.Contains(t, out, "2025-06-15 10:30:00")
	assert.Contains(t, out, "1m32.5s")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, strings.Repeat("x", 57)+"...")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}
