// Copyright (c) 2023 cheng-zhongliang. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var records []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var m map[string]any
		require.NoError(t, dec.Decode(&m))
		records = append(records, m)
	}
	return records
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, logiface.LevelDebug)

	log.Debug().
		Int("fd", 7).
		Str("call", "epoll_ctl").
		Bool("wakeable", true).
		Dur("timeout", time.Second).
		Err(errors.New("boom")).
		Log("poller created")
	log.Trace().Int("fd", 8).Log("filtered")

	records := decode(t, &buf)
	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, "debug", r["level"])
	assert.Equal(t, "poller created", r["message"])
	assert.Equal(t, float64(7), r["fd"])
	assert.Equal(t, "epoll_ctl", r["call"])
	assert.Equal(t, true, r["wakeable"])
	assert.Equal(t, "boom", r["error"])
	assert.Contains(t, r, "time")
}

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, logiface.LevelTrace)

	log.Trace().Log("t")
	log.Notice().Log("n")
	log.Warning().Log("w")
	log.Err().Log("e")
	log.Crit().Log("c")
	log.Emerg().Log("x")

	var levels []any
	for _, r := range decode(t, &buf) {
		levels = append(levels, r["level"])
	}
	assert.Equal(t, []any{"trace", "info", "warn", "error", "fatal", "panic"}, levels)
}

func TestNilLogger(t *testing.T) {
	var log *logiface.Logger[logiface.Event]
	assert.NotPanics(t, func() {
		log.Err().Int("fd", 1).Log("ignored")
	})
}

func TestParseLevel(t *testing.T) {
	l, ok := ParseLevel("debug")
	assert.True(t, ok)
	assert.Equal(t, logiface.LevelDebug, l)

	l, ok = ParseLevel("disabled")
	assert.True(t, ok)
	assert.Equal(t, logiface.LevelDisabled, l)

	_, ok = ParseLevel("loud")
	assert.False(t, ok)
}
