// Copyright (c) 2023 cheng-zhongliang. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package logging backs the iomux logger with zerolog.
package logging

import (
	"io"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// Event is a zerolog event carried through a logiface builder.
type Event struct {
	logiface.UnimplementedEvent
	z   *zerolog.Event
	lvl logiface.Level
	msg string
}

var _ logiface.Event = (*Event)(nil)

func (x *Event) Level() logiface.Level {
	if x != nil {
		return x.lvl
	}
	return logiface.LevelDisabled
}

func (x *Event) AddField(key string, val any) { x.z.Interface(key, val) }

func (x *Event) AddMessage(msg string) bool {
	x.msg = msg
	return true
}

func (x *Event) AddError(err error) bool {
	x.z.Err(err)
	return true
}

func (x *Event) AddString(key string, val string) bool {
	x.z.Str(key, val)
	return true
}

func (x *Event) AddInt(key string, val int) bool {
	x.z.Int(key, val)
	return true
}

func (x *Event) AddBool(key string, val bool) bool {
	x.z.Bool(key, val)
	return true
}

func (x *Event) AddDuration(key string, val time.Duration) bool {
	x.z.Dur(key, val)
	return true
}

// zerologLevel maps syslog-style levels onto zerolog. The levels above
// error never exit or panic, WithLevel only tags the record.
func zerologLevel(level logiface.Level) zerolog.Level {
	switch level {
	case logiface.LevelTrace:
		return zerolog.TraceLevel
	case logiface.LevelDebug:
		return zerolog.DebugLevel
	case logiface.LevelInformational, logiface.LevelNotice:
		return zerolog.InfoLevel
	case logiface.LevelWarning:
		return zerolog.WarnLevel
	case logiface.LevelError:
		return zerolog.ErrorLevel
	case logiface.LevelCritical, logiface.LevelAlert:
		return zerolog.FatalLevel
	case logiface.LevelEmergency:
		return zerolog.PanicLevel
	default:
		return zerolog.TraceLevel
	}
}

// Wrap adapts z, logging at level and above.
func Wrap(z zerolog.Logger, level logiface.Level) *logiface.Logger[logiface.Event] {
	return logiface.New[*Event](
		logiface.WithEventFactory[*Event](logiface.NewEventFactoryFunc(func(level logiface.Level) *Event {
			return &Event{z: z.WithLevel(zerologLevel(level)), lvl: level}
		})),
		logiface.WithWriter[*Event](logiface.NewWriterFunc(func(event *Event) error {
			event.z.Msg(event.msg)
			return nil
		})),
		logiface.WithLevel[*Event](level),
	).Logger()
}

// New returns a JSON logger writing to w with a timestamp on each record.
func New(w io.Writer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return Wrap(zerolog.New(w).With().Timestamp().Logger(), level)
}

// Console returns a human readable logger for the example programs.
func Console(w io.Writer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return Wrap(zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).With().Timestamp().Logger(), level)
}

// ParseLevel parses a level name such as "debug" or "warning".
func ParseLevel(s string) (logiface.Level, bool) {
	for l := logiface.LevelEmergency; l <= logiface.LevelTrace; l++ {
		if l.String() == s {
			return l, true
		}
	}
	return logiface.LevelDisabled, s == "disabled"
}
