// Copyright 2020-2022 The Airwave Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package log

// API inspired by zerolog https://github.com/rs/zerolog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Level defines log level.
type Level uint8

// Logging levels.
const (
	LevelError   Level = 16
	LevelWarning Level = 24
	LevelInfo    Level = 32
	LevelDebug   Level = 48
)

// UnixMillisecond .
type UnixMillisecond uint64

// Event defines log event.
type Event struct {
	level Level
	time  UnixMillisecond
	src   string // Source.
	conn  string // Source connection address.

	logger *Logger
}

// Entry defines a log entry.
type Entry struct {
	Level Level
	Time  UnixMillisecond
	Msg   string
	Src   string
	Conn  string
}

// Src sets event source.
func (e *Event) Src(source string) *Event {
	e.src = source
	return e
}

// Conn sets the event source connection address.
func (e *Event) Conn(addr string) *Event {
	e.conn = addr
	return e
}

// Time sets event time.
func (e *Event) Time(t time.Time) *Event {
	e.time = UnixMillisecond(t.UnixNano() / 1000)
	return e
}

// Msg sends the *Event with msg added as the message field.
func (e *Event) Msg(msg string) {
	entry := Entry{
		Level: e.level,
		Time:  e.time,
		Msg:   msg,
		Src:   e.src,
		Conn:  e.conn,
	}

	select {
	case e.logger.feed <- entry:
	case <-e.logger.done:
	}
}

// Msgf sends the event with formatted msg added as the message field.
func (e *Event) Msgf(format string, v ...interface{}) {
	e.Msg(fmt.Sprintf(format, v...))
}

// Feed defines feed of log entries.
type Feed <-chan Entry
type logFeed chan Entry

// Logger is a channel-fanout logger.
type Logger struct {
	feed  logFeed      // feed of log entries.
	sub   chan logFeed // subscribe requests.
	unsub chan logFeed // unsubscribe requests.
	done  chan struct{}

	db     *sql.DB
	dbPath string
}

// NewLogger returns a Logger persisting to the database at dbPath.
// Start must be called before events flow.
func NewLogger(dbPath string) (*Logger, error) {
	if err := checkDB(dbPath); err != nil {
		return nil, err
	}

	return &Logger{
		feed:   make(logFeed),
		sub:    make(chan logFeed),
		unsub:  make(chan logFeed),
		done:   make(chan struct{}),
		dbPath: dbPath,
	}, nil
}

// NewMockLogger returns a started logger that drops every event,
// for testing.
func NewMockLogger() *Logger {
	l := &Logger{
		feed:  make(logFeed),
		sub:   make(chan logFeed),
		unsub: make(chan logFeed),
		done:  make(chan struct{}),
	}
	l.Start(context.Background()) //nolint:errcheck
	return l
}

// Start the fanout loop, stopping when ctx is canceled.
func (l *Logger) Start(ctx context.Context) error {
	if l.dbPath != "" {
		db, err := sql.Open("sqlite3", l.dbPath)
		if err != nil {
			return fmt.Errorf("could not open database: %w", err)
		}
		l.db = db
	}

	go func() {
		subs := map[logFeed]struct{}{}
		for {
			select {
			case <-ctx.Done():
				if l.db != nil {
					l.db.Close()
				}
				close(l.done)
				return

			case ch := <-l.sub:
				subs[ch] = struct{}{}

			case ch := <-l.unsub:
				close(ch)
				delete(subs, ch)

			case entry := <-l.feed:
				for ch := range subs {
					ch <- entry
				}
			}
		}
	}()
	return nil
}

// CancelFunc cancels log feed subscription.
type CancelFunc func()

// Subscribe returns a new chan with the log feed and a CancelFunc.
func (l *Logger) Subscribe() (Feed, CancelFunc) {
	feed := make(logFeed)
	select {
	case l.sub <- feed:
	case <-l.done:
		close(feed)
		return Feed((chan Entry)(feed)), func() {}
	}

	cancel := func() {
		l.unSubscribe(feed)
	}
	return Feed((chan Entry)(feed)), cancel
}

func (l *Logger) unSubscribe(feed logFeed) {
	// Read feed until the unsub request is accepted.
	for {
		select {
		case l.unsub <- feed:
			return
		case <-feed:
		case <-l.done:
			return
		}
	}
}

// LogToStdout prints the log feed to stdout until ctx is canceled.
func (l *Logger) LogToStdout(ctx context.Context) {
	feed, cancel := l.Subscribe()
	defer cancel()
	for {
		select {
		case entry := <-feed:
			printEntry(entry)
		case <-ctx.Done():
			return
		}
	}
}

func printEntry(entry Entry) {
	var output string

	switch entry.Level {
	case LevelError:
		output += "[ERROR] "
	case LevelWarning:
		output += "[WARNING] "
	case LevelInfo:
		output += "[INFO] "
	case LevelDebug:
		output += "[DEBUG] "
	}

	if entry.Conn != "" {
		output += entry.Conn + ": "
	}
	if entry.Src != "" {
		output += strings.Title(entry.Src) + ": " //nolint:staticcheck
	}

	output += entry.Msg
	fmt.Println(output)
}

// Error starts a new message with error level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Error() *Event {
	return l.event(LevelError)
}

// Warn starts a new message with warn level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Warn() *Event {
	return l.event(LevelWarning)
}

// Info starts a new message with info level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Info() *Event {
	return l.event(LevelInfo)
}

// Debug starts a new message with debug level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Debug() *Event {
	return l.event(LevelDebug)
}

func (l *Logger) event(level Level) *Event {
	return &Event{
		level:  level,
		time:   UnixMillisecond(time.Now().UnixNano() / 1000),
		logger: l,
	}
}
