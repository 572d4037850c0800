// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging is the process-wide logger used by every iris command.
// Messages are printf-style and go to stderr; level prefixes are colored
// when stderr is a terminal.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	logger   = newLogger(os.Stderr)
	exitFunc = os.Exit
)

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&prefixFormatter{colored: isTerminal(w)})
	return l
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// prefixFormatter renders "LEVEL: message key=value ..." lines.
type prefixFormatter struct {
	colored bool
}

func (f *prefixFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var buf bytes.Buffer
	if prefix := f.prefix(entry.Level); prefix != "" {
		buf.WriteString(prefix)
		buf.WriteString(" ")
	}
	buf.WriteString(strings.TrimRight(entry.Message, "\n"))

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&buf, " %s=%v", k, entry.Data[k])
	}
	buf.WriteString("\n")
	return buf.Bytes(), nil
}

func (f *prefixFormatter) prefix(level logrus.Level) string {
	var c *color.Color
	var label string
	switch level {
	case logrus.DebugLevel, logrus.TraceLevel:
		c, label = color.New(color.FgCyan), "DEBUG:"
	case logrus.WarnLevel:
		c, label = color.New(color.FgYellow, color.Bold), "WARNING:"
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		c, label = color.New(color.FgRed, color.Bold), "ERROR:"
	default:
		return ""
	}
	if f.colored {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c.Sprint(label)
}

// SetOutput redirects all log output to w.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
	logger.SetFormatter(&prefixFormatter{colored: isTerminal(w)})
}

// SetLevel parses a logrus level name ("debug", "info", "warn", "error").
func SetLevel(level string) error {
	if level == "" {
		return nil
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger.SetLevel(lvl)
	return nil
}

// WithFields returns an entry carrying the given structured fields.
func WithFields(fields map[string]interface{}) *logrus.Entry {
	return logger.WithFields(logrus.Fields(fields))
}

func Debug(f string, a ...any) {
	logger.Debugf(f, a...)
}

func Info(f string, a ...any) {
	logger.Infof(f, a...)
}

func Warn(f string, a ...any) {
	logger.Warnf(f, a...)
}

func Error(f string, a ...any) {
	logger.Errorf(f, a...)
}

// Fatal logs at error level and terminates the process with exit code 1.
func Fatal(f string, a ...any) {
	logger.Errorf(f, a...)
	exitFunc(1)
}
