/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package shm

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	internalshm "github.com/srediag/ohlcv-shm/internal/shm"
)

// Logger is the leveled, colored logger shared by the ohlcv-shm packages.
type Logger struct {
	name      string
	mu        sync.Mutex
	out       io.Writer
	callDepth int
}

var (
	internalLogger = &Logger{name: "", out: os.Stdout, callDepth: 4}
	level          atomic.Int32

	magenta = string([]byte{27, 91, 57, 53, 109}) // Trace
	green   = string([]byte{27, 91, 57, 50, 109}) // Debug
	blue    = string([]byte{27, 91, 57, 52, 109}) // Info
	yellow  = string([]byte{27, 91, 57, 51, 109}) // Warn
	red     = string([]byte{27, 91, 57, 49, 109}) // Error
	reset   = string([]byte{27, 91, 48, 109})

	colors = []string{
		magenta,
		green,
		blue,
		yellow,
		red,
	}

	levelName = []string{
		"Trace",
		"Debug",
		"Info",
		"Warn",
		"Error",
	}
)

// Log levels accepted by SetLogLevel and OHLCV_SHM_LOG_LEVEL.
const (
	LevelTrace = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelNoPrint
)

func init() {
	level.Store(LevelWarn)
	if os.Getenv("OHLCV_SHM_LOG_LEVEL") != "" {
		if n, err := strconv.Atoi(os.Getenv("OHLCV_SHM_LOG_LEVEL")); err == nil {
			if n >= LevelTrace && n <= LevelNoPrint {
				level.Store(int32(n))
			}
		}
	}
}

// SetLogLevel used to change the internal logger's level and the default level is Warning.
// The process env `OHLCV_SHM_LOG_LEVEL` also could set log level
func SetLogLevel(l int) {
	if l >= LevelTrace && l <= LevelNoPrint {
		level.Store(int32(l))
	}
}

// LogLevel returns the current log level.
func LogLevel() int {
	return int(level.Load())
}

// SetLogOutput redirects the internal logger.
func SetLogOutput(out io.Writer) {
	if out == nil {
		out = os.Stdout
	}
	internalLogger.mu.Lock()
	internalLogger.out = out
	internalLogger.mu.Unlock()
}

// NewLogger returns a logger tagged with name that honours the package log level.
func NewLogger(name string, out io.Writer) *Logger {
	if out == nil {
		out = os.Stdout
	}
	return &Logger{
		name:      name,
		out:       out,
		callDepth: 4,
	}
}

func (l *Logger) printf(lv int, format string, a ...interface{}) {
	if int(level.Load()) > lv {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := fmt.Fprintf(l.out, l.prefix(lv)+format+reset+"\n", a...); err != nil {
		fmt.Fprintf(os.Stderr, "logger write failed: %v\n", err)
	}
}

// Errorf logs at error level.
func (l *Logger) Errorf(format string, a ...interface{}) { l.printf(LevelError, format, a...) }

// Warnf logs at warn level.
func (l *Logger) Warnf(format string, a ...interface{}) { l.printf(LevelWarn, format, a...) }

// Infof logs at info level.
func (l *Logger) Infof(format string, a ...interface{}) { l.printf(LevelInfo, format, a...) }

// Debugf logs at debug level.
func (l *Logger) Debugf(format string, a ...interface{}) { l.printf(LevelDebug, format, a...) }

// Tracef logs at trace level.
func (l *Logger) Tracef(format string, a ...interface{}) { l.printf(LevelTrace, format, a...) }

func (l *Logger) errorf(format string, a ...interface{}) { l.printf(LevelError, format, a...) }
func (l *Logger) warnf(format string, a ...interface{})  { l.printf(LevelWarn, format, a...) }
func (l *Logger) infof(format string, a ...interface{})  { l.printf(LevelInfo, format, a...) }
func (l *Logger) debugf(format string, a ...interface{}) { l.printf(LevelDebug, format, a...) }

func (l *Logger) prefix(level int) string {
	var buffer [64]byte
	buf := bytes.NewBuffer(buffer[:0])
	_, _ = buf.WriteString(colors[level])
	_, _ = buf.WriteString(levelName[level])
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(time.Now().Format("2006-01-02 15:04:05.999999"))
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(l.location())
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(l.name)
	_ = buf.WriteByte(' ')
	return buf.String()
}

func (l *Logger) location() string {
	_, file, line, ok := runtime.Caller(l.callDepth)
	if !ok {
		file = "???"
		line = 0
	}
	file = filepath.Base(file)
	return file + ":" + strconv.Itoa(line)
}

// DebugSegmentDetail prints the on-disk state of the segment desc names in
// dir and whether its size agrees with desc.
func DebugSegmentDetail(w io.Writer, dir string, desc Descriptor) error {
	path := internalshm.SegmentPath(dir, desc.Segment)
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	pid, _ := SegmentOwnerPID(desc.Segment)
	status := "ok"
	if want := int64(desc.ByteLen()); want != st.Size() {
		status = fmt.Sprintf("size mismatch, want %d", want)
	}
	_, err = fmt.Fprintf(w, "path:%s dtype:%s shape:%v order:%s size:%d mode:%s owner_pid:%d modified:%s status:%s\n",
		path, desc.DType, desc.Shape, desc.Order, st.Size(), st.Mode(), pid, st.ModTime().Format(time.RFC3339), status)
	return err
}
