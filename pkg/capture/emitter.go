// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/tpmscope/pkg/tpms"
)

// Emitter is the capture process side of the pipe: it writes one packet log
// line per record to its output (stdout) and appends the same line to a CSV
// file named after the mode and start time.
type Emitter struct {
	out     io.Writer
	decoder *tpms.Decoder

	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	path string
	n    uint64
}

// csvHeader documents the column order. Parsers skip '#' lines.
const csvHeader = "# timestamp,mode_id,raw_len,raw_hex,decoded_summary,field=value..."

// NewEmitter creates dir if needed and opens
// capture_<MODE>_<YYYYmmdd_HHMMSS>.csv in it. An empty dir disables the file.
func NewEmitter(out io.Writer, dir, modeName string, started time.Time, decoder *tpms.Decoder) (*Emitter, error) {
	e := &Emitter{out: out, decoder: decoder}
	if dir == "" {
		return e, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating capture directory: %w", err)
	}

	name := fmt.Sprintf("capture_%s_%s.csv", strings.ToUpper(modeName), started.Format("20060102_150405"))
	e.path = filepath.Join(dir, name)
	f, err := os.OpenFile(e.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening capture file: %w", err)
	}
	e.file = f
	e.buf = bufio.NewWriter(f)
	if _, err := e.buf.WriteString(csvHeader + "\n"); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing capture file header: %w", err)
	}
	return e, nil
}

// Path returns the CSV file path, or "" when no file is written
func (e *Emitter) Path() string {
	return e.path
}

// Count returns the number of records emitted
func (e *Emitter) Count() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.n
}

// Info writes a '#' comment line to the output only
func (e *Emitter) Info(format string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprintf(e.out, "# "+format+"\n", args...)
}

// Emit writes one record. The decoded summary column is filled in when the
// record decodes.
func (e *Emitter) Emit(rec tpms.RawPacketRecord, extra ...string) error {
	summary := "-"
	fields := extra
	if e.decoder != nil {
		res := e.decoder.Decode(rec)
		if res.OK() {
			summary = tpms.Summary(*res.Reading)
			fields = append(tpms.SummaryFields(*res.Reading), extra...)
		} else if res.Err != nil {
			fields = append([]string{"error=" + tpms.KindOf(res.Err).String()}, extra...)
		}
	}
	line := tpms.FormatRecordLine(rec, summary, fields...) + "\n"

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := io.WriteString(e.out, line); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	if e.buf != nil {
		if _, err := e.buf.WriteString(line); err != nil {
			return fmt.Errorf("writing capture file: %w", err)
		}
	}
	e.n++
	return nil
}

// Flush pushes buffered CSV lines to disk
func (e *Emitter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.buf == nil {
		return nil
	}
	return e.buf.Flush()
}

// Close flushes and closes the CSV file
func (e *Emitter) Close() error {
	if err := e.Flush(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.file == nil {
		return nil
	}
	err := e.file.Close()
	e.file = nil
	e.buf = nil
	return err
}
