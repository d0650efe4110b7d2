// Package output writes formatted events and alerts to log files the
// way a gateway would: one file per calendar day, rotated when a size
// cap is reached, with rotated segments optionally gzip-compressed.
// An optional pacer throttles emission for live-replay scenarios.
package output

import (
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/time/rate"

	"github.com/example/shadowgen/internal/event"
	"github.com/example/shadowgen/internal/format"
)

// ErrClosed is returned when writing to a closed writer.
var ErrClosed = errors.New("output: writer closed")

const (
	fileDayFormat  = "20060102"
	writerBufSize  = 64 * 1024
	defaultMaxSize = 256 // MB
)

// Config holds configuration for the log writer.
type Config struct {
	// Dir is the output directory. Created if missing.
	Dir string

	// MaxFileSizeMB caps one log segment before rotation.
	// Default: 256.
	MaxFileSizeMB int

	// Compress gzips rotated segments.
	Compress bool

	// EventsPerSecond throttles emission for live replay.
	// Zero disables pacing and events are written as fast as possible.
	EventsPerSecond float64
}

// Writer renders events through a formatter and appends them to
// day-partitioned log files. Not safe for concurrent use; the engine
// emits a single ordered stream.
type Writer struct {
	cfg       Config
	formatter format.Formatter
	limiter   *rate.Limiter

	day     string
	seq     int
	size    int64
	file    *os.File
	buf     *bufio.Writer
	alerts  *os.File
	alertsW *bufio.Writer

	closed bool
}

// NewWriter creates a writer for the given formatter.
func NewWriter(cfg Config, f format.Formatter) (*Writer, error) {
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = defaultMaxSize
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("output: creating directory: %w", err)
	}
	w := &Writer{cfg: cfg, formatter: f}
	if cfg.EventsPerSecond > 0 {
		burst := max(1, int(cfg.EventsPerSecond))
		w.limiter = rate.NewLimiter(rate.Limit(cfg.EventsPerSecond), burst)
	}
	return w, nil
}

// WriteEvent renders and appends one event, switching files at day
// boundaries and rotating when the size cap is reached. Blocks for
// pacing when a rate is configured.
func (w *Writer) WriteEvent(ctx context.Context, ev *event.Event) error {
	if w.closed {
		return ErrClosed
	}
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	day := ev.Timestamp.UTC().Format(fileDayFormat)
	if w.file == nil || day != w.day {
		if err := w.openDay(day); err != nil {
			return err
		}
	}

	line := w.formatter.Format(ev)
	n, err := w.buf.WriteString(line)
	if err != nil {
		return fmt.Errorf("output: writing event: %w", err)
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return fmt.Errorf("output: writing event: %w", err)
	}
	w.size += int64(n) + 1

	if w.size >= int64(w.cfg.MaxFileSizeMB)*1024*1024 {
		return w.rotate()
	}
	return nil
}

// WriteAlert appends one alert to the day's alert file. Alerts are
// always JSON lines regardless of the event format.
func (w *Writer) WriteAlert(a *event.Alert) error {
	if w.closed {
		return ErrClosed
	}
	if w.alerts == nil {
		name := filepath.Join(w.cfg.Dir, "alerts.jsonl")
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("output: opening alert file: %w", err)
		}
		w.alerts = f
		w.alertsW = bufio.NewWriterSize(f, writerBufSize)
	}
	if _, err := w.alertsW.WriteString(format.FormatAlert(a)); err != nil {
		return fmt.Errorf("output: writing alert: %w", err)
	}
	if err := w.alertsW.WriteByte('\n'); err != nil {
		return fmt.Errorf("output: writing alert: %w", err)
	}
	return nil
}

// Flush pushes buffered data to disk. The engine calls it at hour
// boundaries so partial output survives interruption.
func (w *Writer) Flush() error {
	if w.buf != nil {
		if err := w.buf.Flush(); err != nil {
			return fmt.Errorf("output: flushing events: %w", err)
		}
	}
	if w.alertsW != nil {
		if err := w.alertsW.Flush(); err != nil {
			return fmt.Errorf("output: flushing alerts: %w", err)
		}
	}
	return nil
}

// Close flushes and closes all open files.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	err := w.Flush()
	if w.file != nil {
		if cerr := w.file.Close(); err == nil {
			err = cerr
		}
		w.file = nil
	}
	if w.alerts != nil {
		if cerr := w.alerts.Close(); err == nil {
			err = cerr
		}
		w.alerts = nil
	}
	return err
}

// Path returns the current log file path, for logging.
func (w *Writer) Path() string {
	if w.file == nil {
		return ""
	}
	return w.file.Name()
}

// openDay closes the current segment and opens the file for the given
// day.
func (w *Writer) openDay(day string) error {
	if err := w.closeSegment(); err != nil {
		return err
	}
	w.day = day
	w.seq = 0
	return w.openSegment()
}

// rotate finalizes the current segment under a sequence suffix and
// starts a new one for the same day.
func (w *Writer) rotate() error {
	if err := w.closeSegment(); err != nil {
		return err
	}

	old := w.segmentPath()
	w.seq++
	rotated := fmt.Sprintf("%s.%d", old, w.seq)
	if err := os.Rename(old, rotated); err != nil {
		return fmt.Errorf("output: rotating segment: %w", err)
	}
	if w.cfg.Compress {
		if err := compressFile(rotated); err != nil {
			return err
		}
	}
	return w.openSegment()
}

func (w *Writer) openSegment() error {
	name := w.segmentPath()
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("output: opening segment: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("output: opening segment: %w", err)
	}
	w.file = f
	w.buf = bufio.NewWriterSize(f, writerBufSize)
	w.size = info.Size()
	return nil
}

func (w *Writer) closeSegment() error {
	if w.file == nil {
		return nil
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("output: flushing segment: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("output: closing segment: %w", err)
	}
	w.file = nil
	w.buf = nil
	return nil
}

func (w *Writer) segmentPath() string {
	name := fmt.Sprintf("%s_%s.log", w.formatter.Name(), w.day)
	return filepath.Join(w.cfg.Dir, name)
}

// compressFile gzips path into path.gz and removes the original.
func compressFile(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("output: compressing segment: %w", err)
	}
	defer in.Close()

	out, err := os.Create(path + ".gz")
	if err != nil {
		return fmt.Errorf("output: compressing segment: %w", err)
	}
	gz := gzip.NewWriter(out)

	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		out.Close()
		return fmt.Errorf("output: compressing segment: %w", err)
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return fmt.Errorf("output: compressing segment: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("output: compressing segment: %w", err)
	}
	return os.Remove(path)
}
