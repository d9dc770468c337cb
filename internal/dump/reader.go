package dump

import (
	"bufio"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	apperrors "github.com/stackoff/stackoff/pkg/errors"
	"github.com/stackoff/stackoff/pkg/metrics"
)

const progressEveryLines = 1000

// Progress reports how far a stream has advanced. Progress callbacks are
// emitted from the read loop, so they are strictly ordered and LinesRead
// is monotonic.
type Progress struct {
	FileSize  int64
	BytesRead int64
	LinesRead int64
}

// Callbacks are the per-stream hooks. OnRecord is required; the others may
// be nil. OnComplete runs after end-of-input once every in-flight OnRecord
// call has finished, which is where callers flush any consolidator batches
// tied to the file.
type Callbacks struct {
	OnRecord   func(ctx context.Context, rec Record) error
	OnProgress func(p Progress)
	OnComplete func(ctx context.Context) error
}

// Reader streams dump files line by line, dispatching each data row to
// OnRecord on its own goroutine. The number of in-flight OnRecord calls is
// bounded: when it reaches HighWater the file read pauses, resuming once
// it drains to HighWater/2. This keeps heap growth flat regardless of file
// size or downstream latency.
type Reader struct {
	HighWater int
	Metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewReader creates a Reader with the given high-water mark (256 when
// non-positive).
func NewReader(highWater int) *Reader {
	if highWater <= 0 {
		highWater = 256
	}
	return &Reader{
		HighWater: highWater,
		logger:    slog.Default().With("component", "dump-reader"),
	}
}

// Stream reads the file at path, parses each data row as a kind-tagged
// Record, and invokes cb.OnRecord for it. A failure inside one OnRecord
// call (or a malformed line) is logged and skipped; the stream continues.
// A missing or unreadable file is fatal. Stream honors ctx cancellation at
// the per-line dispatch point.
func (r *Reader) Stream(ctx context.Context, path string, kind RecordKind, cb Callbacks) error {
	f, err := os.Open(path)
	if err != nil {
		return apperrors.Newf(apperrors.ErrMissingFile, "opening %s: %v", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	fileSize := info.Size()

	counting := &countingReader{r: f}
	scanner := bufio.NewScanner(counting)
	// Post bodies can run long; a 4 MiB line cap covers every dump seen.
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	gate := newWatermarkGate(r.HighWater)
	defer gate.close()
	var wg sync.WaitGroup
	var linesRead int64

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			break
		}
		gate.waitResumed(ctx)

		line := scanner.Text()
		linesRead++
		if cb.OnProgress != nil && linesRead%progressEveryLines == 0 {
			cb.OnProgress(Progress{
				FileSize:  fileSize,
				BytesRead: counting.count(),
				LinesRead: linesRead,
			})
		}
		if r.Metrics != nil {
			r.Metrics.LinesReadTotal.WithLabelValues(kind.String()).Inc()
		}
		if !isRowLine(line) {
			continue
		}

		gate.add()
		wg.Add(1)
		go func(line string, lineNo int64) {
			defer wg.Done()
			defer gate.done()
			r.handleLine(ctx, line, lineNo, kind, cb)
		}(line, linesRead)
	}

	wg.Wait()

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if cb.OnProgress != nil {
		cb.OnProgress(Progress{
			FileSize:  fileSize,
			BytesRead: counting.count(),
			LinesRead: linesRead,
		})
	}
	if cb.OnComplete != nil {
		if err := cb.OnComplete(ctx); err != nil {
			return fmt.Errorf("completing %s: %w", path, err)
		}
	}
	return nil
}

// handleLine parses one row and hands it to OnRecord, tracking the
// in-flight gauge. Errors never escape into the stream's result.
func (r *Reader) handleLine(ctx context.Context, line string, lineNo int64, kind RecordKind, cb Callbacks) {
	if r.Metrics != nil {
		r.Metrics.RecordsInFlight.Inc()
		defer r.Metrics.RecordsInFlight.Dec()
	}
	rec, err := ParseRow(line)
	if err != nil {
		r.logger.Warn("skipping unparseable row",
			"kind", kind.String(),
			"line", lineNo,
			"error", err,
		)
		return
	}
	Normalize(rec, kind)
	if err := cb.OnRecord(ctx, rec); err != nil {
		if r.Metrics != nil {
			r.Metrics.RecordFailuresTotal.WithLabelValues(kind.String()).Inc()
		}
		r.logger.Warn("record handler failed, continuing",
			"kind", kind.String(),
			"line", lineNo,
			"id", rec.ID(),
			"error", err,
		)
	}
}

// isRowLine is the cheap pre-parse test: dump data rows are self-closing
// <row .../> elements, one per line, indented under the document element.
func isRowLine(line string) bool {
	return strings.HasPrefix(strings.TrimLeft(line, " \t"), "<row")
}

// ParseRow parses one self-contained <row .../> line into a Record. The
// Tags attribute's <> separators are rewritten to spaces, so
// "<discussion><scope>" becomes " discussion  scope ".
func ParseRow(line string) (Record, error) {
	dec := xml.NewDecoder(strings.NewReader(line))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, fmt.Errorf("no row element in line")
		}
		if err != nil {
			return nil, fmt.Errorf("parsing row: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "row" {
			continue
		}
		rec := make(Record, len(start.Attr))
		for _, attr := range start.Attr {
			value := attr.Value
			if attr.Name.Local == "Tags" {
				value = replaceTagSeparators(value)
			}
			rec[attr.Name.Local] = value
		}
		return rec, nil
	}
}

func replaceTagSeparators(tags string) string {
	return strings.Map(func(r rune) rune {
		if r == '<' || r == '>' {
			return ' '
		}
		return r
	}, tags)
}

// countingReader tracks bytes consumed from the underlying file for
// progress reporting.
type countingReader struct {
	r  io.Reader
	mu sync.Mutex
	n  int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.mu.Lock()
	c.n += int64(n)
	c.mu.Unlock()
	return n, err
}

func (c *countingReader) count() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
