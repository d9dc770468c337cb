package dump

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/stackoff/stackoff/pkg/errors"
)

func TestParseRow(t *testing.T) {
	line := `  <row Id="1" PostTypeId="1" Title="What questions should be definitely off-topic?" Tags="&lt;discussion&gt;&lt;scope&gt;&lt;questions&gt;" />`
	rec, err := ParseRow(line)
	if err != nil {
		t.Fatalf("ParseRow: %v", err)
	}
	if got := rec["Id"]; got != "1" {
		t.Errorf("Id = %v, want \"1\"", got)
	}
	if got := rec["Title"]; got != "What questions should be definitely off-topic?" {
		t.Errorf("Title = %v", got)
	}
	// Tag separators become spaces so the value splits into plain words.
	if got := rec["Tags"]; got != " discussion  scope  questions " {
		t.Errorf("Tags = %q, want %q", got, " discussion  scope  questions ")
	}
}

func TestParseRowRejectsNonRow(t *testing.T) {
	for _, line := range []string{
		`<?xml version="1.0" encoding="utf-8"?>`,
		`<posts>`,
		`</posts>`,
		``,
	} {
		if _, err := ParseRow(line); err == nil {
			t.Errorf("ParseRow(%q) succeeded, want error", line)
		}
	}
}

func TestIsRowLine(t *testing.T) {
	if !isRowLine(`  <row Id="1" />`) {
		t.Error("indented row line not recognized")
	}
	if !isRowLine("\t<row Id=\"1\" />") {
		t.Error("tab-indented row line not recognized")
	}
	if isRowLine(`<posts>`) {
		t.Error("document element mistaken for a row")
	}
}

func writeDumpFile(t *testing.T, rows []string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\" encoding=\"utf-8\"?>\n<posts>\n")
	for _, row := range rows {
		b.WriteString("  ")
		b.WriteString(row)
		b.WriteString("\n")
	}
	b.WriteString("</posts>\n")
	path := filepath.Join(t.TempDir(), "Posts.xml")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestStreamDispatchesEveryRow(t *testing.T) {
	rows := make([]string, 50)
	for i := range rows {
		rows[i] = fmt.Sprintf(`<row Id="%d" PostTypeId="1" />`, i+1)
	}
	path := writeDumpFile(t, rows)

	var mu sync.Mutex
	seen := make(map[int64]bool)
	completed := false

	err := NewReader(8).Stream(context.Background(), path, KindPost, Callbacks{
		OnRecord: func(ctx context.Context, rec Record) error {
			mu.Lock()
			seen[rec.ID()] = true
			mu.Unlock()
			return nil
		},
		OnComplete: func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			// Every in-flight record must have landed before completion.
			if len(seen) != len(rows) {
				t.Errorf("OnComplete saw %d records, want %d", len(seen), len(rows))
			}
			completed = true
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if !completed {
		t.Fatal("OnComplete never ran")
	}
	for i := int64(1); i <= int64(len(rows)); i++ {
		if !seen[i] {
			t.Errorf("record %d never dispatched", i)
		}
	}
}

func TestStreamBoundsInFlightRecords(t *testing.T) {
	const highWater = 8
	rows := make([]string, 200)
	for i := range rows {
		rows[i] = fmt.Sprintf(`<row Id="%d" />`, i+1)
	}
	path := writeDumpFile(t, rows)

	var inFlight, peak atomic.Int64
	err := NewReader(highWater).Stream(context.Background(), path, KindPost, Callbacks{
		OnRecord: func(ctx context.Context, rec Record) error {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if p := peak.Load(); p > highWater {
		t.Errorf("peak in-flight records = %d, want <= %d", p, highWater)
	}
}

func TestStreamToleratesHandlerAndParseFailures(t *testing.T) {
	rows := []string{
		`<row Id="1" />`,
		`<row Id="2"`, // malformed, never closed
		`<row Id="3" />`,
		`<row Id="4" />`,
	}
	path := writeDumpFile(t, rows)

	var mu sync.Mutex
	var handled []int64
	err := NewReader(4).Stream(context.Background(), path, KindPost, Callbacks{
		OnRecord: func(ctx context.Context, rec Record) error {
			mu.Lock()
			handled = append(handled, rec.ID())
			mu.Unlock()
			if rec.ID() == 3 {
				return errors.New("downstream rejected it")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Stream returned %v, want nil: row failures must not abort the file", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(handled) != 3 {
		t.Errorf("handled %d records, want 3 (malformed row skipped)", len(handled))
	}
}

func TestStreamMissingFile(t *testing.T) {
	err := NewReader(4).Stream(context.Background(), filepath.Join(t.TempDir(), "NoSuch.xml"), KindPost, Callbacks{
		OnRecord: func(ctx context.Context, rec Record) error { return nil },
	})
	if !errors.Is(err, apperrors.ErrMissingFile) {
		t.Errorf("err = %v, want ErrMissingFile", err)
	}
}

func TestStreamProgressIsMonotonicAndFinal(t *testing.T) {
	rows := make([]string, 2500)
	for i := range rows {
		rows[i] = fmt.Sprintf(`<row Id="%d" />`, i+1)
	}
	path := writeDumpFile(t, rows)

	var reports []Progress
	err := NewReader(16).Stream(context.Background(), path, KindPost, Callbacks{
		OnRecord:   func(ctx context.Context, rec Record) error { return nil },
		OnProgress: func(p Progress) { reports = append(reports, p) },
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(reports) < 2 {
		t.Fatalf("got %d progress reports, want at least periodic plus final", len(reports))
	}
	for i := 1; i < len(reports); i++ {
		if reports[i].LinesRead < reports[i-1].LinesRead {
			t.Errorf("LinesRead went backwards: %d after %d", reports[i].LinesRead, reports[i-1].LinesRead)
		}
		if reports[i].BytesRead < reports[i-1].BytesRead {
			t.Errorf("BytesRead went backwards: %d after %d", reports[i].BytesRead, reports[i-1].BytesRead)
		}
	}
	final := reports[len(reports)-1]
	if final.BytesRead != final.FileSize {
		t.Errorf("final BytesRead = %d, want full file size %d", final.BytesRead, final.FileSize)
	}
	// 2500 data rows plus the XML declaration and document element lines.
	if final.LinesRead != int64(len(rows))+3 {
		t.Errorf("final LinesRead = %d, want %d", final.LinesRead, len(rows)+3)
	}
}

func TestStreamHonorsCancellation(t *testing.T) {
	rows := make([]string, 5000)
	for i := range rows {
		rows[i] = fmt.Sprintf(`<row Id="%d" />`, i+1)
	}
	path := writeDumpFile(t, rows)

	ctx, cancel := context.WithCancel(context.Background())
	var dispatched atomic.Int64
	err := NewReader(4).Stream(ctx, path, KindPost, Callbacks{
		OnRecord: func(ctx context.Context, rec Record) error {
			if dispatched.Add(1) == 10 {
				cancel()
			}
			time.Sleep(time.Millisecond)
			return nil
		},
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if n := dispatched.Load(); n >= int64(len(rows)) {
		t.Error("cancellation did not stop the stream early")
	}
}
