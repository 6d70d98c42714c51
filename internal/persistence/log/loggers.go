package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"gridcity.ai/internal/sim/room"
)

// DefaultSegmentBytes caps the uncompressed JSON held by one segment.
const DefaultSegmentBytes = 64 << 20

const hourLayout = "2006-01-02-15"

type Options struct {
	// SegmentBytes starts a new segment once the current one holds this
	// much uncompressed JSON. Zero means DefaultSegmentBytes; negative
	// disables the cap.
	SegmentBytes int64
	// OnSeal is called with the path of each segment after it is closed.
	OnSeal func(path string)
}

// SegmentWriter appends JSON lines to zstd segments named
// <prefix>-YYYY-MM-DD-HH-NNN.jsonl.zst. A segment is one zstd stream
// written by one writer: the writer never reopens an existing file, so a
// restart within the hour continues at the next NNN. Names sort in write
// order.
type SegmentWriter struct {
	dir    string
	prefix string
	limit  int64
	onSeal func(path string)
	now    func() time.Time

	mu   sync.Mutex
	hour string
	seq  int
	path string
	size int64
	f    *os.File
	enc  *zstd.Encoder
	buf  *bufio.Writer
}

func NewSegmentWriter(dir, prefix string, opt Options) *SegmentWriter {
	limit := opt.SegmentBytes
	if limit == 0 {
		limit = DefaultSegmentBytes
	}
	return &SegmentWriter{dir: dir, prefix: prefix, limit: limit, onSeal: opt.OnSeal, now: time.Now}
}

// Write appends v as one line. The line is in the file's compressed
// stream when Write returns.
func (w *SegmentWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format(hourLayout)
	full := w.limit > 0 && w.size > 0 && w.size+int64(len(b)) > w.limit
	if w.f == nil || hour != w.hour || full {
		if err := w.openLocked(hour); err != nil {
			return err
		}
	}
	if _, err := w.buf.Write(b); err != nil {
		return err
	}
	w.size += int64(len(b))
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *SegmentWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sealLocked()
}

func (w *SegmentWriter) openLocked(hour string) error {
	if err := w.sealLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	seq := 0
	if hour == w.hour {
		seq = w.seq + 1
	} else if last, ok := lastSeq(w.dir, w.prefix, hour); ok {
		seq = last + 1
	}
	path := filepath.Join(w.dir, fmt.Sprintf("%s-%s-%03d.jsonl.zst", w.prefix, hour, seq))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.hour, w.seq, w.path, w.size = hour, seq, path, 0
	w.f, w.enc, w.buf = f, enc, bufio.NewWriterSize(enc, 64*1024)
	return nil
}

func (w *SegmentWriter) sealLocked() error {
	if w.f == nil {
		return nil
	}
	err := w.buf.Flush()
	if cerr := w.enc.Close(); err == nil {
		err = cerr
	}
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	w.f, w.enc, w.buf = nil, nil, nil
	if err != nil {
		return fmt.Errorf("seal %s: %w", filepath.Base(w.path), err)
	}
	if w.onSeal != nil {
		w.onSeal(w.path)
	}
	return nil
}

// lastSeq finds the highest segment number already on disk for hour.
func lastSeq(dir, prefix, hour string) (int, bool) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return 0, false
	}
	stem := prefix + "-" + hour + "-"
	last, found := 0, false
	for _, e := range ents {
		name := e.Name()
		if !strings.HasPrefix(name, stem) || !strings.HasSuffix(name, ".jsonl.zst") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, stem), ".jsonl.zst"))
		if err != nil {
			continue
		}
		if !found || n > last {
			last, found = n, true
		}
	}
	return last, found
}

// TxLogger writes one line per accepted transaction under roomDir/txs.
type TxLogger struct{ w *SegmentWriter }

func NewTxLogger(roomDir string, opt Options) *TxLogger {
	return &TxLogger{w: NewSegmentWriter(filepath.Join(roomDir, "txs"), "txs", opt)}
}

func (l *TxLogger) WriteTx(v room.TxLogEntry) error { return l.w.Write(v) }
func (l *TxLogger) Close() error                    { return l.w.Close() }

// AuditLogger writes audit entries under roomDir/audit.
type AuditLogger struct{ w *SegmentWriter }

func NewAuditLogger(roomDir string, opt Options) *AuditLogger {
	return &AuditLogger{w: NewSegmentWriter(filepath.Join(roomDir, "audit"), "audit", opt)}
}

func (l *AuditLogger) WriteAudit(v room.AuditEntry) error { return l.w.Write(v) }
func (l *AuditLogger) Close() error                       { return l.w.Close() }
