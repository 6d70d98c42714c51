package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"gridcity.ai/internal/sim/room"
)

// ListFiles returns the <prefix>-*.jsonl.zst files in dir, oldest first.
func ListFiles(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix+"-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// ScanFile decodes every line of one compressed JSONL file into a fresh T
// and hands it to fn. Returning an error from fn stops the scan. A segment
// whose writer never sealed it ends without a frame trailer; the lines
// flushed before that are still read.
func ScanFile[T any](path string, fn func(T) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		var v T
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			return fmt.Errorf("%s:%d: unmarshal: %w", filepath.Base(path), line, err)
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	return nil
}

// ReadTxLog walks every tx log file under roomDir/txs in order.
func ReadTxLog(roomDir string, fn func(room.TxLogEntry) error) error {
	files, err := ListFiles(filepath.Join(roomDir, "txs"), "txs")
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := ScanFile(path, fn); err != nil {
			return err
		}
	}
	return nil
}

// ReadAuditLog walks every audit file under roomDir/audit in order.
func ReadAuditLog(roomDir string, fn func(room.AuditEntry) error) error {
	files, err := ListFiles(filepath.Join(roomDir, "audit"), "audit")
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := ScanFile(path, fn); err != nil {
			return err
		}
	}
	return nil
}
