package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const batchPrefix = "record"

// WriteBatch stores records as JSON Lines in dir, named after the first row
// index the batch covers. Existing batches are never overwritten: a name
// collision gets the run id appended. An empty batch writes nothing and
// returns an empty path.
func WriteBatch(dir string, start int, runID string, records []json.RawMessage) (string, error) {
	if len(records) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	for i, rec := range records {
		if err := json.Compact(&buf, rec); err != nil {
			return "", fmt.Errorf("record %d: %w", i, err)
		}
		buf.WriteByte('\n')
	}

	name := filepath.Join(dir, fmt.Sprintf("%s%d.jsonl", batchPrefix, start))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if os.IsExist(err) {
		suffix := runID
		if len(suffix) > 8 {
			suffix = suffix[:8]
		}
		name = filepath.Join(dir, fmt.Sprintf("%s%d-%s.jsonl", batchPrefix, start, suffix))
		f, err = os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	}
	if err != nil {
		return "", err
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

// BatchStart parses the start index out of a batch file name.
func BatchStart(name string) (int, bool) {
	base := strings.TrimSuffix(filepath.Base(name), ".jsonl")
	if !strings.HasPrefix(base, batchPrefix) {
		return 0, false
	}
	base = strings.TrimPrefix(base, batchPrefix)
	if i := strings.IndexByte(base, '-'); i >= 0 {
		base = base[:i]
	}
	n, err := strconv.Atoi(base)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ListBatches returns the batch files in dir ordered by start index. A
// missing directory yields no batches.
func ListBatches(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	type batch struct {
		path  string
		start int
	}
	var batches []batch
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		start, ok := BatchStart(e.Name())
		if !ok {
			continue
		}
		batches = append(batches, batch{path: filepath.Join(dir, e.Name()), start: start})
	}

	sort.Slice(batches, func(i, j int) bool {
		if batches[i].start != batches[j].start {
			return batches[i].start < batches[j].start
		}
		return batches[i].path < batches[j].path
	})

	paths := make([]string, len(batches))
	for i, b := range batches {
		paths[i] = b.path
	}
	return paths, nil
}

// ReadBatch decodes every non-blank line of a batch file. Numbers are kept
// as json.Number so prices survive untouched.
func ReadBatch(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var records []map[string]any
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var rec map[string]any
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", filepath.Base(path), line, err)
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}
