package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"zscan/internal/core/probe"
)

// JSONLSink writes one JSON object per line, the schema-flexible
// alternative to CSV for records whose field set varies by module.
type JSONLSink struct {
	f *os.File
	w *bufio.Writer
}

func NewJSONLSink(path string) (*JSONLSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating jsonl output %s: %w", path, err)
	}
	return &JSONLSink{f: f, w: bufio.NewWriter(f)}, nil
}

func (s *JSONLSink) Write(rec probe.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(data); err != nil {
		return err
	}
	return s.w.WriteByte('\n')
}

func (s *JSONLSink) Close() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.f.Close()
}
