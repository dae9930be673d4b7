package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"

	"zscan/internal/core/probe"
)

// CSVSink writes one row per record. The header is written from the
// first record's keys (sorted) unless an explicit FieldOrder was
// given, so downstream tooling gets a stable column set.
type CSVSink struct {
	f           *os.File
	w           *csv.Writer
	fieldOrder  []string
	wroteHeader bool
}

func NewCSVSink(path string, fieldOrder []string) (*CSVSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating csv output %s: %w", path, err)
	}
	return &CSVSink{f: f, w: csv.NewWriter(f), fieldOrder: fieldOrder}, nil
}

func (s *CSVSink) Write(rec probe.Record) error {
	if !s.wroteHeader {
		if len(s.fieldOrder) == 0 {
			s.fieldOrder = sortedKeys(rec)
		}
		if err := s.w.Write(s.fieldOrder); err != nil {
			return err
		}
		s.wroteHeader = true
	}

	row := make([]string, len(s.fieldOrder))
	for i, k := range s.fieldOrder {
		row[i] = fmt.Sprint(rec[k])
	}
	return s.w.Write(row)
}

func (s *CSVSink) Close() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return err
	}
	return s.f.Close()
}

func sortedKeys(rec probe.Record) []string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
