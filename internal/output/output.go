// Package output defines the result-sink contract and the encoders
// for it: csv/jsonl plain files, a SQL sink dispatched by DSN scheme,
// and a mongo sink (spec.md §4.6 step 6 / SPEC_FULL.md "Output
// encoders").
package output

import "zscan/internal/core/probe"

// Sink receives one validated record at a time and persists it.
type Sink interface {
	Write(rec probe.Record) error
	Close() error
}

// New opens the sink named by sinkType ("csv", "jsonl", "sql",
// "mongo"), using the relevant Config fields for that type.
func New(sinkType string, cfg Config) (Sink, error) {
	switch sinkType {
	case "csv":
		return NewCSVSink(cfg.Path, cfg.FieldOrder)
	case "jsonl":
		return NewJSONLSink(cfg.Path)
	case "sql":
		return NewSQLSink(cfg.SQLDSN, cfg.Table)
	case "mongo":
		return NewMongoSink(cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
	default:
		return nil, ErrUnknownSinkType(sinkType)
	}
}

// Config bundles every sink's possible parameters; only the fields
// relevant to the selected sinkType are read.
type Config struct {
	Path            string
	FieldOrder      []string
	SQLDSN          string
	Table           string
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
}

type ErrUnknownSinkType string

func (e ErrUnknownSinkType) Error() string { return "output: unknown sink type " + string(e) }
