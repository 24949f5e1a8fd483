package logging

import (
	"fmt"
	"log/slog"

	"github.com/Graylog2/go-gelf/gelf"
)

// GELFSink ships JSON-encoded records to a Graylog GELF UDP input.
type GELFSink struct {
	writer  *gelf.Writer
	handler slog.Handler
}

// NewGELFSink dials address and returns a sink tagged with facility.
func NewGELFSink(address, facility, level string) (*GELFSink, error) {
	w, err := gelf.NewWriter(address)
	if err != nil {
		return nil, fmt.Errorf("creating GELF writer for %s: %w", address, err)
	}
	w.Facility = facility
	return &GELFSink{
		writer:  w,
		handler: slog.NewJSONHandler(w, handlerOptions(parseLevel(level))),
	}, nil
}

// Handler returns the slog handler writing to Graylog.
func (s *GELFSink) Handler() slog.Handler {
	return s.handler
}

// Close releases the UDP connection.
func (s *GELFSink) Close() error {
	return s.writer.Close()
}
