// Package sources adapts external extracts (CSV exports, GeoJSON feature
// collections, community submissions) into the uniform record stream the
// ingestion pipeline consumes.
package sources

import (
	"context"
	"io"

	"github.com/pasifika-atlas/reef/pkg/models"
)

// Source is a finite stream of raw records. Next returns io.EOF when the
// source is exhausted. Implementations are lazy: rows are produced as the
// pipeline pulls them.
type Source interface {
	Name() string
	Next(ctx context.Context) (*models.CreateSourceRecordRequest, error)
}

// StaticSource serves a fixed slice of records. Used for community
// submissions arriving over Kafka and in tests.
type StaticSource struct {
	name string
	reqs []*models.CreateSourceRecordRequest
	pos  int
}

func NewStaticSource(name string, reqs ...*models.CreateSourceRecordRequest) *StaticSource {
	return &StaticSource{name: name, reqs: reqs}
}

func (s *StaticSource) Name() string {
	return s.name
}

func (s *StaticSource) Next(ctx context.Context) (*models.CreateSourceRecordRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.reqs) {
		return nil, io.EOF
	}
	req := s.reqs[s.pos]
	s.pos++
	return req, nil
}
