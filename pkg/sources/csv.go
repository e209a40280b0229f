package sources

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jszwec/csvutil"

	"github.com/pasifika-atlas/reef/pkg/models"
)

// CSVSource streams rows from a spreadsheet export. Every column becomes a
// raw field keyed by its header; empty cells are omitted so the
// canonicalizer can tell absent from blank.
type CSVSource struct {
	name         string
	sourceSystem string
	entityType   string
	trustTier    string
	dec          *csvutil.Decoder
}

// NewCSVSource wraps an export stream. The first row must be the header.
func NewCSVSource(name, sourceSystem, entityType, trustTier string, r io.Reader) (*CSVSource, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	dec, err := csvutil.NewDecoder(&squareReader{r: reader})
	if err != nil {
		return nil, fmt.Errorf("reading csv header for %s: %w", name, err)
	}

	return &CSVSource{
		name:         name,
		sourceSystem: sourceSystem,
		entityType:   entityType,
		trustTier:    trustTier,
		dec:          dec,
	}, nil
}

func (s *CSVSource) Name() string {
	return s.name
}

// squareReader pads short rows and truncates long ones to the header width.
// Spreadsheet exports routinely drop trailing empty cells, and the decoder
// requires every row to match the header length.
type squareReader struct {
	r     *csv.Reader
	width int
}

func (s *squareReader) Read() ([]string, error) {
	row, err := s.r.Read()
	if err != nil {
		return nil, err
	}
	if s.width == 0 {
		// first row is the header; it sets the width
		s.width = len(row)
		return row, nil
	}
	if len(row) > s.width {
		return row[:s.width], nil
	}
	for len(row) < s.width {
		row = append(row, "")
	}
	return row, nil
}

func (s *CSVSource) Next(ctx context.Context) (*models.CreateSourceRecordRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Decode into an empty struct so every column lands in the raw record;
	// header and row come from the decoder afterwards.
	var discard struct{}
	if err := s.dec.Decode(&discard); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading csv row for %s: %w", s.name, err)
	}

	header := s.dec.Header()
	row := s.dec.Record()

	fields := make(map[string]any, len(header))
	for i, col := range header {
		if i >= len(row) {
			break
		}
		value := strings.TrimSpace(row[i])
		if value == "" {
			continue
		}
		fields[strings.TrimSpace(col)] = value
	}

	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}

	return &models.CreateSourceRecordRequest{
		SourceSystem: s.sourceSystem,
		EntityType:   s.entityType,
		Fields:       fieldsJSON,
		TrustTier:    s.trustTier,
	}, nil
}
