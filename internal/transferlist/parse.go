// Package transferlist reads and writes cherry-pick transfer lists.
//
// A transfer list is a CSV table whose header names the columns
// "Source Plate", "Source Well", "Destination Plate", "Destination Well" and
// "Volume". Column names are case-sensitive and matched after trimming
// surrounding whitespace and a leading byte order mark; their order is free
// and extra columns are ignored.
package transferlist

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"dispensecore/pkg/domain"
)

// Canonical column names.
const (
	ColumnSourcePlate      = "Source Plate"
	ColumnSourceWell       = "Source Well"
	ColumnDestinationPlate = "Destination Plate"
	ColumnDestinationWell  = "Destination Well"
	ColumnVolume           = "Volume"
)

// Header is the canonical column order used when writing transfer lists.
var Header = []string{ColumnSourcePlate, ColumnSourceWell, ColumnDestinationPlate, ColumnDestinationWell, ColumnVolume}

// MalformedRowError reports a header or data row that cannot become a
// TransferRequest. Line is 1-based and refers to the input text.
type MalformedRowError struct {
	Line   int
	Column string
	Reason string
}

func (e *MalformedRowError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("line %d: column %q: %s", e.Line, e.Column, e.Reason)
}

// ParseFile opens path and parses it as a transfer list.
func ParseFile(path string) ([]domain.TransferRequest, error) {
	f, err := os.Open(path) // #nosec G304 -- operator supplied worklist path
	if err != nil {
		return nil, fmt.Errorf("open transfer list: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}

// Parse reads every row of r. Blank lines are skipped, so input with a
// leading empty line is accepted. A header without data rows yields an empty
// slice.
func Parse(r io.Reader) ([]domain.TransferRequest, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &MalformedRowError{Line: 1, Reason: "missing header row"}
	}
	if err != nil {
		return nil, wrapCSVError(err)
	}
	headerLine, _ := reader.FieldPos(0)
	cols, err := resolveColumns(header, headerLine)
	if err != nil {
		return nil, err
	}

	out := make([]domain.TransferRequest, 0)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, wrapCSVError(err)
		}
		line, _ := reader.FieldPos(0)
		if len(record) != len(header) {
			return nil, &MalformedRowError{Line: line, Reason: fmt.Sprintf("expected %d fields, got %d", len(header), len(record))}
		}
		req, err := cols.request(record, line)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

type columns struct {
	sourcePlate, sourceWell, destPlate, destWell, volume int
}

func resolveColumns(header []string, line int) (columns, error) {
	pos := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, dup := pos[name]; dup {
			return columns{}, &MalformedRowError{Line: line, Column: name, Reason: "duplicate column"}
		}
		pos[name] = i
	}
	idx := make([]int, len(Header))
	for i, name := range Header {
		p, ok := pos[name]
		if !ok {
			return columns{}, &MalformedRowError{Line: line, Column: name, Reason: "missing required column"}
		}
		idx[i] = p
	}
	return columns{sourcePlate: idx[0], sourceWell: idx[1], destPlate: idx[2], destWell: idx[3], volume: idx[4]}, nil
}

func (c columns) request(record []string, line int) (domain.TransferRequest, error) {
	field := func(i int, name string) (string, error) {
		v := strings.TrimSpace(record[i])
		if v == "" {
			return "", &MalformedRowError{Line: line, Column: name, Reason: "empty value"}
		}
		return v, nil
	}
	var req domain.TransferRequest
	var err error
	if req.SourcePlate, err = field(c.sourcePlate, ColumnSourcePlate); err != nil {
		return req, err
	}
	if req.SourceWell, err = field(c.sourceWell, ColumnSourceWell); err != nil {
		return req, err
	}
	if req.DestinationPlate, err = field(c.destPlate, ColumnDestinationPlate); err != nil {
		return req, err
	}
	if req.DestinationWell, err = field(c.destWell, ColumnDestinationWell); err != nil {
		return req, err
	}
	raw, err := field(c.volume, ColumnVolume)
	if err != nil {
		return req, err
	}
	vol, perr := strconv.ParseFloat(raw, 64)
	if perr != nil {
		return req, &MalformedRowError{Line: line, Column: ColumnVolume, Reason: fmt.Sprintf("%q is not a number", raw)}
	}
	if math.IsNaN(vol) || math.IsInf(vol, 0) || vol <= 0 {
		return req, &MalformedRowError{Line: line, Column: ColumnVolume, Reason: fmt.Sprintf("volume %s must be a finite positive number", raw)}
	}
	req.Volume = vol
	return req, nil
}

func wrapCSVError(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &MalformedRowError{Line: pe.Line, Reason: pe.Err.Error()}
	}
	return fmt.Errorf("read transfer list: %w", err)
}
