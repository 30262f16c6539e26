// Package labware models the deck of a liquid handler: plate formats, well
// addresses, named labware in slots and the pipettes that serve them.
package labware

import (
	"fmt"
	"strconv"
	"strings"
)

// Well is a zero-based row/column position on a plate.
type Well struct {
	Row    int
	Column int
}

// InvalidWellError reports a well name that cannot be parsed or that does not
// exist on the plate it was addressed to.
type InvalidWellError struct {
	Name   string
	Format string
	Reason string
}

func (e *InvalidWellError) Error() string {
	if e.Format == "" {
		return fmt.Sprintf("invalid well %q: %s", e.Name, e.Reason)
	}
	return fmt.Sprintf("invalid well %q on %s: %s", e.Name, e.Format, e.Reason)
}

// ParseWell parses names such as "A1", "h12" or "P24". Rows beyond Z use two
// letters ("AA1") so 1536 layouts still parse.
func ParseWell(name string) (Well, error) {
	s := strings.ToUpper(strings.TrimSpace(name))
	i := 0
	for i < len(s) && s[i] >= 'A' && s[i] <= 'Z' {
		i++
	}
	if i == 0 || i > 2 || i == len(s) {
		return Well{}, &InvalidWellError{Name: name, Reason: "expected row letters followed by a column number"}
	}
	row := 0
	for _, c := range s[:i] {
		row = row*26 + int(c-'A'+1)
	}
	col, err := strconv.Atoi(s[i:])
	if err != nil || col < 1 {
		return Well{}, &InvalidWellError{Name: name, Reason: "column must be a positive integer"}
	}
	return Well{Row: row - 1, Column: col - 1}, nil
}

// MustParseWell is ParseWell for literals; it panics on error.
func MustParseWell(name string) Well {
	w, err := ParseWell(name)
	if err != nil {
		panic(err)
	}
	return w
}

func (w Well) String() string {
	return rowName(w.Row) + strconv.Itoa(w.Column+1)
}

func rowName(row int) string {
	if row < 26 {
		return string(rune('A' + row))
	}
	return string(rune('A'+row/26-1)) + string(rune('A'+row%26))
}
