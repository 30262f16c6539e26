package labware

import "fmt"

// Format is the grid geometry of a plate or rack.
type Format struct {
	Name    string
	Rows    int
	Columns int
}

var (
	Format6    = Format{Name: "6-position rack", Rows: 2, Columns: 3}
	Format24   = Format{Name: "24-position rack", Rows: 4, Columns: 6}
	Format96   = Format{Name: "96-well plate", Rows: 8, Columns: 12}
	Format384  = Format{Name: "384-well plate", Rows: 16, Columns: 24}
	Format1536 = Format{Name: "1536-well plate", Rows: 32, Columns: 48}
)

// FormatForWells returns the standard format with n positions.
func FormatForWells(n int) (Format, bool) {
	for _, f := range []Format{Format6, Format24, Format96, Format384, Format1536} {
		if f.Size() == n {
			return f, true
		}
	}
	return Format{}, false
}

// Size is the number of wells.
func (f Format) Size() int { return f.Rows * f.Columns }

// Contains reports whether w lies on the plate.
func (f Format) Contains(w Well) bool {
	return w.Row >= 0 && w.Row < f.Rows && w.Column >= 0 && w.Column < f.Columns
}

// Check parses name and verifies it is on the plate.
func (f Format) Check(name string) (Well, error) {
	w, err := ParseWell(name)
	if err != nil {
		return Well{}, err
	}
	if !f.Contains(w) {
		return Well{}, &InvalidWellError{Name: name, Format: f.Name, Reason: fmt.Sprintf("outside %d×%d grid", f.Rows, f.Columns)}
	}
	return w, nil
}

// WellAt returns the i-th well in column-major order (A1, B1, ... H1, A2, ...),
// the order liquid handlers enumerate wells in.
func (f Format) WellAt(i int) (Well, error) {
	if i < 0 || i >= f.Size() {
		return Well{}, fmt.Errorf("well index %d outside %s", i, f.Name)
	}
	return Well{Row: i % f.Rows, Column: i / f.Rows}, nil
}

// Index is the inverse of WellAt.
func (f Format) Index(w Well) (int, error) {
	if !f.Contains(w) {
		return 0, &InvalidWellError{Name: w.String(), Format: f.Name, Reason: "outside grid"}
	}
	return w.Column*f.Rows + w.Row, nil
}

// Wells lists every well in column-major order.
func (f Format) Wells() []Well {
	out := make([]Well, 0, f.Size())
	for c := 0; c < f.Columns; c++ {
		for r := 0; r < f.Rows; r++ {
			out = append(out, Well{Row: r, Column: c})
		}
	}
	return out
}

// Column returns the wells of zero-based column c, top to bottom.
func (f Format) Column(c int) []Well {
	if c < 0 || c >= f.Columns {
		return nil
	}
	out := make([]Well, f.Rows)
	for r := range out {
		out[r] = Well{Row: r, Column: c}
	}
	return out
}

// Quadrant maps a 96-well position into quadrant q (1-4) of a 384-well plate.
// Quadrant 1 starts at A1, 2 at A2, 3 at B1 and 4 at B2; each quadrant takes
// every other row and column.
func Quadrant(q int, src Well) (Well, error) {
	if !Format96.Contains(src) {
		return Well{}, &InvalidWellError{Name: src.String(), Format: Format96.Name, Reason: "outside grid"}
	}
	var rowOff, colOff int
	switch q {
	case 1:
	case 2:
		colOff = 1
	case 3:
		rowOff = 1
	case 4:
		rowOff, colOff = 1, 1
	default:
		return Well{}, fmt.Errorf("quadrant %d out of range 1-4", q)
	}
	return Well{Row: 2*src.Row + rowOff, Column: 2*src.Column + colOff}, nil
}
