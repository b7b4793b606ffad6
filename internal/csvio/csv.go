// Package csvio reads and writes sector observations as CSV.
package csvio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/trogers1052/nepse-sentiment/internal/models"
)

var header = []string{
	"sector", "date", "positive_count", "negative_count", "unchanged_count",
	"total_count", "positive_percentage", "label",
}

var required = []string{"sector", "date", "positive_count"}

// Export writes observations with a header row. Unknown percentages are
// written as empty cells.
func Export(w io.Writer, obs []*models.SectorObservation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, o := range obs {
		pct := ""
		if o.PositivePercentage.Valid {
			pct = o.PositivePercentage.Decimal.StringFixed(4)
		}
		record := []string{
			string(o.Sector),
			models.DateKey(o.Date),
			strconv.Itoa(o.PositiveCount),
			strconv.Itoa(o.NegativeCount),
			strconv.Itoa(o.UnchangedCount),
			strconv.Itoa(o.TotalCount),
			pct,
			string(o.Label),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// RowError reports a malformed CSV row
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// Import parses sector inputs from CSV. The header names the columns; sector,
// date and positive_count are required, the other counts default to zero.
// Derived columns (positive_percentage, label) are ignored. Sectors are
// resolved against set.
func Import(r io.Reader, set []models.Sector) ([]models.SectorInput, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	head, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("csv is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	cols := make(map[string]int, len(head))
	for i, name := range head {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("csv header missing column %q", name)
		}
	}

	var inputs []models.SectorInput
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv: %w", err)
		}
		line, _ := cr.FieldPos(0)

		in, err := parseRecord(record, cols, set)
		if err != nil {
			return nil, &RowError{Line: line, Err: err}
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

func parseRecord(record []string, cols map[string]int, set []models.Sector) (models.SectorInput, error) {
	field := func(name string) string {
		if i, ok := cols[name]; ok && i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}
	count := func(name string) (int, error) {
		raw := field(name)
		if raw == "" {
			return 0, nil
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("%s: %q is not an integer", name, raw)
		}
		return n, nil
	}

	sector, err := models.ParseSector(field("sector"), set)
	if err != nil {
		return models.SectorInput{}, err
	}
	date, err := models.ParseDate(field("date"))
	if err != nil {
		return models.SectorInput{}, err
	}

	in := models.SectorInput{Sector: sector, Date: date}
	for _, c := range []struct {
		name string
		dst  *int
	}{
		{"positive_count", &in.PositiveCount},
		{"negative_count", &in.NegativeCount},
		{"unchanged_count", &in.UnchangedCount},
		{"total_count", &in.TotalCount},
	} {
		if *c.dst, err = count(c.name); err != nil {
			return models.SectorInput{}, err
		}
	}
	return in, nil
}
