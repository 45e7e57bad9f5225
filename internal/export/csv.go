package export

import (
	"encoding/csv"
	"fmt"
	"io"
)

// WriteCSV writes the header and rows of t.
func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return fmt.Errorf("WriteCSV: %s: write header: %w", t.Name, err)
	}
	for _, rec := range t.Rows {
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("WriteCSV: %s: write row: %w", t.Name, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("WriteCSV: %s: flush: %w", t.Name, err)
	}
	return nil
}
