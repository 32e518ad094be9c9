package excel

import (
	"fmt"

	"causalfix/internal/errors"
	"causalfix/internal/sem"

	"github.com/xuri/excelize/v2"
)

// Header returns the column names used when writing s: vertices sorted by
// name, wide vertices expanded to name[i].
func Header(s sem.Sample) []string {
	var out []string
	for _, v := range s.Vertices() {
		_, c := s[v].Dims()
		if c == 1 {
			out = append(out, v)
			continue
		}
		for i := 0; i < c; i++ {
			out = append(out, fmt.Sprintf("%s[%d]", v, i))
		}
	}
	return out
}

// WriteSample stores s on Sheet1 of a new workbook at path.
func WriteSample(path string, s sem.Sample) error {
	n, err := s.Rows()
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	header := Header(s)
	if err := f.SetSheetRow(SheetName, "A1", toCells(header)); err != nil {
		return errors.Wrap(err, "write header")
	}

	vertices := s.Vertices()
	row := make([]interface{}, 0, len(header))
	for i := 0; i < n; i++ {
		row = row[:0]
		for _, v := range vertices {
			m := s[v]
			_, c := m.Dims()
			for j := 0; j < c; j++ {
				row = append(row, m.At(i, j))
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return errors.Wrap(err, "cell name")
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return errors.Wrapf(err, "write row %d", i+1)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return errors.IOError(path, err)
	}
	return nil
}

func toCells(header []string) *[]interface{} {
	cells := make([]interface{}, len(header))
	for i, h := range header {
		cells[i] = h
	}
	return &cells
}
