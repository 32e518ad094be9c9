package excel

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"causalfix/internal"
	"causalfix/internal/errors"
	"causalfix/internal/sem"

	"github.com/xuri/excelize/v2"
	"gonum.org/v1/gonum/mat"
)

var indexedHeader = regexp.MustCompile(`^(.+)\[(\d+)\]$`)

// DataReader loads a sample from an Excel or CSV file. The first row names
// the columns: a scalar vertex uses its own name, a wide vertex uses
// name[0], name[1], ...
type DataReader struct {
	filePath string
	fileType string // "xlsx" or "csv"
	log      *internal.Logger
}

// NewDataReader creates a reader, choosing the format by extension
func NewDataReader(filePath string) *DataReader {
	ext := strings.ToLower(filepath.Ext(filePath))
	fileType := "xlsx"
	if ext == ".csv" {
		fileType = "csv"
	}
	return &DataReader{
		filePath: filePath,
		fileType: fileType,
		log:      internal.DefaultLogger.With("excel"),
	}
}

// ReadSample reads every column into a sample
func (r *DataReader) ReadSample() (sem.Sample, error) {
	r.log.Debug("reading %s file %s", r.fileType, r.filePath)

	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, errors.NotFound(fmt.Sprintf("%s file %s", strings.ToUpper(r.fileType), r.filePath))
	}

	var rows [][]string
	var err error
	switch r.fileType {
	case "csv":
		rows, err = r.readCSV()
	default:
		rows, err = r.readExcel()
	}
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, errors.InvalidInput("file must have a header row and at least one data row")
	}
	return r.processRows(rows)
}

func (r *DataReader) readExcel() ([][]string, error) {
	start := time.Now()
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, errors.IOError(r.filePath, err)
	}
	defer f.Close()

	rows, err := f.GetRows(SheetName, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", SheetName)
	}
	r.log.Debug("%s read in %.2fms (%d rows)", SheetName, float64(time.Since(start).Nanoseconds())/1e6, len(rows))
	return rows, nil
}

func (r *DataReader) readCSV() ([][]string, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, errors.IOError(r.filePath, err)
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read CSV file")
	}
	return rows, nil
}

// processRows converts header and data rows into per-vertex matrices
func (r *DataReader) processRows(rows [][]string) (sem.Sample, error) {
	cols, dims, err := parseHeader(rows[0])
	if err != nil {
		return nil, err
	}

	data := rows[1:]
	// trailing blank rows are common in hand-edited sheets
	for len(data) > 0 && blank(data[len(data)-1]) {
		data = data[:len(data)-1]
	}
	if len(data) == 0 {
		return nil, errors.InvalidInput("file has no data rows")
	}

	sample := make(sem.Sample, len(dims))
	for v, d := range dims {
		sample[v] = mat.NewDense(len(data), d, nil)
	}
	for i, row := range data {
		for j, c := range cols {
			if j >= len(row) || strings.TrimSpace(row[j]) == "" {
				return nil, errors.InvalidInputf("row %d: missing value for %s", i+2, c.vertex)
			}
			x, err := strconv.ParseFloat(strings.TrimSpace(row[j]), 64)
			if err != nil {
				return nil, errors.InvalidInputf("row %d: %s is not a number: %q", i+2, c.vertex, row[j])
			}
			sample[c.vertex].Set(i, c.index, x)
		}
	}

	r.log.Info("loaded %d rows over %d vertices from %s", len(data), len(dims), r.filePath)
	return sample, nil
}

func parseHeader(header []string) ([]column, map[string]int, error) {
	cols := make([]column, len(header))
	seen := make(map[string]map[int]bool)
	for j, h := range header {
		h = strings.TrimSpace(h)
		c := column{vertex: h}
		if m := indexedHeader.FindStringSubmatch(h); m != nil {
			idx, _ := strconv.Atoi(m[2])
			c = column{vertex: m[1], index: idx}
		}
		if c.vertex == "" {
			return nil, nil, errors.InvalidInputf("column %d has an empty header", j+1)
		}
		if seen[c.vertex] == nil {
			seen[c.vertex] = make(map[int]bool)
		}
		if seen[c.vertex][c.index] {
			return nil, nil, errors.InvalidInputf("duplicate column %s", h)
		}
		seen[c.vertex][c.index] = true
		cols[j] = c
	}

	dims := make(map[string]int, len(seen))
	for v, idx := range seen {
		got := make([]int, 0, len(idx))
		for i := range idx {
			got = append(got, i)
		}
		sort.Ints(got)
		for want, i := range got {
			if i != want {
				return nil, nil, errors.InvalidInputf("vertex %s: columns must be numbered 0..%d", v, len(got)-1)
			}
		}
		dims[v] = len(got)
	}
	return cols, dims, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
