package dataset

import (
	"encoding/csv"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/metaextract/internal/model"
)

// Recorder renders itself as one table row.
type Recorder interface {
	Record() []string
}

// Records renders final rows for export.
func Records(rows []model.FinalDatasetRow) []Recorder {
	out := make([]Recorder, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out
}

// WriteCSV writes header and rows as CSV.
func WriteCSV(w io.Writer, header []string, rows []Recorder) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "csv: write header")
	}
	for _, r := range rows {
		if err := cw.Write(r.Record()); err != nil {
			return eris.Wrap(err, "csv: write row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "csv: flush")
}

// WriteCSVFile writes header and rows to a CSV file at path.
func WriteCSVFile(path string, header []string, rows []Recorder) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "csv: create %s", path)
	}
	if err := WriteCSV(f, header, rows); err != nil {
		_ = f.Close()
		return err
	}
	return eris.Wrap(f.Close(), "csv: close file")
}

// numericColumns are written to Excel as numbers.
var numericColumns = map[string]bool{
	"hedges_g": true, "se_g": true, "n_models_agree": true,
	"n_treatment": true, "n_control": true, "n_total": true,
	"var_g": true, "ci_lower_95": true, "ci_upper_95": true,
	"precision": true, "weight_pct": true, "n_total_computed": true,
}

// WriteXLSX saves header and rows as a single-sheet workbook. Numeric
// columns hold numbers and empty cells stay blank.
func WriteXLSX(path, sheetName string, header []string, rows []Recorder) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}
	addRow(sheet, header, nil)
	for _, r := range rows {
		addRow(sheet, r.Record(), header)
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "xlsx: save %s", path)
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, values, header []string) {
	row := sheet.AddRow()
	for i, v := range values {
		cell := row.AddCell()
		if i < len(header) && numericColumns[header[i]] {
			if f, err := model.ParseFloat(v); err == nil && f != nil {
				cell.SetFloat(*f)
				continue
			}
		}
		cell.SetString(v)
	}
}

// ReadCSV loads final rows from CSV with a header row. Unknown columns are
// ignored.
func ReadCSV(r io.Reader) ([]model.FinalDatasetRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "csv: read header")
	}
	return readRecords(header, func() ([]string, error) { return cr.Read() })
}

// ReadCSVFile loads final rows from a CSV file.
func ReadCSVFile(path string) ([]model.FinalDatasetRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "csv: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return ReadCSV(f)
}

// ReadXLSX loads final rows from the named sheet of a workbook written by
// WriteXLSX.
func ReadXLSX(path, sheetName string) ([]model.FinalDatasetRow, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	sheet, ok := f.Sheet[sheetName]
	if !ok {
		return nil, eris.Errorf("xlsx: sheet %q not found", sheetName)
	}
	if len(sheet.Rows) == 0 {
		return nil, nil
	}
	header := cellStrings(sheet.Rows[0])
	next := 1
	return readRecords(header, func() ([]string, error) {
		if next >= len(sheet.Rows) {
			return nil, io.EOF
		}
		cells := cellStrings(sheet.Rows[next])
		next++
		return cells, nil
	})
}

func cellStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func readRecords(header []string, next func() ([]string, error)) ([]model.FinalDatasetRow, error) {
	var rows []model.FinalDatasetRow
	for line := 2; ; line++ {
		rec, err := next()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, eris.Wrapf(err, "dataset: read line %d", line)
		}
		row, err := model.ParseDatasetRecord(header, rec)
		if err != nil {
			return nil, eris.Wrapf(err, "dataset: parse line %d", line)
		}
		rows = append(rows, row)
	}
}
