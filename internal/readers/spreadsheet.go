package readers

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/mmrzaf/etlflow/internal/domain"
)

// SpreadsheetReader streams the rows of one worksheet.
type SpreadsheetReader struct {
	src       Source
	sheet     string
	hasHeader bool

	file   *excelize.File
	rows   *excelize.Rows
	rowNo  int
	header []string
	// pending holds the first data row when the sheet has no header row.
	pending []string
	row     domain.Row
	index   int
	err     error
}

func NewSpreadsheetReader(src Source, format domain.DetectedFormat, sheet string) (*SpreadsheetReader, error) {
	r := &SpreadsheetReader{src: src, sheet: sheet, hasHeader: format.HasHeader}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *SpreadsheetReader) open() error {
	rc, err := r.src.Open()
	if err != nil {
		return err
	}
	f, err := excelize.OpenReader(rc)
	_ = rc.Close()
	if err != nil {
		return err
	}
	sheet := r.sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			_ = f.Close()
			return fmt.Errorf("workbook has no sheets")
		}
		sheet = sheets[0]
	}
	rows, err := f.Rows(sheet)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("sheet %q: %w", sheet, err)
	}
	r.file, r.rows = f, rows
	r.rowNo, r.index, r.err = 0, -1, nil
	r.pending, r.header = nil, nil

	first, ok, err := r.readRow()
	if err != nil {
		_ = r.Close()
		return err
	}
	if !ok {
		return nil
	}
	if r.hasHeader {
		r.header = headerNames(first)
	} else {
		r.header = generatedHeader(len(first))
		r.pending = first
	}
	return nil
}

// readRow returns the next non-blank row.
func (r *SpreadsheetReader) readRow() ([]string, bool, error) {
	for r.rows.Next() {
		r.rowNo++
		cols, err := r.rows.Columns()
		if err != nil {
			return nil, false, err
		}
		if blankCells(cols) {
			continue
		}
		return cols, true, nil
	}
	return nil, false, r.rows.Error()
}

func blankCells(cols []string) bool {
	for _, c := range cols {
		if c != "" {
			return false
		}
	}
	return true
}

func (r *SpreadsheetReader) Next() bool {
	if r.err != nil || r.rows == nil {
		return false
	}
	var cols []string
	if r.pending != nil {
		cols = r.pending
		r.pending = nil
	} else {
		next, ok, err := r.readRow()
		if err != nil {
			r.err = fmt.Errorf("read %s: %w", r.src.Name, err)
			return false
		}
		if !ok {
			return false
		}
		cols = next
	}
	r.index++
	r.row = rowFromFields(r.header, cols, r.rowNo)
	return true
}

func (r *SpreadsheetReader) Row() domain.Row { return r.row }
func (r *SpreadsheetReader) Index() int      { return r.index }
func (r *SpreadsheetReader) Err() error      { return r.err }

func (r *SpreadsheetReader) Rewind() error {
	if err := r.Close(); err != nil {
		return err
	}
	return r.open()
}

func (r *SpreadsheetReader) Close() error {
	var err error
	if r.rows != nil {
		err = r.rows.Close()
		r.rows = nil
	}
	if r.file != nil {
		if cerr := r.file.Close(); err == nil {
			err = cerr
		}
		r.file = nil
	}
	return err
}
