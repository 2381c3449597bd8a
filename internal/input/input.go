// Package input parses batch files (CSV and XLSX) into resolution requests.
// Column binding is header-driven so upstream extracts can reorder or omit
// columns without breaking the reader.
package input

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/idresolve/internal/model"
)

// Columns names the header cells bound to each request signal. Matching is
// case-insensitive and ignores surrounding whitespace.
type Columns struct {
	PlanCode      string
	AccountNumber string
	HardcodeKey   string
	CustomerName  string
	AccountName   string
}

// DefaultColumns is the standard extract header layout.
var DefaultColumns = Columns{
	PlanCode:      "plan_code",
	AccountNumber: "account_number",
	HardcodeKey:   "hardcode_key",
	CustomerName:  "customer_name",
	AccountName:   "account_name",
}

// Options configures a read.
type Options struct {
	Columns   Columns
	SheetName string // xlsx only; empty means the first sheet
	Delimiter rune   // csv only; default ','
}

type binding struct {
	plan, account, hardcode, customer, accountName int
}

func bindHeader(header []string, cols Columns) (binding, error) {
	if cols == (Columns{}) {
		cols = DefaultColumns
	}
	b := binding{plan: -1, account: -1, hardcode: -1, customer: -1, accountName: -1}
	for i, cell := range header {
		switch strings.ToLower(strings.TrimSpace(cell)) {
		case strings.ToLower(cols.PlanCode):
			b.plan = i
		case strings.ToLower(cols.AccountNumber):
			b.account = i
		case strings.ToLower(cols.HardcodeKey):
			b.hardcode = i
		case strings.ToLower(cols.CustomerName):
			b.customer = i
		case strings.ToLower(cols.AccountName):
			b.accountName = i
		}
	}
	if b.customer == -1 {
		return b, eris.Errorf("input: header %v has no %q column", header, cols.CustomerName)
	}
	return b, nil
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func (b binding) request(row []string) model.ResolutionRequest {
	return model.ResolutionRequest{
		PlanCode:      cell(row, b.plan),
		AccountNumber: cell(row, b.account),
		HardcodeKey:   cell(row, b.hardcode),
		CustomerName:  cell(row, b.customer),
		AccountName:   cell(row, b.accountName),
	}
}

// ReadCSV parses a headered CSV stream into resolution requests.
func ReadCSV(r io.Reader, opts Options) ([]model.ResolutionRequest, error) {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.FieldsPerRecord = -1 // allow ragged rows

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.New("input: csv is empty")
	}
	if err != nil {
		return nil, eris.Wrap(err, "input: read csv header")
	}
	b, err := bindHeader(header, opts.Columns)
	if err != nil {
		return nil, err
	}

	var reqs []model.ResolutionRequest
	for {
		row, err := reader.Read()
		if err == io.EOF {
			return reqs, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "input: read csv row")
		}
		reqs = append(reqs, b.request(row))
	}
}

// ReadCSVFile parses a headered CSV file into resolution requests.
func ReadCSVFile(path string, opts Options) ([]model.ResolutionRequest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "input: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return ReadCSV(f, opts)
}

// ReadXLSX parses the first (or named) sheet of an XLSX workbook into
// resolution requests. The first row is the header.
func ReadXLSX(path string, opts Options) ([]model.ResolutionRequest, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "input: open %s", path)
	}

	var sheet *xlsx.Sheet
	if opts.SheetName != "" {
		s, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("input: sheet %q not found in %s", opts.SheetName, path)
		}
		sheet = s
	} else {
		if len(f.Sheets) == 0 {
			return nil, eris.Errorf("input: %s has no sheets", path)
		}
		sheet = f.Sheets[0]
	}
	if len(sheet.Rows) == 0 {
		return nil, eris.Errorf("input: sheet %q is empty", sheet.Name)
	}

	b, err := bindHeader(rowToStrings(sheet.Rows[0]), opts.Columns)
	if err != nil {
		return nil, err
	}

	reqs := make([]model.ResolutionRequest, 0, len(sheet.Rows)-1)
	for _, row := range sheet.Rows[1:] {
		reqs = append(reqs, b.request(rowToStrings(row)))
	}
	return reqs, nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, c := range row.Cells {
		cells[j] = c.String()
	}
	return cells
}
