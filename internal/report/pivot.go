// Package report lays statement amounts out as a (row, year) pivot for
// multi-year overviews and CSV export.
package report

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"
)

// RowKey identifies a pivot row.
type RowKey struct {
	Section  string `json:"section"`
	Category string `json:"category"`
}

// Pivot holds amounts indexed by row and year.
type Pivot struct {
	sections []string
	cells    map[RowKey]map[int]decimal.Decimal
	years    map[int]struct{}
}

// NewPivot returns an empty pivot. Rows are ordered by the given sections
// first, then by any section seen later, then by category.
func NewPivot(sections ...string) *Pivot {
	return &Pivot{
		sections: append([]string(nil), sections...),
		cells:    make(map[RowKey]map[int]decimal.Decimal),
		years:    make(map[int]struct{}),
	}
}

// Set stores an amount, replacing any previous value.
func (p *Pivot) Set(row RowKey, year int, amount decimal.Decimal) {
	cols, ok := p.cells[row]
	if !ok {
		cols = make(map[int]decimal.Decimal)
		p.cells[row] = cols
		p.addSection(row.Section)
	}
	cols[year] = amount
	p.years[year] = struct{}{}
}

// AddColumn registers a year even when no row has a value for it.
func (p *Pivot) AddColumn(year int) {
	p.years[year] = struct{}{}
}

func (p *Pivot) addSection(section string) {
	for _, s := range p.sections {
		if s == section {
			return
		}
	}
	p.sections = append(p.sections, section)
}

// Get returns the amount of a cell, zero when absent.
func (p *Pivot) Get(row RowKey, year int) decimal.Decimal {
	return p.cells[row][year]
}

// Columns returns the years in ascending order.
func (p *Pivot) Columns() []int {
	out := make([]int, 0, len(p.years))
	for y := range p.years {
		out = append(out, y)
	}
	sort.Ints(out)
	return out
}

// Rows returns the row keys in presentation order.
func (p *Pivot) Rows() []RowKey {
	rank := make(map[string]int, len(p.sections))
	for i, s := range p.sections {
		rank[s] = i
	}
	out := make([]RowKey, 0, len(p.cells))
	for k := range p.cells {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Section != out[j].Section {
			return rank[out[i].Section] < rank[out[j].Section]
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// Row is one rendered line of the pivot.
type Row struct {
	RowKey
	Values []decimal.Decimal `json:"values"`
}

// Table is the JSON shape of a pivot.
type Table struct {
	Columns []int `json:"columns"`
	Rows    []Row `json:"rows"`
}

// Table renders the pivot with missing cells as zero.
func (p *Pivot) Table() Table {
	cols := p.Columns()
	rows := p.Rows()
	out := Table{Columns: cols, Rows: make([]Row, 0, len(rows))}
	for _, k := range rows {
		values := make([]decimal.Decimal, len(cols))
		for i, y := range cols {
			values[i] = p.Get(k, y)
		}
		out.Rows = append(out.Rows, Row{RowKey: k, Values: values})
	}
	return out
}

// Records renders the pivot as CSV records, header first.
func (p *Pivot) Records() [][]string {
	table := p.Table()
	header := []string{"section", "category"}
	for _, y := range table.Columns {
		header = append(header, strconv.Itoa(y))
	}
	records := [][]string{header}
	for _, row := range table.Rows {
		rec := []string{row.Section, row.Category}
		for _, v := range row.Values {
			rec = append(rec, v.StringFixed(2))
		}
		records = append(records, rec)
	}
	return records
}

// WriteCSV writes Records to w.
func (p *Pivot) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(p.Records()); err != nil {
		return err
	}
	return cw.Error()
}
