package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
)

// CaseMetrics is the metric output of every diagnoser for one case.
type CaseMetrics struct {
	CaseKey  string
	CaseName string
	Metrics  []Metric
}

// Column groups the values reported under one descriptor ID across cases.
type Column struct {
	Descriptor *Descriptor
	Values     map[string]float64
}

// Value returns the value for caseKey and whether one was reported.
func (c *Column) Value(caseKey string) (float64, bool) {
	v, ok := c.Values[caseKey]
	return v, ok
}

// ShowAll in a show list forces every column regardless of availability.
const ShowAll = "*"

// BuildColumns groups metrics by descriptor ID. The availability predicate is
// evaluated once per column over all its values; columns named in show (by ID,
// case-insensitive) bypass it. Columns are ordered by priority, then first
// appearance.
func BuildColumns(results []CaseMetrics, show []string) []Column {
	forced := make(map[string]bool, len(show))
	for _, s := range show {
		forced[strings.ToLower(s)] = true
	}

	var order []string
	byID := make(map[string]*Column)
	for _, cm := range results {
		for _, m := range cm.Metrics {
			if m.Descriptor == nil {
				continue
			}
			col, ok := byID[m.Descriptor.ID]
			if !ok {
				col = &Column{Descriptor: m.Descriptor, Values: make(map[string]float64)}
				byID[m.Descriptor.ID] = col
				order = append(order, m.Descriptor.ID)
			}
			col.Values[cm.CaseKey] = m.Value
		}
	}

	columns := make([]Column, 0, len(order))
	for _, id := range order {
		col := byID[id]
		if !forced[ShowAll] && !forced[strings.ToLower(id)] && col.Descriptor.Available != nil {
			values := make([]float64, 0, len(col.Values))
			for _, cm := range results {
				if v, ok := col.Values[cm.CaseKey]; ok {
					values = append(values, v)
				}
			}
			if !col.Descriptor.Available(values) {
				continue
			}
		}
		columns = append(columns, *col)
	}

	sort.SliceStable(columns, func(i, j int) bool {
		return columns[i].Descriptor.Priority < columns[j].Descriptor.Priority
	})
	return columns
}

// WriteTable renders cases as rows and columns as metric cells.
func WriteTable(w io.Writer, results []CaseMetrics, columns []Column) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	headers := []string{"CASE"}
	for _, c := range columns {
		headers = append(headers, strings.ToUpper(c.Descriptor.Header()))
	}
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, cm := range results {
		row := []string{cm.CaseName}
		for _, c := range columns {
			if v, ok := c.Value(cm.CaseKey); ok {
				row = append(row, c.Descriptor.Format(v))
			} else {
				row = append(row, "-")
			}
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}
