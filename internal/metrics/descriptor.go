// Package metrics defines the unit-tagged numeric observations diagnosers
// contribute and the grouping of those observations into report columns.
package metrics

import (
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"
)

// UnitType classifies the unit of a metric.
type UnitType int

const (
	UnitDimensionless UnitType = iota
	UnitSize
	UnitTime
)

func (u UnitType) String() string {
	switch u {
	case UnitSize:
		return "size"
	case UnitTime:
		return "time"
	default:
		return "dimensionless"
	}
}

// Descriptor is the static presentation metadata of a metric.
// Descriptors are declared once as package-level values and never mutated;
// two descriptors with the same ID describe the same report column.
type Descriptor struct {
	ID             string
	DisplayName    string
	Legend         string
	NumberFormat   string // humanize.FormatFloat pattern, dimensionless only
	UnitType       UnitType
	Unit           string // "B" for sizes, "ns" for times, free text otherwise
	HigherIsBetter bool
	Priority       int

	// Available decides, over every value in the column, whether the column
	// is worth showing. Nil means always shown.
	Available func(values []float64) bool
}

// Metric is one observation under a descriptor.
type Metric struct {
	Descriptor *Descriptor
	Value      float64
}

// New returns a metric for d.
func New(d *Descriptor, value float64) Metric {
	return Metric{Descriptor: d, Value: value}
}

// AnyNonZero is an availability predicate hiding columns where every value is zero.
func AnyNonZero(values []float64) bool {
	for _, v := range values {
		if v != 0 {
			return true
		}
	}
	return false
}

const defaultNumberFormat = "#,###.####"

// Format renders value according to the descriptor's unit.
func (d *Descriptor) Format(value float64) string {
	if math.IsNaN(value) {
		return "NA"
	}
	switch d.UnitType {
	case UnitSize:
		if value < 0 {
			return "-" + humanize.IBytes(uint64(-value))
		}
		if value < 1024 && value != math.Trunc(value) {
			return fmt.Sprintf("%.2f B", value)
		}
		return humanize.IBytes(uint64(value))
	case UnitTime:
		return time.Duration(value).String()
	default:
		format := d.NumberFormat
		if format == "" {
			format = defaultNumberFormat
		}
		s := humanize.FormatFloat(format, value)
		if d.Unit != "" {
			s += " " + d.Unit
		}
		return s
	}
}

// Header is the column header including the unit when it is meaningful.
func (d *Descriptor) Header() string {
	switch d.UnitType {
	case UnitDimensionless:
		if d.Unit != "" {
			return fmt.Sprintf("%s [%s]", d.DisplayName, d.Unit)
		}
	}
	return d.DisplayName
}
