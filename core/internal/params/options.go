// Package params implements widget parameter options, configs, runtime
// parameters, and the cascading selection resolver.
package params

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/squirrels-analytics/squirrels-sub000/core/cerr"
)

// DateFormat is the default parse/format layout for date options.
const DateFormat = "2006-01-02"

// BaseOption carries the filters shared by every option variant. An option
// with an empty user-group set cannot be excluded by the user, and an option
// with an empty parent-id set cannot be excluded by the parent selection.
type BaseOption struct {
	UserGroups []string
	ParentIDs  []string
}

// IsValid reports whether the option survives both the user-group filter and
// the parent-id filter.
func (o BaseOption) IsValid(userGroups, parentIDs []string) bool {
	if len(o.UserGroups) != 0 && !intersects(o.UserGroups, userGroups) {
		return false
	}
	if len(o.ParentIDs) != 0 && !intersects(o.ParentIDs, parentIDs) {
		return false
	}
	return true
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// SelectOption is one choice of a single- or multi-select parameter.
type SelectOption struct {
	BaseOption
	ID           string
	Label        string
	IsDefault    bool
	CustomFields map[string]any
}

// DateOption carries the default and bounds for a date parameter.
type DateOption struct {
	BaseOption
	DefaultDate time.Time
	MinDate     *time.Time
	MaxDate     *time.Time
	Format      string
}

func (o DateOption) layout() string {
	if o.Format == "" {
		return DateFormat
	}
	return o.Format
}

// inBounds checks the date against the optional min/max bounds.
func (o DateOption) inBounds(d time.Time) bool {
	if o.MinDate != nil && d.Before(*o.MinDate) {
		return false
	}
	if o.MaxDate != nil && d.After(*o.MaxDate) {
		return false
	}
	return true
}

// DateRangeOption is the range variant of DateOption.
type DateRangeOption struct {
	BaseOption
	DefaultStart time.Time
	DefaultEnd   time.Time
	MinDate      *time.Time
	MaxDate      *time.Time
	Format       string
}

func (o DateRangeOption) layout() string {
	if o.Format == "" {
		return DateFormat
	}
	return o.Format
}

func (o DateRangeOption) inBounds(d time.Time) bool {
	if o.MinDate != nil && d.Before(*o.MinDate) {
		return false
	}
	if o.MaxDate != nil && d.After(*o.MaxDate) {
		return false
	}
	return true
}

// NumberOption carries decimal bounds and the increment lattice for a number
// parameter. The increment must divide the min..max span evenly.
type NumberOption struct {
	BaseOption
	Min          decimal.Decimal
	Max          decimal.Decimal
	Increment    decimal.Decimal
	DefaultValue decimal.Decimal
}

// Validate checks the lattice invariant at load time.
func (o NumberOption) Validate(param string) error {
	return validateLattice(param, o.Min, o.Max, o.Increment)
}

// onLattice reports whether v lies on the increment lattice within bounds.
func (o NumberOption) onLattice(v decimal.Decimal) bool {
	return onLattice(v, o.Min, o.Max, o.Increment)
}

// NumberRangeOption is the range variant of NumberOption.
type NumberRangeOption struct {
	BaseOption
	Min          decimal.Decimal
	Max          decimal.Decimal
	Increment    decimal.Decimal
	DefaultLower decimal.Decimal
	DefaultUpper decimal.Decimal
}

func (o NumberRangeOption) Validate(param string) error {
	return validateLattice(param, o.Min, o.Max, o.Increment)
}

func (o NumberRangeOption) onLattice(v decimal.Decimal) bool {
	return onLattice(v, o.Min, o.Max, o.Increment)
}

func validateLattice(param string, min, max, inc decimal.Decimal) error {
	if max.LessThan(min) {
		return cerr.Config("parameter %q: max %s is less than min %s", param, max, min)
	}
	if inc.Sign() <= 0 {
		return cerr.Config("parameter %q: increment %s must be positive", param, inc)
	}
	if !max.Sub(min).Mod(inc).IsZero() {
		return cerr.Config("parameter %q: increment %s does not divide the span %s..%s evenly",
			param, inc, min, max)
	}
	return nil
}

func onLattice(v, min, max, inc decimal.Decimal) bool {
	if v.LessThan(min) || v.GreaterThan(max) {
		return false
	}
	return v.Sub(min).Mod(inc).IsZero()
}

// Text input types supported by TextOption.
var textInputTypes = map[string]struct{}{
	"text": {}, "textarea": {}, "number": {}, "date": {},
	"datetime-local": {}, "month": {}, "time": {}, "color": {}, "password": {},
}

// TextOption carries the default text and the input_type tag that constrains
// validation of user-entered text.
type TextOption struct {
	BaseOption
	DefaultText string
	InputType   string
}

func (o TextOption) inputType() string {
	if o.InputType == "" {
		return "text"
	}
	return o.InputType
}

// Validate checks the input_type tag at load time.
func (o TextOption) Validate(param string) error {
	if _, ok := textInputTypes[o.inputType()]; !ok {
		return cerr.Config("parameter %q: unknown input_type %q", param, o.InputType)
	}
	return nil
}
