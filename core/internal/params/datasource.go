package params

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/squirrels-analytics/squirrels-sub000/auth"
	"github.com/squirrels-analytics/squirrels-sub000/core/cerr"
)

// Row is one record of the tabular result backing a data-sourced parameter.
type Row = map[string]any

// DataSourceParamConfig is the deferred config variant: at load time it
// references a table or query and column mappings, and is converted into a
// concrete config by materializing its options from that source.
type DataSourceParamConfig struct {
	BaseConfig

	// Widget is the target config variant
	Widget string

	// TableOrQuery names a seed/source table, or holds a full query when
	// prefixed with SELECT
	TableOrQuery string

	IDCol        string
	OrderByCol   string
	UserGroupCol string
	ParentIDCol  string

	// select columns
	LabelCol        string
	IsDefaultCol    string
	CustomFieldCols []string

	// date columns
	DefaultDateCol string
	MinDateCol     string
	MaxDateCol     string
	DateFormat     string

	// number columns
	MinValueCol     string
	MaxValueCol     string
	IncrementCol    string
	DefaultValueCol string
	DefaultLowerCol string
	DefaultUpperCol string

	// text columns
	DefaultTextCol string
	InputType      string

	// multi-select extras carried through to the concrete config
	ShowSelectAll bool
	OrderMatters  bool
	NoneIsAll     bool
}

func (c *DataSourceParamConfig) WidgetType() string { return c.Widget }

// Query returns the SQL used to materialize the option rows.
func (c *DataSourceParamConfig) Query() string {
	if strings.HasPrefix(strings.TrimSpace(strings.ToUpper(c.TableOrQuery)), "SELECT") {
		return c.TableOrQuery
	}
	return "SELECT * FROM " + c.TableOrQuery
}

// WithSelection on a deferred config is a project misconfiguration: the
// config must be converted before resolution.
func (c *DataSourceParamConfig) WithSelection(_ Selection, _ *auth.User, _ Parameter) (Parameter, error) {
	return nil, cerr.Config("parameter %q: data-sourced config was not converted at load time", c.Name)
}

// optionGroup is the aggregation of all rows sharing one id value.
type optionGroup struct {
	id         string
	rows       []Row
	userGroups []string
	parentIDs  []string
}

// Convert materializes the deferred config into a concrete one from the
// rows of its source query. Rows are grouped by IDCol (or kept as-is when
// unset); option columns take the first non-null value per group and the
// user-group/parent-id columns accumulate an ordered set. Options sort by
// OrderByCol when provided, else by IDCol; ties keep input order.
func (c *DataSourceParamConfig) Convert(rows []Row) (Config, error) {
	groups := c.groupRows(rows)
	c.sortGroups(groups)

	switch c.Widget {
	case WidgetSingleSelect, WidgetMultiSelect:
		return c.convertSelect(groups)
	case WidgetDate:
		return c.convertDate(groups)
	case WidgetDateRange:
		return c.convertDateRange(groups)
	case WidgetNumber:
		return c.convertNumber(groups)
	case WidgetNumberRange:
		return c.convertNumberRange(groups)
	case WidgetText:
		return c.convertText(groups)
	default:
		return nil, cerr.Config("parameter %q: unknown widget_type %q", c.Name, c.Widget)
	}
}

func (c *DataSourceParamConfig) groupRows(rows []Row) []*optionGroup {
	var groups []*optionGroup
	index := make(map[string]*optionGroup)

	for i, row := range rows {
		key := fmt.Sprintf("row-%d", i)
		if c.IDCol != "" {
			key = cellString(row[c.IDCol])
		}

		g, ok := index[key]
		if !ok || c.IDCol == "" {
			g = &optionGroup{id: key}
			index[key] = g
			groups = append(groups, g)
		}
		g.rows = append(g.rows, row)

		if c.UserGroupCol != "" {
			g.userGroups = appendUnique(g.userGroups, cellString(row[c.UserGroupCol]))
		}
		if c.ParentIDCol != "" {
			g.parentIDs = appendUnique(g.parentIDs, cellString(row[c.ParentIDCol]))
		}
	}
	return groups
}

func (c *DataSourceParamConfig) sortGroups(groups []*optionGroup) {
	col := c.OrderByCol
	if col == "" {
		col = c.IDCol
	}
	if col == "" {
		return
	}

	sort.SliceStable(groups, func(i, j int) bool {
		a := cellString(firstNonNull(groups[i].rows, col))
		b := cellString(firstNonNull(groups[j].rows, col))
		da, erra := decimal.NewFromString(a)
		db, errb := decimal.NewFromString(b)
		if erra == nil && errb == nil {
			return da.LessThan(db)
		}
		return a < b
	})
}

func (c *DataSourceParamConfig) base(g *optionGroup) BaseOption {
	return BaseOption{UserGroups: g.userGroups, ParentIDs: g.parentIDs}
}

func (c *DataSourceParamConfig) convertSelect(groups []*optionGroup) (Config, error) {
	opts := make([]SelectOption, 0, len(groups))
	for _, g := range groups {
		opt := SelectOption{
			BaseOption: c.base(g),
			ID:         g.id,
			Label:      g.id,
		}
		if c.LabelCol != "" {
			opt.Label = cellString(firstNonNull(g.rows, c.LabelCol))
		}
		if c.IsDefaultCol != "" {
			opt.IsDefault = cellBool(firstNonNull(g.rows, c.IsDefaultCol))
		}
		if len(c.CustomFieldCols) != 0 {
			opt.CustomFields = make(map[string]any, len(c.CustomFieldCols))
			for _, col := range c.CustomFieldCols {
				opt.CustomFields[col] = firstNonNull(g.rows, col)
			}
		}
		opts = append(opts, opt)
	}

	if c.Widget == WidgetMultiSelect {
		return &MultiSelectConfig{
			BaseConfig:    c.BaseConfig,
			Options:       opts,
			ShowSelectAll: c.ShowSelectAll,
			OrderMatters:  c.OrderMatters,
			NoneIsAll:     c.NoneIsAll,
		}, nil
	}
	return &SingleSelectConfig{BaseConfig: c.BaseConfig, Options: opts}, nil
}

func (c *DataSourceParamConfig) layout() string {
	if c.DateFormat == "" {
		return DateFormat
	}
	return c.DateFormat
}

func (c *DataSourceParamConfig) cellDate(g *optionGroup, col string) (*time.Time, error) {
	if col == "" {
		return nil, nil
	}
	v := firstNonNull(g.rows, col)
	if v == nil {
		return nil, nil
	}
	if t, ok := v.(time.Time); ok {
		return &t, nil
	}
	t, err := time.Parse(c.layout(), cellString(v))
	if err != nil {
		return nil, cerr.Config("parameter %q: column %q value %q does not match format %s",
			c.Name, col, cellString(v), c.layout())
	}
	return &t, nil
}

func (c *DataSourceParamConfig) convertDate(groups []*optionGroup) (Config, error) {
	opts := make([]DateOption, 0, len(groups))
	for _, g := range groups {
		def, err := c.cellDate(g, c.DefaultDateCol)
		if err != nil {
			return nil, err
		}
		min, err := c.cellDate(g, c.MinDateCol)
		if err != nil {
			return nil, err
		}
		max, err := c.cellDate(g, c.MaxDateCol)
		if err != nil {
			return nil, err
		}
		opt := DateOption{BaseOption: c.base(g), MinDate: min, MaxDate: max, Format: c.DateFormat}
		if def != nil {
			opt.DefaultDate = *def
		}
		opts = append(opts, opt)
	}
	return &DateConfig{BaseConfig: c.BaseConfig, Options: opts}, nil
}

func (c *DataSourceParamConfig) convertDateRange(groups []*optionGroup) (Config, error) {
	opts := make([]DateRangeOption, 0, len(groups))
	for _, g := range groups {
		lower, err := c.cellDate(g, c.DefaultLowerCol)
		if err != nil {
			return nil, err
		}
		upper, err := c.cellDate(g, c.DefaultUpperCol)
		if err != nil {
			return nil, err
		}
		min, err := c.cellDate(g, c.MinDateCol)
		if err != nil {
			return nil, err
		}
		max, err := c.cellDate(g, c.MaxDateCol)
		if err != nil {
			return nil, err
		}
		opt := DateRangeOption{BaseOption: c.base(g), MinDate: min, MaxDate: max, Format: c.DateFormat}
		if lower != nil {
			opt.DefaultStart = *lower
		}
		if upper != nil {
			opt.DefaultEnd = *upper
		}
		opts = append(opts, opt)
	}
	return &DateRangeConfig{BaseConfig: c.BaseConfig, Options: opts}, nil
}

func (c *DataSourceParamConfig) cellDecimal(g *optionGroup, col string) (decimal.Decimal, error) {
	if col == "" {
		return decimal.Zero, nil
	}
	v := firstNonNull(g.rows, col)
	if v == nil {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(cellString(v))
	if err != nil {
		return decimal.Zero, cerr.Config("parameter %q: column %q value %q is not a decimal",
			c.Name, col, cellString(v))
	}
	return d, nil
}

func (c *DataSourceParamConfig) convertNumber(groups []*optionGroup) (Config, error) {
	opts := make([]NumberOption, 0, len(groups))
	for _, g := range groups {
		min, err := c.cellDecimal(g, c.MinValueCol)
		if err != nil {
			return nil, err
		}
		max, err := c.cellDecimal(g, c.MaxValueCol)
		if err != nil {
			return nil, err
		}
		inc, err := c.cellDecimal(g, c.IncrementCol)
		if err != nil {
			return nil, err
		}
		def, err := c.cellDecimal(g, c.DefaultValueCol)
		if err != nil {
			return nil, err
		}
		if inc.IsZero() {
			inc = decimal.New(1, 0)
		}
		opt := NumberOption{BaseOption: c.base(g), Min: min, Max: max, Increment: inc, DefaultValue: def}
		if err := opt.Validate(c.Name); err != nil {
			return nil, err
		}
		opts = append(opts, opt)
	}
	return &NumberConfig{BaseConfig: c.BaseConfig, Options: opts}, nil
}

func (c *DataSourceParamConfig) convertNumberRange(groups []*optionGroup) (Config, error) {
	opts := make([]NumberRangeOption, 0, len(groups))
	for _, g := range groups {
		min, err := c.cellDecimal(g, c.MinValueCol)
		if err != nil {
			return nil, err
		}
		max, err := c.cellDecimal(g, c.MaxValueCol)
		if err != nil {
			return nil, err
		}
		inc, err := c.cellDecimal(g, c.IncrementCol)
		if err != nil {
			return nil, err
		}
		lower, err := c.cellDecimal(g, c.DefaultLowerCol)
		if err != nil {
			return nil, err
		}
		upper, err := c.cellDecimal(g, c.DefaultUpperCol)
		if err != nil {
			return nil, err
		}
		if inc.IsZero() {
			inc = decimal.New(1, 0)
		}
		opt := NumberRangeOption{
			BaseOption: c.base(g), Min: min, Max: max, Increment: inc,
			DefaultLower: lower, DefaultUpper: upper,
		}
		if err := opt.Validate(c.Name); err != nil {
			return nil, err
		}
		opts = append(opts, opt)
	}
	return &NumberRangeConfig{BaseConfig: c.BaseConfig, Options: opts}, nil
}

func (c *DataSourceParamConfig) convertText(groups []*optionGroup) (Config, error) {
	opts := make([]TextOption, 0, len(groups))
	for _, g := range groups {
		opt := TextOption{BaseOption: c.base(g), InputType: c.InputType}
		if c.DefaultTextCol != "" {
			opt.DefaultText = cellString(firstNonNull(g.rows, c.DefaultTextCol))
		}
		if err := opt.Validate(c.Name); err != nil {
			return nil, err
		}
		opts = append(opts, opt)
	}
	return &TextConfig{BaseConfig: c.BaseConfig, Options: opts}, nil
}

func firstNonNull(rows []Row, col string) any {
	for _, row := range rows {
		if v, ok := row[col]; ok && v != nil {
			return v
		}
	}
	return nil
}

func appendUnique(vals []string, v string) []string {
	if v == "" {
		return vals
	}
	for _, x := range vals {
		if x == v {
			return vals
		}
	}
	return append(vals, v)
}

func cellString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(DateFormat)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func cellBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case int64:
		return val != 0
	case int:
		return val != 0
	case float64:
		return val != 0
	case string:
		return val == "true" || val == "1" || val == "yes"
	default:
		return false
	}
}
