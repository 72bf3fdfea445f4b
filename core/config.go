package core

import (
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/squirrels-analytics/squirrels-sub000/core/cerr"
	"github.com/squirrels-analytics/squirrels-sub000/core/internal/params"
)

// ProjectConfig is the decoded project manifest (squirrels.yml).
type ProjectConfig struct {
	Project struct {
		Name    string         `yaml:"name" validate:"required"`
		Label   string         `yaml:"label"`
		Version int            `yaml:"major_version"`
		Vars    map[string]any `yaml:"vars"`
	} `yaml:"project"`

	Settings struct {
		NoCache           bool `yaml:"no_cache"`
		MaxRowsOutput     int  `yaml:"max_rows_output"`
		DefaultLimit      int  `yaml:"default_limit"`
		SQLTimeoutSeconds int  `yaml:"sql_timeout_seconds"`

		ParametersCache CacheSettings `yaml:"parameters_cache"`
		DatasetsCache   CacheSettings `yaml:"datasets_cache"`
	} `yaml:"settings"`

	Connections []ConnectionConfig `yaml:"connections" validate:"dive"`

	Configurables []ConfigurableConfig `yaml:"configurables" validate:"dive"`

	Seeds []SeedConfig `yaml:"seeds" validate:"dive"`

	Models []ModelConfig `yaml:"models" validate:"dive"`

	Parameters []ParameterDecl `yaml:"parameters" validate:"dive"`

	Datasets []DatasetConfig `yaml:"datasets" validate:"dive"`

	Dashboards []DashboardConfig `yaml:"dashboards" validate:"dive"`
}

type CacheSettings struct {
	Size       int `yaml:"size"`
	TTLMinutes int `yaml:"ttl_minutes"`
}

func (c CacheSettings) sizeOr(def int) int {
	if c.Size > 0 {
		return c.Size
	}
	return def
}

func (c CacheSettings) ttlOr(def time.Duration) time.Duration {
	if c.TTLMinutes > 0 {
		return time.Duration(c.TTLMinutes) * time.Minute
	}
	return def
}

// ConnectionConfig declares one external database.
type ConnectionConfig struct {
	Name   string `yaml:"name" validate:"required"`
	Driver string `yaml:"driver" validate:"required"`
	DSN    string `yaml:"dsn" validate:"required"`
}

// ConfigurableConfig declares a named request-time value settable through
// x-config-<name> headers. Elevated configurables require admin access.
type ConfigurableConfig struct {
	Name     string `yaml:"name" validate:"required"`
	Default  string `yaml:"default"`
	Elevated bool   `yaml:"elevated"`
}

// SeedConfig declares a local table shipped inline with the project.
type SeedConfig struct {
	Name    string   `yaml:"name" validate:"required"`
	Columns []Column `yaml:"columns" validate:"required,dive"`
	Rows    [][]any  `yaml:"rows"`
}

// DatasetConfig declares one queryable dataset.
type DatasetConfig struct {
	Name        string   `yaml:"name" validate:"required"`
	Label       string   `yaml:"label"`
	Description string   `yaml:"description"`
	Scope       string   `yaml:"scope" validate:"omitempty,oneof=public protected private"`
	Model       string   `yaml:"model" validate:"required"`
	Parameters  []string `yaml:"parameters"`
}

// DashboardConfig declares one dashboard backed by a dataset.
type DashboardConfig struct {
	Name        string   `yaml:"name" validate:"required"`
	Label       string   `yaml:"label"`
	Description string   `yaml:"description"`
	Scope       string   `yaml:"scope" validate:"omitempty,oneof=public protected private"`
	Dataset     string   `yaml:"dataset" validate:"required"`
	Format      string   `yaml:"format" validate:"omitempty,oneof=png html"`
	Parameters  []string `yaml:"parameters"`
}

// OptionDecl is the manifest form of one parameter option; only the fields
// matching the declared widget type apply.
type OptionDecl struct {
	UserGroups []string `yaml:"user_groups"`
	ParentIDs  []string `yaml:"parent_ids"`

	ID           string         `yaml:"id"`
	Label        string         `yaml:"label"`
	IsDefault    bool           `yaml:"is_default"`
	CustomFields map[string]any `yaml:"custom_fields"`

	DefaultDate  string `yaml:"default_date"`
	DefaultStart string `yaml:"default_start_date"`
	DefaultEnd   string `yaml:"default_end_date"`
	MinDate      string `yaml:"min_date"`
	MaxDate      string `yaml:"max_date"`
	Format       string `yaml:"format"`

	Min          string `yaml:"min_value"`
	Max          string `yaml:"max_value"`
	Increment    string `yaml:"increment"`
	DefaultValue string `yaml:"default_value"`
	DefaultLower string `yaml:"default_lower_value"`
	DefaultUpper string `yaml:"default_upper_value"`

	DefaultText string `yaml:"default_text"`
	InputType   string `yaml:"input_type"`
}

// DataSourceDecl is the manifest form of a data-sourced parameter.
type DataSourceDecl struct {
	TableOrQuery string `yaml:"table_or_query" validate:"required"`
	Connection   string `yaml:"connection"`

	IDCol        string `yaml:"id_col"`
	OrderByCol   string `yaml:"order_by_col"`
	UserGroupCol string `yaml:"user_group_col"`
	ParentIDCol  string `yaml:"parent_id_col"`

	LabelCol        string   `yaml:"label_col"`
	IsDefaultCol    string   `yaml:"is_default_col"`
	CustomFieldCols []string `yaml:"custom_field_cols"`

	DefaultDateCol string `yaml:"default_date_col"`
	MinDateCol     string `yaml:"min_date_col"`
	MaxDateCol     string `yaml:"max_date_col"`
	DateFormat     string `yaml:"date_format"`

	MinValueCol     string `yaml:"min_value_col"`
	MaxValueCol     string `yaml:"max_value_col"`
	IncrementCol    string `yaml:"increment_col"`
	DefaultValueCol string `yaml:"default_value_col"`
	DefaultLowerCol string `yaml:"default_lower_col"`
	DefaultUpperCol string `yaml:"default_upper_col"`

	DefaultTextCol string `yaml:"default_text_col"`
	InputType      string `yaml:"input_type"`
}

// ParameterDecl is the manifest form of one parameter declaration.
type ParameterDecl struct {
	WidgetType    string `yaml:"widget_type" validate:"required,oneof=single_select multi_select date date_range number number_range text"`
	Name          string `yaml:"name" validate:"required"`
	Label         string `yaml:"label"`
	Description   string `yaml:"description"`
	UserAttribute string `yaml:"user_attribute"`
	ParentName    string `yaml:"parent_name"`

	ShowSelectAll bool `yaml:"show_select_all"`
	OrderMatters  bool `yaml:"order_matters"`
	NoneIsAll     bool `yaml:"none_is_all"`

	Options    []OptionDecl    `yaml:"options"`
	DataSource *DataSourceDecl `yaml:"data_source"`
}

const manifestFile = "squirrels.yml"

// LoadProjectConfig reads and validates the project manifest under dir.
func LoadProjectConfig(fs afero.Fs, dir string) (*ProjectConfig, error) {
	body, err := afero.ReadFile(fs, filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, cerr.Config("reading %s: %v", manifestFile, err)
	}

	var pc ProjectConfig
	if err := yaml.Unmarshal(body, &pc); err != nil {
		return nil, cerr.Config("parsing %s: %v", manifestFile, err)
	}

	if err := validator.New().Struct(&pc); err != nil {
		return nil, cerr.Config("invalid %s: %v", manifestFile, err)
	}

	if pc.Settings.MaxRowsOutput <= 0 {
		pc.Settings.MaxRowsOutput = 100000
	}
	if pc.Settings.DefaultLimit <= 0 {
		pc.Settings.DefaultLimit = 1000
	}
	if pc.Settings.SQLTimeoutSeconds <= 0 {
		pc.Settings.SQLTimeoutSeconds = 30
	}
	return &pc, nil
}

func (pc *ProjectConfig) sqlTimeout() time.Duration {
	return time.Duration(pc.Settings.SQLTimeoutSeconds) * time.Second
}

// configurableDefaults returns the declared configurables with defaults
// applied; undeclared names are filtered out at request time.
func (pc *ProjectConfig) configurableDefaults() map[string]string {
	out := make(map[string]string, len(pc.Configurables))
	for _, c := range pc.Configurables {
		out[c.Name] = c.Default
	}
	return out
}

// buildParamConfig converts a manifest declaration into a parameter config.
// Data-sourced declarations come back as the deferred variant and are
// converted after their source query runs.
func buildParamConfig(decl ParameterDecl) (params.Config, error) {
	base := params.BaseConfig{
		Name:          decl.Name,
		Label:         decl.Label,
		Description:   decl.Description,
		UserAttribute: decl.UserAttribute,
		ParentName:    decl.ParentName,
	}

	if decl.DataSource != nil {
		ds := decl.DataSource
		return &params.DataSourceParamConfig{
			BaseConfig:      base,
			Widget:          decl.WidgetType,
			TableOrQuery:    ds.TableOrQuery,
			IDCol:           ds.IDCol,
			OrderByCol:      ds.OrderByCol,
			UserGroupCol:    ds.UserGroupCol,
			ParentIDCol:     ds.ParentIDCol,
			LabelCol:        ds.LabelCol,
			IsDefaultCol:    ds.IsDefaultCol,
			CustomFieldCols: ds.CustomFieldCols,
			DefaultDateCol:  ds.DefaultDateCol,
			MinDateCol:      ds.MinDateCol,
			MaxDateCol:      ds.MaxDateCol,
			DateFormat:      ds.DateFormat,
			MinValueCol:     ds.MinValueCol,
			MaxValueCol:     ds.MaxValueCol,
			IncrementCol:    ds.IncrementCol,
			DefaultValueCol: ds.DefaultValueCol,
			DefaultLowerCol: ds.DefaultLowerCol,
			DefaultUpperCol: ds.DefaultUpperCol,
			DefaultTextCol:  ds.DefaultTextCol,
			InputType:       ds.InputType,
			ShowSelectAll:   decl.ShowSelectAll,
			OrderMatters:    decl.OrderMatters,
			NoneIsAll:       decl.NoneIsAll,
		}, nil
	}

	switch decl.WidgetType {
	case params.WidgetSingleSelect:
		opts, err := selectOptions(decl)
		if err != nil {
			return nil, err
		}
		return &params.SingleSelectConfig{BaseConfig: base, Options: opts}, nil

	case params.WidgetMultiSelect:
		opts, err := selectOptions(decl)
		if err != nil {
			return nil, err
		}
		return &params.MultiSelectConfig{
			BaseConfig:    base,
			Options:       opts,
			ShowSelectAll: decl.ShowSelectAll,
			OrderMatters:  decl.OrderMatters,
			NoneIsAll:     decl.NoneIsAll,
		}, nil

	case params.WidgetDate:
		opts := make([]params.DateOption, 0, len(decl.Options))
		for _, o := range decl.Options {
			def, err := parseDateField(decl.Name, o.DefaultDate, o.Format)
			if err != nil {
				return nil, err
			}
			minD, maxD, err := parseDateBounds(decl.Name, o)
			if err != nil {
				return nil, err
			}
			opt := params.DateOption{
				BaseOption: params.BaseOption{UserGroups: o.UserGroups, ParentIDs: o.ParentIDs},
				MinDate:    minD, MaxDate: maxD, Format: o.Format,
			}
			if def != nil {
				opt.DefaultDate = *def
			}
			opts = append(opts, opt)
		}
		return &params.DateConfig{BaseConfig: base, Options: opts}, nil

	case params.WidgetDateRange:
		opts := make([]params.DateRangeOption, 0, len(decl.Options))
		for _, o := range decl.Options {
			start, err := parseDateField(decl.Name, o.DefaultStart, o.Format)
			if err != nil {
				return nil, err
			}
			end, err := parseDateField(decl.Name, o.DefaultEnd, o.Format)
			if err != nil {
				return nil, err
			}
			minD, maxD, err := parseDateBounds(decl.Name, o)
			if err != nil {
				return nil, err
			}
			opt := params.DateRangeOption{
				BaseOption: params.BaseOption{UserGroups: o.UserGroups, ParentIDs: o.ParentIDs},
				MinDate:    minD, MaxDate: maxD, Format: o.Format,
			}
			if start != nil {
				opt.DefaultStart = *start
			}
			if end != nil {
				opt.DefaultEnd = *end
			}
			opts = append(opts, opt)
		}
		return &params.DateRangeConfig{BaseConfig: base, Options: opts}, nil

	case params.WidgetNumber:
		opts := make([]params.NumberOption, 0, len(decl.Options))
		for _, o := range decl.Options {
			min, max, inc, err := parseNumberBounds(decl.Name, o)
			if err != nil {
				return nil, err
			}
			def, err := parseDecimalField(decl.Name, o.DefaultValue)
			if err != nil {
				return nil, err
			}
			opt := params.NumberOption{
				BaseOption: params.BaseOption{UserGroups: o.UserGroups, ParentIDs: o.ParentIDs},
				Min:        min, Max: max, Increment: inc, DefaultValue: def,
			}
			if err := opt.Validate(decl.Name); err != nil {
				return nil, err
			}
			opts = append(opts, opt)
		}
		return &params.NumberConfig{BaseConfig: base, Options: opts}, nil

	case params.WidgetNumberRange:
		opts := make([]params.NumberRangeOption, 0, len(decl.Options))
		for _, o := range decl.Options {
			min, max, inc, err := parseNumberBounds(decl.Name, o)
			if err != nil {
				return nil, err
			}
			lower, err := parseDecimalField(decl.Name, o.DefaultLower)
			if err != nil {
				return nil, err
			}
			upper, err := parseDecimalField(decl.Name, o.DefaultUpper)
			if err != nil {
				return nil, err
			}
			opt := params.NumberRangeOption{
				BaseOption: params.BaseOption{UserGroups: o.UserGroups, ParentIDs: o.ParentIDs},
				Min:        min, Max: max, Increment: inc,
				DefaultLower: lower, DefaultUpper: upper,
			}
			if err := opt.Validate(decl.Name); err != nil {
				return nil, err
			}
			opts = append(opts, opt)
		}
		return &params.NumberRangeConfig{BaseConfig: base, Options: opts}, nil

	case params.WidgetText:
		opts := make([]params.TextOption, 0, len(decl.Options))
		if len(decl.Options) == 0 {
			decl.Options = []OptionDecl{{}}
		}
		for _, o := range decl.Options {
			opt := params.TextOption{
				BaseOption:  params.BaseOption{UserGroups: o.UserGroups, ParentIDs: o.ParentIDs},
				DefaultText: o.DefaultText,
				InputType:   o.InputType,
			}
			if err := opt.Validate(decl.Name); err != nil {
				return nil, err
			}
			opts = append(opts, opt)
		}
		return &params.TextConfig{BaseConfig: base, Options: opts}, nil

	default:
		return nil, cerr.Config("parameter %q: unknown widget_type %q", decl.Name, decl.WidgetType)
	}
}

func selectOptions(decl ParameterDecl) ([]params.SelectOption, error) {
	opts := make([]params.SelectOption, 0, len(decl.Options))
	for _, o := range decl.Options {
		if o.ID == "" {
			return nil, cerr.Config("parameter %q: select options require an id", decl.Name)
		}
		label := o.Label
		if label == "" {
			label = o.ID
		}
		opts = append(opts, params.SelectOption{
			BaseOption:   params.BaseOption{UserGroups: o.UserGroups, ParentIDs: o.ParentIDs},
			ID:           o.ID,
			Label:        label,
			IsDefault:    o.IsDefault,
			CustomFields: o.CustomFields,
		})
	}
	return opts, nil
}

func parseDateField(param, raw, format string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	layout := format
	if layout == "" {
		layout = params.DateFormat
	}
	t, err := time.Parse(layout, raw)
	if err != nil {
		return nil, cerr.Config("parameter %q: date %q does not match format %s", param, raw, layout)
	}
	return &t, nil
}

func parseDateBounds(param string, o OptionDecl) (minD, maxD *time.Time, err error) {
	if minD, err = parseDateField(param, o.MinDate, o.Format); err != nil {
		return nil, nil, err
	}
	if maxD, err = parseDateField(param, o.MaxDate, o.Format); err != nil {
		return nil, nil, err
	}
	return minD, maxD, nil
}

func parseDecimalField(param, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, cerr.Config("parameter %q: %q is not a decimal", param, raw)
	}
	return d, nil
}

func parseNumberBounds(param string, o OptionDecl) (min, max, inc decimal.Decimal, err error) {
	if min, err = parseDecimalField(param, o.Min); err != nil {
		return
	}
	if max, err = parseDecimalField(param, o.Max); err != nil {
		return
	}
	if inc, err = parseDecimalField(param, o.Increment); err != nil {
		return
	}
	if inc.IsZero() {
		inc = decimal.New(1, 0)
	}
	return min, max, inc, nil
}
