package params

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/squirrels-analytics/squirrels-sub000/auth"
	"github.com/squirrels-analytics/squirrels-sub000/core/cerr"
)

// Widget families.
const (
	WidgetNone         = "none"
	WidgetSingleSelect = "single_select"
	WidgetMultiSelect  = "multi_select"
	WidgetDate         = "date"
	WidgetDateRange    = "date_range"
	WidgetNumber       = "number"
	WidgetNumberRange  = "number_range"
	WidgetText         = "text"
)

// Selection is a raw request selection. Present distinguishes an explicit
// empty selection from an absent one (absent falls back to defaults).
type Selection struct {
	Raw     string
	Present bool
}

// NoSelection resolves a parameter to its defaults.
var NoSelection = Selection{}

// EmptySelection is an explicit empty selection, used by the parent-hint
// path for multi-selects missing from the selection map.
var EmptySelection = Selection{Raw: "", Present: true}

// Config declares a named parameter. Configs are created once at project
// load and are immutable afterwards.
type Config interface {
	GetName() string
	GetLabel() string
	GetDescription() string
	WidgetType() string
	GetParent() string
	GetUserAttribute() string

	// WithSelection projects the config's options through option validity
	// for the user and parent, applies the raw selection (or defaults),
	// and returns the resolved runtime parameter.
	WithSelection(sel Selection, user *auth.User, parent Parameter) (Parameter, error)
}

// BaseConfig carries the declaration fields shared by every variant.
type BaseConfig struct {
	Name          string
	Label         string
	Description   string
	UserAttribute string
	ParentName    string
}

func (c BaseConfig) GetName() string          { return c.Name }
func (c BaseConfig) GetLabel() string         { return c.Label }
func (c BaseConfig) GetDescription() string   { return c.Description }
func (c BaseConfig) GetParent() string        { return c.ParentName }
func (c BaseConfig) GetUserAttribute() string { return c.UserAttribute }

// filterInputs derives the user-group and parent-id filter inputs for option
// validity. disabled is true when the config declares a user attribute but no
// user is present (public scope), or when the parent itself is disabled.
func (c BaseConfig) filterInputs(user *auth.User, parent Parameter) (userGroups, parentIDs []string, disabled bool) {
	if c.UserAttribute != "" {
		if user == nil {
			return nil, nil, true
		}
		v, _ := user.Attribute(c.UserAttribute)
		userGroups = attributeValues(v)
	}

	if parent != nil {
		if !parent.Enabled() {
			return nil, nil, true
		}
		parentIDs = parent.SelectedIDs()
		if mp, ok := parent.(*MultiSelectParameter); ok && mp.HasAllSelected() {
			for _, o := range mp.Options {
				parentIDs = append(parentIDs, o.ID)
			}
		}
	}
	return userGroups, parentIDs, false
}

// attributeValues flattens a user attribute value into a string set.
func attributeValues(v any) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, x := range val {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// SingleSelectConfig declares a single-select parameter.
type SingleSelectConfig struct {
	BaseConfig
	Options []SelectOption

	// Refresh is true iff another config declares this one as parent
	Refresh bool
}

func (c *SingleSelectConfig) WidgetType() string { return WidgetSingleSelect }

func (c *SingleSelectConfig) visible(user *auth.User, parent Parameter) ([]SelectOption, bool) {
	userGroups, parentIDs, disabled := c.filterInputs(user, parent)
	if disabled {
		return nil, false
	}
	return filterSelectOptions(c.Options, userGroups, parentIDs), true
}

func filterSelectOptions(opts []SelectOption, userGroups, parentIDs []string) []SelectOption {
	visible := make([]SelectOption, 0, len(opts))
	for _, o := range opts {
		if o.IsValid(userGroups, parentIDs) {
			visible = append(visible, o)
		}
	}
	return visible
}

func (c *SingleSelectConfig) WithSelection(sel Selection, user *auth.User, parent Parameter) (Parameter, error) {
	visible, ok := c.visible(user, parent)
	if !ok || len(visible) == 0 {
		return &NoneParameter{cfg: c}, nil
	}

	if !sel.Present || sel.Raw == "" {
		id := visible[0].ID
		for _, o := range visible {
			if o.IsDefault {
				id = o.ID
				break
			}
		}
		return &SingleSelectParameter{cfg: c, Options: visible, SelectedID: id}, nil
	}

	for _, o := range visible {
		if o.ID == sel.Raw {
			return &SingleSelectParameter{cfg: c, Options: visible, SelectedID: o.ID}, nil
		}
	}
	return nil, cerr.InvalidSelection(c.Name, sel.Raw, "not among the available options")
}

// MultiSelectConfig declares a multi-select parameter.
type MultiSelectConfig struct {
	BaseConfig
	Options []SelectOption

	Refresh       bool
	ShowSelectAll bool
	OrderMatters  bool
	NoneIsAll     bool
}

func (c *MultiSelectConfig) WidgetType() string { return WidgetMultiSelect }

func (c *MultiSelectConfig) WithSelection(sel Selection, user *auth.User, parent Parameter) (Parameter, error) {
	userGroups, parentIDs, disabled := c.filterInputs(user, parent)
	if disabled {
		return &NoneParameter{cfg: c}, nil
	}
	visible := filterSelectOptions(c.Options, userGroups, parentIDs)
	if len(visible) == 0 {
		return &NoneParameter{cfg: c}, nil
	}

	if !sel.Present {
		var ids []string
		for _, o := range visible {
			if o.IsDefault {
				ids = append(ids, o.ID)
			}
		}
		return &MultiSelectParameter{cfg: c, Options: visible, Selected: ids}, nil
	}

	ids, ok := parseListSelection(sel.Raw)
	if !ok {
		return nil, cerr.InvalidSelection(c.Name, sel.Raw, "not a JSON array or comma-delimited list")
	}
	for _, id := range ids {
		if !containsOption(visible, id) {
			return nil, cerr.InvalidSelection(c.Name, sel.Raw, "id "+id+" not among the available options")
		}
	}
	return &MultiSelectParameter{cfg: c, Options: visible, Selected: ids}, nil
}

func containsOption(opts []SelectOption, id string) bool {
	for _, o := range opts {
		if o.ID == id {
			return true
		}
	}
	return false
}

// DateConfig declares a date parameter. The currently-applicable option is
// the first valid one for the user and parent selection.
type DateConfig struct {
	BaseConfig
	Options []DateOption
}

func (c *DateConfig) WidgetType() string { return WidgetDate }

func (c *DateConfig) WithSelection(sel Selection, user *auth.User, parent Parameter) (Parameter, error) {
	userGroups, parentIDs, disabled := c.filterInputs(user, parent)
	if disabled {
		return &NoneParameter{cfg: c}, nil
	}

	var opt *DateOption
	for i := range c.Options {
		if c.Options[i].IsValid(userGroups, parentIDs) {
			opt = &c.Options[i]
			break
		}
	}
	if opt == nil {
		return &NoneParameter{cfg: c}, nil
	}

	if !sel.Present || sel.Raw == "" {
		return &DateParameter{cfg: c, Option: *opt, SelectedDate: opt.DefaultDate}, nil
	}

	d, err := time.Parse(opt.layout(), sel.Raw)
	if err != nil {
		return nil, cerr.InvalidSelection(c.Name, sel.Raw, "does not match format "+opt.layout())
	}
	if !opt.inBounds(d) {
		return nil, cerr.InvalidSelection(c.Name, sel.Raw, "outside the allowed date bounds")
	}
	return &DateParameter{cfg: c, Option: *opt, SelectedDate: d}, nil
}

// DateRangeConfig declares a date-range parameter.
type DateRangeConfig struct {
	BaseConfig
	Options []DateRangeOption
}

func (c *DateRangeConfig) WidgetType() string { return WidgetDateRange }

func (c *DateRangeConfig) WithSelection(sel Selection, user *auth.User, parent Parameter) (Parameter, error) {
	userGroups, parentIDs, disabled := c.filterInputs(user, parent)
	if disabled {
		return &NoneParameter{cfg: c}, nil
	}

	var opt *DateRangeOption
	for i := range c.Options {
		if c.Options[i].IsValid(userGroups, parentIDs) {
			opt = &c.Options[i]
			break
		}
	}
	if opt == nil {
		return &NoneParameter{cfg: c}, nil
	}

	if !sel.Present || sel.Raw == "" {
		return &DateRangeParameter{
			cfg: c, Option: *opt,
			SelectedStart: opt.DefaultStart, SelectedEnd: opt.DefaultEnd,
		}, nil
	}

	parts, ok := parseListSelection(sel.Raw)
	if !ok || len(parts) != 2 {
		return nil, cerr.InvalidSelection(c.Name, sel.Raw, "a date range requires exactly two dates")
	}

	start, err := time.Parse(opt.layout(), parts[0])
	if err != nil {
		return nil, cerr.InvalidSelection(c.Name, sel.Raw, "start does not match format "+opt.layout())
	}
	end, err := time.Parse(opt.layout(), parts[1])
	if err != nil {
		return nil, cerr.InvalidSelection(c.Name, sel.Raw, "end does not match format "+opt.layout())
	}
	if end.Before(start) {
		return nil, cerr.InvalidSelection(c.Name, sel.Raw, "start date is after end date")
	}
	if !opt.inBounds(start) || !opt.inBounds(end) {
		return nil, cerr.InvalidSelection(c.Name, sel.Raw, "outside the allowed date bounds")
	}
	return &DateRangeParameter{cfg: c, Option: *opt, SelectedStart: start, SelectedEnd: end}, nil
}

// NumberConfig declares a number parameter with Decimal semantics.
type NumberConfig struct {
	BaseConfig
	Options []NumberOption
}

func (c *NumberConfig) WidgetType() string { return WidgetNumber }

func (c *NumberConfig) WithSelection(sel Selection, user *auth.User, parent Parameter) (Parameter, error) {
	userGroups, parentIDs, disabled := c.filterInputs(user, parent)
	if disabled {
		return &NoneParameter{cfg: c}, nil
	}

	var opt *NumberOption
	for i := range c.Options {
		if c.Options[i].IsValid(userGroups, parentIDs) {
			opt = &c.Options[i]
			break
		}
	}
	if opt == nil {
		return &NoneParameter{cfg: c}, nil
	}

	if !sel.Present || sel.Raw == "" {
		return &NumberParameter{cfg: c, Option: *opt, SelectedValue: opt.DefaultValue}, nil
	}

	v, err := decimal.NewFromString(strings.TrimSpace(sel.Raw))
	if err != nil {
		return nil, cerr.InvalidSelection(c.Name, sel.Raw, "not a decimal number")
	}
	if !opt.onLattice(v) {
		return nil, cerr.InvalidSelection(c.Name, sel.Raw, "not on the increment lattice within bounds")
	}
	return &NumberParameter{cfg: c, Option: *opt, SelectedValue: v}, nil
}

// NumberRangeConfig declares a number-range parameter.
type NumberRangeConfig struct {
	BaseConfig
	Options []NumberRangeOption
}

func (c *NumberRangeConfig) WidgetType() string { return WidgetNumberRange }

func (c *NumberRangeConfig) WithSelection(sel Selection, user *auth.User, parent Parameter) (Parameter, error) {
	userGroups, parentIDs, disabled := c.filterInputs(user, parent)
	if disabled {
		return &NoneParameter{cfg: c}, nil
	}

	var opt *NumberRangeOption
	for i := range c.Options {
		if c.Options[i].IsValid(userGroups, parentIDs) {
			opt = &c.Options[i]
			break
		}
	}
	if opt == nil {
		return &NoneParameter{cfg: c}, nil
	}

	if !sel.Present || sel.Raw == "" {
		return &NumberRangeParameter{
			cfg: c, Option: *opt,
			SelectedLower: opt.DefaultLower, SelectedUpper: opt.DefaultUpper,
		}, nil
	}

	parts, ok := parseListSelection(sel.Raw)
	if !ok || len(parts) != 2 {
		return nil, cerr.InvalidSelection(c.Name, sel.Raw, "a number range requires exactly two numbers")
	}

	lower, err := decimal.NewFromString(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, cerr.InvalidSelection(c.Name, sel.Raw, "lower bound is not a decimal number")
	}
	upper, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, cerr.InvalidSelection(c.Name, sel.Raw, "upper bound is not a decimal number")
	}
	if upper.LessThan(lower) {
		return nil, cerr.InvalidSelection(c.Name, sel.Raw, "lower bound is greater than upper bound")
	}
	if !opt.onLattice(lower) || !opt.onLattice(upper) {
		return nil, cerr.InvalidSelection(c.Name, sel.Raw, "not on the increment lattice within bounds")
	}
	return &NumberRangeParameter{cfg: c, Option: *opt, SelectedLower: lower, SelectedUpper: upper}, nil
}

// TextConfig declares a free-text parameter.
type TextConfig struct {
	BaseConfig
	Options []TextOption
}

func (c *TextConfig) WidgetType() string { return WidgetText }

func (c *TextConfig) WithSelection(sel Selection, user *auth.User, parent Parameter) (Parameter, error) {
	userGroups, parentIDs, disabled := c.filterInputs(user, parent)
	if disabled {
		return &NoneParameter{cfg: c}, nil
	}

	var opt *TextOption
	for i := range c.Options {
		if c.Options[i].IsValid(userGroups, parentIDs) {
			opt = &c.Options[i]
			break
		}
	}
	if opt == nil {
		return &NoneParameter{cfg: c}, nil
	}

	text := opt.DefaultText
	if sel.Present {
		text = sel.Raw
	}
	if reason, ok := validateTextInput(opt.inputType(), text); !ok {
		return nil, cerr.InvalidSelection(c.Name, text, reason)
	}
	return &TextParameter{cfg: c, Option: *opt, EnteredText: NewTextValue(text)}, nil
}

// ConfigSet is the immutable, ordered collection of parameter configs for a
// project. Configs must be added parents-first; referencing by name to an
// already-known parameter keeps the parent graph acyclic.
type ConfigSet struct {
	order    []string
	byName   map[string]Config
	children map[string][]string
}

func NewConfigSet() *ConfigSet {
	return &ConfigSet{
		byName:   make(map[string]Config),
		children: make(map[string][]string),
	}
}

// Add registers a config, wiring it onto its parent and enforcing the
// parameter-graph invariants.
func (s *ConfigSet) Add(c Config) error {
	name := c.GetName()
	if _, ok := s.byName[name]; ok {
		return cerr.Config("duplicate parameter name %q", name)
	}

	if parent := c.GetParent(); parent != "" {
		pc, ok := s.byName[parent]
		if !ok {
			return cerr.Config("parameter %q references unknown parent %q", name, parent)
		}

		switch p := pc.(type) {
		case *SingleSelectConfig:
			p.Refresh = true
		case *MultiSelectConfig:
			if c.WidgetType() != WidgetSingleSelect && c.WidgetType() != WidgetMultiSelect {
				return cerr.Config(
					"parameter %q: only single-select parents may parent non-select children, %q is multi-select",
					name, parent)
			}
			p.Refresh = true
		default:
			return cerr.Config("parameter %q: parent %q is not a selection parameter", name, parent)
		}

		if err := checkOptionKeys(c); err != nil {
			return err
		}
		s.children[parent] = append(s.children[parent], name)
	}

	s.order = append(s.order, name)
	s.byName[name] = c
	return nil
}

// checkOptionKeys enforces that a non-select child's options do not reuse
// the same (parent-id, user-group) key across options.
func checkOptionKeys(c Config) error {
	var keys []BaseOption

	switch cfg := c.(type) {
	case *DateConfig:
		for _, o := range cfg.Options {
			keys = append(keys, o.BaseOption)
		}
	case *DateRangeConfig:
		for _, o := range cfg.Options {
			keys = append(keys, o.BaseOption)
		}
	case *NumberConfig:
		for _, o := range cfg.Options {
			keys = append(keys, o.BaseOption)
		}
	case *NumberRangeConfig:
		for _, o := range cfg.Options {
			keys = append(keys, o.BaseOption)
		}
	case *TextConfig:
		for _, o := range cfg.Options {
			keys = append(keys, o.BaseOption)
		}
	default:
		return nil
	}

	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		key := optionKey(k)
		if _, dup := seen[key]; dup {
			return cerr.Config("parameter %q: options reuse the same (parent-id, user-group) key", c.GetName())
		}
		seen[key] = struct{}{}
	}
	return nil
}

func optionKey(o BaseOption) string {
	pids := append([]string(nil), o.ParentIDs...)
	groups := append([]string(nil), o.UserGroups...)
	sort.Strings(pids)
	sort.Strings(groups)
	return strings.Join(pids, ",") + "|" + strings.Join(groups, ",")
}

// Get returns the named config.
func (s *ConfigSet) Get(name string) (Config, bool) {
	c, ok := s.byName[name]
	return c, ok
}

// Names returns all config names in registration order.
func (s *ConfigSet) Names() []string {
	return append([]string(nil), s.order...)
}

// Children returns the direct dependents of the named parameter.
func (s *ConfigSet) Children(name string) []string {
	return s.children[name]
}

func (s *ConfigSet) Len() int {
	return len(s.order)
}
