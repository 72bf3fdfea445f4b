package params

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// PlaceholderSink receives values that must be bound through the engine's
// parameterized-statement mechanism.
type PlaceholderSink interface {
	SetPlaceholder(name string, value any)
}

// TextValue wraps free text entered by end users. It deliberately has no
// string conversion so callers cannot splice it into SQL text; the value
// leaves the wrapper only through placeholder binding.
type TextValue struct {
	raw string
}

func NewTextValue(s string) TextValue {
	return TextValue{raw: s}
}

// Bind registers the wrapped text under the given placeholder name.
func (t TextValue) Bind(name string, sink PlaceholderSink) {
	sink.SetPlaceholder(name, t.raw)
}

// Parameter is the resolved (config, visible options, selection) triple for a
// single request. A disabled parameter serializes as the "none" variant.
type Parameter interface {
	Config() Config
	Name() string
	Enabled() bool

	// SelectedIDs returns the selected option ids for select variants and
	// nil for everything else; it drives cascade filtering of children.
	SelectedIDs() []string

	// SelectionString returns the raw selection encoding that reproduces
	// this parameter when fed back through WithSelection.
	SelectionString() (string, bool)

	// ToWire returns the variant-specific response model.
	ToWire() any
}

type wireHeader struct {
	WidgetType  string `json:"widget_type"`
	Name        string `json:"name"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

func headerFor(c Config, widget string) wireHeader {
	return wireHeader{
		WidgetType:  widget,
		Name:        c.GetName(),
		Label:       c.GetLabel(),
		Description: c.GetDescription(),
	}
}

// WireSelectOption is the response model of one visible select option.
type WireSelectOption struct {
	ID           string         `json:"id"`
	Label        string         `json:"label"`
	CustomFields map[string]any `json:"custom_fields,omitempty"`
}

func wireOptions(opts []SelectOption) []WireSelectOption {
	out := make([]WireSelectOption, len(opts))
	for i, o := range opts {
		out[i] = WireSelectOption{ID: o.ID, Label: o.Label, CustomFields: o.CustomFields}
	}
	return out
}

// NoneParameter is the disabled variant: the parameter exists but has no
// currently-applicable options for this user and parent selection.
type NoneParameter struct {
	cfg Config
}

func (p *NoneParameter) Config() Config                   { return p.cfg }
func (p *NoneParameter) Name() string                     { return p.cfg.GetName() }
func (p *NoneParameter) Enabled() bool                    { return false }
func (p *NoneParameter) SelectedIDs() []string            { return nil }
func (p *NoneParameter) SelectionString() (string, bool)  { return "", false }

func (p *NoneParameter) ToWire() any {
	return headerFor(p.cfg, WidgetNone)
}

// SingleSelectParameter holds the visible options and the one selected id.
type SingleSelectParameter struct {
	cfg        *SingleSelectConfig
	Options    []SelectOption
	SelectedID string
}

func (p *SingleSelectParameter) Config() Config        { return p.cfg }
func (p *SingleSelectParameter) Name() string          { return p.cfg.Name }
func (p *SingleSelectParameter) Enabled() bool         { return true }
func (p *SingleSelectParameter) SelectedIDs() []string { return []string{p.SelectedID} }

func (p *SingleSelectParameter) SelectionString() (string, bool) {
	return p.SelectedID, true
}

// SelectedOption returns the full option record for the selection.
func (p *SingleSelectParameter) SelectedOption() SelectOption {
	for _, o := range p.Options {
		if o.ID == p.SelectedID {
			return o
		}
	}
	return SelectOption{}
}

// SelectedLabel is exposed to SQL templates and imperative models.
func (p *SingleSelectParameter) SelectedLabel() string {
	return p.SelectedOption().Label
}

type wireSingleSelect struct {
	wireHeader
	TriggerRefresh bool               `json:"trigger_refresh"`
	Options        []WireSelectOption `json:"options"`
	SelectedID     string             `json:"selected_id"`
}

func (p *SingleSelectParameter) ToWire() any {
	return wireSingleSelect{
		wireHeader:     headerFor(p.cfg, WidgetSingleSelect),
		TriggerRefresh: p.cfg.Refresh,
		Options:        wireOptions(p.Options),
		SelectedID:     p.SelectedID,
	}
}

// MultiSelectParameter holds the visible options and the selected id list,
// which may be empty.
type MultiSelectParameter struct {
	cfg      *MultiSelectConfig
	Options  []SelectOption
	Selected []string
}

func (p *MultiSelectParameter) Config() Config        { return p.cfg }
func (p *MultiSelectParameter) Name() string          { return p.cfg.Name }
func (p *MultiSelectParameter) Enabled() bool         { return true }
func (p *MultiSelectParameter) SelectedIDs() []string { return p.Selected }

func (p *MultiSelectParameter) SelectionString() (string, bool) {
	b, err := json.Marshal(p.selectedOrEmpty())
	if err != nil {
		return "", false
	}
	return string(b), true
}

func (p *MultiSelectParameter) selectedOrEmpty() []string {
	if p.Selected == nil {
		return []string{}
	}
	return p.Selected
}

// HasAllSelected reports whether the selection should be treated as "all
// options" under the none_is_all rule.
func (p *MultiSelectParameter) HasAllSelected() bool {
	return len(p.Selected) == 0 && p.cfg.NoneIsAll
}

type wireMultiSelect struct {
	wireHeader
	TriggerRefresh bool               `json:"trigger_refresh"`
	Options        []WireSelectOption `json:"options"`
	SelectedIDs    []string           `json:"selected_ids"`
	ShowSelectAll  bool               `json:"show_select_all"`
	OrderMatters   bool               `json:"order_matters"`
	NoneIsAll      bool               `json:"none_is_all"`
}

func (p *MultiSelectParameter) ToWire() any {
	return wireMultiSelect{
		wireHeader:     headerFor(p.cfg, WidgetMultiSelect),
		TriggerRefresh: p.cfg.Refresh,
		Options:        wireOptions(p.Options),
		SelectedIDs:    p.selectedOrEmpty(),
		ShowSelectAll:  p.cfg.ShowSelectAll,
		OrderMatters:   p.cfg.OrderMatters,
		NoneIsAll:      p.cfg.NoneIsAll,
	}
}

// DateParameter holds the applicable option and the selected date.
type DateParameter struct {
	cfg          *DateConfig
	Option       DateOption
	SelectedDate time.Time
}

func (p *DateParameter) Config() Config        { return p.cfg }
func (p *DateParameter) Name() string          { return p.cfg.Name }
func (p *DateParameter) Enabled() bool         { return true }
func (p *DateParameter) SelectedIDs() []string { return nil }

func (p *DateParameter) SelectionString() (string, bool) {
	return p.SelectedDate.Format(p.Option.layout()), true
}

type wireDate struct {
	wireHeader
	SelectedDate string `json:"selected_date"`
	MinDate      string `json:"min_date,omitempty"`
	MaxDate      string `json:"max_date,omitempty"`
}

func (p *DateParameter) ToWire() any {
	w := wireDate{
		wireHeader:   headerFor(p.cfg, WidgetDate),
		SelectedDate: p.SelectedDate.Format(p.Option.layout()),
	}
	if p.Option.MinDate != nil {
		w.MinDate = p.Option.MinDate.Format(p.Option.layout())
	}
	if p.Option.MaxDate != nil {
		w.MaxDate = p.Option.MaxDate.Format(p.Option.layout())
	}
	return w
}

// DateRangeParameter holds an ordered [start, end] pair.
type DateRangeParameter struct {
	cfg           *DateRangeConfig
	Option        DateRangeOption
	SelectedStart time.Time
	SelectedEnd   time.Time
}

func (p *DateRangeParameter) Config() Config        { return p.cfg }
func (p *DateRangeParameter) Name() string          { return p.cfg.Name }
func (p *DateRangeParameter) Enabled() bool         { return true }
func (p *DateRangeParameter) SelectedIDs() []string { return nil }

func (p *DateRangeParameter) SelectionString() (string, bool) {
	b, err := json.Marshal([]string{
		p.SelectedStart.Format(p.Option.layout()),
		p.SelectedEnd.Format(p.Option.layout()),
	})
	if err != nil {
		return "", false
	}
	return string(b), true
}

type wireDateRange struct {
	wireHeader
	SelectedStart string `json:"selected_start_date"`
	SelectedEnd   string `json:"selected_end_date"`
	MinDate       string `json:"min_date,omitempty"`
	MaxDate       string `json:"max_date,omitempty"`
}

func (p *DateRangeParameter) ToWire() any {
	w := wireDateRange{
		wireHeader:    headerFor(p.cfg, WidgetDateRange),
		SelectedStart: p.SelectedStart.Format(p.Option.layout()),
		SelectedEnd:   p.SelectedEnd.Format(p.Option.layout()),
	}
	if p.Option.MinDate != nil {
		w.MinDate = p.Option.MinDate.Format(p.Option.layout())
	}
	if p.Option.MaxDate != nil {
		w.MaxDate = p.Option.MaxDate.Format(p.Option.layout())
	}
	return w
}

// NumberParameter holds the applicable option and the selected value.
type NumberParameter struct {
	cfg           *NumberConfig
	Option        NumberOption
	SelectedValue decimal.Decimal
}

func (p *NumberParameter) Config() Config        { return p.cfg }
func (p *NumberParameter) Name() string          { return p.cfg.Name }
func (p *NumberParameter) Enabled() bool         { return true }
func (p *NumberParameter) SelectedIDs() []string { return nil }

func (p *NumberParameter) SelectionString() (string, bool) {
	return p.SelectedValue.String(), true
}

type wireNumber struct {
	wireHeader
	Min           string `json:"min_value"`
	Max           string `json:"max_value"`
	Increment     string `json:"increment"`
	SelectedValue string `json:"selected_value"`
}

func (p *NumberParameter) ToWire() any {
	return wireNumber{
		wireHeader:    headerFor(p.cfg, WidgetNumber),
		Min:           p.Option.Min.String(),
		Max:           p.Option.Max.String(),
		Increment:     p.Option.Increment.String(),
		SelectedValue: p.SelectedValue.String(),
	}
}

// NumberRangeParameter holds an ordered [lower, upper] pair.
type NumberRangeParameter struct {
	cfg           *NumberRangeConfig
	Option        NumberRangeOption
	SelectedLower decimal.Decimal
	SelectedUpper decimal.Decimal
}

func (p *NumberRangeParameter) Config() Config        { return p.cfg }
func (p *NumberRangeParameter) Name() string          { return p.cfg.Name }
func (p *NumberRangeParameter) Enabled() bool         { return true }
func (p *NumberRangeParameter) SelectedIDs() []string { return nil }

func (p *NumberRangeParameter) SelectionString() (string, bool) {
	b, err := json.Marshal([]string{p.SelectedLower.String(), p.SelectedUpper.String()})
	if err != nil {
		return "", false
	}
	return string(b), true
}

type wireNumberRange struct {
	wireHeader
	Min           string `json:"min_value"`
	Max           string `json:"max_value"`
	Increment     string `json:"increment"`
	SelectedLower string `json:"selected_lower_value"`
	SelectedUpper string `json:"selected_upper_value"`
}

func (p *NumberRangeParameter) ToWire() any {
	return wireNumberRange{
		wireHeader:    headerFor(p.cfg, WidgetNumberRange),
		Min:           p.Option.Min.String(),
		Max:           p.Option.Max.String(),
		Increment:     p.Option.Increment.String(),
		SelectedLower: p.SelectedLower.String(),
		SelectedUpper: p.SelectedUpper.String(),
	}
}

// TextParameter holds user-entered text behind the TextValue wrapper.
type TextParameter struct {
	cfg         *TextConfig
	Option      TextOption
	EnteredText TextValue
}

func (p *TextParameter) Config() Config        { return p.cfg }
func (p *TextParameter) Name() string          { return p.cfg.Name }
func (p *TextParameter) Enabled() bool         { return true }
func (p *TextParameter) SelectedIDs() []string { return nil }

func (p *TextParameter) SelectionString() (string, bool) {
	return p.EnteredText.raw, true
}

// Text returns the wrapped value for placeholder binding.
func (p *TextParameter) Text() TextValue {
	return p.EnteredText
}

type wireText struct {
	wireHeader
	EnteredText string `json:"entered_text"`
	InputType   string `json:"input_type"`
}

func (p *TextParameter) ToWire() any {
	return wireText{
		wireHeader:  headerFor(p.cfg, WidgetText),
		EnteredText: p.EnteredText.raw,
		InputType:   p.Option.inputType(),
	}
}
