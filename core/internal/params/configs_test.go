package params

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squirrels-analytics/squirrels-sub000/auth"
	"github.com/squirrels-analytics/squirrels-sub000/core/cerr"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func date(s string) time.Time {
	t, err := time.Parse(DateFormat, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestOptionValidity(t *testing.T) {
	open := BaseOption{}
	assert.True(t, open.IsValid(nil, nil))
	assert.True(t, open.IsValid([]string{"admins"}, []string{"x"}))

	gated := BaseOption{UserGroups: []string{"managers"}, ParentIDs: []string{"na", "eu"}}
	assert.False(t, gated.IsValid(nil, []string{"na"}))
	assert.False(t, gated.IsValid([]string{"managers"}, []string{"apac"}))
	assert.True(t, gated.IsValid([]string{"managers", "staff"}, []string{"eu"}))
}

func TestSingleSelectDefaults(t *testing.T) {
	cfg := &SingleSelectConfig{
		BaseConfig: BaseConfig{Name: "group_by", Label: "Group By"},
		Options: []SelectOption{
			{ID: "day", Label: "Day"},
			{ID: "month", Label: "Month", IsDefault: true},
			{ID: "year", Label: "Year"},
		},
	}

	p, err := cfg.WithSelection(NoSelection, nil, nil)
	require.NoError(t, err)
	sp := p.(*SingleSelectParameter)
	assert.Equal(t, "month", sp.SelectedID)
	assert.Equal(t, "Month", sp.SelectedLabel())

	p, err = cfg.WithSelection(Selection{Raw: "year", Present: true}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"year"}, p.SelectedIDs())

	_, err = cfg.WithSelection(Selection{Raw: "week", Present: true}, nil, nil)
	require.Error(t, err)
	assert.Equal(t, cerr.CodeInvalidParameterSelection, cerr.CodeOf(err))
}

func TestSingleSelectFirstVisibleDefault(t *testing.T) {
	cfg := &SingleSelectConfig{
		BaseConfig: BaseConfig{Name: "metric"},
		Options: []SelectOption{
			{ID: "internal", BaseOption: BaseOption{UserGroups: []string{"admins"}}, IsDefault: true},
			{ID: "revenue"},
		},
	}

	// no user attribute declared, so the group-gated default stays visible
	// only when its user-group filter passes; here it is filtered out
	p, err := cfg.WithSelection(NoSelection, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "revenue", p.(*SingleSelectParameter).SelectedID)
}

func TestMultiSelectSelections(t *testing.T) {
	cfg := &MultiSelectConfig{
		BaseConfig: BaseConfig{Name: "regions"},
		Options: []SelectOption{
			{ID: "na", IsDefault: true},
			{ID: "eu", IsDefault: true},
			{ID: "apac"},
		},
		NoneIsAll: true,
	}

	p, err := cfg.WithSelection(NoSelection, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"na", "eu"}, p.SelectedIDs())

	p, err = cfg.WithSelection(Selection{Raw: `["apac","na"]`, Present: true}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"apac", "na"}, p.SelectedIDs())

	p, err = cfg.WithSelection(Selection{Raw: "eu, apac", Present: true}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"eu", "apac"}, p.SelectedIDs())

	p, err = cfg.WithSelection(EmptySelection, nil, nil)
	require.NoError(t, err)
	mp := p.(*MultiSelectParameter)
	assert.Empty(t, mp.Selected)
	assert.True(t, mp.HasAllSelected())

	_, err = cfg.WithSelection(Selection{Raw: `["mars"]`, Present: true}, nil, nil)
	assert.Equal(t, cerr.CodeInvalidParameterSelection, cerr.CodeOf(err))
}

func TestUserAttributeGating(t *testing.T) {
	cfg := &SingleSelectConfig{
		BaseConfig: BaseConfig{Name: "team_view", UserAttribute: "department"},
		Options: []SelectOption{
			{ID: "sales", BaseOption: BaseOption{UserGroups: []string{"sales"}}},
			{ID: "eng", BaseOption: BaseOption{UserGroups: []string{"engineering"}}},
		},
	}

	// guest: user attribute declared but no user, parameter disables
	p, err := cfg.WithSelection(NoSelection, nil, nil)
	require.NoError(t, err)
	assert.False(t, p.Enabled())

	u := &auth.User{Username: "ana", Attributes: map[string]any{"department": "engineering"}}
	p, err = cfg.WithSelection(NoSelection, u, nil)
	require.NoError(t, err)
	require.True(t, p.Enabled())
	assert.Equal(t, "eng", p.(*SingleSelectParameter).SelectedID)
}

func TestDateBounds(t *testing.T) {
	min, max := date("2024-01-01"), date("2024-12-31")
	cfg := &DateConfig{
		BaseConfig: BaseConfig{Name: "as_of"},
		Options: []DateOption{
			{DefaultDate: date("2024-06-15"), MinDate: &min, MaxDate: &max},
		},
	}

	p, err := cfg.WithSelection(NoSelection, nil, nil)
	require.NoError(t, err)
	s, ok := p.SelectionString()
	require.True(t, ok)
	assert.Equal(t, "2024-06-15", s)

	_, err = cfg.WithSelection(Selection{Raw: "2025-01-01", Present: true}, nil, nil)
	assert.Equal(t, cerr.CodeInvalidParameterSelection, cerr.CodeOf(err))

	_, err = cfg.WithSelection(Selection{Raw: "06/15/2024", Present: true}, nil, nil)
	assert.Equal(t, cerr.CodeInvalidParameterSelection, cerr.CodeOf(err))
}

func TestDateRangeOrdering(t *testing.T) {
	cfg := &DateRangeConfig{
		BaseConfig: BaseConfig{Name: "window"},
		Options: []DateRangeOption{
			{DefaultStart: date("2024-01-01"), DefaultEnd: date("2024-03-31")},
		},
	}

	_, err := cfg.WithSelection(Selection{Raw: `["2024-05-01","2024-04-01"]`, Present: true}, nil, nil)
	assert.Equal(t, cerr.CodeInvalidParameterSelection, cerr.CodeOf(err))

	p, err := cfg.WithSelection(Selection{Raw: `["2024-04-01","2024-05-01"]`, Present: true}, nil, nil)
	require.NoError(t, err)
	s, _ := p.SelectionString()
	assert.JSONEq(t, `["2024-04-01","2024-05-01"]`, s)
}

func TestNumberLattice(t *testing.T) {
	opt := NumberOption{Min: dec("0"), Max: dec("10"), Increment: dec("0.5"), DefaultValue: dec("2")}
	require.NoError(t, opt.Validate("limit"))

	bad := NumberOption{Min: dec("0"), Max: dec("10"), Increment: dec("3")}
	require.Error(t, bad.Validate("limit"))

	cfg := &NumberConfig{BaseConfig: BaseConfig{Name: "limit"}, Options: []NumberOption{opt}}

	p, err := cfg.WithSelection(Selection{Raw: "7.5", Present: true}, nil, nil)
	require.NoError(t, err)
	s, _ := p.SelectionString()
	assert.Equal(t, "7.5", s)

	for _, raw := range []string{"7.3", "-1", "10.5", "abc"} {
		_, err := cfg.WithSelection(Selection{Raw: raw, Present: true}, nil, nil)
		assert.Equal(t, cerr.CodeInvalidParameterSelection, cerr.CodeOf(err), "raw=%s", raw)
	}
}

func TestNumberRangeOrdering(t *testing.T) {
	cfg := &NumberRangeConfig{
		BaseConfig: BaseConfig{Name: "price"},
		Options: []NumberRangeOption{
			{Min: dec("0"), Max: dec("100"), Increment: dec("5"), DefaultLower: dec("10"), DefaultUpper: dec("90")},
		},
	}

	_, err := cfg.WithSelection(Selection{Raw: "50,25", Present: true}, nil, nil)
	assert.Equal(t, cerr.CodeInvalidParameterSelection, cerr.CodeOf(err))

	p, err := cfg.WithSelection(Selection{Raw: "25,50", Present: true}, nil, nil)
	require.NoError(t, err)
	rp := p.(*NumberRangeParameter)
	assert.True(t, rp.SelectedLower.Equal(dec("25")))
	assert.True(t, rp.SelectedUpper.Equal(dec("50")))
}

func TestTextInputValidation(t *testing.T) {
	cases := []struct {
		inputType string
		raw       string
		ok        bool
	}{
		{"text", "anything goes", true},
		{"number", "42", true},
		{"number", "4.2", false},
		{"color", "#a1B2c3", true},
		{"color", "red", false},
		{"date", "2024-02-29", true},
		{"date", "2024-13-01", false},
		{"time", "23:59", true},
		{"month", "2024-07", true},
	}

	for _, tc := range cases {
		cfg := &TextConfig{
			BaseConfig: BaseConfig{Name: "note"},
			Options:    []TextOption{{InputType: tc.inputType}},
		}
		_, err := cfg.WithSelection(Selection{Raw: tc.raw, Present: true}, nil, nil)
		if tc.ok {
			assert.NoError(t, err, "%s %q", tc.inputType, tc.raw)
		} else {
			assert.Equal(t, cerr.CodeInvalidParameterSelection, cerr.CodeOf(err), "%s %q", tc.inputType, tc.raw)
		}
	}
}

func TestTextValueRefusesCoercion(t *testing.T) {
	cfg := &TextConfig{BaseConfig: BaseConfig{Name: "q"}, Options: []TextOption{{}}}
	p, err := cfg.WithSelection(Selection{Raw: "o'brien; DROP TABLE", Present: true}, nil, nil)
	require.NoError(t, err)

	sink := placeholderMap{}
	p.(*TextParameter).Text().Bind("q", sink)
	assert.Equal(t, "o'brien; DROP TABLE", sink["q"])
}

type placeholderMap map[string]any

func (m placeholderMap) SetPlaceholder(name string, value any) { m[name] = value }

func TestConfigSetGraph(t *testing.T) {
	set := NewConfigSet()

	region := &SingleSelectConfig{
		BaseConfig: BaseConfig{Name: "region"},
		Options:    []SelectOption{{ID: "na"}, {ID: "eu"}},
	}
	require.NoError(t, set.Add(region))
	assert.False(t, region.Refresh)

	require.Error(t, set.Add(&SingleSelectConfig{BaseConfig: BaseConfig{Name: "region"}}),
		"duplicate names must be rejected")

	require.Error(t, set.Add(&SingleSelectConfig{
		BaseConfig: BaseConfig{Name: "city", ParentName: "country"},
	}), "unknown parents must be rejected")

	city := &SingleSelectConfig{
		BaseConfig: BaseConfig{Name: "city", ParentName: "region"},
		Options:    []SelectOption{{ID: "nyc", BaseOption: BaseOption{ParentIDs: []string{"na"}}}},
	}
	require.NoError(t, set.Add(city))
	assert.True(t, region.Refresh, "declaring a child flips the parent's trigger_refresh")
	assert.Equal(t, []string{"city"}, set.Children("region"))

	multi := &MultiSelectConfig{
		BaseConfig: BaseConfig{Name: "tags"},
		Options:    []SelectOption{{ID: "a"}},
	}
	require.NoError(t, set.Add(multi))

	err := set.Add(&DateConfig{
		BaseConfig: BaseConfig{Name: "as_of", ParentName: "tags"},
		Options:    []DateOption{{DefaultDate: date("2024-01-01")}},
	})
	require.Error(t, err, "multi-select parents only accept select children")

	err = set.Add(&DateConfig{
		BaseConfig: BaseConfig{Name: "as_of", ParentName: "region"},
		Options: []DateOption{
			{BaseOption: BaseOption{ParentIDs: []string{"na"}}, DefaultDate: date("2024-01-01")},
			{BaseOption: BaseOption{ParentIDs: []string{"na"}}, DefaultDate: date("2024-02-01")},
		},
	})
	require.Error(t, err, "non-select children may not reuse an option key")
}
