package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataSourceConvertSelect(t *testing.T) {
	ds := &DataSourceParamConfig{
		BaseConfig:   BaseConfig{Name: "product", Label: "Product"},
		Widget:       WidgetSingleSelect,
		TableOrQuery: "seed_products",
		IDCol:        "product_id",
		LabelCol:     "product_name",
		IsDefaultCol: "is_default",
		OrderByCol:   "ordering",
		UserGroupCol: "user_group",
		ParentIDCol:  "category_id",
	}

	rows := []Row{
		{"product_id": "p2", "product_name": "Widget", "is_default": int64(0), "ordering": int64(2), "user_group": "sales", "category_id": "c1"},
		{"product_id": "p1", "product_name": nil, "is_default": int64(1), "ordering": int64(1), "user_group": "sales", "category_id": "c1"},
		{"product_id": "p1", "product_name": "Gadget", "is_default": int64(1), "ordering": int64(1), "user_group": "support", "category_id": "c2"},
	}

	cfg, err := ds.Convert(rows)
	require.NoError(t, err)

	sc, ok := cfg.(*SingleSelectConfig)
	require.True(t, ok)
	assert.Equal(t, "product", sc.Name)
	require.Len(t, sc.Options, 2)

	// sorted by ordering, so p1 (ordering 1) first despite appearing second
	p1 := sc.Options[0]
	assert.Equal(t, "p1", p1.ID)
	assert.Equal(t, "Gadget", p1.Label, "label is the first non-null value in the group")
	assert.True(t, p1.IsDefault)
	assert.Equal(t, []string{"sales", "support"}, p1.UserGroups, "groups accumulate as an ordered set")
	assert.Equal(t, []string{"c1", "c2"}, p1.ParentIDs)

	assert.Equal(t, "p2", sc.Options[1].ID)
}

func TestDataSourceConvertMultiSelectExtras(t *testing.T) {
	ds := &DataSourceParamConfig{
		BaseConfig:    BaseConfig{Name: "tags"},
		Widget:        WidgetMultiSelect,
		TableOrQuery:  "seed_tags",
		IDCol:         "id",
		LabelCol:      "name",
		ShowSelectAll: true,
		NoneIsAll:     true,
	}

	cfg, err := ds.Convert([]Row{
		{"id": "a", "name": "Alpha"},
		{"id": "b", "name": "Beta"},
	})
	require.NoError(t, err)

	mc, ok := cfg.(*MultiSelectConfig)
	require.True(t, ok)
	assert.True(t, mc.ShowSelectAll)
	assert.True(t, mc.NoneIsAll)
	assert.Len(t, mc.Options, 2)
}

func TestDataSourceSortTiesKeepInputOrder(t *testing.T) {
	ds := &DataSourceParamConfig{
		BaseConfig:   BaseConfig{Name: "status"},
		Widget:       WidgetSingleSelect,
		TableOrQuery: "seed_status",
		IDCol:        "id",
		OrderByCol:   "rank",
	}

	cfg, err := ds.Convert([]Row{
		{"id": "open", "rank": int64(1)},
		{"id": "stale", "rank": int64(1)},
		{"id": "closed", "rank": int64(0)},
	})
	require.NoError(t, err)

	sc := cfg.(*SingleSelectConfig)
	ids := []string{sc.Options[0].ID, sc.Options[1].ID, sc.Options[2].ID}
	assert.Equal(t, []string{"closed", "open", "stale"}, ids)
}

func TestDataSourceConvertNumber(t *testing.T) {
	ds := &DataSourceParamConfig{
		BaseConfig:      BaseConfig{Name: "limit"},
		Widget:          WidgetNumber,
		TableOrQuery:    "SELECT min_v, max_v, inc, def FROM bounds",
		MinValueCol:     "min_v",
		MaxValueCol:     "max_v",
		IncrementCol:    "inc",
		DefaultValueCol: "def",
	}

	cfg, err := ds.Convert([]Row{
		{"min_v": "0", "max_v": "100", "inc": "5", "def": "25"},
	})
	require.NoError(t, err)

	nc := cfg.(*NumberConfig)
	require.Len(t, nc.Options, 1)
	assert.True(t, nc.Options[0].DefaultValue.Equal(dec("25")))

	// a lattice violation in the source data is a configuration error
	_, err = ds.Convert([]Row{
		{"min_v": "0", "max_v": "100", "inc": "7", "def": "25"},
	})
	require.Error(t, err)
}

func TestDataSourceConvertDate(t *testing.T) {
	ds := &DataSourceParamConfig{
		BaseConfig:     BaseConfig{Name: "as_of"},
		Widget:         WidgetDate,
		TableOrQuery:   "seed_dates",
		DefaultDateCol: "def",
		MinDateCol:     "min_d",
		MaxDateCol:     "max_d",
	}

	cfg, err := ds.Convert([]Row{
		{"def": "2024-06-15", "min_d": "2024-01-01", "max_d": "2024-12-31"},
	})
	require.NoError(t, err)

	dc := cfg.(*DateConfig)
	require.Len(t, dc.Options, 1)
	assert.Equal(t, date("2024-06-15"), dc.Options[0].DefaultDate)
	require.NotNil(t, dc.Options[0].MinDate)

	_, err = ds.Convert([]Row{{"def": "June 15", "min_d": nil, "max_d": nil}})
	require.Error(t, err)
}

func TestDataSourceQuery(t *testing.T) {
	table := &DataSourceParamConfig{TableOrQuery: "seed_products"}
	assert.Equal(t, "SELECT * FROM seed_products", table.Query())

	query := &DataSourceParamConfig{TableOrQuery: "select id from t where x = 1"}
	assert.Equal(t, "select id from t where x = 1", query.Query())
}

func TestDataSourceUnknownWidget(t *testing.T) {
	ds := &DataSourceParamConfig{BaseConfig: BaseConfig{Name: "x"}, Widget: "slider"}
	_, err := ds.Convert(nil)
	require.Error(t, err)
}
