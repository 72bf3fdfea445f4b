package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFrame() *DataFrame {
	return &DataFrame{
		Columns: []Column{{Name: "a", Type: "integer"}, {Name: "b", Type: "string"}},
		Rows: [][]any{
			{int64(1), "x"},
			{int64(2), "y"},
			{int64(3), "z"},
		},
	}
}

func TestPaginationLaws(t *testing.T) {
	df := sampleFrame()

	// concatenating pages reproduces the full result
	var got [][]any
	for offset := 0; offset < df.NumRows(); offset += 2 {
		got = append(got, df.Slice(offset, 2).Rows...)
	}
	assert.Equal(t, df.Rows, got)

	// limit 0 returns empty data with the schema intact
	empty := df.Slice(0, 0)
	assert.Zero(t, empty.NumRows())
	assert.Equal(t, df.Columns, empty.Columns)

	// offset past the end is empty, not a panic
	assert.Zero(t, df.Slice(10, 5).NumRows())
}

func TestOrientationLaw(t *testing.T) {
	df := sampleFrame()

	records, err := df.Orient(OrientRecords)
	require.NoError(t, err)
	rows, err := df.Orient(OrientRows)
	require.NoError(t, err)
	columns, err := df.Orient(OrientColumns)
	require.NoError(t, err)

	recs := records.([]map[string]any)
	rr := rows.([][]any)
	cols := columns.(map[string][]any)

	require.Len(t, recs, 3)
	for i := range recs {
		assert.Equal(t, rr[i][0], recs[i]["a"])
		assert.Equal(t, rr[i][1], recs[i]["b"])
		assert.Equal(t, rr[i][0], cols["a"][i])
		assert.Equal(t, rr[i][1], cols["b"][i])
	}

	_, err = df.Orient("sideways")
	require.Error(t, err)
}

func TestSelectProjection(t *testing.T) {
	df := sampleFrame()

	out, err := df.Select([]string{"b"})
	require.NoError(t, err)
	assert.Equal(t, []Column{{Name: "b", Type: "string"}}, out.Columns)
	assert.Equal(t, [][]any{{"x"}, {"y"}, {"z"}}, out.Rows)

	_, err = df.Select([]string{"c"})
	require.Error(t, err)

	same, err := df.Select(nil)
	require.NoError(t, err)
	assert.Same(t, df, same)
}

func TestLazyFrameMemoizes(t *testing.T) {
	calls := 0
	lf := NewLazyFrame(func() (*DataFrame, error) {
		calls++
		return sampleFrame(), nil
	})

	a, err := lf.Collect()
	require.NoError(t, err)
	b, err := lf.Collect()
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, calls)
}
