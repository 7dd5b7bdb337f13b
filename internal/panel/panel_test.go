package panel

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var canonicalOrder = []string{
	"WBC", "RBC", "HGB", "HCT", "MCV", "MCH", "MCHC", "PLT",
	"LYMPH%", "MONO%", "NEUT%", "EO%", "BASO%",
	"LYMPH#", "MONO#", "NEUT#", "EO#", "BASO#",
	"RDW-CV", "PDW", "MPV", "PCT", "P-LCR", "CRP",
}

var exampleValues = []float64{
	6.5, 4.5, 130.0, 40.0, 90.0, 30.0, 330.0, 250.0, 35.0, 8.0,
	55.0, 2.0, 0.5, 2.0, 0.5, 3.5, 0.1, 0.03, 13.0, 10.0, 10.0, 0.2, 30.0, 5.0,
}

func TestCanonicalOrder(t *testing.T) {
	require.Len(t, Names, Size)
	assert.Equal(t, canonicalOrder, Names)

	for i, name := range canonicalOrder {
		idx, ok := Index(name)
		require.True(t, ok, name)
		assert.Equal(t, i, idx)
	}
}

func TestDefaultsMatchExamplePanel(t *testing.T) {
	assert.Equal(t, Vector(exampleValues), Defaults())
}

func TestDefaultsWith(t *testing.T) {
	v, err := DefaultsWith(map[string]float64{"CRP": 12.5, "WBC": 9})
	require.NoError(t, err)

	crp, _ := v.Value("CRP")
	wbc, _ := v.Value("WBC")
	assert.Equal(t, 12.5, crp)
	assert.Equal(t, 9.0, wbc)

	_, err = DefaultsWith(map[string]float64{"ESR": 1})
	assert.True(t, errors.Is(err, ErrUnknownFeature))
}

func TestFromValues(t *testing.T) {
	values := make(map[string]float64, Size)
	for i, name := range canonicalOrder {
		values[name] = exampleValues[i]
	}

	t.Run("complete panel keeps canonical order", func(t *testing.T) {
		v, err := FromValues(values)
		require.NoError(t, err)
		assert.Equal(t, Vector(exampleValues), v)
	})

	t.Run("missing feature is named", func(t *testing.T) {
		partial := make(map[string]float64, len(values))
		for k, val := range values {
			partial[k] = val
		}
		delete(partial, "CRP")
		delete(partial, "HGB")

		_, err := FromValues(partial)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMissingFeature))
		assert.Contains(t, err.Error(), "HGB, CRP")
	})

	t.Run("unknown feature is rejected", func(t *testing.T) {
		extra := map[string]float64{"ESR": 10}
		for k, val := range values {
			extra[k] = val
		}
		_, err := FromValues(extra)
		assert.True(t, errors.Is(err, ErrUnknownFeature))
	})
}

func TestFromSlice(t *testing.T) {
	v, err := FromSlice(exampleValues)
	require.NoError(t, err)
	assert.Equal(t, Vector(exampleValues), v)

	// the returned vector must not alias the input
	v[0] = 100
	assert.Equal(t, 6.5, exampleValues[0])

	for _, n := range []int{0, 23, 25} {
		_, err := FromSlice(make([]float64, n))
		assert.True(t, errors.Is(err, ErrLength), "length %d", n)
	}
}

func TestVectorMapRoundTrip(t *testing.T) {
	v := Defaults()
	back, err := FromValues(v.Map())
	require.NoError(t, err)
	assert.Equal(t, v, back)
}

func TestOutOfRange(t *testing.T) {
	assert.Empty(t, Defaults().OutOfRange())

	v := Defaults()
	v[0] = -1          // WBC
	v[23] = math.NaN() // CRP
	assert.Equal(t, []string{"WBC", "CRP"}, v.OutOfRange())
}

func TestGroupsCoverPanel(t *testing.T) {
	seen := 0
	grouped := Grouped()
	for _, column := range Columns {
		for _, group := range column {
			seen += len(grouped[group])
		}
	}
	assert.Equal(t, Size, seen)
	assert.Equal(t, []string{"WBC", "RBC", "HGB", "HCT", "PLT"}, names(grouped[GroupCBCBasics]))
	assert.Equal(t, []string{"CRP"}, names(grouped[GroupInflammation]))
}

func TestFeatureLabel(t *testing.T) {
	f, ok := Lookup("WBC")
	require.True(t, ok)
	assert.Equal(t, "WBC (10^9/L)", f.Label())

	f, ok = Lookup("LYMPH#")
	require.True(t, ok)
	assert.Equal(t, "LYMPH#", f.Label())

	_, ok = Lookup("ESR")
	assert.False(t, ok)
}

func names(fs []Feature) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.Name
	}
	return out
}
