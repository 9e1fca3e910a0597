package calib

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSpace() Space {
	return Space{
		{Name: "key_emod000", Min: 20e9, Max: 60e9},
		{Name: "key_kratio", Min: 1.5, Max: 3.0},
		{Name: "key_fric", Min: 0.2, Max: 0.6},
	}
}

func TestSpaceValidate(t *testing.T) {
	tests := []struct {
		name    string
		space   Space
		wantErr bool
	}{
		{"valid", testSpace(), false},
		{"empty", Space{}, true},
		{"unnamed", Space{{Min: 0, Max: 1}}, true},
		{"duplicate", Space{{Name: "a", Min: 0, Max: 1}, {Name: "a", Min: 0, Max: 1}}, true},
		{"inverted bounds", Space{{Name: "a", Min: 2, Max: 1}}, true},
		{"nan bound", Space{{Name: "a", Min: math.NaN(), Max: 1}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.space.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVectorValidation(t *testing.T) {
	space := testSpace()

	_, err := space.Vector(Point{1, 2})
	assert.Error(t, err, "dimension mismatch must be rejected")

	_, err = space.Vector(Point{math.NaN(), 2, 0.3})
	var perr *ParameterError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "key_emod000", perr.Name)

	_, err = space.Vector(Point{math.Inf(1), 2, 0.3})
	assert.Error(t, err)
}

func TestCanonicalJSON(t *testing.T) {
	space := testSpace()
	pv, err := space.Vector(Point{40e9, 2.5, 0.4})
	require.NoError(t, err)

	// Keys sorted, large magnitudes as fixed-precision scientific strings,
	// the rest as plain numbers.
	want := `{"key_emod000": "4.000000e+10", "key_fric": 0.4, "key_kratio": 2.5}`
	assert.Equal(t, want, string(pv.CanonicalJSON()))
}

func TestCanonicalThreshold(t *testing.T) {
	space := Space{{Name: "p", Min: -1e12, Max: 1e12}}

	tests := []struct {
		value float64
		want  string
	}{
		{1e6, `{"p": "1.000000e+06"}`},
		{-2.5e6, `{"p": "-2.500000e+06"}`},
		{999999, `{"p": 999999}`},
		{0, `{"p": 0}`},
	}
	for _, tt := range tests {
		pv, err := space.Vector(Point{tt.value})
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(pv.CanonicalJSON()))
	}
}

func TestFingerprintDeterminism(t *testing.T) {
	space := testSpace()
	pv1, err := space.Vector(Point{40e9, 2.5, 0.4})
	require.NoError(t, err)
	pv2, err := space.Vector(Point{40e9, 2.5, 0.4})
	require.NoError(t, err)

	assert.Equal(t, pv1.Fingerprint(), pv2.Fingerprint())
	assert.Len(t, pv1.Fingerprint(), 64)

	pv3, err := space.Vector(Point{40e9, 2.5, 0.41})
	require.NoError(t, err)
	assert.NotEqual(t, pv1.Fingerprint(), pv3.Fingerprint())
}

func TestParamsFromCanonical(t *testing.T) {
	space := testSpace()

	// Values as stored in a cache entry: scientific strings for the large
	// magnitudes, numbers otherwise.
	raw := map[string]any{
		"key_emod000": "4.000000e+10",
		"key_kratio":  2.5,
		"key_fric":    0.4,
	}
	pv, err := space.ParamsFromCanonical(raw)
	require.NoError(t, err)
	assert.Equal(t, Point{4e10, 2.5, 0.4}, pv.Point())

	_, err = space.ParamsFromCanonical(map[string]any{"key_kratio": 2.5})
	assert.Error(t, err, "missing dimensions must be rejected")

	raw["key_fric"] = "not-a-number"
	_, err = space.ParamsFromCanonical(raw)
	assert.Error(t, err)

	raw["key_fric"] = true
	_, err = space.ParamsFromCanonical(raw)
	assert.Error(t, err)
}

func TestParameterVectorAccessors(t *testing.T) {
	space := testSpace()
	pv, err := space.Vector(Point{40e9, 2.5, 0.4})
	require.NoError(t, err)

	assert.Equal(t, 3, pv.Len())
	assert.Equal(t, []string{"key_emod000", "key_kratio", "key_fric"}, pv.Names())

	v, ok := pv.Value("key_kratio")
	assert.True(t, ok)
	assert.Equal(t, 2.5, v)

	_, ok = pv.Value("missing")
	assert.False(t, ok)

	assert.Equal(t, map[string]float64{"key_emod000": 40e9, "key_kratio": 2.5, "key_fric": 0.4}, pv.Map())
}
