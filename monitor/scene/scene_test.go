package scene

import (
	"errors"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeNormalizesPrecision(t *testing.T) {
	want := time.Date(2024, 1, 28, 4, 29, 49, 123456000, time.UTC)
	for _, value := range []string{
		"2024-01-28T04:29:49.123456Z",
		"2024-01-28T04:29:49.123456789Z",
		"2024-01-28T04:29:49.1234567+00:00",
		"2024-01-28T06:29:49.123456+02:00",
		"2024-01-28T04:29:49.123456",
	} {
		got, err := ParseTime(value)
		require.NoError(t, err, value)
		assert.True(t, got.Equal(want), "%s parsed as %s", value, got)
		assert.Equal(t, time.UTC, got.Location())
	}

	whole, err := ParseTime("2024-01-28T04:29:49Z")
	require.NoError(t, err)
	assert.Equal(t, 0, whole.Nanosecond())
}

func TestParseTimeRejectsGarbage(t *testing.T) {
	for _, value := range []string{"", "yesterday", "2024-13-45T00:00:00Z"} {
		_, err := ParseTime(value)
		require.Error(t, err, value)
		assert.True(t, errors.Is(err, ErrMalformed))
	}
}

func TestParseNameLandsat(t *testing.T) {
	attrs, err := ParseName("LC08_L1TP_138041_20240128_20240207_02_T1")
	require.NoError(t, err)
	assert.Equal(t, MissionLandsat, attrs.Mission)
	assert.Equal(t, "138041", attrs.Tile)
	assert.Equal(t, 138, attrs.RelativeOrbit)
	assert.Equal(t, "T1", attrs.Tier)
	assert.Equal(t, time.Date(2024, 1, 28, 0, 0, 0, 0, time.UTC), attrs.Acquired)
}

func TestParseNameLandsatNonOLIIsUnknown(t *testing.T) {
	attrs, err := ParseName("LE07_L1TP_138041_20200128_20200207_02_T1")
	require.NoError(t, err)
	assert.Equal(t, MissionUnknown, attrs.Mission)
}

func TestParseNameSentinel2(t *testing.T) {
	attrs, err := ParseName("S2B_MSIL1C_20200315T152259_N0209_R039_T13CES_20200315T181115.SAFE")
	require.NoError(t, err)
	assert.Equal(t, "S2B_MSIL1C_20200315T152259_N0209_R039_T13CES_20200315T181115", attrs.ID)
	assert.Equal(t, MissionSentinel2, attrs.Mission)
	assert.Equal(t, "13CES", attrs.Tile)
	assert.Equal(t, 39, attrs.RelativeOrbit)
	assert.Equal(t, "MSIL1C", attrs.Tier)
	assert.Equal(t, "N0209", attrs.Campaign)
	assert.Equal(t, time.Date(2020, 3, 15, 15, 22, 59, 0, time.UTC), attrs.Acquired)
}

func TestParseNameSentinel1Burst(t *testing.T) {
	attrs, err := ParseName("S1_247728_IW1_20251003T154900_VV_657C-BURST")
	require.NoError(t, err)
	assert.Equal(t, MissionSentinel1, attrs.Mission)
	assert.Equal(t, "VV", attrs.Tier)
	assert.Empty(t, attrs.Tile)
}

func TestParseNameMalformed(t *testing.T) {
	for _, id := range []string{
		"",
		"LC08_L1TP_13804_20240128_20240207_02_T1",
		"LC08_L1TP_138041_2024012_20240207_02_T1",
		"S2B_MSIL1C_20200315_N0209_R039_T13CES_20200315T181115",
		"S1_247728_IW1_20251003T154900_VV",
	} {
		_, err := ParseName(id)
		require.Error(t, err, id)
		assert.True(t, errors.Is(err, ErrMalformed), id)
	}
}

func TestParseNameUnknownFamily(t *testing.T) {
	attrs, err := ParseName("MOD09GA.A2024001.h10v04")
	require.NoError(t, err)
	assert.Equal(t, MissionUnknown, attrs.Mission)
	assert.Equal(t, "MOD09GA.A2024001.h10v04", attrs.ID)
}

func TestDescriptorIsImmutable(t *testing.T) {
	metrics := map[string]float64{MetricCloudCover: 12}
	footprint := orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}
	d, err := New(Attributes{ID: "a", Mission: MissionLandsat, Footprint: footprint, Metrics: metrics})
	require.NoError(t, err)

	metrics[MetricCloudCover] = 99
	footprint[0][0] = orb.Point{50, 50}
	d.Footprint()[0][1] = orb.Point{60, 60}

	cc, ok := d.Metric(MetricCloudCover)
	require.True(t, ok)
	assert.Equal(t, 12.0, cc)
	assert.Equal(t, orb.Point{0, 0}, d.Footprint()[0][0])
	assert.Equal(t, orb.Point{1, 0}, d.Footprint()[0][1])
}

func TestDescriptorNegativeMetricIsUnknown(t *testing.T) {
	d := MustNew(Attributes{ID: "a", Metrics: map[string]float64{MetricCloudCover: -1}})
	_, ok := d.Metric(MetricCloudCover)
	assert.False(t, ok)
	_, ok = d.Metric(MetricDataCoverage)
	assert.False(t, ok)
}

func TestNewRejectsEmptyID(t *testing.T) {
	_, err := New(Attributes{})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestMergeKeepsNameAttributes(t *testing.T) {
	base, err := ParseName("S2B_MSIL1C_20200315T152259_N0209_R039_T13CES_20200315T181115")
	require.NoError(t, err)
	precise := time.Date(2020, 3, 15, 15, 22, 59, 24000, time.UTC)
	merged := Merge(base, Attributes{
		ID:       "ignored",
		Acquired: precise,
		Metrics:  map[string]float64{MetricCloudCover: 4},
	})
	assert.Equal(t, base.ID, merged.ID)
	assert.Equal(t, "13CES", merged.Tile)
	assert.Equal(t, precise, merged.Acquired)
	assert.Equal(t, 4.0, merged.Metrics[MetricCloudCover])
}
