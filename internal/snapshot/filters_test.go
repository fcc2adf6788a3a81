package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func row(symbol string, fields map[string]interface{}) Row {
	r := Row{"symbol": symbol}
	for k, v := range fields {
		r[k] = v
	}
	return r
}

func TestFilterFor_UnknownCategoryFallsBackToDefault(t *testing.T) {
	f := FilterFor("not_a_real_category")
	assert.Equal(t, "default", f.Name)
}

func TestFilterFor_KnownCategory(t *testing.T) {
	f := FilterFor("gappers_up")
	assert.Equal(t, "gappers_up", f.Name)
	assert.False(t, f.Ascending)
}

func TestGappersUp_FiltersAndSortsDescending(t *testing.T) {
	universe := []Row{
		row("A", map[string]interface{}{"gap": 2.0}),
		row("B", map[string]interface{}{"gap": -1.0}),
		row("C", map[string]interface{}{"gap": 5.0}),
	}

	result := FilterFor("gappers_up").Apply(universe)
	assert.Len(t, result, 2)
	assert.Equal(t, "C", result[0].Symbol())
	assert.Equal(t, "A", result[1].Symbol())
}

func TestGappersDown_FiltersAndSortsAscending(t *testing.T) {
	universe := []Row{
		row("A", map[string]interface{}{"gap": 2.0}),
		row("B", map[string]interface{}{"gap": -1.0}),
		row("C", map[string]interface{}{"gap": -5.0}),
	}

	result := FilterFor("gappers_down").Apply(universe)
	assert.Len(t, result, 2)
	assert.Equal(t, "C", result[0].Symbol())
	assert.Equal(t, "B", result[1].Symbol())
}

func TestWinners_RequiresChangeAboveFivePercent(t *testing.T) {
	universe := []Row{
		row("A", map[string]interface{}{"change": 6.0}),
		row("B", map[string]interface{}{"change": 4.9}),
		row("C", map[string]interface{}{"change": 5.1}),
	}

	result := FilterFor("winners").Apply(universe)
	assert.Len(t, result, 2)
	assert.Equal(t, "A", result[0].Symbol())
	assert.Equal(t, "C", result[1].Symbol())
}

func TestNewHighs_NearTolerance(t *testing.T) {
	universe := []Row{
		row("AtHigh", map[string]interface{}{"price": 100.0, "high": 100.5}), // within 1%
		row("FarFromHigh", map[string]interface{}{"price": 80.0, "high": 100.0}),
	}

	result := FilterFor("new_highs").Apply(universe)
	assert.Len(t, result, 1)
	assert.Equal(t, "AtHigh", result[0].Symbol())
}

func TestNear_ZeroTargetNeverMatches(t *testing.T) {
	assert.False(t, near(0, 0, 0.01))
}

func TestAnomalies_MatchesOnEitherHighVolumeOrBigMove(t *testing.T) {
	universe := []Row{
		row("HighVol", map[string]interface{}{"relative_volume": 6.0, "change": 1.0}),
		row("BigMove", map[string]interface{}{"relative_volume": 1.0, "change": -11.0}),
		row("Neither", map[string]interface{}{"relative_volume": 1.0, "change": 1.0}),
	}

	result := FilterFor("anomalies").Apply(universe)
	assert.Len(t, result, 2)
}

func TestApply_RespectsLimit(t *testing.T) {
	f := CategoryFilter{
		Name:      "capped",
		Predicate: func(r Row) bool { return true },
		SortKey:   func(r Row) float64 { return r.Float("change") },
		Ascending: false,
		Limit:     2,
	}

	universe := []Row{
		row("A", map[string]interface{}{"change": 1.0}),
		row("B", map[string]interface{}{"change": 2.0}),
		row("C", map[string]interface{}{"change": 3.0}),
	}

	result := f.Apply(universe)
	assert.Len(t, result, 2)
	assert.Equal(t, "C", result[0].Symbol())
	assert.Equal(t, "B", result[1].Symbol())
}

func TestRow_FloatMissingOrNonNumeric(t *testing.T) {
	r := Row{"symbol": "X", "note": "not-a-number"}
	assert.Equal(t, 0.0, r.Float("missing"))
	assert.Equal(t, 0.0, r.Float("note"))
}
