package snapshot

import "sort"

// CategoryFilter is a (predicate, sort-key, direction, limit) tuple
// applied over the full filtered universe when a per-category cache is
// missing, per spec.md §4.4's "Fallback category filters".
type CategoryFilter struct {
	Name      string
	Predicate func(Row) bool
	SortKey   func(Row) float64
	Ascending bool
	Limit     int
}

const defaultCategoryLimit = 100

func near(value, target, tolerance float64) bool {
	if target == 0 {
		return false
	}
	diff := value - target
	if diff < 0 {
		diff = -diff
	}
	return diff/target <= tolerance
}

// categoryFilters is the canonical set named in spec.md §4.4. Order is
// insignificant; lookup is by name.
var categoryFilters = map[string]CategoryFilter{
	"gappers_up": {
		Name:      "gappers_up",
		Predicate: func(r Row) bool { return r.Float("gap") > 0 },
		SortKey:   func(r Row) float64 { return r.Float("gap") },
		Ascending: false,
		Limit:     defaultCategoryLimit,
	},
	"gappers_down": {
		Name:      "gappers_down",
		Predicate: func(r Row) bool { return r.Float("gap") < 0 },
		SortKey:   func(r Row) float64 { return r.Float("gap") },
		Ascending: true,
		Limit:     defaultCategoryLimit,
	},
	"momentum_up": {
		Name:      "momentum_up",
		Predicate: func(r Row) bool { return true },
		SortKey:   func(r Row) float64 { return r.Float("change") },
		Ascending: false,
		Limit:     defaultCategoryLimit,
	},
	"momentum_down": {
		Name:      "momentum_down",
		Predicate: func(r Row) bool { return true },
		SortKey:   func(r Row) float64 { return r.Float("change") },
		Ascending: true,
		Limit:     defaultCategoryLimit,
	},
	"winners": {
		Name:      "winners",
		Predicate: func(r Row) bool { return r.Float("change") > 5 },
		SortKey:   func(r Row) float64 { return r.Float("change") },
		Ascending: false,
		Limit:     defaultCategoryLimit,
	},
	"losers": {
		Name:      "losers",
		Predicate: func(r Row) bool { return r.Float("change") < -5 },
		SortKey:   func(r Row) float64 { return r.Float("change") },
		Ascending: true,
		Limit:     defaultCategoryLimit,
	},
	"high_volume": {
		Name:      "high_volume",
		Predicate: func(r Row) bool { return r.Float("relative_volume") > 2 },
		SortKey:   func(r Row) float64 { return r.Float("relative_volume") },
		Ascending: false,
		Limit:     defaultCategoryLimit,
	},
	"new_highs": {
		Name:      "new_highs",
		Predicate: func(r Row) bool { return near(r.Float("price"), r.Float("high"), 0.01) },
		SortKey:   func(r Row) float64 { return -(r.Float("high") - r.Float("price")) },
		Ascending: false,
		Limit:     defaultCategoryLimit,
	},
	"new_lows": {
		Name:      "new_lows",
		Predicate: func(r Row) bool { return near(r.Float("price"), r.Float("low"), 0.01) },
		SortKey:   func(r Row) float64 { return r.Float("price") - r.Float("low") },
		Ascending: true,
		Limit:     defaultCategoryLimit,
	},
	"anomalies": {
		Name: "anomalies",
		Predicate: func(r Row) bool {
			change := r.Float("change")
			if change < 0 {
				change = -change
			}
			return r.Float("relative_volume") > 5 || change > 10
		},
		SortKey:   func(r Row) float64 { return r.Float("relative_volume") },
		Ascending: false,
		Limit:     defaultCategoryLimit,
	},
	"reversals": {
		Name:      "reversals",
		Predicate: func(r Row) bool { return r.Float("pullback_from_extreme") > 5 },
		SortKey:   func(r Row) float64 { return r.Float("pullback_from_extreme") },
		Ascending: false,
		Limit:     defaultCategoryLimit,
	},
}

// defaultFilter backs unknown categories: top 100 by score.
var defaultFilter = CategoryFilter{
	Name:      "default",
	Predicate: func(r Row) bool { return true },
	SortKey:   func(r Row) float64 { return r.Float("score") },
	Ascending: false,
	Limit:     defaultCategoryLimit,
}

// FilterFor returns the canonical filter for category, or the default
// top-by-score filter if category is unrecognized.
func FilterFor(category string) CategoryFilter {
	if f, ok := categoryFilters[category]; ok {
		return f
	}
	return defaultFilter
}

// Apply runs the filter over universe and returns the limited, sorted result.
func (f CategoryFilter) Apply(universe []Row) []Row {
	matched := make([]Row, 0, len(universe))
	for _, r := range universe {
		if f.Predicate(r) {
			matched = append(matched, r)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if f.Ascending {
			return f.SortKey(matched[i]) < f.SortKey(matched[j])
		}
		return f.SortKey(matched[i]) > f.SortKey(matched[j])
	})

	if len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched
}
