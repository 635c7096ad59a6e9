package locate

import (
	"cmp"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Trial is one field measurement: three sensors with measured ranges and
// the attacker's surveyed position.
type Trial struct {
	Name     string      `json:"name" yaml:"name"`
	Layout   string      `json:"layout" yaml:"layout"`
	Exponent float64     `json:"exponent" yaml:"exponent"`
	Expected Point       `json:"expected" yaml:"expected"`
	Sensors  []Reference `json:"sensors" yaml:"sensors"`
}

type TrialResult struct {
	Trial    Trial   `json:"trial"`
	Status   Status  `json:"status"`
	Estimate Point   `json:"estimate"`
	Error    float64 `json:"error"`
}

// Summary describes a set of localization errors in metres.
type Summary struct {
	N      int     `json:"n"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

type Group struct {
	Key     string  `json:"key"`
	Summary Summary `json:"summary"`
}

// Evaluate trilaterates every trial that has exactly three sensors.
// Trials that cannot be solved carry their status and no error value.
func Evaluate(trials []Trial) []TrialResult {
	out := make([]TrialResult, 0, len(trials))
	for _, t := range trials {
		r := TrialResult{Trial: t, Status: StatusInsufficient}
		if len(t.Sensors) == 3 {
			p, err := Trilaterate(t.Sensors[0], t.Sensors[1], t.Sensors[2])
			if err != nil {
				r.Status = StatusIndeterminate
			} else {
				r.Status = StatusOK
				r.Estimate = p
				r.Error = p.Dist(t.Expected)
			}
		}
		out = append(out, r)
	}
	return out
}

// Summarize returns the zero Summary for no input. The median of an even
// count is the mean of the two middle values.
func Summarize(errs []float64) Summary {
	if len(errs) == 0 {
		return Summary{}
	}
	sorted := slices.Clone(errs)
	slices.Sort(sorted)
	n := len(sorted)
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return Summary{
		N:      n,
		Mean:   stat.Mean(sorted, nil),
		Median: median,
		Min:    floats.Min(sorted),
		Max:    floats.Max(sorted),
	}
}

// SummarizeBy groups solved results by key and summarises each group.
// Groups are ordered by key.
func SummarizeBy(results []TrialResult, key func(TrialResult) string) []Group {
	byKey := make(map[string][]float64)
	for _, r := range results {
		if r.Status != StatusOK {
			continue
		}
		k := key(r)
		byKey[k] = append(byKey[k], r.Error)
	}
	out := make([]Group, 0, len(byKey))
	for k, errs := range byKey {
		out = append(out, Group{Key: k, Summary: Summarize(errs)})
	}
	slices.SortFunc(out, func(a, b Group) int { return cmp.Compare(a.Key, b.Key) })
	return out
}
