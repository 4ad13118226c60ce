package allocation

import (
	"math"
	"sort"

	"github.com/aristath/allocator/internal/domain"
)

// OtherGroup collects assets that belong to no group.
const OtherGroup = "OTHER"

// GroupExposure is the weight a portfolio puts on one group of assets.
type GroupExposure struct {
	Name      string  `json:"name" msgpack:"name"`
	Target    float64 `json:"target" msgpack:"target"`
	Weight    float64 `json:"weight" msgpack:"weight"`
	Deviation float64 `json:"deviation" msgpack:"deviation"`
}

// GroupExposures sums weights by user-defined groups. An asset listed in several groups
// splits its weight equally among them. Targets are optional; groups that only have a
// target are reported with zero weight.
func GroupExposures(w domain.Weights, groups map[string][]string, targets map[string]float64) []GroupExposure {
	assetToGroups := buildMultiGroupMapping(groups)
	values := aggregateByGroupMulti(w, assetToGroups)
	return buildGroupExposures(values, targets)
}

// buildMultiGroupMapping inverts group -> assets into asset -> groups.
//
//	{"Tech": ["AAPL"], "Growth": ["AAPL", "NVDA"]}
//	-> {"AAPL": ["Tech", "Growth"], "NVDA": ["Growth"]}
func buildMultiGroupMapping(groups map[string][]string) map[string][]string {
	result := make(map[string][]string)
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, asset := range groups[name] {
			result[asset] = append(result[asset], name)
		}
	}
	return result
}

// aggregateByGroupMulti sums weights by group, splitting an asset's weight equally
// among its groups.
func aggregateByGroupMulti(w domain.Weights, assetToGroups map[string][]string) map[string]float64 {
	groupValues := make(map[string]float64)
	for i, asset := range w.Assets {
		groups := assetToGroups[asset]
		if len(groups) == 0 {
			groupValues[OtherGroup] += w.Values[i]
			continue
		}
		split := w.Values[i] / float64(len(groups))
		for _, group := range groups {
			groupValues[group] += split
		}
	}
	return groupValues
}

func buildGroupExposures(groupValues, targets map[string]float64) []GroupExposure {
	names := make(map[string]bool)
	for name := range groupValues {
		names[name] = true
	}
	for name := range targets {
		names[name] = true
	}

	out := make([]GroupExposure, 0, len(names))
	for name := range names {
		weight := groupValues[name]
		target := targets[name]
		out = append(out, GroupExposure{
			Name:      name,
			Target:    target,
			Weight:    round(weight, 6),
			Deviation: round(weight-target, 6),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// round rounds a float64 to n decimal places
func round(val float64, decimals int) float64 {
	multiplier := math.Pow(10, float64(decimals))
	return math.Round(val*multiplier) / multiplier
}
