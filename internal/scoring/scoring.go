// Package scoring turns raw tool metrics into rule findings and score
// profiles.
package scoring

import (
	"math"

	"github.com/speedindex/pageaudit/internal/audit"
)

// GenericProfile is the default score profile name served to clients.
const GenericProfile = "generic"

// ruleDef grades a single metric: values at or below good score 100, values
// at or above bad score 0, linear in between.
type ruleDef struct {
	name     string
	tool     string
	metric   string
	category string
	good     float64
	bad      float64
}

var ruleTable = []ruleDef{
	{"DOMelementsCount", "browser", "DOMelementsCount", "pageComplexity", 500, 3000},
	{"DOMelementMaxDepth", "browser", "DOMelementMaxDepth", "pageComplexity", 10, 25},
	{"iframesCount", "browser", "iframesCount", "pageComplexity", 0, 10},
	{"domInteractive", "browser", "domInteractiveMs", "loadSpeed", 1000, 8000},
	{"domComplete", "browser", "domCompleteMs", "loadSpeed", 2000, 15000},
	{"scriptsCount", "browser", "scriptsCount", "javascriptComplexity", 8, 40},
	{"globalVariables", "browser", "globalVariables", "javascriptComplexity", 50, 800},
	{"requests", "weight", "requests", "requestsNumber", 20, 120},
	{"totalWeight", "weight", "totalWeightBytes", "pageWeight", 300 * 1024, 3 * 1024 * 1024},
	{"imageWeight", "weight", "imageWeightBytes", "pageWeight", 150 * 1024, 1536 * 1024},
}

var categoryLabels = map[string]string{
	"pageComplexity":       "Page complexity",
	"loadSpeed":            "Load speed",
	"javascriptComplexity": "JavaScript complexity",
	"requestsNumber":       "Requests number",
	"pageWeight":           "Page weight",
}

// Compute grades every rule whose backing metric is present and aggregates
// the findings into the generic score profile.
func Compute(tools map[string]audit.ToolResult) (map[string]audit.RuleResult, map[string]audit.ScoreProfile) {
	rules := make(map[string]audit.RuleResult)
	categoryScores := make(map[string][]int)

	for _, def := range ruleTable {
		tool, ok := tools[def.tool]
		if !ok {
			continue
		}
		value, ok := tool.Metrics[def.metric]
		if !ok {
			continue
		}
		score := linearScore(value, def.good, def.bad)
		rules[def.name] = audit.RuleResult{
			Value:    value,
			Score:    score,
			Abnormal: value >= def.bad,
		}
		categoryScores[def.category] = append(categoryScores[def.category], score)
	}

	categories := make(map[string]audit.CategoryScore, len(categoryScores))
	var global, counted int
	for category, scores := range categoryScores {
		avg := average(scores)
		categories[category] = audit.CategoryScore{
			Label:         categoryLabels[category],
			CategoryScore: avg,
		}
		global += avg
		counted++
	}
	if counted > 0 {
		global /= counted
	} else {
		global = 100
	}

	profiles := map[string]audit.ScoreProfile{
		GenericProfile: {
			GlobalScore: global,
			Categories:  categories,
		},
	}
	return rules, profiles
}

func linearScore(value, good, bad float64) int {
	if value <= good {
		return 100
	}
	if value >= bad {
		return 0
	}
	score := 100 * (bad - value) / (bad - good)
	return int(math.Round(score))
}

func average(scores []int) int {
	if len(scores) == 0 {
		return 100
	}
	sum := 0
	for _, s := range scores {
		sum += s
	}
	return sum / len(scores)
}
