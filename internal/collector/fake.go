package collector

import (
	"context"
	"fmt"

	"github.com/speedindex/pageaudit/internal/audit"
	"github.com/speedindex/pageaudit/internal/scoring"
)

// Fake implements audit.Collector without starting browser automation. It
// backs the fake collector mode and the test suites.
type Fake struct {
	// Err, when set, fails every job with this error.
	Err error
	// Gate, when set, blocks Collect until the channel is closed or the
	// context ends. Tests use it to hold runs in flight.
	Gate <-chan struct{}
}

// Collect returns a canned artifact shaped like a real one.
func (f *Fake) Collect(ctx context.Context, job audit.Job) (audit.Artifact, error) {
	if f.Gate != nil {
		select {
		case <-ctx.Done():
			return audit.Artifact{}, fmt.Errorf("fake collect: %w", ctx.Err())
		case <-f.Gate:
		}
	}
	if f.Err != nil {
		return audit.Artifact{}, f.Err
	}

	tools := map[string]audit.ToolResult{
		"browser": {Metrics: map[string]float64{
			"DOMelementsCount": 120,
			"scriptsCount":     3,
			"domInteractiveMs": 240,
			"domCompleteMs":    610,
		}},
		"weight": {Metrics: map[string]float64{
			"requests":         5,
			"totalWeightBytes": 48 * 1024,
		}},
	}
	rules, profiles := scoring.Compute(tools)
	return audit.Artifact{
		ScoreProfiles: profiles,
		Rules:         rules,
		ToolsResults:  tools,
		JavascriptExecutionTree: audit.TreeNode{
			Data: audit.TreeNodeData{Type: "main"},
			Children: []audit.TreeNode{
				{Data: audit.TreeNodeData{Type: "domInteractive", Timestamp: 240}},
				{Data: audit.TreeNodeData{Type: "domComplete", Timestamp: 610}},
			},
		},
	}, nil
}
