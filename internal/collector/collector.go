// Package collector assembles the full analysis pipeline behind the
// audit.Collector interface consumed by workers.
package collector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/speedindex/pageaudit/internal/audit"
	"github.com/speedindex/pageaudit/internal/collector/browser"
	"github.com/speedindex/pageaudit/internal/collector/weight"
	"github.com/speedindex/pageaudit/internal/scoring"
)

// Pipeline runs the browser probe, the weight tool and scoring for one job.
type Pipeline struct {
	browser *browser.Collector
	weight  *weight.Collector
	logger  *zap.Logger
}

// NewPipeline builds the production collector.
func NewPipeline(b *browser.Collector, w *weight.Collector, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		browser: b,
		weight:  w,
		logger:  logger,
	}
}

// Collect performs the audit for a job. The browser probe is mandatory; a
// weight tool failure degrades the result instead of failing the run.
func (p *Pipeline) Collect(ctx context.Context, job audit.Job) (audit.Artifact, error) {
	browserResult, tree, assets, err := p.browser.Probe(ctx, job.Params.URL, job.Params.Device)
	if err != nil {
		return audit.Artifact{}, fmt.Errorf("browser probe: %w", err)
	}

	tools := map[string]audit.ToolResult{
		"browser": browserResult,
	}

	weightResult, err := p.weight.Measure(ctx, job.Params.URL, assets)
	if err != nil {
		p.logger.Warn("weight tool failed",
			zap.String("run_id", job.RunID),
			zap.String("url", job.Params.URL),
			zap.Error(err),
		)
	} else {
		tools["weight"] = weightResult
	}

	rules, profiles := scoring.Compute(tools)
	return audit.Artifact{
		ScoreProfiles:           profiles,
		Rules:                   rules,
		ToolsResults:            tools,
		JavascriptExecutionTree: tree,
	}, nil
}
