// Package weight re-downloads a page's assets with gocolly to measure the
// transferred byte weight.
package weight

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/speedindex/pageaudit/internal/audit"
)

// Config controls the asset re-download tool.
type Config struct {
	UserAgent string
	MaxAssets int
	Timeout   time.Duration
}

// Collector fetches the page plus the assets it referenced and sums their
// sizes into the weight tool result.
type Collector struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a weight Collector.
func New(cfg Config) *Collector {
	if cfg.MaxAssets <= 0 {
		cfg.MaxAssets = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	c := colly.NewCollector(colly.Async(true))
	c.IgnoreRobotsTxt = true
	// Clone shares the visited-URL store, and audits of the same URL must
	// re-download it every run.
	c.AllowURLRevisit = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)

	return &Collector{
		cfg:           cfg,
		baseCollector: c,
	}
}

type tally struct {
	mu          sync.Mutex
	requests    float64
	totalBytes  float64
	imageBytes  float64
	scriptBytes float64
	cssBytes    float64
	heaviest    map[string]float64
}

func (t *tally) record(url, contentType string, size int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests++
	t.totalBytes += float64(size)
	switch {
	case strings.HasPrefix(contentType, "image/"):
		t.imageBytes += float64(size)
	case strings.Contains(contentType, "javascript"):
		t.scriptBytes += float64(size)
	case strings.Contains(contentType, "css"):
		t.cssBytes += float64(size)
	}
	t.heaviest[url] = float64(size)
}

// Measure downloads the page and every asset URL, bounded by MaxAssets, and
// returns the aggregated weight metrics.
func (c *Collector) Measure(ctx context.Context, pageURL string, assetURLs []string) (audit.ToolResult, error) {
	if err := ctx.Err(); err != nil {
		return audit.ToolResult{}, fmt.Errorf("weight measure: %w", err)
	}

	collector := c.baseCollector.Clone()
	counts := &tally{heaviest: make(map[string]float64)}

	collector.OnResponse(func(r *colly.Response) {
		counts.record(r.Request.URL.String(), r.Headers.Get("Content-Type"), len(r.Body))
	})

	if err := collector.Visit(pageURL); err != nil {
		return audit.ToolResult{}, fmt.Errorf("visit page: %w", err)
	}
	limit := c.cfg.MaxAssets
	if len(assetURLs) < limit {
		limit = len(assetURLs)
	}
	for _, asset := range assetURLs[:limit] {
		// Individual asset failures only reduce the measured weight.
		_ = collector.Visit(asset)
	}
	collector.Wait()

	counts.mu.Lock()
	defer counts.mu.Unlock()
	result := audit.ToolResult{
		Metrics: map[string]float64{
			"requests":          counts.requests,
			"totalWeightBytes":  counts.totalBytes,
			"imageWeightBytes":  counts.imageBytes,
			"scriptWeightBytes": counts.scriptBytes,
			"cssWeightBytes":    counts.cssBytes,
		},
	}
	if len(counts.heaviest) > 0 {
		offenders := make([]string, 0, len(counts.heaviest))
		for url, size := range counts.heaviest {
			offenders = append(offenders, fmt.Sprintf("%s %.0f bytes", url, size))
		}
		result.Offenders = map[string][]string{"byWeight": offenders}
	}
	return result, nil
}
