// Package browser instruments pages with headless Chrome via chromedp.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/speedindex/pageaudit/internal/audit"
)

// Config controls the behavior of the browser collector.
type Config struct {
	UserAgent     string
	MaxParallel   int
	NavTimeout    time.Duration
	DomainQPS     float64
	DefaultDevice string
}

// Collector drives a headless browser against a page and extracts the raw
// metrics the scoring layer grades.
type Collector struct {
	cfg            Config
	limiter        chan struct{}
	allocator      context.Context
	allocCancel    context.CancelFunc
	logger         *zap.Logger
	domainLimiters sync.Map
}

// pageMetrics is the shape returned by the in-page instrumentation script.
type pageMetrics struct {
	DOMElementsCount   float64  `json:"DOMelementsCount"`
	DOMElementMaxDepth float64  `json:"DOMelementMaxDepth"`
	IframesCount       float64  `json:"iframesCount"`
	ScriptsCount       float64  `json:"scriptsCount"`
	GlobalVariables    float64  `json:"globalVariables"`
	DomInteractiveMs   float64  `json:"domInteractiveMs"`
	DomCompleteMs      float64  `json:"domCompleteMs"`
	Scripts            []string `json:"scripts"`
	Assets             []string `json:"assets"`
}

const metricsScript = `(() => {
	const timing = performance.timing;
	const nav = timing.navigationStart;
	const maxDepth = (node, depth) => {
		let max = depth;
		for (const child of node.children) {
			max = Math.max(max, maxDepth(child, depth + 1));
		}
		return max;
	};
	const defaults = new Set(Object.getOwnPropertyNames(Object.getPrototypeOf(window)));
	let globals = 0;
	for (const name of Object.getOwnPropertyNames(window)) {
		if (!defaults.has(name)) globals++;
	}
	return {
		DOMelementsCount: document.getElementsByTagName('*').length,
		DOMelementMaxDepth: maxDepth(document.documentElement, 0),
		iframesCount: document.getElementsByTagName('iframe').length,
		scriptsCount: document.getElementsByTagName('script').length,
		globalVariables: globals,
		domInteractiveMs: timing.domInteractive > 0 ? timing.domInteractive - nav : 0,
		domCompleteMs: timing.domComplete > 0 ? timing.domComplete - nav : 0,
		scripts: Array.from(document.querySelectorAll('script[src]')).map(s => s.src),
		assets: performance.getEntriesByType('resource').map(r => r.name)
	};
})()`

// New creates a browser collector backed by a shared exec allocator.
func New(cfg Config, logger *zap.Logger) (*Collector, error) {
	if cfg.MaxParallel <= 0 {
		return nil, fmt.Errorf("max parallel must be > 0")
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Collector{
		cfg:         cfg,
		limiter:     make(chan struct{}, cfg.MaxParallel),
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close cancels the allocator context.
func (c *Collector) Close() {
	c.allocCancel()
}

// Probe navigates to the page, waits for it to settle, and extracts raw
// metrics, the script execution tree and the asset URLs the page loaded.
func (c *Collector) Probe(ctx context.Context, rawURL, device string) (audit.ToolResult, audit.TreeNode, []string, error) {
	if device == "" {
		device = c.cfg.DefaultDevice
	}
	if err := ctx.Err(); err != nil {
		return audit.ToolResult{}, audit.TreeNode{}, nil, fmt.Errorf("browser probe: %w", err)
	}
	if err := c.acquire(ctx); err != nil {
		return audit.ToolResult{}, audit.TreeNode{}, nil, err
	}
	defer c.release()

	if err := c.waitDomain(ctx, rawURL); err != nil {
		return audit.ToolResult{}, audit.TreeNode{}, nil, err
	}

	taskCtx, taskCancel := chromedp.NewContext(c.allocator)
	defer taskCancel()

	// The task context descends from the shared allocator, not the caller,
	// so propagate caller cancellation (including the run timeout) by hand.
	stopWatch := context.AfterFunc(ctx, taskCancel)
	defer stopWatch()

	taskCtx, cancel := context.WithTimeout(taskCtx, c.cfg.NavTimeout)
	defer cancel()

	var metrics pageMetrics
	actions := []chromedp.Action{
		c.networkSetupAction(device),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Evaluate(metricsScript, &metrics),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return audit.ToolResult{}, audit.TreeNode{}, nil, fmt.Errorf("chromedp run: %w", err)
	}

	result := audit.ToolResult{
		Metrics: map[string]float64{
			"DOMelementsCount":   metrics.DOMElementsCount,
			"DOMelementMaxDepth": metrics.DOMElementMaxDepth,
			"iframesCount":       metrics.IframesCount,
			"scriptsCount":       metrics.ScriptsCount,
			"globalVariables":    metrics.GlobalVariables,
			"domInteractiveMs":   metrics.DomInteractiveMs,
			"domCompleteMs":      metrics.DomCompleteMs,
		},
	}
	if len(metrics.Scripts) > 0 {
		result.Offenders = map[string][]string{"scripts": metrics.Scripts}
	}
	return result, buildExecutionTree(metrics), metrics.Assets, nil
}

// buildExecutionTree assembles the main execution tree: one root "main" node
// with a child per loaded script plus the document lifecycle milestones.
func buildExecutionTree(metrics pageMetrics) audit.TreeNode {
	root := audit.TreeNode{
		Data: audit.TreeNodeData{Type: "main"},
	}
	for _, src := range metrics.Scripts {
		root.Children = append(root.Children, audit.TreeNode{
			Data: audit.TreeNodeData{Type: "script", Value: src},
		})
	}
	root.Children = append(root.Children,
		audit.TreeNode{Data: audit.TreeNodeData{Type: "domInteractive", Timestamp: metrics.DomInteractiveMs}},
		audit.TreeNode{Data: audit.TreeNodeData{Type: "domComplete", Timestamp: metrics.DomCompleteMs}},
	)
	return root
}

func (c *Collector) networkSetupAction(device string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if c.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(c.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		width, height, scale, mobile := deviceMetrics(device)
		if mobile {
			if err := emulation.SetDeviceMetricsOverride(width, height, scale, mobile).Do(ctx); err != nil {
				return fmt.Errorf("set device metrics: %w", err)
			}
		}
		return nil
	})
}

func deviceMetrics(device string) (width, height int64, scale float64, mobile bool) {
	switch device {
	case "phone":
		return 375, 667, 2, true
	case "tablet":
		return 768, 1024, 2, true
	default:
		return 1366, 768, 1, false
	}
}

func (c *Collector) acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("acquire browser slot: %w", ctx.Err())
	case c.limiter <- struct{}{}:
		return nil
	}
}

func (c *Collector) release() {
	<-c.limiter
}

// waitDomain throttles navigations per target host.
func (c *Collector) waitDomain(ctx context.Context, rawURL string) error {
	if c.cfg.DomainQPS <= 0 {
		return nil
	}
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	entry, _ := c.domainLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(c.cfg.DomainQPS), 1))
	limiter := entry.(*rate.Limiter)
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("domain rate limit wait: %w", err)
	}
	return nil
}
