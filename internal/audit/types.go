// Package audit defines the domain types and contracts shared by the API,
// scheduler, workers and collectors.
package audit

import "time"

// RunStatus is the lifecycle state of a run. Transitions only move forward:
// queued -> running -> complete or error.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusError    RunStatus = "error"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == RunStatusComplete || s == RunStatusError
}

// StatusCode is the externally visible status string. Clients never see the
// queued state; a run waiting for a worker reports as running.
func (s RunStatus) StatusCode() string {
	if s == RunStatusQueued {
		return string(RunStatusRunning)
	}
	return string(s)
}

// CallerClass distinguishes admission treatment. Anonymous callers share a
// bounded pool of concurrent runs; authenticated callers are not limited.
type CallerClass string

const (
	CallerAnonymous     CallerClass = "anonymous"
	CallerAuthenticated CallerClass = "authenticated"
)

// RunParams are the caller-supplied audit parameters, echoed back in the
// result payload.
type RunParams struct {
	URL             string `json:"url"`
	WaitForResponse bool   `json:"waitForResponse"`
	Device          string `json:"device,omitempty"`
}

// Run is the authoritative record of a single audit.
type Run struct {
	ID          string
	Params      RunParams
	Caller      CallerClass
	Owner       string
	Status      RunStatus
	ErrorText   string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Job is the queue payload handed to workers.
type Job struct {
	RunID     string
	Params    RunParams
	Submitted int64
}

// ToolResult holds the raw metrics one analysis tool extracted, plus the
// offending resources it wants to call out.
type ToolResult struct {
	Metrics   map[string]float64  `json:"metrics"`
	Offenders map[string][]string `json:"offenders,omitempty"`
}

// RuleResult is one graded finding.
type RuleResult struct {
	Value    float64 `json:"value"`
	Score    int     `json:"score"`
	Abnormal bool    `json:"abnormal"`
}

// CategoryScore aggregates the rules of one category.
type CategoryScore struct {
	Label         string `json:"label"`
	CategoryScore int    `json:"categoryScore"`
}

// ScoreProfile is a named weighting of category scores into a global score.
type ScoreProfile struct {
	GlobalScore int                      `json:"globalScore"`
	Categories  map[string]CategoryScore `json:"categories"`
}

// TreeNodeData carries the measurements of one execution tree node.
type TreeNodeData struct {
	Type      string  `json:"type"`
	Value     string  `json:"value,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"`
	Time      float64 `json:"time,omitempty"`
}

// TreeNode is one node of the page's reconstructed execution timeline. The
// root node is always of type "main".
type TreeNode struct {
	Data     TreeNodeData `json:"data"`
	Children []TreeNode   `json:"children,omitempty"`
}

// Artifact is everything a collector produces for a successful run.
type Artifact struct {
	ScoreProfiles           map[string]ScoreProfile `json:"scoreProfiles"`
	Rules                   map[string]RuleResult   `json:"rules"`
	ToolsResults            map[string]ToolResult   `json:"toolsResults"`
	JavascriptExecutionTree TreeNode                `json:"javascriptExecutionTree"`
}

// Result is the artifact as served to clients, tagged with run identity.
type Result struct {
	RunID                   string                  `json:"runId"`
	Params                  RunParams               `json:"params"`
	ScoreProfiles           map[string]ScoreProfile `json:"scoreProfiles"`
	Rules                   map[string]RuleResult   `json:"rules"`
	ToolsResults            map[string]ToolResult   `json:"toolsResults"`
	JavascriptExecutionTree TreeNode                `json:"javascriptExecutionTree"`
}
