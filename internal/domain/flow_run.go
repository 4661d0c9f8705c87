package domain

import (
	"math"
	"sync/atomic"
	"time"
)

type RunStatus string

const (
	RunStatusPending            RunStatus = "pending"
	RunStatusRunning            RunStatus = "running"
	RunStatusCompleted          RunStatus = "completed"
	RunStatusPartiallyCompleted RunStatus = "partially_completed"
	RunStatusFailed             RunStatus = "failed"
)

func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusPartiallyCompleted, RunStatusFailed:
		return true
	default:
		return false
	}
}

type RunMessage struct {
	Message   string         `json:"message"`
	Row       *int           `json:"row,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// FlowRun is an immutable snapshot of one execution. Every operation returns a new value
// and leaves the receiver untouched. Snapshots share message arrays; appends never write
// into a slot another snapshot can see.
type FlowRun struct {
	ID           string         `json:"id"`
	FlowName     string         `json:"flow_name"`
	Status       RunStatus      `json:"status"`
	TotalRows    int            `json:"total_rows"`
	ImportedRows int            `json:"imported_rows"`
	SkippedRows  int            `json:"skipped_rows"`
	ErrorCount   int            `json:"error_count"`
	Errors       []RunMessage   `json:"errors"`
	Warnings     []RunMessage   `json:"warnings"`
	SkipReasons  map[string]int `json:"skip_reasons,omitempty"`
	Progress     float64        `json:"progress"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Source       string         `json:"source"`
	Metadata     map[string]any `json:"metadata,omitempty"`

	errTail  *msgTail
	warnTail *msgTail
}

func NewFlowRun(id, flowName, source string, totalRows int) FlowRun {
	return FlowRun{
		ID:        id,
		FlowName:  flowName,
		Status:    RunStatusPending,
		TotalRows: totalRows,
		Source:    source,
		Errors:    []RunMessage{},
		Warnings:  []RunMessage{},
	}
}

// msgTail records how much of a message array has been handed out. A snapshot whose slice
// ends at the claimed length may append in place; any other snapshot copies first.
type msgTail struct {
	base *RunMessage
	n    atomic.Int64
}

func appendMessage(s []RunMessage, t *msgTail, msg RunMessage) ([]RunMessage, *msgTail) {
	if t != nil && len(s) < cap(s) && t.base == &s[:cap(s)][0] &&
		t.n.CompareAndSwap(int64(len(s)), int64(len(s)+1)) {
		return append(s, msg), t
	}
	grown := make([]RunMessage, len(s), 2*len(s)+4)
	copy(grown, s)
	grown = append(grown, msg)
	nt := &msgTail{base: &grown[:cap(grown)][0]}
	nt.n.Store(int64(len(grown)))
	return grown, nt
}

func copyMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (r FlowRun) Start(at time.Time) FlowRun {
	out := r
	out.Status = RunStatusRunning
	out.StartedAt = &at
	return out
}

func (r FlowRun) WithTotal(total int) FlowRun {
	out := r
	out.TotalRows = total
	return out
}

func (r FlowRun) WithMetadata(key string, value any) FlowRun {
	out := r
	out.Metadata = copyMap(r.Metadata)
	out.Metadata[key] = value
	return out
}

// UpdateProgress recomputes the percentage from the counters. Rows that failed are already
// counted as skipped, so processed rows are imported plus skipped.
func (r FlowRun) UpdateProgress() FlowRun {
	out := r
	out.Progress = progressOf(out.ImportedRows+out.SkippedRows, out.TotalRows)
	return out
}

func progressOf(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(done) / float64(total) * 100
	p = math.Round(p*100) / 100
	if p > 100 {
		return 100
	}
	return p
}

func (r FlowRun) AddImported(n int) FlowRun {
	out := r
	out.ImportedRows += n
	return out
}

func (r FlowRun) AddSkipped(n int, reason string) FlowRun {
	out := r
	out.SkippedRows += n
	if reason != "" {
		out.SkipReasons = copyMap(r.SkipReasons)
		out.SkipReasons[reason] += n
	}
	return out
}

func (r FlowRun) AddError(msg RunMessage) FlowRun {
	out := r
	out.Errors, out.errTail = appendMessage(r.Errors, r.errTail, msg)
	out.ErrorCount = len(out.Errors)
	return out
}

func (r FlowRun) AddWarning(msg RunMessage) FlowRun {
	out := r
	out.Warnings, out.warnTail = appendMessage(r.Warnings, r.warnTail, msg)
	return out
}

// Complete ends the run. It is partially completed when rows were imported and errors
// recorded; otherwise completed, even when every row failed.
func (r FlowRun) Complete(at time.Time) FlowRun {
	out := r.UpdateProgress()
	if out.ErrorCount > 0 && out.ImportedRows > 0 {
		out.Status = RunStatusPartiallyCompleted
	} else {
		out.Status = RunStatusCompleted
	}
	out.CompletedAt = &at
	return out
}

func (r FlowRun) Fail(at time.Time, message string, ctx map[string]any) FlowRun {
	out := r.AddError(RunMessage{Message: message, Context: ctx, Timestamp: at})
	out.Status = RunStatusFailed
	out.CompletedAt = &at
	return out
}

// Succeeded is true only for a clean completion.
func (r FlowRun) Succeeded() bool {
	return r.Status == RunStatusCompleted && r.ErrorCount == 0
}

func (r FlowRun) Duration() time.Duration {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(*r.StartedAt)
}
