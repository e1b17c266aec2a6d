package harness

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/skypro1111/asr-probe/internal/failure"
	"github.com/skypro1111/asr-probe/internal/stream"
)

// Scenario names
const (
	ScenarioConnection = "connection"
	ScenarioSynthetic  = "synthetic"
	ScenarioWAV        = "wav"
	ScenarioStress     = "stress"
	ScenarioStream     = "stream"
)

// errNotSucceeded marks a response that arrived but reported failure
var errNotSucceeded = errors.New("server reported failure")

// CaseResult is the outcome of one scenario
type CaseResult struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Phase    failure.Phase `json:"phase,omitempty"`
	Kind     failure.Kind  `json:"kind,omitempty"`
	Error    string        `json:"error,omitempty"`
	Text     string        `json:"text,omitempty"`
	Duration time.Duration `json:"duration"`
}

// StressStats summarizes a stress run
type StressStats struct {
	Total       int           `json:"total"`
	Succeeded   int           `json:"succeeded"`
	SuccessRate float64       `json:"success_rate"`
	TotalTime   time.Duration `json:"total_time"`
	AvgLatency  time.Duration `json:"avg_latency"` // mean round trip of answered requests
	PerRequest  time.Duration `json:"per_request"` // total time divided by requests, spacing included
}

// Report collects the case results of a run
type Report struct {
	Cases  []CaseResult    `json:"cases"`
	Stress *StressStats    `json:"stress,omitempty"`
	Stream *stream.Summary `json:"stream,omitempty"`
}

func (r *Report) add(c CaseResult) {
	r.Cases = append(r.Cases, c)
}

// Passed reports whether at least one case ran and every case passed
func (r *Report) Passed() bool {
	if len(r.Cases) == 0 {
		return false
	}
	for _, c := range r.Cases {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Failed returns the cases that did not pass
func (r *Report) Failed() []CaseResult {
	var failed []CaseResult
	for _, c := range r.Cases {
		if !c.Passed {
			failed = append(failed, c)
		}
	}
	return failed
}

// Case returns the named case
func (r *Report) Case(name string) (CaseResult, bool) {
	for _, c := range r.Cases {
		if c.Name == name {
			return c, true
		}
	}
	return CaseResult{}, false
}

// WriteText prints a human-readable summary
func (r *Report) WriteText(w io.Writer) {
	for _, c := range r.Cases {
		status := "PASS"
		if !c.Passed {
			status = "FAIL"
		}

		line := fmt.Sprintf("%s  %-10s %8s", status, c.Name, c.Duration.Round(time.Millisecond))
		if c.Text != "" {
			line += fmt.Sprintf("  text=%q", c.Text)
		}
		if c.Error != "" {
			line += fmt.Sprintf("  phase=%s error=%s", c.Phase, c.Error)
		}
		fmt.Fprintln(w, line)
	}

	if s := r.Stress; s != nil {
		fmt.Fprintf(w, "stress: %d/%d succeeded (%.1f%%), total %s, avg latency %s, %s per request\n",
			s.Succeeded, s.Total, s.SuccessRate*100,
			s.TotalTime.Round(time.Millisecond), s.AvgLatency.Round(time.Millisecond), s.PerRequest.Round(time.Millisecond))
	}

	if s := r.Stream; s != nil {
		fmt.Fprintf(w, "stream: %d chunks, %d partials, %d finals, %d parse errors, drain timeout %v\n",
			s.ChunksSent, s.Partials, s.Finals, s.ParseErrors, s.DrainTimedOut)
		if len(s.Transcript) > 0 {
			fmt.Fprintf(w, "transcript: %s\n", strings.Join(s.Transcript, " "))
		}
	}

	if r.Passed() {
		fmt.Fprintln(w, "All tests passed")
	} else {
		fmt.Fprintf(w, "%d of %d tests failed\n", len(r.Failed()), len(r.Cases))
	}
}

// caseResult builds a result from err, copying its classification
func caseResult(name string, start time.Time, err error) CaseResult {
	c := CaseResult{
		Name:     name,
		Passed:   err == nil,
		Duration: time.Since(start),
	}

	if err != nil {
		c.Error = err.Error()
		c.Phase = failure.PhaseOf(err)
		c.Kind = failure.KindOf(err)
	}

	return c
}
