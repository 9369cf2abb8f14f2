// Package report streams a run's results to a JSON file as they arrive,
// rather than holding everything in memory until the run ends, and prints
// a human-readable summary to stdout.
//
// Grounded on the teacher's Report (sibench/report.go): a file handle
// opened up front, a running comma/no-comma separator so array elements
// can be appended one at a time, and a final Close that appends the
// errors and closes out the JSON document.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/aasssddd/faban/internal/driver"
	"github.com/aasssddd/faban/internal/logging"
	"github.com/aasssddd/faban/internal/metrics"
)

var log = logging.Named("report")

// OpSummary is one operation's named, aggregated result.
type OpSummary struct {
	Name string
	Stat metrics.OpStats
}

// Report accumulates errors and streams operation summaries to a JSON
// file as AddOpStat is called, deferring the final JSON structure (the
// array-closing bracket and the trailing Errors field) until Close.
type Report struct {
	runID string

	file          *os.File
	err           error
	statSeparator string

	errors []error
}

// New creates outputPath and writes the JSON document's opening, keyed by
// the run's id rather than by the teacher's full Arguments struct (the
// harness's config already lives alongside the run directory).
func New(runID string, outputPath string) (*Report, error) {
	r := &Report{runID: runID}

	r.file, r.err = os.Create(outputPath)
	if r.err != nil {
		log.Errorf("failed creating report file %s: %v", outputPath, r.err)
		return r, r.err
	}

	r.writeString(fmt.Sprintf("{\n  \"RunID\": %q,\n  \"OpStats\": [\n", runID))
	return r, r.err
}

// AddOpStat appends one operation's aggregated stats to the JSON array.
func (r *Report) AddOpStat(name string, s metrics.OpStats) {
	raw, err := json.Marshal(OpSummary{Name: name, Stat: s})
	if err != nil {
		r.err = err
		return
	}
	r.writeString(fmt.Sprintf("%s    %s", r.statSeparator, raw))
	r.statSeparator = ",\n"
}

// AddError records a run-level error (e.g. a worker's fatal abort reason)
// to be appended to the JSON document's Errors array on Close.
func (r *Report) AddError(e error) {
	r.errors = append(r.errors, e)
}

// Close finishes the JSON document and closes the file. Safe to call even
// if an earlier write failed; it is then a no-op beyond reporting the
// original error.
func (r *Report) Close() error {
	if r.err != nil {
		if r.file != nil {
			r.file.Close()
		}
		return r.err
	}

	errStrings := make([]string, len(r.errors))
	for i, e := range r.errors {
		errStrings[i] = e.Error()
	}
	errJSON, err := json.MarshalIndent(errStrings, "  ", "  ")
	if err != nil {
		r.err = err
	}

	r.writeString(fmt.Sprintf("\n  ],\n  \"Errors\": %s\n}\n", errJSON))
	r.file.Close()
	return r.err
}

func (r *Report) writeString(s string) {
	if r.err != nil {
		return
	}
	if _, err := r.file.WriteString(s); err != nil {
		log.Errorf("failed writing report: %v", err)
		r.err = err
		r.file.Close()
	}
}

// DisplaySummary prints aggregated results for each operation to stdout,
// mirroring the teacher's DisplayAnalyses banner-and-columns layout.
func DisplaySummary(runInfo driver.RunInfo, stats []metrics.OpStats) {
	lineWidth := 100
	fmt.Println(strings.Repeat("=", lineWidth))
	fmt.Printf("Run %s: rampUp=%ds steadyState=%ds rampDown=%ds\n",
		runInfo.RunID, runInfo.RampUp, runInfo.SteadyState, runInfo.RampDown)
	fmt.Println(strings.Repeat("-", lineWidth))

	for i, s := range stats {
		name := "op" + fmt.Sprint(i)
		if i < len(runInfo.Driver.Operations) {
			name = runInfo.Driver.Operations[i].Name
		}
		total := s.SuccessCount + s.FailureCount
		min := s.Min
		if s.SuccessCount == 0 {
			min = 0
		}
		fmt.Printf("%-24s ops=%-8d success=%-8d failure=%-8d mean=%8.2fms min=%8.2fms max=%8.2fms\n",
			name, total, s.SuccessCount, s.FailureCount, s.Mean(), min, s.Max)
	}
	fmt.Println(strings.Repeat("=", lineWidth))
}
