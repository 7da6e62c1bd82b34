package consistency

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// Report is the operator-facing view of a check.
type Report struct {
	CheckID    string        `json:"check_id"`
	Completed  bool          `json:"completed"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Entries    []ReportEntry `json:"inconsistencies"`
	Counts     map[Kind]int  `json:"counts"`
}

// ReportEntry is one inconsistency in a report.
type ReportEntry struct {
	URI         string `json:"uri"`
	Kind        Kind   `json:"kind"`
	Description string `json:"description"`
	Repairable  bool   `json:"repairable"`
	Count       int    `json:"count,omitempty"`
}

// Report builds the operator view of the check's findings.
func (c *Check) Report() Report {
	r := Report{
		CheckID:    c.id,
		Completed:  c.completed,
		StartedAt:  c.started,
		FinishedAt: c.finished,
		Entries:    make([]ReportEntry, 0, len(c.inconsistencies)),
		Counts:     make(map[Kind]int),
	}
	for _, inc := range c.inconsistencies {
		r.Entries = append(r.Entries, ReportEntry{
			URI:         inc.URI,
			Kind:        inc.Kind,
			Description: inc.Description(),
			Repairable:  inc.CanRepair(),
			Count:       inc.Count,
		})
		r.Counts[inc.Kind]++
	}
	return r
}

// Consistent reports whether the check completed without findings.
func (r Report) Consistent() bool {
	return r.Completed && len(r.Entries) == 0
}

// WriteJSON writes the report as indented JSON.
func (r Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteText writes the report as an aligned table followed by a summary.
func (r Report) WriteText(w io.Writer) error {
	status := "completed"
	if !r.Completed {
		status = "incomplete"
	}
	if _, err := fmt.Fprintf(w, "check %s: %s, %d inconsistencies\n", r.CheckID, status, len(r.Entries)); err != nil {
		return err
	}
	if len(r.Entries) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tURI\tREPAIRABLE\tDESCRIPTION")
	for _, e := range r.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", e.Kind, e.URI, e.Repairable, e.Description)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, k := range Kinds() {
		if n := r.Counts[k]; n > 0 {
			if _, err := fmt.Fprintf(w, "%s: %d\n", k, n); err != nil {
				return err
			}
		}
	}
	return nil
}
