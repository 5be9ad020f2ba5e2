package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/openfroyo/conform/pkg/conform"
	"github.com/openfroyo/conform/pkg/stores"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type reportView struct {
	Path         string     `json:"path"`
	ImporterType string     `json:"importer_type"`
	Conforms     bool       `json:"conforms"`
	Tasks        []taskView `json:"tasks"`
}

type taskView struct {
	ProfileID string             `json:"profile_id"`
	TaskName  string             `json:"task_name"`
	TaskType  string             `json:"task_type"`
	Kind      conform.ResultKind `json:"kind"`
	Conforms  bool               `json:"conforms"`
	Results   []conform.Entry    `json:"results"`
}

func viewReports(reports []*conform.Report, divergentOnly bool) []reportView {
	out := make([]reportView, 0, len(reports))
	for _, r := range reports {
		v := reportView{Path: r.Path, ImporterType: r.ImporterType, Conforms: r.Conforms(), Tasks: []taskView{}}
		for _, d := range r.Data {
			v.Tasks = append(v.Tasks, taskView{
				ProfileID: d.ProfileID,
				TaskName:  d.TaskName,
				TaskType:  d.TaskType,
				Kind:      d.Kind,
				Conforms:  d.Conforms(),
				Results:   conform.Flatten(d.Results, divergentOnly),
			})
		}
		out = append(out, v)
	}
	return out
}

func mark(ok bool) string {
	if ok {
		return "ok"
	}
	return "!!"
}

// printReports writes reports as an indented tree.
func printReports(w io.Writer, reports []*conform.Report, divergentOnly bool) {
	for _, r := range viewReports(reports, divergentOnly) {
		if divergentOnly && r.Conforms {
			continue
		}
		fmt.Fprintf(w, "[%s] %s (%s)\n", mark(r.Conforms), r.Path, r.ImporterType)
		for _, t := range r.Tasks {
			if divergentOnly && t.Conforms {
				continue
			}
			fmt.Fprintf(w, "  [%s] %s / %s (%s)\n", mark(t.Conforms), t.ProfileID, t.TaskName, t.TaskType)
			for _, e := range t.Results {
				indent := strings.Repeat("  ", e.Depth+2)
				if e.Expected == "" && e.Actual == "" {
					fmt.Fprintf(w, "%s[%s] %s\n", indent, mark(e.Conforms), e.Name)
					continue
				}
				fmt.Fprintf(w, "%s[%s] %s: expected %s, actual %s\n", indent, mark(e.Conforms), e.Name, e.Expected, e.Actual)
			}
		}
	}
}

// summarize counts resources and non-conforming resources.
func summarize(reports []*conform.Report) (total, diverging int) {
	for _, r := range reports {
		if !r.Conforms() {
			diverging++
		}
	}
	return len(reports), diverging
}

// printAuditRows writes the stored rows of an audit run grouped by resource
// and task.
func printAuditRows(w io.Writer, rows []*stores.AuditResult) {
	var path, task string
	for _, r := range rows {
		if r.Path != path {
			path, task = r.Path, ""
			fmt.Fprintln(w, path)
		}
		if key := r.ProfileID + "/" + r.TaskName; key != task {
			task = key
			fmt.Fprintf(w, "  %s / %s (%s)\n", r.ProfileID, r.TaskName, r.TaskType)
		}
		indent := strings.Repeat("  ", r.Depth+2)
		if r.Expected == "" && r.Actual == "" {
			fmt.Fprintf(w, "%s[%s] %s\n", indent, mark(r.Conforms), r.Name)
			continue
		}
		fmt.Fprintf(w, "%s[%s] %s: expected %s, actual %s\n", indent, mark(r.Conforms), r.Name, r.Expected, r.Actual)
	}
}
