package conform

// Data groups the results one task produced for one resource.
type Data struct {
	// ProfileID identifies the profile owning the task.
	ProfileID string `json:"profile_id"`

	// TaskName is the display name of the task.
	TaskName string `json:"task_name"`

	// TaskType is the registered type name of the task.
	TaskType string `json:"task_type"`

	// Kind is the result kind the task produces.
	Kind ResultKind `json:"kind"`

	// Results are the top-level results of the task.
	Results []Result `json:"-"`
}

// Conforms reports whether every result of the task conforms.
func (d Data) Conforms() bool {
	return AllConform(d.Results)
}

// Report is the audit outcome of one resource across every matching profile.
type Report struct {
	Path         string `json:"path"`
	ImporterType string `json:"importer_type"`
	Data         []Data `json:"tasks"`
}

// Conforms reports whether the resource conforms to every task.
func (r *Report) Conforms() bool {
	for _, d := range r.Data {
		if !d.Conforms() {
			return false
		}
	}
	return true
}

// ResultsOfKind returns the top-level results of the given kind across tasks.
func (r *Report) ResultsOfKind(kind ResultKind) []Result {
	var out []Result
	for _, d := range r.Data {
		for _, res := range d.Results {
			if res.Kind() == kind {
				out = append(out, res)
			}
		}
	}
	return out
}

// Entry is a flattened, serializable view of one result.
type Entry struct {
	Depth    int        `json:"depth"`
	Name     string     `json:"name"`
	Kind     ResultKind `json:"kind"`
	Conforms bool       `json:"conforms"`
	Expected string     `json:"expected,omitempty"`
	Actual   string     `json:"actual,omitempty"`
}

// Flatten lists results depth-first with their depth. When divergentOnly is
// set, conforming subtrees are left out.
func Flatten(results []Result, divergentOnly bool) []Entry {
	var out []Entry
	var visit func(rs []Result, depth int)
	visit = func(rs []Result, depth int) {
		for _, r := range rs {
			conforms := r.Conforms()
			if divergentOnly && conforms {
				continue
			}
			out = append(out, Entry{
				Depth:    depth,
				Name:     r.Name(),
				Kind:     r.Kind(),
				Conforms: conforms,
				Expected: r.ExpectedValue(),
				Actual:   r.ActualValue(),
			})
			visit(r.Children(), depth+1)
		}
	}
	visit(results, 0)
	return out
}
