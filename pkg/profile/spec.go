package profile

import (
	"github.com/openfroyo/conform/pkg/filter"
	"github.com/openfroyo/conform/pkg/task"
)

// Spec is the on-disk form of a profile. YAML and CUE files decode into it
// after unification with the #Profile schema.
type Spec struct {
	// ID defaults to a name based UUID of the file path.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`

	Name string `json:"name" yaml:"name" validate:"required"`

	// Directory defaults to the file's directory below the profile root.
	Directory string `json:"directory,omitempty" yaml:"directory,omitempty"`

	Filters []filter.Filter `json:"filters,omitempty" yaml:"filters,omitempty" validate:"dive"`

	RunOnImport bool `json:"run_on_import" yaml:"run_on_import"`

	RestrictToOwnDirectory bool `json:"restrict_to_own_directory" yaml:"restrict_to_own_directory"`

	SortIndex int `json:"sort_index" yaml:"sort_index" validate:"gte=0"`

	Tasks []task.Spec `json:"tasks,omitempty" yaml:"tasks,omitempty" validate:"dive"`
}

// profileSchema constrains profile files. Defaults mirror the behavior of
// a freshly created profile: manual mode, restricted to its directory.
const profileSchema = `
#Filter: {
	target: "filename" | "full_path" | "folder_name" | "directory" | "extension" |
		"file_size" | "asset_bundle_name" | "importer_type" | "labels"
	condition: "equals" | "contains" | "does_not_contain" | "starts_with" | "ends_with" |
		"regex" | "greater_than" | "greater_than_equal" | "less_than" | "less_than_equal"
	pattern: string | *""
}

#Task: {
	type:        string & !=""
	name?:       string
	template?:   string
	properties?: [...string]
	method?:     string
	data?:       string
	flagged?:    [...string]
}

#Profile: {
	id?:       string
	name:      string & !=""
	directory?: string
	filters?:  [...#Filter]
	run_on_import:             bool | *false
	restrict_to_own_directory: bool | *true
	sort_index:                int & >=0 | *0
	tasks?: [...#Task]
}
`
