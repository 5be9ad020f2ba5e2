// Package profile holds the rule sets that decide which import tasks run
// against a resource. A profile owns a directory of the resource tree, a
// conjunction of filters and an ordered list of tasks.
package profile

import (
	"context"
	"fmt"
	"sort"

	"github.com/openfroyo/conform/pkg/engine"
	"github.com/openfroyo/conform/pkg/filter"
	"github.com/openfroyo/conform/pkg/task"
)

// Profile is a loaded, ready to run rule set.
type Profile struct {
	// ID identifies the profile in side channel records.
	ID string

	// Path is the file the profile was loaded from. It is empty for
	// profiles built in memory.
	Path string

	// Name is a display name.
	Name string

	// Dir is the resource directory the profile owns, e.g. "Assets/Textures".
	Dir string

	// Filters must all match a resource for the profile to apply.
	Filters []filter.Filter

	// RunOnImport applies every task on every import. Without it only
	// manually flagged tasks run.
	RunOnImport bool

	// RestrictToOwnDirectory adds an implicit filter limiting the profile
	// to resources below Dir.
	RestrictToOwnDirectory bool

	// SortIndex orders profiles; lower runs first.
	SortIndex int

	tasks []task.ImportTask
}

// New creates an empty profile owning dir.
func New(id, name, dir string) *Profile {
	return &Profile{ID: id, Name: name, Dir: dir}
}

// Directory returns the resource directory the profile owns.
func (p *Profile) Directory() string {
	return p.Dir
}

// Tasks returns the profile's tasks in order.
func (p *Profile) Tasks() []task.ImportTask {
	return append([]task.ImportTask(nil), p.tasks...)
}

// Task returns the task named name.
func (p *Profile) Task(name string) (task.ImportTask, bool) {
	for _, t := range p.tasks {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

// AddTask appends t. It fails when a task of the same name exists or when
// the profile already holds the maximum number of tasks of t's type.
func (p *Profile) AddTask(t task.ImportTask) error {
	if _, ok := p.Task(t.Name()); ok {
		return engine.NewPermanentError(fmt.Sprintf("profile %s already has a task named %q", p.label(), t.Name()), nil).
			WithCode(engine.ErrCodeAlreadyExists).
			WithDetail("task_type", t.TypeName())
	}

	if limit := t.MaxInstancesPerProfile(); limit > 0 {
		count := 0
		for _, existing := range p.tasks {
			if existing.TypeName() == t.TypeName() {
				count++
			}
		}
		if count >= limit {
			return engine.NewPermanentError(
				fmt.Sprintf("profile %s allows at most %d tasks of type %s", p.label(), limit, t.TypeName()), nil).
				WithCode(engine.ErrCodeLimitExceeded).
				WithDetail("task_type", t.TypeName()).
				WithDetail("limit", limit)
		}
	}

	p.tasks = append(p.tasks, t)
	return nil
}

// RemoveTask removes the task named name and reports whether it existed.
func (p *Profile) RemoveTask(name string) bool {
	for i, t := range p.tasks {
		if t.Name() == name {
			p.tasks = append(p.tasks[:i], p.tasks[i+1:]...)
			return true
		}
	}
	return false
}

// EffectiveFilters returns the declared filters plus the implicit
// own-directory filter.
func (p *Profile) EffectiveFilters() []filter.Filter {
	out := append([]filter.Filter(nil), p.Filters...)
	if p.RestrictToOwnDirectory {
		out = append(out, filter.Filter{
			Target:    filter.TargetDirectory,
			Condition: filter.ConditionStartsWith,
			Pattern:   p.Dir,
		})
	}
	return out
}

// Matches reports whether the profile applies to res.
func (p *Profile) Matches(ctx context.Context, res *engine.Resource) bool {
	return filter.Matches(ctx, res, p.EffectiveFilters())
}

// Resolve returns the tasks that should run against res: every task when
// RunOnImport is set, otherwise those manually flagged for res. Nothing
// runs when the filters do not match.
func (p *Profile) Resolve(ctx context.Context, res *engine.Resource) []task.ImportTask {
	if !p.Matches(ctx, res) {
		return nil
	}
	var out []task.ImportTask
	for _, t := range p.tasks {
		if p.RunOnImport || t.IsManuallyFlagged(res.Path) {
			out = append(out, t)
		}
	}
	return out
}

// Less orders by SortIndex, then by owning directory depth so that outer
// directories run before nested ones.
func (p *Profile) Less(other *Profile) bool {
	if p.SortIndex != other.SortIndex {
		return p.SortIndex < other.SortIndex
	}
	return len(p.Dir) < len(other.Dir)
}

// Sort orders profiles in place. Equal profiles keep their relative order.
func Sort(profiles []*Profile) {
	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Less(profiles[j])
	})
}

// Spec returns the serializable form of the profile.
func (p *Profile) Spec() Spec {
	s := Spec{
		ID:                     p.ID,
		Name:                   p.Name,
		Directory:              p.Dir,
		Filters:                append([]filter.Filter(nil), p.Filters...),
		RunOnImport:            p.RunOnImport,
		RestrictToOwnDirectory: p.RestrictToOwnDirectory,
		SortIndex:              p.SortIndex,
	}
	for _, t := range p.tasks {
		s.Tasks = append(s.Tasks, t.Spec())
	}
	return s
}

func (p *Profile) label() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}
