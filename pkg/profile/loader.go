package profile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/format"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/conform/pkg/engine"
	"github.com/openfroyo/conform/pkg/task"
	"github.com/openfroyo/conform/pkg/telemetry"
)

// profileNamespace seeds the name based UUIDs of profiles without an ID.
var profileNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("conform:profile"))

// Loader parses profile files. YAML (.yaml, .yml, .json) and CUE (.cue)
// sources are unified with the #Profile schema, so both get the same
// defaults and constraints.
type Loader struct {
	ctx       *cue.Context
	schema    cue.Value
	validator *validator.Validate
	tasks     *task.Registry
}

// NewLoader creates a loader building tasks through tasks.
func NewLoader(tasks *task.Registry) (*Loader, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(profileSchema, cue.Filename("profile.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile profile schema: %w", err)
	}
	return &Loader{
		ctx:       ctx,
		schema:    root.LookupPath(cue.ParsePath("#Profile")),
		validator: validator.New(),
		tasks:     tasks,
	}, nil
}

// Supported reports whether name has a profile file extension.
func Supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json", ".cue":
		return true
	}
	return false
}

// LoadDir loads every profile file below root. A file's default owning
// directory is its directory relative to root. Files that fail to load are
// skipped and reported in the joined error.
func (l *Loader) LoadDir(ctx context.Context, root string) ([]*Profile, error) {
	logger := telemetry.FromContext(ctx).NewComponentLogger("profile-loader")

	var profiles []*Profile
	var errs []error
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !Supported(p) {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		prof, err := l.LoadFile(ctx, p, rel)
		if err != nil {
			logger.WithError(err).Warnf("skipping profile %s", p)
			errs = append(errs, err)
			return nil
		}
		profiles = append(profiles, prof)
		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to walk profile directory %s: %w", root, err)
	}

	Sort(profiles)
	logger.Debugf("loaded %d profiles from %s", len(profiles), root)
	return profiles, errors.Join(errs...)
}

// LoadFile loads a single profile file. rel is the slash separated path
// below the profile root; it seeds the default ID and directory.
func (l *Loader) LoadFile(ctx context.Context, file, rel string) (*Profile, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, engine.NewPermanentError("failed to read profile", err).
			WithResource(file).
			WithOperation("load_profile")
	}

	var val cue.Value
	if strings.EqualFold(filepath.Ext(file), ".cue") {
		val = l.ctx.CompileBytes(data, cue.Filename(file))
	} else {
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, invalid(file, "failed to parse profile", err)
		}
		val = l.ctx.Encode(doc)
	}
	if err := val.Err(); err != nil {
		return nil, invalid(file, "failed to parse profile", cueError(err))
	}

	spec, err := l.decode(val)
	if err != nil {
		return nil, invalid(file, "profile does not match schema", err)
	}

	if spec.ID == "" {
		spec.ID = uuid.NewSHA1(profileNamespace, []byte(rel)).String()
	}
	if spec.Directory == "" {
		if dir := path.Dir(rel); dir != "." {
			spec.Directory = dir
		}
	}

	p, err := l.Build(spec)
	if err != nil {
		var ee *engine.EngineError
		if errors.As(err, &ee) && ee.Resource == "" {
			ee.Resource = file
		}
		return nil, err
	}
	p.Path = file
	return p, nil
}

// Parse decodes an in-memory profile document of the given syntax, "yaml"
// or "cue".
func (l *Loader) Parse(data []byte, syntax string) (*Profile, error) {
	var val cue.Value
	switch syntax {
	case "cue":
		val = l.ctx.CompileBytes(data)
	case "yaml", "json":
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, invalid("inline", "failed to parse profile", err)
		}
		val = l.ctx.Encode(doc)
	default:
		return nil, invalid("inline", fmt.Sprintf("unsupported profile syntax %q", syntax), nil)
	}
	if err := val.Err(); err != nil {
		return nil, invalid("inline", "failed to parse profile", cueError(err))
	}
	spec, err := l.decode(val)
	if err != nil {
		return nil, invalid("inline", "profile does not match schema", err)
	}
	return l.Build(spec)
}

// Build validates spec and constructs the profile with its tasks.
func (l *Loader) Build(spec Spec) (*Profile, error) {
	if err := l.validator.Struct(spec); err != nil {
		return nil, engine.NewPermanentError("invalid profile", err).
			WithCode(engine.ErrCodeValidation)
	}
	for _, f := range spec.Filters {
		if err := f.Validate(); err != nil {
			return nil, err
		}
	}

	p := &Profile{
		ID:                     spec.ID,
		Name:                   spec.Name,
		Dir:                    spec.Directory,
		Filters:                spec.Filters,
		RunOnImport:            spec.RunOnImport,
		RestrictToOwnDirectory: spec.RestrictToOwnDirectory,
		SortIndex:              spec.SortIndex,
	}
	for i, ts := range spec.Tasks {
		t, err := l.tasks.Build(ts)
		if err != nil {
			return nil, fmt.Errorf("task %d of profile %s: %w", i, spec.Name, err)
		}
		if err := p.AddTask(t); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Save writes p back to its file in the file's format.
func (l *Loader) Save(p *Profile) error {
	if p.Path == "" {
		return engine.NewPermanentError("profile has no file", nil).
			WithCode(engine.ErrCodeValidation).
			WithDetail("profile", p.ID)
	}

	spec := p.Spec()
	var data []byte
	var err error
	if strings.EqualFold(filepath.Ext(p.Path), ".cue") {
		data, err = format.Node(l.ctx.Encode(spec).Syntax())
	} else {
		data, err = yaml.Marshal(spec)
	}
	if err != nil {
		return engine.NewPermanentError("failed to encode profile", err).WithResource(p.Path)
	}

	if err := os.WriteFile(p.Path, data, 0o644); err != nil {
		return engine.NewPermanentError("failed to write profile", err).
			WithResource(p.Path).
			WithOperation("save_profile")
	}
	return nil
}

func (l *Loader) decode(val cue.Value) (Spec, error) {
	unified := l.schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return Spec{}, cueError(err)
	}
	var spec Spec
	if err := unified.Decode(&spec); err != nil {
		return Spec{}, cueError(err)
	}
	return spec, nil
}

func invalid(file, msg string, err error) *engine.EngineError {
	return engine.NewPermanentError(msg, err).
		WithCode(engine.ErrCodeValidation).
		WithResource(file)
}

// cueError flattens CUE's error list into one error carrying positions.
func cueError(err error) error {
	var msgs []string
	for _, e := range cueerrors.Errors(err) {
		msg := cueerrors.Details(e, nil)
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			msg = fmt.Sprintf("%d:%d: %s", pos[0].Line(), pos[0].Column(), strings.TrimSpace(msg))
		}
		msgs = append(msgs, strings.TrimSpace(msg))
	}
	if len(msgs) == 0 {
		return err
	}
	return errors.New(strings.Join(msgs, "; "))
}
