package callback

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/conform/pkg/engine"
	"github.com/openfroyo/conform/pkg/telemetry"
)

// ScriptExtension is the file extension of script callbacks.
const ScriptExtension = ".star"

// DefaultMaxSteps bounds the work a single script call may do.
const DefaultMaxSteps = 10_000_000

// ScriptEvaluator loads and runs Starlark callback scripts. A script
// declares its stage, version and a process function:
//
//	stage = "pre"
//	version = 2
//
//	def process(resource, data, settings, shared):
//	    settings["maxTextureSize"] = 512
//	    return True
//
// Optional globals type_name and display_name override the defaults
// derived from the file name.
type ScriptEvaluator struct {
	maxSteps uint64
}

// NewScriptEvaluator creates an evaluator. Zero maxSteps uses DefaultMaxSteps.
func NewScriptEvaluator(maxSteps uint64) *ScriptEvaluator {
	if maxSteps == 0 {
		maxSteps = DefaultMaxSteps
	}
	return &ScriptEvaluator{maxSteps: maxSteps}
}

// Script is a callback backed by a Starlark script.
type Script struct {
	path     string
	typeName string
	assembly string
	display  string
	kind     Kind
	version  int
	process  starlark.Callable
	maxSteps uint64
}

func (s *Script) TypeName() string     { return s.typeName }
func (s *Script) AssemblyName() string { return s.assembly }
func (s *Script) DisplayName() string  { return s.display }
func (s *Script) Kind() Kind           { return s.kind }
func (s *Script) Version() int         { return s.version }

// Path returns the script file the callback was loaded from.
func (s *Script) Path() string { return s.path }

// LoadDir loads every script below dir. A missing directory yields no
// callbacks. Scripts that fail to load are skipped and reported together.
func (e *ScriptEvaluator) LoadDir(ctx context.Context, dir string) ([]Callback, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(p) == ScriptExtension {
			paths = append(paths, p)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan callback directory %s: %w", dir, err)
	}
	sort.Strings(paths)

	logger := telemetry.FromContext(ctx)
	var out []Callback
	var errs []error
	for _, p := range paths {
		src, err := os.ReadFile(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to read %s: %w", p, err))
			continue
		}
		assembly := "scripts." + filepath.Base(filepath.Dir(p))
		cb, err := e.Load(p, assembly, src)
		if err != nil {
			logger.WithField("script", p).WithError(err).Warn("skipping callback script")
			errs = append(errs, err)
			continue
		}
		out = append(out, cb)
	}
	return out, errors.Join(errs...)
}

// Load executes a script's top level and returns the callback it declares.
func (e *ScriptEvaluator) Load(path, assembly string, src []byte) (*Script, error) {
	thread := e.newThread(path)
	globals, err := starlark.ExecFile(thread, path, src, predeclared())
	if err != nil {
		return nil, engine.NewPermanentError("failed to load callback script", err).
			WithDetail("script", path)
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	s := &Script{
		path:     path,
		typeName: base,
		assembly: assembly,
		maxSteps: e.maxSteps,
	}

	stage, err := stringGlobal(globals, "stage", true)
	if err != nil {
		return nil, scriptError(path, err)
	}
	switch stage {
	case "pre":
		s.kind = KindPreprocessor
	case "post":
		s.kind = KindPostprocessor
	default:
		return nil, scriptError(path, fmt.Errorf("stage must be \"pre\" or \"post\", got %q", stage))
	}

	v, ok := globals["version"].(starlark.Int)
	if !ok {
		return nil, scriptError(path, fmt.Errorf("version must be an int"))
	}
	version, ok := v.Int64()
	if !ok {
		return nil, scriptError(path, fmt.Errorf("version out of range"))
	}
	s.version = int(version)

	if s.process, ok = globals["process"].(starlark.Callable); !ok {
		return nil, scriptError(path, fmt.Errorf("process must be a function"))
	}

	if name, err := stringGlobal(globals, "type_name", false); err != nil {
		return nil, scriptError(path, err)
	} else if name != "" {
		s.typeName = name
	}
	if s.display, err = stringGlobal(globals, "display_name", false); err != nil {
		return nil, scriptError(path, err)
	}
	if s.display == "" {
		s.display = displayName(s.typeName)
	}
	return s, nil
}

// Process calls the script's process function. Changes the script makes to
// the settings and shared dicts are copied back into inv.
func (s *Script) Process(ctx context.Context, inv *Invocation) (bool, error) {
	thread := (&ScriptEvaluator{maxSteps: s.maxSteps}).newThread(s.path)
	stop := context.AfterFunc(ctx, func() { thread.Cancel("context cancelled") })
	defer stop()

	settings, err := toStarlarkValue(mapOrEmpty(inv.Settings))
	if err != nil {
		return false, fmt.Errorf("failed to convert settings: %w", err)
	}
	shared := starlark.NewDict(len(inv.Shared))
	for k, v := range inv.Shared {
		sv, err := toStarlarkValue(v)
		if err != nil {
			// Values scripts cannot represent stay on the Go side.
			continue
		}
		if err := shared.SetKey(starlark.String(k), sv); err != nil {
			return false, err
		}
	}

	args := starlark.Tuple{resourceStruct(inv.Resource), starlark.String(inv.Data), settings, shared}
	ret, err := starlark.Call(thread, s.process, args, nil)
	if err != nil {
		return false, engine.NewPermanentError("callback script failed", err).
			WithCode(engine.ErrCodeCallbackFailed).
			WithDetail("script", s.path)
	}

	out, err := fromStarlarkValue(settings)
	if err != nil {
		return false, fmt.Errorf("failed to convert settings: %w", err)
	}
	if m, ok := out.(map[string]any); ok {
		inv.Settings = m
	}
	if inv.Shared == nil {
		inv.Shared = make(map[string]any)
	}
	for _, item := range shared.Items() {
		k, ok := item[0].(starlark.String)
		if !ok {
			continue
		}
		if v, err := fromStarlarkValue(item[1]); err == nil {
			inv.Shared[string(k)] = v
		}
	}

	switch r := ret.(type) {
	case starlark.Bool:
		return bool(r), nil
	case starlark.NoneType:
		return false, nil
	default:
		return false, engine.NewPermanentError(
			fmt.Sprintf("callback script returned %s, want bool", ret.Type()), nil).
			WithCode(engine.ErrCodeCallbackFailed).
			WithDetail("script", s.path)
	}
}

func (e *ScriptEvaluator) newThread(name string) *starlark.Thread {
	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			// Scripts cannot write to the CLI's stdout.
		},
	}
	thread.SetMaxExecutionSteps(e.maxSteps)
	return thread
}

func predeclared() starlark.StringDict {
	return starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}
}

func resourceStruct(res *engine.Resource) starlark.Value {
	if res == nil {
		return starlark.None
	}
	labels := make([]starlark.Value, len(res.Labels))
	for i, l := range res.Labels {
		labels[i] = starlark.String(l)
	}
	return starlarkstruct.FromStringDict(starlark.String("resource"), starlark.StringDict{
		"path":              starlark.String(res.Path),
		"filename":          starlark.String(res.Filename()),
		"extension":         starlark.String(res.Extension()),
		"directory":         starlark.String(res.Directory()),
		"folder_name":       starlark.String(res.FolderName()),
		"importer_type":     starlark.String(res.ImporterType),
		"asset_bundle_name": starlark.String(res.AssetBundleName),
		"size":              starlark.MakeInt64(res.Size),
		"labels":            starlark.NewList(labels),
	})
}

func stringGlobal(globals starlark.StringDict, name string, required bool) (string, error) {
	v, ok := globals[name]
	if !ok {
		if required {
			return "", fmt.Errorf("%s is not declared", name)
		}
		return "", nil
	}
	s, ok := v.(starlark.String)
	if !ok {
		return "", fmt.Errorf("%s must be a string", name)
	}
	return string(s), nil
}

func scriptError(path string, err error) error {
	return engine.NewPermanentError("invalid callback script", err).
		WithCode(engine.ErrCodeValidation).
		WithDetail("script", path)
}

func mapOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// toStarlarkValue converts a settings document value to Starlark.
func toStarlarkValue(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case []float64:
		list := make([]starlark.Value, len(val))
		for i, f := range val {
			list[i] = starlark.Float(f)
		}
		return starlark.NewList(list), nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			sv, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value back to a document value.
func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]any, len(val))
		for i, item := range val {
			gv, err := fromStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = gv
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]any)
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
