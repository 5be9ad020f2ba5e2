// Package filter evaluates predicates over resource metadata. A profile is
// applicable to a resource only when every one of its filters matches.
package filter

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/openfroyo/conform/pkg/engine"
	"github.com/openfroyo/conform/pkg/telemetry"
)

// Target selects the resource projection a filter is evaluated against.
type Target string

const (
	TargetFilename        Target = "filename"
	TargetFullPath        Target = "full_path"
	TargetFolderName      Target = "folder_name"
	TargetDirectory       Target = "directory"
	TargetExtension       Target = "extension"
	TargetFileSize        Target = "file_size"
	TargetAssetBundleName Target = "asset_bundle_name"
	TargetImporterType    Target = "importer_type"
	TargetLabels          Target = "labels"
)

// Targets lists every supported target.
var Targets = []Target{
	TargetFilename, TargetFullPath, TargetFolderName, TargetDirectory,
	TargetExtension, TargetFileSize, TargetAssetBundleName,
	TargetImporterType, TargetLabels,
}

// Condition is the comparison a filter applies.
type Condition string

const (
	ConditionEquals           Condition = "equals"
	ConditionContains         Condition = "contains"
	ConditionDoesNotContain   Condition = "does_not_contain"
	ConditionStartsWith       Condition = "starts_with"
	ConditionEndsWith         Condition = "ends_with"
	ConditionRegex            Condition = "regex"
	ConditionGreaterThan      Condition = "greater_than"
	ConditionGreaterThanEqual Condition = "greater_than_equal"
	ConditionLessThan         Condition = "less_than"
	ConditionLessThanEqual    Condition = "less_than_equal"
)

// Conditions lists every supported condition.
var Conditions = []Condition{
	ConditionEquals, ConditionContains, ConditionDoesNotContain,
	ConditionStartsWith, ConditionEndsWith, ConditionRegex,
	ConditionGreaterThan, ConditionGreaterThanEqual,
	ConditionLessThan, ConditionLessThanEqual,
}

// Filter is a single predicate over a resource projection.
type Filter struct {
	Target    Target    `json:"target" yaml:"target" validate:"required"`
	Condition Condition `json:"condition" yaml:"condition" validate:"required"`
	Pattern   string    `json:"pattern" yaml:"pattern"`
}

func (f Filter) String() string {
	return fmt.Sprintf("%s %s %q", f.Target, f.Condition, f.Pattern)
}

// Validate checks that the target and condition are known and compatible.
// It does not reject unparsable numeric patterns or invalid expressions;
// those fail closed at evaluation time.
func (f Filter) Validate() error {
	if !knownTarget(f.Target) {
		return engine.NewFilterParseError(fmt.Sprintf("unknown filter target %q", f.Target), nil).
			WithCode(engine.ErrCodeValidation)
	}
	if !knownCondition(f.Condition) {
		return engine.NewFilterParseError(fmt.Sprintf("unknown filter condition %q", f.Condition), nil).
			WithCode(engine.ErrCodeValidation)
	}
	if !supports(f.Target, f.Condition) {
		return engine.NewFilterParseError(
			fmt.Sprintf("condition %q is not supported for target %q", f.Condition, f.Target), nil).
			WithCode(engine.ErrCodeValidation)
	}
	return nil
}

// Matches reports whether res satisfies every filter. An empty filter set
// always matches; evaluation stops at the first failing filter.
func Matches(ctx context.Context, res *engine.Resource, filters []Filter) bool {
	if res == nil {
		return false
	}
	for _, f := range filters {
		if !f.Match(ctx, res) {
			return false
		}
	}
	return true
}

// Match evaluates a single filter against res.
func (f Filter) Match(ctx context.Context, res *engine.Resource) bool {
	switch f.Target {
	case TargetFilename:
		return f.matchString(ctx, res.Filename())
	case TargetFullPath:
		return f.matchString(ctx, res.Path)
	case TargetFolderName:
		return f.matchString(ctx, res.FolderName())
	case TargetDirectory:
		return f.matchString(ctx, res.Directory())
	case TargetExtension:
		return f.matchString(ctx, res.Extension())
	case TargetAssetBundleName:
		return f.matchString(ctx, res.AssetBundleName)
	case TargetImporterType:
		return f.matchString(ctx, res.ImporterType)
	case TargetFileSize:
		return f.matchNumber(ctx, res.Size)
	case TargetLabels:
		return f.matchLabels(ctx, res.Labels)
	default:
		f.fail(ctx, fmt.Errorf("unknown filter target %q", f.Target))
		return false
	}
}

func (f Filter) matchString(ctx context.Context, value string) bool {
	switch f.Condition {
	case ConditionEquals:
		return strings.EqualFold(value, f.Pattern)
	case ConditionContains:
		return strings.Contains(value, f.Pattern)
	case ConditionDoesNotContain:
		return !strings.Contains(value, f.Pattern)
	case ConditionStartsWith:
		return hasPrefixFold(value, f.Pattern)
	case ConditionEndsWith:
		return hasSuffixFold(value, f.Pattern)
	case ConditionRegex:
		re, err := regexp.Compile(f.Pattern)
		if err != nil {
			f.fail(ctx, err)
			return false
		}
		return re.MatchString(value)
	default:
		f.fail(ctx, fmt.Errorf("condition %q does not apply to text", f.Condition))
		return false
	}
}

func (f Filter) matchNumber(ctx context.Context, value int64) bool {
	n, err := strconv.ParseInt(strings.TrimSpace(f.Pattern), 10, 64)
	if err != nil {
		f.fail(ctx, fmt.Errorf("pattern is not an integer: %w", err))
		return false
	}

	switch f.Condition {
	case ConditionEquals:
		return value == n
	case ConditionGreaterThan:
		return value > n
	case ConditionGreaterThanEqual:
		return value >= n
	case ConditionLessThan:
		return value < n
	case ConditionLessThanEqual:
		return value <= n
	default:
		f.fail(ctx, fmt.Errorf("condition %q does not apply to numbers", f.Condition))
		return false
	}
}

func (f Filter) matchLabels(ctx context.Context, labels []string) bool {
	wanted := splitLabels(f.Pattern)

	switch f.Condition {
	case ConditionEquals:
		have := splitLabels(strings.Join(labels, ","))
		if len(wanted) != len(have) {
			return false
		}
		return containsAll(have, wanted)
	case ConditionContains:
		return containsAll(labels, wanted)
	case ConditionDoesNotContain:
		for _, w := range wanted {
			if containsFold(labels, w) {
				return false
			}
		}
		return true
	default:
		f.fail(ctx, fmt.Errorf("condition %q does not apply to labels", f.Condition))
		return false
	}
}

// fail logs and counts a filter that could not be evaluated.
func (f Filter) fail(ctx context.Context, err error) {
	ferr := engine.NewFilterParseError("filter evaluates to false", err).
		WithDetail("filter", f.String())
	telemetry.FromContext(ctx).WithError(ferr).Warn("filter could not be evaluated")
	metrics := telemetry.MetricsFromContext(ctx)
	metrics.RecordFilterFailure(string(f.Target), string(f.Condition))
	metrics.RecordError(string(engine.ErrorClassFilterParse))
}

func splitLabels(pattern string) []string {
	var out []string
	for _, l := range strings.Split(pattern, ",") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func containsAll(have, wanted []string) bool {
	for _, w := range wanted {
		if !containsFold(have, w) {
			return false
		}
	}
	return true
}

func containsFold(list []string, s string) bool {
	for _, l := range list {
		if strings.EqualFold(strings.TrimSpace(l), s) {
			return true
		}
	}
	return false
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func hasSuffixFold(s, suffix string) bool {
	return len(s) >= len(suffix) && strings.EqualFold(s[len(s)-len(suffix):], suffix)
}

func knownTarget(t Target) bool {
	for _, k := range Targets {
		if k == t {
			return true
		}
	}
	return false
}

func knownCondition(c Condition) bool {
	for _, k := range Conditions {
		if k == c {
			return true
		}
	}
	return false
}

func supports(t Target, c Condition) bool {
	switch t {
	case TargetFileSize:
		switch c {
		case ConditionEquals, ConditionGreaterThan, ConditionGreaterThanEqual,
			ConditionLessThan, ConditionLessThanEqual:
			return true
		}
		return false
	case TargetLabels:
		return c == ConditionEquals || c == ConditionContains || c == ConditionDoesNotContain
	default:
		switch c {
		case ConditionGreaterThan, ConditionGreaterThanEqual,
			ConditionLessThan, ConditionLessThanEqual:
			return false
		}
		return true
	}
}
