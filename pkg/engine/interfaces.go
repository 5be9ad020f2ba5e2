package engine

import (
	"context"
	"path"
	"strings"

	"github.com/openfroyo/conform/pkg/propertytree"
)

// Resource is the metadata projection of a managed resource that filters and
// tasks evaluate. It is supplied by the host's ResourceAccessor.
type Resource struct {
	// Path is the slash-separated resource path, e.g. "Assets/Textures/hero.png".
	Path string `json:"path" yaml:"path"`

	// ImporterType is the name of the importer settings type, e.g. "TextureImporter".
	ImporterType string `json:"importer_type" yaml:"importer_type"`

	// Size is the resource size in bytes.
	Size int64 `json:"size" yaml:"size"`

	// AssetBundleName is the bundle the resource is assigned to, if any.
	AssetBundleName string `json:"asset_bundle_name,omitempty" yaml:"asset_bundle_name,omitempty"`

	// Labels are host supplied labels.
	Labels []string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// Filename returns the final path element without its extension.
func (r *Resource) Filename() string {
	base := path.Base(r.Path)
	return strings.TrimSuffix(base, path.Ext(base))
}

// Extension returns the extension of the resource path including the dot.
func (r *Resource) Extension() string {
	return path.Ext(r.Path)
}

// Directory returns the path of the directory containing the resource.
func (r *Resource) Directory() string {
	dir := path.Dir(r.Path)
	if dir == "." {
		return ""
	}
	return dir
}

// FolderName returns the name of the directory containing the resource.
func (r *Resource) FolderName() string {
	dir := r.Directory()
	if dir == "" {
		return ""
	}
	return path.Base(dir)
}

// ResourceAccessor is implemented by the host that owns resources. The
// pipeline calls it synchronously and treats failures as task failures.
type ResourceAccessor interface {
	// Find returns the resource at path.
	Find(ctx context.Context, resourcePath string) (*Resource, error)

	// List returns every known resource ordered by path.
	List(ctx context.Context) ([]*Resource, error)

	// Settings returns a fresh property tree view over the resource's import settings.
	Settings(ctx context.Context, resourcePath string) (*propertytree.Tree, error)

	// CommitSettings writes a modified property tree back to the resource.
	CommitSettings(ctx context.Context, resourcePath string, tree *propertytree.Tree) error

	// Annotation returns the resource's free-form annotation string.
	Annotation(ctx context.Context, resourcePath string) (string, error)

	// SetAnnotation replaces the resource's annotation string.
	SetAnnotation(ctx context.Context, resourcePath, value string) error

	// Reimport asks the host to re-validate the resource, which runs the
	// import pipeline again. Inside a batch the request is deferred.
	Reimport(ctx context.Context, resourcePath string) error

	// StartBatch opens a batch bracket; reimports are collected until StopBatch.
	StartBatch(ctx context.Context)

	// StopBatch closes the bracket and performs the collected reimports.
	StopBatch(ctx context.Context) error
}
