package propertytree

import (
	"testing"
)

func sampleTree() *Tree {
	return New("TextureImporter",
		Int("maxTextureSize", 2048),
		Composite("mipmaps",
			Bool("enableMipMap", true),
			Float("mipMapBias", 0.5),
		),
		Array("platformSettings",
			Composite("", String("buildTarget", "Standalone"), Int("maxTextureSize", 1024)),
		),
		Ref("material", "guid-1"),
	)
}

func TestTreeLookupAndPaths(t *testing.T) {
	tree := sampleTree()

	tests := []struct {
		path string
		kind Kind
	}{
		{"maxTextureSize", KindInteger},
		{"mipmaps", KindComposite},
		{"mipmaps.mipMapBias", KindFloat},
		{"platformSettings.size", KindArraySize},
		{"platformSettings.data[0].buildTarget", KindString},
		{"material", KindObjectReference},
	}
	for _, tt := range tests {
		n := tree.Lookup(tt.path)
		if n == nil {
			t.Errorf("Lookup(%q) = nil", tt.path)
			continue
		}
		if n.Kind != tt.kind {
			t.Errorf("Lookup(%q).Kind = %s, want %s", tt.path, n.Kind, tt.kind)
		}
		if n.Path != tt.path {
			t.Errorf("Lookup(%q).Path = %q", tt.path, n.Path)
		}
	}

	if tree.Lookup("mipmaps.missing") != nil {
		t.Error("Lookup of a missing field should return nil")
	}
	if got := tree.Lookup("platformSettings.size").Value.Int; got != 1 {
		t.Errorf("array size = %d, want 1", got)
	}
}

func TestTreeSet(t *testing.T) {
	tree := New("EffectImporter", Vector("offset", KindVector3, 0, 0, 0), Composite("c", Int("x", 1)))

	if err := tree.Set("offset", Value{Vec: []float64{1, 2, 3}}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got := tree.Lookup("offset").Display(); got != "(1, 2, 3)" {
		t.Errorf("Display() = %q", got)
	}

	tests := []struct {
		name string
		path string
		v    Value
	}{
		{"missing", "nope", Value{}},
		{"composite", "c", Value{}},
		{"wrong arity", "offset", Value{Vec: []float64{1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tree.Set(tt.path, tt.v); err == nil {
				t.Error("Set() expected error")
			}
		})
	}
}

func TestTreeReplaceRelinks(t *testing.T) {
	dst := sampleTree()
	src := New("TextureImporter",
		Composite("mipmaps", Bool("enableMipMap", false), Float("mipMapBias", 2)),
	)

	if err := dst.Replace("mipmaps", src.Lookup("mipmaps")); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	n := dst.Lookup("mipmaps.enableMipMap")
	if n == nil || n.Value.Bool {
		t.Fatalf("replaced value not visible: %+v", n)
	}
	if n.Parent() != dst.Lookup("mipmaps") {
		t.Error("replaced child is not linked to its new parent")
	}

	// The source must stay independent of the destination.
	n.Value.Bool = true
	if src.Lookup("mipmaps.enableMipMap").Value.Bool {
		t.Error("Replace() shared nodes with the source tree")
	}

	if err := dst.Replace("maxTextureSize", src.Lookup("mipmaps")); err == nil {
		t.Error("Replace() with a different kind should fail")
	}
}

func TestTreeCloneIsDeep(t *testing.T) {
	orig := New("EffectImporter", Vector("tint", KindColor, 1, 1, 1, 1))
	cp := orig.Clone()
	cp.Lookup("tint").Value.Vec[0] = 0

	if orig.Lookup("tint").Value.Vec[0] != 1 {
		t.Error("Clone() shares vector storage")
	}
	if cp.Lookup("tint").Parent() != cp.Root {
		t.Error("cloned node not parented to cloned root")
	}
}

func TestCursorPreorder(t *testing.T) {
	tree := sampleTree()

	var visited []string
	tree.Walk(func(n *Node) bool {
		visited = append(visited, n.Path)
		return true
	})

	want := []string{
		"maxTextureSize",
		"mipmaps",
		"mipmaps.enableMipMap",
		"mipmaps.mipMapBias",
		"platformSettings",
		"platformSettings.size",
		"platformSettings.data[0]",
		"platformSettings.data[0].buildTarget",
		"platformSettings.data[0].maxTextureSize",
		"material",
	}
	if len(visited) != len(want) {
		t.Fatalf("visited %d nodes, want %d: %v", len(visited), len(want), visited)
	}
	for i := range want {
		if visited[i] != want[i] {
			t.Errorf("visit %d = %q, want %q", i, visited[i], want[i])
		}
	}
}

func TestCursorSkipChildren(t *testing.T) {
	tree := sampleTree()
	c := tree.Cursor()
	c.Next(true) // maxTextureSize
	c.Next(false)
	if c.Node().Path != "mipmaps" {
		t.Fatalf("at %q, want mipmaps", c.Node().Path)
	}

	stop := CursorAt(c.Node().NextSibling())
	c.Next(false)
	if !c.Equal(stop) {
		t.Errorf("Next(false) from a composite should land on its sibling, at %q", c.Node().Path)
	}

	cp := c.Copy()
	c.Next(false)
	if cp.Equal(c) {
		t.Error("Copy() should not move with the original")
	}

	for c.Next(false) {
	}
	if c.Valid() {
		t.Error("cursor should be invalid after the walk ends")
	}
	if !c.Equal(nil) {
		t.Error("an exhausted cursor equals a nil stop marker")
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		kind Kind
		v    Value
		want string
	}{
		{KindInteger, Value{Int: 100}, "100"},
		{KindBoolean, Value{Bool: true}, "true"},
		{KindFloat, Value{Float: 0.25}, "0.25"},
		{KindObjectReference, Value{}, "None"},
		{KindColor, Value{Vec: []float64{1, 0, 0, 1}}, "RGBA(1, 0, 0, 1)"},
		{KindRect, Value{Vec: []float64{0, 0, 1, 2}}, "(x:0, y:0, width:1, height:2)"},
		{KindBounds, Value{Vec: []float64{0, 1, 2, 3, 4, 5}}, "Center: (0, 1, 2), Extents: (3, 4, 5)"},
		{KindAnimationCurve, Value{Curve: []Keyframe{{}, {Time: 1}}}, "AnimationCurve(2 keys)"},
	}
	for _, tt := range tests {
		if got := Format(tt.kind, tt.v); got != tt.want {
			t.Errorf("Format(%s) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestParseKind(t *testing.T) {
	for k := KindInteger; k <= KindComposite; k++ {
		got, err := ParseKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %v, %v", k.String(), got, err)
		}
	}
	if _, err := ParseKind("matrix"); err == nil {
		t.Error("ParseKind() expected error for unknown kind")
	}
}
