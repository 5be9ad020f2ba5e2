package propertytree

// RecycledIDsField is the internal field that maps file ids to recycled
// sub-object names. Its values are expected to differ per resource.
const RecycledIDsField = "fileIDToRecycleName"

// AnnotationField is the free-form annotation field of a settings document.
const AnnotationField = "userData"

var recycledIDs = Field{
	Name: RecycledIDsField,
	Kind: KindComposite,
	Elem: &Field{Kind: KindComposite, Fields: []Field{
		{Name: "fileID", Kind: KindInteger},
		{Name: "name", Kind: KindString},
	}},
}

// BuiltinSchemas returns the schemas of the importer types known out of the box.
func BuiltinSchemas() []Schema {
	return []Schema{
		textureImporter(),
		modelImporter(),
		audioImporter(),
		effectImporter(),
		{Type: "DefaultImporter"},
	}
}

func textureImporter() Schema {
	return Schema{
		Type: "TextureImporter",
		Fields: []Field{
			recycledIDs,
			{Name: "textureType", Kind: KindEnum},
			{Name: "sRGBTexture", Kind: KindBoolean},
			{Name: "alphaIsTransparency", Kind: KindBoolean},
			{Name: "isReadable", Kind: KindBoolean},
			{Name: "mipmaps", Kind: KindComposite, Fields: []Field{
				{Name: "enableMipMap", Kind: KindBoolean},
				{Name: "mipMapBias", Kind: KindFloat},
				{Name: "fadeOut", Kind: KindBoolean},
			}},
			{Name: "maxTextureSize", Kind: KindInteger},
			{Name: "compressionQuality", Kind: KindInteger},
			{Name: "wrapMode", Kind: KindEnum},
			{Name: "filterMode", Kind: KindEnum},
			{Name: "anisoLevel", Kind: KindInteger},
			{Name: "spritePivot", Kind: KindVector2},
			{Name: "spriteBorder", Kind: KindVector4},
			{Name: "spritePackingTag", Kind: KindString},
			{Name: "platformSettings", Kind: KindComposite, Elem: &Field{Kind: KindComposite, Fields: []Field{
				{Name: "buildTarget", Kind: KindString},
				{Name: "maxTextureSize", Kind: KindInteger},
				{Name: "textureFormat", Kind: KindEnum},
				{Name: "overridden", Kind: KindBoolean},
			}}},
		},
	}
}

func modelImporter() Schema {
	return Schema{
		Type: "ModelImporter",
		Fields: []Field{
			recycledIDs,
			{Name: "globalScale", Kind: KindFloat},
			{Name: "useFileScale", Kind: KindBoolean},
			{Name: "meshCompression", Kind: KindEnum},
			{Name: "isReadable", Kind: KindBoolean},
			{Name: "optimizeMesh", Kind: KindBoolean},
			{Name: "importBlendShapes", Kind: KindBoolean},
			{Name: "importNormals", Kind: KindEnum},
			{Name: "normalSmoothingAngle", Kind: KindFloat},
			{Name: "materialImportMode", Kind: KindEnum},
			{Name: "animationType", Kind: KindEnum},
			{Name: "avatarSource", Kind: KindObjectReference},
			{Name: "importAnimation", Kind: KindBoolean},
			{Name: "clipAnimations", Kind: KindComposite, Elem: &Field{Kind: KindComposite, Fields: []Field{
				{Name: "name", Kind: KindString},
				{Name: "firstFrame", Kind: KindFloat},
				{Name: "lastFrame", Kind: KindFloat},
				{Name: "loopTime", Kind: KindBoolean},
				{Name: "curve", Kind: KindAnimationCurve},
			}}},
		},
	}
}

func audioImporter() Schema {
	return Schema{
		Type: "AudioImporter",
		Fields: []Field{
			{Name: "forceToMono", Kind: KindBoolean},
			{Name: "loadInBackground", Kind: KindBoolean},
			{Name: "ambisonic", Kind: KindBoolean},
			{Name: "preloadAudioData", Kind: KindBoolean},
			{Name: "defaultSettings", Kind: KindComposite, Fields: []Field{
				{Name: "loadType", Kind: KindEnum},
				{Name: "compressionFormat", Kind: KindEnum},
				{Name: "quality", Kind: KindFloat},
				{Name: "sampleRateSetting", Kind: KindEnum},
				{Name: "sampleRateOverride", Kind: KindInteger},
			}},
		},
	}
}

func effectImporter() Schema {
	return Schema{
		Type: "EffectImporter",
		Fields: []Field{
			{Name: "tint", Kind: KindColor},
			{Name: "colorOverLifetime", Kind: KindGradient},
			{Name: "sizeOverLifetime", Kind: KindAnimationCurve},
			{Name: "offset", Kind: KindVector3},
			{Name: "rotation", Kind: KindQuaternion},
			{Name: "uvRect", Kind: KindRect},
			{Name: "bounds", Kind: KindBounds},
			{Name: "separator", Kind: KindCharacter},
			{Name: "material", Kind: KindObjectReference},
		},
	}
}
