package adapterinfo

// Metadata captures static identifiers for the adapter.
type Metadata struct {
	Name        string
	BinaryName  string
	Slug        string
	Description string
	GeneratorID string
	Version     string
}

// Info describes the current adapter.
var Info = Metadata{
	Name:        "Nupi FunASR Local STT",
	BinaryName:  "plugin-stt-local-funasr",
	Slug:        "stt-local-funasr",
	Description: "Local streaming speech-to-text adapter with punctuation restoration backed by FunASR models.",
	GeneratorID: "stt-local-funasr",
	Version:     "0.3.0",
}

// Version returns the adapter release.
func Version() string { return Info.Version }

// TranscriptMetadata produces the standard metadata payload attached
// to emitted transcripts.
func TranscriptMetadata(backend, language string, punctuated bool) map[string]string {
	md := map[string]string{
		"generator": Info.GeneratorID,
		"backend":   backend,
		"language":  language,
	}
	if punctuated {
		md["punctuated"] = "true"
	}
	return md
}
