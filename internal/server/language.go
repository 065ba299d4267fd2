package server

import "strings"

// languageMetadataKey carries the client's ISO 639-1 language code.
const languageMetadataKey = "nupi.lang.iso1"

// resolveLanguage picks the transcript language. The "client" mode defers to
// stream metadata and falls back to "auto"; any other value is used as is.
func resolveLanguage(configured string, metadata map[string]string) string {
	configured = strings.TrimSpace(configured)
	switch strings.ToLower(configured) {
	case "":
		return "auto"
	case "client":
		if lang := strings.TrimSpace(metadata[languageMetadataKey]); lang != "" {
			return lang
		}
		return "auto"
	default:
		return configured
	}
}
