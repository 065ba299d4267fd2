package models

import (
	"os"
	"path/filepath"
	"strings"
)

// CacheCandidates lists the directories searched for an existing model cache,
// in priority order.
func CacheCandidates(lookup func(string) (string, bool), home string) []string {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var out []string
	for _, key := range []string{"MODELSCOPE_CACHE", "ASR_CACHE_DIR"} {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			out = append(out, strings.TrimSpace(v))
		}
	}
	if home != "" {
		out = append(out,
			filepath.Join(home, ".cache", "huggingface", "hub"),
			filepath.Join(home, ".cache", "modelscope", "hub"),
		)
	}
	return out
}

// ResolveCacheDir picks the first candidate that exists on disk. When none
// does, the first candidate is returned, or fallback when there are none.
// found reports whether an existing directory was selected.
func ResolveCacheDir(candidates []string, fallback string) (dir string, found bool) {
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.IsDir() {
			return c, true
		}
	}
	if len(candidates) > 0 {
		return candidates[0], false
	}
	return fallback, false
}
