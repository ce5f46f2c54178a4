package audio

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ResolveFile finds the stored recording of a session.
// Priority: 1) the first existing candidate path  2) a supported file in
// audioDir/sessionID (alphabetical).
func ResolveFile(audioDir, sessionID string, candidates ...string) string {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if fi, err := os.Stat(c); err == nil && !fi.IsDir() {
			return c
		}
	}

	if audioDir == "" || sessionID == "" {
		return ""
	}
	dir := filepath.Join(audioDir, sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if Supported(filepath.Ext(e.Name())) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return filepath.Join(dir, names[0])
}
