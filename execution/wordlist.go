package execution

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// apiWordlistFallbacks and genericWordlistFallbacks are tried, in order,
// when a requested wordlist is missing and no file with the same basename
// can be found anywhere under the mount root (spec.md §4.5 step 4
// "category fallback list (api vs. generic)").
var (
	apiWordlistFallbacks = []string{
		"Discovery/Web-Content/api/api-seen-in-wild.txt",
		"Discovery/Web-Content/common.txt",
	}
	genericWordlistFallbacks = []string{
		"Discovery/Web-Content/common.txt",
		"Discovery/Web-Content/raft-medium-words.txt",
	}
)

// resolveWordlist rewrites a "wordlist" parameter into an absolute path
// under root, the read-only mount every containerized tool shares (spec.md
// §6 "Wordlist mount"). If the rewritten path does not exist on the host,
// it searches the mount for a file with the same basename, then falls back
// to the first existing candidate from a category fallback list (spec.md
// §4.5 step 4, Scenario B). Every fallback is reported as a warning for the
// caller to record in the Decision Log.
func resolveWordlist(params map[string]any, root string) (map[string]any, []string) {
	v, ok := params["wordlist"]
	if !ok || root == "" {
		return params, nil
	}
	name, ok := v.(string)
	if !ok || name == "" {
		return params, nil
	}

	out := make(map[string]any, len(params))
	for k, val := range params {
		out[k] = val
	}

	requested := name
	if !strings.HasPrefix(name, root) {
		requested = filepath.Join(root, name)
	}

	if fileExists(requested) {
		out["wordlist"] = requested
		return out, nil
	}

	if found, ok := findByBasename(root, filepath.Base(requested)); ok {
		out["wordlist"] = found
		return out, []string{fmt.Sprintf("wordlist %q not found on host mount; using %q (matched by basename)", requested, found)}
	}

	for _, candidate := range categoryFallbacks(requested) {
		full := filepath.Join(root, candidate)
		if fileExists(full) {
			out["wordlist"] = full
			return out, []string{fmt.Sprintf("wordlist %q not found on host mount; falling back to %q", requested, full)}
		}
	}

	out["wordlist"] = requested
	return out, []string{fmt.Sprintf("wordlist %q not found on host mount and no fallback candidate exists under %q", requested, root)}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// findByBasename walks root looking for a file named base, stopping at the
// first match.
func findByBasename(root, base string) (string, bool) {
	var found string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || found != "" {
			return nil
		}
		if !d.IsDir() && d.Name() == base {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	return found, found != ""
}

func categoryFallbacks(requested string) []string {
	if strings.Contains(strings.ToLower(requested), "api") {
		return apiWordlistFallbacks
	}
	return genericWordlistFallbacks
}
