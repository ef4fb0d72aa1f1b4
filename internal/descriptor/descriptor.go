// Package descriptor extracts the known bug ids of a firmware target from its
// bug_descriptor.c file.
package descriptor

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
)

// FileName is the descriptor file every target directory carries.
const FileName = "bug_descriptor.c"

var (
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineComment  = regexp.MustCompile(`//.*`)
	reportCall   = regexp.MustCompile(`report_detected_triggered\("([^"]+)"\);`)
)

// ParseFile returns the sorted, de-duplicated bug ids declared in path.
func ParseFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bug descriptor: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

func Parse(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read bug descriptor: %w", err)
	}
	src := blockComment.ReplaceAll(data, nil)
	src = lineComment.ReplaceAll(src, nil)

	seen := make(map[string]struct{})
	ids := []string{}
	for _, m := range reportCall.FindAllSubmatch(src, -1) {
		id := string(m[1])
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
