package generator

import (
	"path"
	"regexp"
	"strings"
)

var fileBlockPattern = regexp.MustCompile(`(?s)===FILE:([^=]+)===\s*(.*?)\s*===END===`)

// ParseFiles extracts the files from a model response. Blocks the pattern
// misses are recovered by a line-oriented scan.
func ParseFiles(response string) FileSet {
	files := make(FileSet)
	for _, m := range fileBlockPattern.FindAllStringSubmatch(response, -1) {
		addFile(files, m[1], m[2])
	}
	if len(files) > 0 {
		return files
	}
	return parseLineByLine(response)
}

func parseLineByLine(response string) FileSet {
	files := make(FileSet)
	var (
		current string
		open    bool
		lines   []string
	)
	flush := func() {
		if open {
			addFile(files, current, strings.Join(lines, "\n"))
		}
		current, open, lines = "", false, nil
	}

	for _, line := range strings.Split(response, "\n") {
		switch {
		case strings.HasPrefix(line, "===FILE:"):
			flush()
			current = strings.ReplaceAll(strings.TrimPrefix(line, "===FILE:"), "===", "")
			open = true
		case strings.HasPrefix(line, "===END==="):
			flush()
		case open:
			lines = append(lines, line)
		}
	}
	flush()
	return files
}

func addFile(files FileSet, name, content string) {
	name, ok := cleanName(name)
	content = strings.TrimSpace(content)
	if !ok || content == "" {
		return
	}
	files[name] = content
}

// cleanName normalizes a model-supplied path and rejects anything that would
// escape the repository root.
func cleanName(name string) (string, bool) {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" || strings.HasPrefix(name, "/") {
		return "", false
	}
	cleaned := path.Clean(name)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.HasPrefix(cleaned, ".git/") || cleaned == ".git" {
		return "", false
	}
	return cleaned, true
}
