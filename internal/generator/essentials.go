package generator

import (
	"fmt"
	"strings"
	"time"
)

const (
	minIndexChars  = 100
	minReadmeChars = 50
)

var requiredHTMLTags = []string{"<!doctype html>", "<html", "<head", "<body"}

// ValidateHTML checks that index.html content is a complete document.
func ValidateHTML(content string) error {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) < minIndexChars {
		return fmt.Errorf("%w: index.html is too short or empty (%d chars)", ErrInvalidOutput, len(trimmed))
	}

	lower := strings.ToLower(trimmed)
	var missing []string
	for _, tag := range requiredHTMLTags {
		if !strings.Contains(lower, tag) {
			missing = append(missing, tag)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: index.html missing required tags %v", ErrInvalidOutput, missing)
	}
	return nil
}

// ensureEssentialFiles adds LICENSE and README.md when the model omitted them
// or produced a README that is too short to be useful.
func ensureEssentialFiles(files FileSet, req Request, now time.Time) []string {
	var added []string
	if _, ok := files[LicenseFile]; !ok {
		files[LicenseFile] = mitLicense(now.Year())
		added = append(added, LicenseFile)
	}
	if len(strings.TrimSpace(files[ReadmeFile])) < minReadmeChars {
		files[ReadmeFile] = readmeTemplate(req, now)
		added = append(added, ReadmeFile)
	}
	return added
}

func mitLicense(year int) string {
	return fmt.Sprintf(`MIT License

Copyright (c) %d LLM Generated Code

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
`, year)
}

func readmeTemplate(req Request, now time.Time) string {
	var checks strings.Builder
	for _, c := range req.Checks {
		fmt.Fprintf(&checks, "- %s\n", c)
	}

	return fmt.Sprintf(`# Generated Web Application

## Project Information
- **Task ID**: %s
- **Round**: %d
- **Generated**: %s

## Description
%s

## Usage
Open `+"`index.html`"+` in any modern web browser, or visit the GitHub Pages deployment.

## Evaluation Criteria
%s
## License
MIT License - see LICENSE file for details
`, req.TaskID, req.Round, now.UTC().Format("2006-01-02 15:04:05"), req.Brief, checks.String())
}
