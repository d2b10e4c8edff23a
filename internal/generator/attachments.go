package generator

import (
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const attachmentPreviewChars = 500

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".json": true, ".csv": true, ".html": true, ".css": true,
	".js": true, ".py": true, ".xml": true, ".yaml": true, ".yml": true,
}

// decodedAttachment is an attachment ready for the prompt.
type decodedAttachment struct {
	Name     string
	MimeType string
	Text     string // set for text files
	Size     int
	Binary   bool
}

// isTextFile reports whether name looks like a text file by extension.
func isTextFile(name string) bool {
	return textExtensions[strings.ToLower(filepath.Ext(name))]
}

// decodeAttachment parses a data:<mime>;base64,<payload> URI.
func decodeAttachment(a Attachment) (decodedAttachment, error) {
	if !strings.HasPrefix(a.URL, "data:") {
		return decodedAttachment{}, fmt.Errorf("attachment %q: not a data URI", a.Name)
	}
	header, payload, ok := strings.Cut(a.URL, "base64,")
	if !ok {
		return decodedAttachment{}, fmt.Errorf("attachment %q: missing base64 payload", a.Name)
	}

	mime := strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";")
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return decodedAttachment{}, fmt.Errorf("attachment %q: decoding base64: %w", a.Name, err)
	}

	d := decodedAttachment{Name: a.Name, MimeType: mime, Size: len(raw)}
	if isTextFile(a.Name) {
		if !utf8.Valid(raw) {
			return decodedAttachment{}, fmt.Errorf("attachment %q: text file is not valid UTF-8", a.Name)
		}
		d.Text = string(raw)
		return d, nil
	}
	d.Binary = true
	return d, nil
}

// decodeAttachments decodes every attachment, collecting the failures
// separately so a bad attachment never blocks generation.
func decodeAttachments(in []Attachment) ([]decodedAttachment, []error) {
	var (
		out  []decodedAttachment
		errs []error
	)
	for _, a := range in {
		d, err := decodeAttachment(a)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, d)
	}
	return out, errs
}

func (d decodedAttachment) preview() string {
	if d.Binary {
		return fmt.Sprintf("\nFile: %s (binary, %d bytes)\n", d.Name, d.Size)
	}
	text := d.Text
	if utf8.RuneCountInString(text) > attachmentPreviewChars {
		text = string([]rune(text)[:attachmentPreviewChars])
	}
	return fmt.Sprintf("\nFile: %s\nContent preview:\n%s\n", d.Name, text)
}
