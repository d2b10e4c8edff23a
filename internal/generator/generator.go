// Package generator turns a deployment brief into a set of source files
// using a chat model.
//
// The model is asked for files in a delimited text format:
//
//	===FILE:index.html===
//	<!DOCTYPE html>...
//	===END===
//
// Responses are parsed, completed with a LICENSE and README when the model
// omitted them, and rejected when index.html is not a usable HTML document.
package generator

import (
	"context"
	"errors"
	"maps"
	"slices"
)

// Essential file names present in every FileSet.
const (
	IndexFile   = "index.html"
	ReadmeFile  = "README.md"
	LicenseFile = "LICENSE"
)

var (
	// ErrEmptyBrief is returned when the request has nothing to build.
	ErrEmptyBrief = errors.New("brief is required")

	// ErrInvalidOutput is returned when the model response cannot be used.
	ErrInvalidOutput = errors.New("model output is not a valid application")
)

// Attachment is a named data URI passed through to the prompt.
type Attachment struct {
	Name string
	URL  string
}

// Request describes what to generate.
type Request struct {
	TaskID      string
	Round       int
	Brief       string
	Checks      []string
	Attachments []Attachment
}

// FileSet maps a relative path to file content.
type FileSet map[string]string

// Names returns the file paths in sorted order.
func (f FileSet) Names() []string {
	return slices.Sorted(maps.Keys(f))
}

// Clone returns a copy of f.
func (f FileSet) Clone() FileSet {
	return maps.Clone(f)
}

// Size returns the total content length in bytes.
func (f FileSet) Size() int {
	n := 0
	for _, c := range f {
		n += len(c)
	}
	return n
}

// Generator produces application files for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (FileSet, error)

	// Ping reports whether the generator is able to serve requests.
	Ping(ctx context.Context) error
}
