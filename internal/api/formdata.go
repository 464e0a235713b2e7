package api

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
)

// FormData is a multipart request body. Fields and files are written in
// the order they were added.
type FormData struct {
	parts []formPart
}

type formPart struct {
	name     string
	value    string
	filename string
	content  io.Reader
}

// NewFormData returns an empty multipart body.
func NewFormData() *FormData {
	return &FormData{}
}

// Append adds a text field.
func (f *FormData) Append(name, value string) *FormData {
	f.parts = append(f.parts, formPart{name: name, value: value})
	return f
}

// AppendFile adds a file part read from content.
func (f *FormData) AppendFile(name, filename string, content io.Reader) *FormData {
	f.parts = append(f.parts, formPart{name: name, filename: filename, content: content})
	return f
}

// encode writes the parts and returns the body with its content type,
// which carries the boundary.
func (f *FormData) encode() (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, p := range f.parts {
		if p.content == nil {
			if err := w.WriteField(p.name, p.value); err != nil {
				return nil, "", fmt.Errorf("writing field %q: %w", p.name, err)
			}
			continue
		}
		part, err := w.CreateFormFile(p.name, p.filename)
		if err != nil {
			return nil, "", fmt.Errorf("creating file part %q: %w", p.name, err)
		}
		if _, err := io.Copy(part, p.content); err != nil {
			return nil, "", fmt.Errorf("copying file %q: %w", p.filename, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
