package api

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
)

// FormFile is a file part of a multipart upload.
type FormFile struct {
	Field    string
	FileName string
	Content  []byte
}

// FormField is a non-file part. ContentType may be empty for plain text.
type FormField struct {
	Name        string
	Value       string
	ContentType string
}

// Upload POSTs a multipart/form-data body. The body is fully buffered so a
// throttled request can be replayed.
func (c *Client) Upload(ctx context.Context, path string, file FormFile, fields []FormField, opts ...Option) (*Response, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile(file.Field, file.FileName)
	if err != nil {
		return nil, fmt.Errorf("failed to add %s to upload: %w", file.FileName, err)
	}
	if _, err := fw.Write(file.Content); err != nil {
		return nil, fmt.Errorf("failed to write %s to upload: %w", file.FileName, err)
	}

	for _, f := range fields {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q`, f.Name))
		if f.ContentType != "" {
			h.Set("Content-Type", f.ContentType)
		}
		pw, err := mw.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("failed to add field %s: %w", f.Name, err)
		}
		if _, err := pw.Write([]byte(f.Value)); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", f.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish upload body: %w", err)
	}

	return c.send(ctx, http.MethodPost, path, buf.Bytes(), mw.FormDataContentType(), opts)
}
