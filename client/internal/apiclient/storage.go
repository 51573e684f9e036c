package apiclient

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
)

func escapePath(p string) string {
	segments := strings.Split(strings.TrimLeft(p, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

// Upload stores r at path in the configured bucket. Existing objects are not overwritten.
func (c *APIClient) Upload(ctx context.Context, path string, r io.Reader, size int64, mime string) error {
	if mime == "" {
		mime = "application/octet-stream"
	}
	resp, err := c.do(ctx, http.MethodPost, "/storage/v1/object/"+url.PathEscape(c.Bucket)+"/"+escapePath(path), r,
		contentType(mime), contentLength(size))
	if err != nil {
		return err
	}
	if err := check(resp, "upload "+path); err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *APIClient) PublicURL(path string) string {
	return c.BaseURL + "/storage/v1/object/public/" + url.PathEscape(c.Bucket) + "/" + escapePath(path)
}
