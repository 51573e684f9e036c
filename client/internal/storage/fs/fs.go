// Package fs is an object store on the local filesystem. Files are served by whatever
// static file server is mounted at the public URL.
package fs

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/itchan-dev/pairchat/client/internal/composer"
	internal_errors "github.com/itchan-dev/pairchat/shared/errors"
)

type Storage struct {
	rootPath  string
	publicURL string
}

// Ensure Storage struct implements the interface at compile time.
var _ composer.ObjectStore = (*Storage)(nil)

func New(rootPath, publicURL string) (*Storage, error) {
	// Use filepath.Clean to prevent path traversal issues like "media/../"
	p := filepath.Clean(rootPath)

	if err := os.MkdirAll(p, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root storage directory %s: %w", p, err)
	}

	return &Storage{rootPath: p, publicURL: strings.TrimSuffix(publicURL, "/")}, nil
}

// resolve maps an object path to a location under the root. Paths that would escape the
// root are rejected.
func (s *Storage) resolve(objectPath string) (string, error) {
	clean := path.Clean("/" + objectPath)
	if clean == "/" {
		return "", fmt.Errorf("empty object path %q", objectPath)
	}
	return filepath.Join(s.rootPath, filepath.FromSlash(clean)), nil
}

// Upload writes r to objectPath. size and contentType are not needed on disk.
func (s *Storage) Upload(ctx context.Context, objectPath string, r io.Reader, size int64, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fullPath, err := s.resolve(objectPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create subdirectories: %w", err)
	}

	dst, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, r); err != nil {
		os.Remove(fullPath) // Best effort, ignore error here.
		return fmt.Errorf("failed to copy file data: %w", err)
	}
	return nil
}

// PublicURL joins the configured base with the escaped object path.
func (s *Storage) PublicURL(objectPath string) string {
	segments := strings.Split(strings.TrimPrefix(path.Clean("/"+objectPath), "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.publicURL + "/" + strings.Join(segments, "/")
}

// Read opens a stored object. A missing object is NotFound.
func (s *Storage) Read(objectPath string) (io.ReadCloser, error) {
	fullPath, err := s.resolve(objectPath)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object %s: %w", objectPath, internal_errors.NotFound)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}
