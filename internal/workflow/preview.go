package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/retina-screening-gateway/internal/domain"
)

// filePreview is a preview handle backed by a file in the gateway's scratch
// directory. Release removes the file; the guard makes a double release an
// error rather than a silent no-op so ownership bugs surface in tests.
type filePreview struct {
	path string

	mu       sync.Mutex
	released bool
}

// Ref returns the filesystem path the display layer serves the preview from.
func (p *filePreview) Ref() string {
	return p.path
}

// Release removes the backing file.
func (p *filePreview) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.released {
		return fmt.Errorf("preview %s already released", p.path)
	}
	p.released = true
	return os.Remove(p.path)
}

// FilePreviewDeriver writes uploaded image bytes into a scratch directory and
// hands out file-backed preview handles.
type FilePreviewDeriver struct {
	dir string
}

// NewFilePreviewDeriver creates a deriver rooted at dir, creating it if
// needed. An empty dir falls back to the system temp directory.
func NewFilePreviewDeriver(dir string) (*FilePreviewDeriver, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "retina-previews")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating preview directory: %w", err)
	}
	return &FilePreviewDeriver{dir: dir}, nil
}

// Derive writes data to a uniquely named file and returns its handle.
func (d *FilePreviewDeriver) Derive(name string, data []byte) (domain.PreviewHandle, error) {
	ext := filepath.Ext(name)
	path := filepath.Join(d.dir, uuid.NewString()+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing preview file: %w", err)
	}
	return &filePreview{path: path}, nil
}
