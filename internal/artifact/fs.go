package artifact

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
)

// FS stores artifacts as PNG files below a root directory.
type FS struct {
	root string
}

func NewFS(root string) (*FS, error) {
	if root == "" {
		root = filepath.Join("uploads", "artifacts")
	}
	for _, kind := range []string{KindMask, KindRestored} {
		if err := os.MkdirAll(filepath.Join(root, kind), 0o755); err != nil {
			return nil, fmt.Errorf("create artifact dir: %w", err)
		}
	}
	return &FS{root: root}, nil
}

func (s *FS) path(kind, key string) string {
	return filepath.Join(s.root, filepath.FromSlash(Name(kind, key)))
}

func (s *FS) read(kind, key string) ([]byte, error) {
	b, err := os.ReadFile(s.path(kind, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return b, err
}

// write goes through a temp file so readers never see a partial PNG.
func (s *FS) write(kind, key string, img image.Image) error {
	b, err := encodePNG(img)
	if err != nil {
		return err
	}
	p := s.path(kind, key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func (s *FS) LoadMask(_ context.Context, key string) (*image.Gray, error) {
	b, err := s.read(KindMask, key)
	if err != nil || b == nil {
		return nil, err
	}
	return decodeMask(b)
}

func (s *FS) SaveMask(_ context.Context, key string, mask *image.Gray) error {
	return s.write(KindMask, key, mask)
}

func (s *FS) LoadRestored(_ context.Context, key string) (*image.RGBA, error) {
	b, err := s.read(KindRestored, key)
	if err != nil || b == nil {
		return nil, err
	}
	return decodeRGBA(b)
}

func (s *FS) SaveRestored(_ context.Context, key string, img *image.RGBA) error {
	return s.write(KindRestored, key, img)
}
