package source

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/local/pagetrans/internal/page"
)

// imageTypes are the MIME types FromDir accepts as pages.
var imageTypes = []string{"image/png", "image/jpeg", "image/gif", "image/webp", "image/bmp", "image/tiff"}

// FromDir builds a project from the image files of dir, sorted by name.
// File types are detected from content, not extension. Images are decoded
// on first use.
func FromDir(dir string) (*page.Project, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read project dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	pr := page.NewProject()
	for _, name := range names {
		path := filepath.Join(dir, name)
		mtype, err := mimetype.DetectFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to detect file type: %w", err)
		}
		if !mimetype.EqualsAny(mtype.String(), imageTypes...) {
			log.Debug().Str("file", name).Str("mime", mtype.String()).Msg("skipping non-image file")
			continue
		}
		if err := pr.Add(page.NewLazy(name, openFile(path))); err != nil {
			return nil, err
		}
	}
	log.Info().Str("dir", dir).Int("pages", pr.Len()).Msg("project loaded")
	return pr, nil
}

func openFile(path string) func() (image.Image, error) {
	return func() (image.Image, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		img, _, err := image.Decode(f)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
		}
		return img, nil
	}
}
