package source

import (
	"fmt"
	"image"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	fitz "github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"

	"github.com/local/pagetrans/internal/page"
)

// Renderer rasterizes PDF pages. *fitz.Document implements it.
type Renderer interface {
	NumPage() int
	ImageDPI(pageNumber int, dpi float64) (*image.RGBA, error)
	Close() error
}

var openRenderer = func(path string) (Renderer, error) {
	return fitz.New(path)
}

// PDF is a project whose pages are rendered from a PDF file on demand.
type PDF struct {
	path    string
	dpi     int
	project *page.Project

	mu  sync.Mutex
	doc Renderer
}

// OpenPDF validates path and builds a project with one page per PDF page,
// keyed "page-0001" and up. The page count comes from pdfcpu; the renderer's
// count is used when pdfcpu cannot read the file.
func OpenPDF(path string, dpi int) (*PDF, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to detect file type: %w", err)
	}
	if !mtype.Is("application/pdf") {
		return nil, fmt.Errorf("%s is %s, not a PDF", path, mtype.String())
	}
	doc, err := openRenderer(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	n, err := api.PageCountFile(path)
	if err != nil {
		log.Warn().Err(err).Str("file", path).Msg("pdf page count failed, using renderer count")
		n = doc.NumPage()
	}
	return newPDF(path, dpi, doc, n)
}

func newPDF(path string, dpi int, doc Renderer, pages int) (*PDF, error) {
	if dpi <= 0 {
		dpi = 150
	}
	if pages > doc.NumPage() {
		pages = doc.NumPage()
	}
	p := &PDF{path: path, dpi: dpi, doc: doc, project: page.NewProject()}
	for i := 0; i < pages; i++ {
		if err := p.project.Add(page.NewLazy(PageKey(i), p.render(i))); err != nil {
			return nil, err
		}
	}
	log.Info().Str("file", path).Int("pages", pages).Int("dpi", dpi).Msg("pdf project loaded")
	return p, nil
}

// PageKey is the key of the zero based PDF page i.
func PageKey(i int) string { return fmt.Sprintf("page-%04d", i+1) }

func (p *PDF) Project() *page.Project { return p.project }

func (p *PDF) render(i int) func() (image.Image, error) {
	return func() (image.Image, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.doc == nil {
			return nil, fmt.Errorf("pdf %s is closed", p.path)
		}
		img, err := p.doc.ImageDPI(i, float64(p.dpi))
		if err != nil {
			return nil, fmt.Errorf("failed to render page %d: %w", i+1, err)
		}
		log.Debug().Int("page", i+1).Int("width", img.Bounds().Dx()).Int("height", img.Bounds().Dy()).Msg("rendered page")
		return img, nil
	}
}

func (p *PDF) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc == nil {
		return nil
	}
	err := p.doc.Close()
	p.doc = nil
	return err
}
