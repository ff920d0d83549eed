package ingestion

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/ledongthuc/pdf"

	"github.com/fabfab/scanqa/document"
)

const defaultDPI = 300

// PageImage is one rasterized page, numbered from 1.
type PageImage struct {
	Number   int
	Data     []byte
	MIMEType string
}

// PageSource yields the ordered page images of a source file.
type PageSource interface {
	Pages(ctx context.Context, path string) ([]PageImage, error)
}

// PDFRasterizer renders PDF pages to PNG with poppler's pdftoppm.
type PDFRasterizer struct {
	DPI    int
	Binary string
	logger *log.Logger
}

func NewPDFRasterizer(dpi int, logger *log.Logger) *PDFRasterizer {
	if dpi <= 0 {
		dpi = defaultDPI
	}
	if logger == nil {
		logger = log.Default()
	}
	return &PDFRasterizer{DPI: dpi, Binary: "pdftoppm", logger: logger}
}

var pageFilePattern = regexp.MustCompile(`^page-(\d+)\.png$`)

func (r *PDFRasterizer) Pages(ctx context.Context, path string) ([]PageImage, error) {
	expected, err := CountPDFPages(path)
	if err != nil {
		return nil, err
	}
	if expected == 0 {
		return nil, fmt.Errorf("%w: %s has no pages", document.ErrIngestion, path)
	}

	dir, err := os.MkdirTemp("", "scanqa-pages-*")
	if err != nil {
		return nil, fmt.Errorf("create page directory: %w", err)
	}
	defer os.RemoveAll(dir)

	cmd := exec.CommandContext(ctx, r.Binary,
		"-r", strconv.Itoa(r.DPI),
		"-png",
		path,
		filepath.Join(dir, "page"),
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: rasterize %s: %v: %s", document.ErrIngestion, path, err, bytes.TrimSpace(stderr.Bytes()))
	}

	pages, err := readPageImages(dir)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: rasterizer produced no pages for %s", document.ErrIngestion, path)
	}
	if len(pages) != expected {
		r.logger.Printf("page count mismatch for %s: pdf reports %d, rasterized %d", path, expected, len(pages))
	}
	return pages, nil
}

// readPageImages loads pdftoppm output ordered by page number. pdftoppm pads
// numbers by page count (page-1.png or page-01.png), so the name is parsed
// rather than sorted lexically.
func readPageImages(dir string) ([]PageImage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read page directory: %w", err)
	}

	pages := make([]PageImage, 0, len(entries))
	for _, entry := range entries {
		match := pageFilePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		number, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", number, err)
		}
		pages = append(pages, PageImage{Number: number, Data: data, MIMEType: "image/png"})
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })
	return pages, nil
}

// CountPDFPages opens the PDF and returns its page count. The pdf reader
// panics on some malformed files, so panics are turned into ingestion errors.
func CountPDFPages(path string) (n int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: malformed pdf %s: %v", document.ErrIngestion, path, rec)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: open pdf %s: %w", document.ErrIngestion, path, err)
	}
	defer f.Close()

	return reader.NumPage(), nil
}

// ImageFileSource treats a single image file as a one-page document.
type ImageFileSource struct{}

func (ImageFileSource) Pages(_ context.Context, path string) ([]PageImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read image %s: %w", document.ErrIngestion, path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: image %s is empty", document.ErrIngestion, path)
	}
	return []PageImage{{Number: 1, Data: data, MIMEType: DetectFormat(path).MIMEType()}}, nil
}

// AutoSource dispatches on the file extension.
type AutoSource struct {
	PDF   PageSource
	Image PageSource
}

func NewAutoSource(dpi int, logger *log.Logger) *AutoSource {
	return &AutoSource{PDF: NewPDFRasterizer(dpi, logger), Image: ImageFileSource{}}
}

func (s *AutoSource) Pages(ctx context.Context, path string) ([]PageImage, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %w", document.ErrIngestion, err)
	}

	switch DetectFormat(path) {
	case FormatPDF:
		return s.PDF.Pages(ctx, path)
	case FormatPNG, FormatJPEG:
		return s.Image.Pages(ctx, path)
	default:
		return nil, fmt.Errorf("%w: unsupported file type %q", document.ErrIngestion, filepath.Ext(path))
	}
}

var (
	_ PageSource = (*PDFRasterizer)(nil)
	_ PageSource = ImageFileSource{}
	_ PageSource = (*AutoSource)(nil)
)
