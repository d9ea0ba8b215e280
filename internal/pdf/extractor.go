package pdfutil

import (
	"fmt"
	"io"
	"os"

	pdf "github.com/ledongthuc/pdf"
)

// PageError describes one page whose text could not be extracted.
type PageError struct {
	Page int
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

// Stats reports what ExtractPages did.
type Stats struct {
	Pages  int
	Failed int
}

// PageHeader precedes the text of every extracted page.
func PageHeader(page int) string {
	return fmt.Sprintf("\n--- Page %d ---\n", page)
}

// ExtractPages opens the PDF at path and writes its text to w one page at a
// time, so the whole document is never held in memory. A page that fails
// (including a parser panic) is passed to onPageError and skipped. Only a PDF
// that cannot be opened, or a write error on w, is returned as an error.
func ExtractPages(path string, w io.Writer, onPageError func(*PageError)) (stats Stats, err error) {
	f, doc, err := open(path)
	if err != nil {
		return stats, err
	}
	defer f.Close()

	stats.Pages = doc.NumPage()
	for page := 1; page <= stats.Pages; page++ {
		text, perr := pageText(doc, page)
		if perr != nil {
			stats.Failed++
			if onPageError != nil {
				onPageError(&PageError{Page: page, Err: perr})
			}
			continue
		}
		if _, err := io.WriteString(w, PageHeader(page)+text); err != nil {
			return stats, fmt.Errorf("write page %d: %w", page, err)
		}
	}
	return stats, nil
}

func open(path string) (*os.File, *pdf.Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open pdf: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat pdf: %w", err)
	}
	doc, err := newReader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("read pdf %s: %w", path, err)
	}
	return f, doc, nil
}

// newReader converts parser panics on malformed files into errors.
func newReader(r io.ReaderAt, size int64) (doc *pdf.Reader, err error) {
	defer func() {
		if p := recover(); p != nil {
			doc, err = nil, fmt.Errorf("panic: %v", p)
		}
	}()
	return pdf.NewReader(r, size)
}

func pageText(doc *pdf.Reader, page int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	p := doc.Page(page)
	if p.V.IsNull() {
		return "", nil
	}
	return p.GetPlainText(nil)
}
