package extract

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Page is one page of extracted text. Index is 0-based.
type Page struct {
	Index int
	Text  string
}

// Extractor turns raw document bytes into ordered pages of text.
type Extractor interface {
	Extract(ctx context.Context, data []byte) ([]Page, error)
}

// ExtractionError reports an unreadable, corrupt or empty document.
type ExtractionError struct {
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction: %s: %v", e.Reason, e.Err)
	}
	return "extraction: " + e.Reason
}

func (e *ExtractionError) Unwrap() error { return e.Err }

var pdfMagic = []byte("%PDF-")

// PDFExtractor reads page text with ledongthuc/pdf after a structural
// validation pass through pdfcpu.
type PDFExtractor struct {
	conf *model.Configuration
}

// NewPDFExtractor creates a PDFExtractor with relaxed pdfcpu validation.
func NewPDFExtractor() *PDFExtractor {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFExtractor{conf: conf}
}

// Extract returns one Page per PDF page, in document order. Pages without
// extractable text are kept with an empty Text so indexes stay aligned.
func (x *PDFExtractor) Extract(ctx context.Context, data []byte) (pages []Page, err error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ExtractionError{Reason: "document is empty"}
	}
	if !bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), pdfMagic) {
		return nil, &ExtractionError{Reason: "document is not a PDF"}
	}

	pageCount, err := api.PageCount(bytes.NewReader(data), x.conf)
	if err != nil {
		return nil, &ExtractionError{Reason: "invalid PDF structure", Err: err}
	}
	if pageCount == 0 {
		return nil, &ExtractionError{Reason: "document has no pages"}
	}

	// ledongthuc/pdf panics on some malformed content streams.
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = &ExtractionError{Reason: "malformed page content", Err: fmt.Errorf("%v", r)}
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &ExtractionError{Reason: "opening PDF", Err: err}
	}

	numPages := reader.NumPage()
	pages = make([]Page, 0, numPages)
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, Page{Index: i - 1})
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, &ExtractionError{Reason: fmt.Sprintf("reading page %d", i), Err: err}
		}
		pages = append(pages, Page{Index: i - 1, Text: text})
	}

	if len(pages) == 0 {
		return nil, &ExtractionError{Reason: "document has no pages"}
	}
	return pages, nil
}
