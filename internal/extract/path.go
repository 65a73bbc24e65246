package extract

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ResolvePath turns a file argument into a single PDF path. The argument
// may be a plain path or a glob such as "reports/**/q3-*.pdf", which must
// match exactly one PDF.
func ResolvePath(pattern string) (string, error) {
	path := pattern
	if strings.ContainsAny(pattern, "*?[{") {
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return "", fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		pdfs := matches[:0]
		for _, m := range matches {
			if IsPDFName(m) {
				pdfs = append(pdfs, m)
			}
		}
		switch len(pdfs) {
		case 0:
			return "", fmt.Errorf("no PDF matches %q", pattern)
		case 1:
			path = pdfs[0]
		default:
			return "", fmt.Errorf("%q matches %d PDFs; only one document can be indexed at a time", pattern, len(pdfs))
		}
	}
	if !IsPDFName(path) {
		return "", fmt.Errorf("%s is not a .pdf file", path)
	}
	return path, nil
}

// IsPDFName reports whether name has a .pdf extension, case-insensitively.
func IsPDFName(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}
