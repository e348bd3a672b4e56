package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
)

const docxBodyPath = "word/document.xml"

var (
	docxText      = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	docxParagraph = regexp.MustCompile(`</w:p>`)
)

// extractDOCX pulls the <w:t> runs out of the main document part, one line
// per paragraph.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: not a zip: %w", err)
	}

	var body []byte
	for _, f := range zr.File {
		if f.Name != docxBodyPath {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("extract DOCX: %w", err)
		}
		body, err = io.ReadAll(io.LimitReader(rc, 64<<20))
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("extract DOCX: %w", err)
		}
		break
	}
	if body == nil {
		return "", fmt.Errorf("extract DOCX: %s not found", docxBodyPath)
	}

	var sb strings.Builder
	for _, para := range docxParagraph.Split(string(body), -1) {
		var line strings.Builder
		for _, m := range docxText.FindAllStringSubmatch(para, -1) {
			line.WriteString(html.UnescapeString(m[1]))
		}
		if line.Len() > 0 {
			sb.WriteString(line.String())
			sb.WriteByte('\n')
		}
	}
	return sb.String(), nil
}
