// Package extract turns uploaded documents into plain text.
package extract

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

var (
	// ErrUnsupported is returned for binary formats with no extractor.
	ErrUnsupported = errors.New("unsupported document format")
	// ErrEmpty is returned when a document decodes to no text at all.
	ErrEmpty = errors.New("document contains no text")
)

// Text extracts the text of a document. The format is chosen from the file
// extension, then the declared content type, then by sniffing the bytes.
func Text(filename, contentType string, content []byte) (string, error) {
	text, err := extract(filename, contentType, content)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmpty
	}
	return text, nil
}

func extract(filename, contentType string, content []byte) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	case ".txt", ".md", ".markdown", ".rst", ".csv", ".log", ".json", ".yaml", ".yml", ".html", ".htm":
		return extractPlain(content)
	}

	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = http.DetectContentType(content)
		mediaType = strings.SplitN(mediaType, ";", 2)[0]
	}
	switch {
	case mediaType == "application/pdf":
		return extractPDF(content)
	case mediaType == "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return extractDOCX(content)
	case strings.HasPrefix(mediaType, "text/"), mediaType == "application/json":
		return extractPlain(content)
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupported, mediaType)
}

// extractPlain returns content as a string. Invalid UTF-8 sequences are
// replaced with the replacement character.
func extractPlain(content []byte) (string, error) {
	if !utf8.Valid(content) {
		return strings.ToValidUTF8(string(content), "�"), nil
	}
	return string(content), nil
}
