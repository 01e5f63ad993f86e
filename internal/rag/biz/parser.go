package biz

import (
	"bytes"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"code.sajari.com/docconv/v2"
	"github.com/ledongthuc/pdf"

	"github.com/kart-io/lexica/internal/model"
	apierrors "github.com/kart-io/lexica/pkg/errors"
)

// MIME types passed to docconv for word processor formats.
const (
	mimeDOC  = "application/msword"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// Parser extracts normalized plain text from uploaded documents.
type Parser struct{}

// NewParser creates a Parser.
func NewParser() *Parser {
	return &Parser{}
}

// DetectFileType resolves the effective file type from an explicit value or,
// when absent, the filename extension.
func DetectFileType(declared string, filename string) (model.FileType, error) {
	if declared != "" {
		t := model.FileType(strings.ToLower(declared))
		if !t.Valid() {
			return "", apierrors.ErrUnsupportedFormat.WithMessagef("unsupported file type: %s", declared)
		}
		return t, nil
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	t := model.FileType(ext)
	if !t.Valid() {
		return "", apierrors.ErrUnsupportedFormat.WithMessagef("unsupported file extension: %q", ext)
	}
	return t, nil
}

// Parse extracts text from raw document bytes.
//
// The result is normalized: CRLF and CR line endings become LF, a UTF-8 BOM
// and NUL bytes are dropped. A document with no extractable text yields
// ErrEmptyDocument; unreadable input yields ErrCorruptDocument.
func (p *Parser) Parse(fileType model.FileType, data []byte) (string, error) {
	if len(data) == 0 {
		return "", apierrors.ErrEmptyDocument
	}

	var (
		text string
		err  error
	)
	switch fileType {
	case model.FileTypeTXT:
		text, err = parseText(data)
	case model.FileTypePDF:
		text, err = parsePDF(data)
	case model.FileTypeDOC:
		text, err = parseWord(data, mimeDOC)
	case model.FileTypeDOCX:
		text, err = parseWord(data, mimeDOCX)
	default:
		return "", apierrors.ErrUnsupportedFormat.WithMessagef("unsupported file type: %s", fileType)
	}
	if err != nil {
		return "", err
	}

	text = normalizeText(text)
	if strings.TrimSpace(text) == "" {
		return "", apierrors.ErrEmptyDocument
	}
	return text, nil
}

func parseText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if !utf8.Valid(data) {
		return "", apierrors.ErrCorruptDocument.WithMessage("text file is not valid UTF-8")
	}
	return string(data), nil
}

func parsePDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", apierrors.ErrCorruptDocument.WithCause(err)
	}

	var sb strings.Builder
	totalPage := reader.NumPage()
	for pageIndex := 1; pageIndex <= totalPage; pageIndex++ {
		page := reader.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", apierrors.ErrCorruptDocument.WithCause(err)
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func parseWord(data []byte, mimeType string) (string, error) {
	result, err := docconv.Convert(bytes.NewReader(data), mimeType, false)
	if err != nil {
		return "", apierrors.ErrCorruptDocument.WithCause(err)
	}
	return result.Body, nil
}

// normalizeText unifies line endings and strips NUL bytes.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\x00", "")
	return text
}
