// Package extraction defines the text-extraction collaborator boundary:
// per-page word streams consumed by the detection fan-out. The engines
// treat the producer as opaque; this package ships a plain-text
// extractor and the types richer extractors (PDF, OCR) implement.
package extraction

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"unicode"
)

// Word is one token with its offsets into the page text.
type Word struct {
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// PageText is the extracted content of a single page.
type PageText struct {
	Page  int    `json:"page"`
	Text  string `json:"text"`
	Words []Word `json:"words"`
}

// Document is a fully extracted document.
type Document struct {
	ID    string     `json:"id"`
	Pages []PageText `json:"pages"`
}

// Extractor produces per-page text from a raw document stream.
type Extractor interface {
	Extract(ctx context.Context, id string, r io.Reader) (Document, error)
}

// PlainText extracts from UTF-8 text, treating form feeds as page
// breaks. A document without form feeds is a single page 1.
type PlainText struct{}

// Extract reads r to the end and tokenizes each page.
func (PlainText) Extract(ctx context.Context, id string, r io.Reader) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}

	br := bufio.NewReader(r)
	raw, err := io.ReadAll(br)
	if err != nil {
		return Document{}, fmt.Errorf("reading document %s: %w", id, err)
	}

	doc := Document{ID: id}
	for i, pageText := range strings.Split(string(raw), "\f") {
		if err := ctx.Err(); err != nil {
			return Document{}, err
		}
		doc.Pages = append(doc.Pages, PageText{
			Page:  i + 1,
			Text:  pageText,
			Words: Tokenize(pageText),
		})
	}
	return doc, nil
}

// Tokenize splits text into whitespace-delimited words with offsets.
func Tokenize(text string) []Word {
	words := []Word{}
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				words = append(words, Word{Text: text[start:i], Start: start, End: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, Word{Text: text[start:], Start: start, End: len(text)})
	}
	return words
}
