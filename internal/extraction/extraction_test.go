package extraction

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	words := Tokenize("call  Jane Doe\ttoday")
	require.Len(t, words, 4)

	assert.Equal(t, Word{Text: "call", Start: 0, End: 4}, words[0])
	assert.Equal(t, Word{Text: "Jane", Start: 6, End: 10}, words[1])
	assert.Equal(t, Word{Text: "Doe", Start: 11, End: 14}, words[2])
	assert.Equal(t, Word{Text: "today", Start: 15, End: 20}, words[3])
}

func TestTokenizeEmpty(t *testing.T) {
	assert.Empty(t, Tokenize(""))
	assert.Empty(t, Tokenize("   \n\t  "))
}

func TestPlainTextSinglePage(t *testing.T) {
	doc, err := PlainText{}.Extract(context.Background(), "doc-1", strings.NewReader("hello world"))
	require.NoError(t, err)

	assert.Equal(t, "doc-1", doc.ID)
	require.Len(t, doc.Pages, 1)
	assert.Equal(t, 1, doc.Pages[0].Page)
	assert.Equal(t, "hello world", doc.Pages[0].Text)
	assert.Len(t, doc.Pages[0].Words, 2)
}

func TestPlainTextFormFeedPages(t *testing.T) {
	doc, err := PlainText{}.Extract(context.Background(), "doc-2", strings.NewReader("page one\fpage two\fpage three"))
	require.NoError(t, err)

	require.Len(t, doc.Pages, 3)
	for i, p := range doc.Pages {
		assert.Equal(t, i+1, p.Page)
		assert.Len(t, p.Words, 2)
	}
	assert.Equal(t, "page three", doc.Pages[2].Text)
}

func TestPlainTextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := PlainText{}.Extract(ctx, "doc-3", strings.NewReader("x"))
	assert.ErrorIs(t, err, context.Canceled)
}
