package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/redactd/pkg/redaction"
)

type fakePage struct {
	number int
	text   string
}

func TestProcessPagesOrderAndCoverage(t *testing.T) {
	pages := []fakePage{
		{number: 1, text: "first"},
		{number: 2, text: "second"},
		{number: 3, text: "third"},
	}

	out := ProcessPages(context.Background(), pages,
		func(p fakePage) int { return p.number },
		func(ctx context.Context, p fakePage) (redaction.Page, []redaction.Entity, error) {
			e := redaction.Entity{Type: "EMAIL", Start: 0, End: len(p.text), Score: 0.9}
			return redaction.Page{Page: p.number, Sensitive: []redaction.Entity{e}}, []redaction.Entity{e}, nil
		},
		WithWorkers(3),
	)

	require.Len(t, out, 3)
	for i, p := range pages {
		assert.Equal(t, p.number, out[i].Number)
		assert.Equal(t, p.number, out[i].Page.Page)
		require.Len(t, out[i].Page.Sensitive, 1)
		assert.Equal(t, len(p.text), out[i].Page.Sensitive[0].End)
	}
}

func TestProcessPagesSubstitutesEmptyOnFailure(t *testing.T) {
	pages := []fakePage{
		{number: 1, text: "fine"},
		{number: 2, text: "broken"},
		{number: 3, text: "fine"},
	}

	out := ProcessPages(context.Background(), pages,
		func(p fakePage) int { return p.number },
		func(ctx context.Context, p fakePage) (redaction.Page, []redaction.Entity, error) {
			if p.text == "broken" {
				return redaction.Page{}, nil, errors.New("ocr failed")
			}
			return redaction.Page{Page: p.number, Sensitive: []redaction.Entity{{Type: "PERSON"}}}, nil, nil
		},
		WithWorkers(3),
	)

	require.Len(t, out, 3)
	assert.Equal(t, 2, out[1].Number)
	assert.Equal(t, redaction.Page{Page: 2, Sensitive: []redaction.Entity{}}, out[1].Page)
	assert.Nil(t, out[1].Entities)
	assert.Len(t, out[0].Page.Sensitive, 1)
	assert.Len(t, out[2].Page.Sensitive, 1)
}

func TestProcessPagesEmpty(t *testing.T) {
	out := ProcessPages(context.Background(), nil,
		func(p fakePage) int { return p.number },
		func(ctx context.Context, p fakePage) (redaction.Page, []redaction.Entity, error) {
			return redaction.Page{}, nil, nil
		},
	)
	assert.Empty(t, out)
}

func TestProcessPagesPanicSubstitutes(t *testing.T) {
	pages := []fakePage{{number: 7, text: "boom"}}

	out := ProcessPages(context.Background(), pages,
		func(p fakePage) int { return p.number },
		func(ctx context.Context, p fakePage) (redaction.Page, []redaction.Entity, error) {
			panic("detector bug")
		},
		WithWorkers(1),
	)

	require.Len(t, out, 1)
	assert.Equal(t, redaction.Page{Page: 7, Sensitive: []redaction.Entity{}}, out[0].Page)
}
