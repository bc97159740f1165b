// Package redaction defines the wire types shared between detection engines,
// the fan-out orchestrator, and the extraction/redaction collaborators, plus
// the merging and deduplication rules applied to their output.
package redaction

// UnknownType is substituted for entities that arrive without a type.
const UnknownType = "UNKNOWN"

// Box describes a rectangular region on a page, in page coordinates.
type Box struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Entity is a detected sensitive span.
//
// Identity for deduplication is (Type, Start, End); Score breaks ties between
// duplicates. Boxes and BBox carry optional geometry attached by the
// extraction collaborator and are passed through untouched.
type Entity struct {
	Type       string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
	SourceText string  `json:"source_text,omitempty"`
	Boxes      []Box   `json:"boxes,omitempty"`
	BBox       *Box    `json:"bbox,omitempty"`
}

// Key is the deduplication identity of an entity.
type Key struct {
	Type  string
	Start int
	End   int
}

// Key returns the deduplication identity, normalizing a missing type to
// UnknownType.
func (e Entity) Key() Key {
	t := e.Type
	if t == "" {
		t = UnknownType
	}
	return Key{Type: t, Start: e.Start, End: e.End}
}

// Page holds the redaction items for a single page.
type Page struct {
	Page      int      `json:"page"`
	Sensitive []Entity `json:"sensitive"`
}

// Mapping is the per-page description of which regions of a document must be
// obscured. Pages are kept sorted ascending by page number, with at most one
// entry per number after a merge.
type Mapping struct {
	Pages []Page `json:"pages"`
}

// EmptyMapping returns a well-formed mapping with no pages.
func EmptyMapping() Mapping {
	return Mapping{Pages: []Page{}}
}

// TotalItems returns the number of sensitive items across all pages.
func (m Mapping) TotalItems() int {
	n := 0
	for _, p := range m.Pages {
		n += len(p.Sensitive)
	}
	return n
}

// PageNumbers returns the page numbers present in the mapping, in order.
func (m Mapping) PageNumbers() []int {
	nums := make([]int, 0, len(m.Pages))
	for _, p := range m.Pages {
		nums = append(nums, p.Page)
	}
	return nums
}
