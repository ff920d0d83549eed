package chat

import "github.com/fabfab/scanqa/document"

// Answer is the outcome of one question. Evidence holds the chunks passed to
// the model, in retrieval order.
type Answer struct {
	Question string
	Text     string
	Evidence []document.Chunk
	Refused  bool
}

// Pages returns the distinct page numbers of the evidence in first-seen order.
func (a Answer) Pages() []int {
	seen := make(map[int]struct{}, len(a.Evidence))
	pages := make([]int, 0, len(a.Evidence))
	for _, c := range a.Evidence {
		if _, ok := seen[c.PageNumber]; ok {
			continue
		}
		seen[c.PageNumber] = struct{}{}
		pages = append(pages, c.PageNumber)
	}
	return pages
}
