package index

import (
	"fmt"

	"github.com/fabfab/scanqa/document"
)

// Field names a filterable chunk attribute.
type Field string

const (
	FieldConfidence Field = "confidence"
	FieldPageNumber Field = "page_number"
	FieldSourceName Field = "source_name"
	FieldDocumentID Field = "document_id"
)

// Predicate is an equality test on one field.
type Predicate struct {
	Field Field
	Value any
}

// Eq builds an equality predicate.
func Eq(field Field, value any) Predicate {
	return Predicate{Field: field, Value: value}
}

// Filter is a conjunction of predicates. The zero value matches everything.
type Filter []Predicate

// Validate rejects unknown fields and values of the wrong type.
func (f Filter) Validate() error {
	for _, p := range f {
		switch p.Field {
		case FieldConfidence:
			c, ok := p.Value.(document.Confidence)
			if !ok {
				return fmt.Errorf("%w: %s expects document.Confidence, got %T", document.ErrInvalidFilter, p.Field, p.Value)
			}
			if !c.Valid() {
				return fmt.Errorf("%w: unknown confidence %q", document.ErrInvalidFilter, c)
			}
		case FieldPageNumber:
			if _, ok := p.Value.(int); !ok {
				return fmt.Errorf("%w: %s expects int, got %T", document.ErrInvalidFilter, p.Field, p.Value)
			}
		case FieldSourceName, FieldDocumentID:
			if _, ok := p.Value.(string); !ok {
				return fmt.Errorf("%w: %s expects string, got %T", document.ErrInvalidFilter, p.Field, p.Value)
			}
		default:
			return fmt.Errorf("%w: unknown field %q", document.ErrInvalidFilter, p.Field)
		}
	}
	return nil
}

// Match evaluates the filter against a chunk. Invalid predicates never match.
func (f Filter) Match(c document.Chunk) bool {
	for _, p := range f {
		switch p.Field {
		case FieldConfidence:
			if v, ok := p.Value.(document.Confidence); !ok || c.Confidence != v {
				return false
			}
		case FieldPageNumber:
			if v, ok := p.Value.(int); !ok || c.PageNumber != v {
				return false
			}
		case FieldSourceName:
			if v, ok := p.Value.(string); !ok || c.SourceName != v {
				return false
			}
		case FieldDocumentID:
			if v, ok := p.Value.(string); !ok || c.DocumentID != v {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// column maps a field to its fixed SQL column and a driver-friendly value.
func column(p Predicate) (string, any) {
	switch p.Field {
	case FieldConfidence:
		return "confidence", string(p.Value.(document.Confidence))
	case FieldPageNumber:
		return "page_number", p.Value
	case FieldSourceName:
		return "source_name", p.Value
	default:
		return "namespace", p.Value
	}
}
