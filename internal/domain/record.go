package domain

// Record is the structured, serialisable form of an entity.
type Record map[string]any

// Recordable is implemented by anything that can describe itself as a Record.
// Enrichments wrap a Recordable instead of extending the entity type.
type Recordable interface {
	ToRecord() Record
}

type categorized struct {
	inner    Recordable
	category string
}

// WithCategory adds a "category" field to the wrapped record.
// An empty category leaves the record unchanged.
func WithCategory(r Recordable, category string) Recordable {
	return categorized{inner: r, category: category}
}

func (c categorized) ToRecord() Record {
	rec := c.inner.ToRecord()
	if c.category != "" {
		rec["category"] = c.category
	}
	return rec
}

type withFields struct {
	inner  Recordable
	fields map[string]any
}

// WithFields merges custom fields into the wrapped record. Fields already
// present in the inner record win.
func WithFields(r Recordable, fields map[string]any) Recordable {
	return withFields{inner: r, fields: fields}
}

func (w withFields) ToRecord() Record {
	rec := w.inner.ToRecord()
	for k, v := range w.fields {
		if _, exists := rec[k]; !exists {
			rec[k] = v
		}
	}
	return rec
}
