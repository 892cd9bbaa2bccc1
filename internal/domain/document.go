package domain

import "fmt"

// Document is a raw document as delivered by a store snapshot.
// Fields is untyped because remote documents are not schema-checked.
type Document struct {
	// Key is the store's identifier for the document
	Key string `json:"key"`

	// Fields holds the document body
	Fields map[string]any `json:"fields"`
}

// Record extracts the city record from the document.
// Both name and province must be present, non-null strings; otherwise the
// returned error wraps ErrMalformedDocument.
func (d Document) Record() (Record, error) {
	name, ok := stringField(d.Fields, FieldName)
	if !ok {
		return Record{}, fmt.Errorf("%w: %s: missing %s", ErrMalformedDocument, d.Key, FieldName)
	}
	province, ok := stringField(d.Fields, FieldProvince)
	if !ok {
		return Record{}, fmt.Errorf("%w: %s: missing %s", ErrMalformedDocument, d.Key, FieldProvince)
	}
	return Record{Name: name, Province: province}, nil
}

// DocumentFor builds the document a store holds for rec.
func DocumentFor(rec Record) Document {
	return Document{Key: rec.Key(), Fields: rec.Fields()}
}

func stringField(fields map[string]any, name string) (string, bool) {
	v, ok := fields[name]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
