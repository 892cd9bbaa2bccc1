package domain

import "strings"

// Document field names shared by every store.
const (
	FieldName     = "name"
	FieldProvince = "province"
)

// Record is a single city entry.
// Name is the document key in the remote collection; two records with the
// same name address the same document and the later write wins.
type Record struct {
	Name     string `json:"name"`
	Province string `json:"province"`
}

// Key returns the remote document key for the record.
func (r Record) Key() string {
	return r.Name
}

// HasName reports whether the record carries a usable key.
// Whitespace-only names are treated as empty.
func (r Record) HasName() bool {
	return strings.TrimSpace(r.Name) != ""
}

// Fields returns the document body written to the remote store.
func (r Record) Fields() map[string]any {
	return map[string]any{
		FieldName:     r.Name,
		FieldProvince: r.Province,
	}
}

// String renders the record the way list rows show it.
func (r Record) String() string {
	return r.Name + " " + r.Province
}
