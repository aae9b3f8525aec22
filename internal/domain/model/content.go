package model

// Page identifies a content page in the hosting CMS.
type Page struct {
	// UUID is the stable page identifier used for cache and config addressing.
	UUID string
	// ID is the host-side page path identifier.
	ID string
	// Title is the page title in the source language.
	Title string
	// Template is the page blueprint/template name, used for opt-out matching.
	Template string
	// FieldTypes maps field name to its schema field type.
	FieldTypes map[string]string
}

// FieldTypeOf resolves the schema type of a field name, empty when unknown.
func (p *Page) FieldTypeOf(name string) string {
	return p.FieldTypes[name]
}
