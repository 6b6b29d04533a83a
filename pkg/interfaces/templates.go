package interfaces

// TemplateStore holds the message template corpus as an ordered list of strings
type TemplateStore interface {
	// List returns a copy of the corpus in order
	List() []string

	// Add appends a template and persists it
	Add(template string) error

	// Delete removes the template at index and rewrites the persisted corpus
	Delete(index int) error
}
