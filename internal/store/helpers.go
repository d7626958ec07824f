package store

// nullIfEmpty maps "" to SQL NULL so optional text columns stay NULL instead
// of holding empty strings.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
