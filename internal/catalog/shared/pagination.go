package shared

// ListFilters represents standard list filters for catalog records.
type ListFilters struct {
	Page    int
	Limit   int
	Search  string
	SortBy  string
	SortDir string
}

// Offset computes the row offset for the current page.
func (f ListFilters) Offset() int {
	if f.Page <= 1 || f.Limit <= 0 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}
