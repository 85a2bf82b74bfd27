package shared

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Page normalises limit/offset values coming from query parameters.
type Page struct {
	Limit  int
	Offset int
}

// NormalizePage clamps limit and offset into supported bounds.
func NormalizePage(limit, offset int) Page {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return Page{Limit: limit, Offset: offset}
}
