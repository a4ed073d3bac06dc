package pagination

const (
	// DefaultSize is the standard page size when a size is not provided.
	DefaultSize = 25
	// MaxSize caps how many rows any page can request.
	MaxSize = 100
)

// Params holds page-number pagination inputs from controllers or services.
// Page is 1-based.
type Params struct {
	Page int
	Size int
}

// Normalize enforces the default page and the size bounds.
func (p Params) Normalize() Params {
	if p.Page <= 0 {
		p.Page = 1
	}
	p.Size = NormalizeSize(p.Size)
	return p
}

// Offset returns the number of rows to skip for the normalized page.
func (p Params) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.Size
}

// NormalizeSize enforces the configured default and maximum sizes.
func NormalizeSize(size int) int {
	if size <= 0 {
		return DefaultSize
	}
	if size > MaxSize {
		return MaxSize
	}
	return size
}

// Meta describes where a page sits in the full result set.
type Meta struct {
	Page       int   `json:"page"`
	Size       int   `json:"size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// NewMeta builds page metadata for a normalized request and a total row count.
func NewMeta(p Params, total int64) Meta {
	n := p.Normalize()
	pages := int((total + int64(n.Size) - 1) / int64(n.Size))
	return Meta{Page: n.Page, Size: n.Size, Total: total, TotalPages: pages}
}
