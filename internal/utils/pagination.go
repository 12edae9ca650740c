// Package utils holds small helpers shared by the HTTP layer.
package utils

import "strconv"

// Page is a validated page request over an in-memory list.
type Page struct {
	Number int // 1-based
	Size   int
}

// ParsePage reads page and size query values. Missing or malformed values
// fall back to page 1 and defSize; size is capped at maxSize.
func ParsePage(page, size string, defSize, maxSize int) Page {
	p := Page{Number: atoiOr(page, 1), Size: atoiOr(size, defSize)}
	p.Number = max(p.Number, 1)
	p.Size = min(max(p.Size, 1), maxSize)
	return p
}

// Bounds returns the [from, to) slice indexes of p over total items and the
// number of pages.
func (p Page) Bounds(total int) (from, to, pages int) {
	from = min((p.Number-1)*p.Size, total)
	to = min(from+p.Size, total)
	pages = (total + p.Size - 1) / p.Size
	return from, to, pages
}

func atoiOr(s string, def int) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
