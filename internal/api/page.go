package api

// Page returns the items of the 1-based page of the given size, along with
// the total page count. Out-of-range pages are clamped.
func Page[T any](items []T, page, size int) ([]T, int) {
	if size <= 0 {
		size = 10
	}
	pages := (len(items) + size - 1) / size
	if pages == 0 {
		return nil, 0
	}
	if page < 1 {
		page = 1
	}
	if page > pages {
		page = pages
	}
	start := (page - 1) * size
	end := min(start+size, len(items))
	return items[start:end], pages
}
