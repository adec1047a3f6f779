package pagination

// CursorRule continues while a page carries a cursor, building the next
// request with with.
func CursorRule[Req, T any](with func(req Req, cursor Cursor) Req) NextFunc[Req, T] {
	return func(req Req, page *Page[T], _ Progress) (Req, bool) {
		if page.Cursor == nil {
			var zero Req
			return zero, false
		}
		return with(req, page.Cursor), true
	}
}

// OffsetRule follows offset/limit APIs. The next offset is the number of
// items received so far. It stops on a page shorter than pageSize, or once
// the offset reaches the page's Total. A pageSize of zero disables the
// short-page check.
func OffsetRule[Req, T any](pageSize int, with func(req Req, offset int) Req) NextFunc[Req, T] {
	return func(req Req, page *Page[T], p Progress) (Req, bool) {
		if lastPage(page, p, pageSize) {
			var zero Req
			return zero, false
		}
		return with(req, p.Items), true
	}
}

// PageNumberRule follows page-numbered APIs whose first page is first.
// It stops under the same conditions as OffsetRule.
func PageNumberRule[Req, T any](first, pageSize int, with func(req Req, page int) Req) NextFunc[Req, T] {
	return func(req Req, page *Page[T], p Progress) (Req, bool) {
		if lastPage(page, p, pageSize) {
			var zero Req
			return zero, false
		}
		return with(req, first+p.Pages), true
	}
}

func lastPage[T any](page *Page[T], p Progress, pageSize int) bool {
	if pageSize > 0 && len(page.Items) < pageSize {
		return true
	}
	if page.Total > 0 && p.Items >= page.Total {
		return true
	}
	return pageSize <= 0 && len(page.Items) == 0
}
