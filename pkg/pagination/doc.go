// Package pagination turns a chain of page fetches into one lazy, ordered
// sequence of items.
//
// A Paginator is built from the first request, a FetchFunc that performs
// one round trip and decodes it into a Page, and a NextFunc that derives
// the following request from a page (or reports that there is none).
// The paginator knows nothing about cursor formats; it only follows the
// rule until the rule says stop.
//
// Example usage:
//
//	p := pagination.New(firstReq, fetch,
//		pagination.CursorRule[Req, Issue](func(r Req, c pagination.Cursor) Req {
//			r.After = c.(string)
//			return r
//		}))
//
//	for issue, err := range p.All(ctx) {
//		if err != nil {
//			return err
//		}
//		fmt.Println(issue.Title)
//	}
//
// The paginator:
//   - fetches nothing until the first pull
//   - keeps at most one page buffered and one fetch outstanding
//   - yields items in page order, then in cursor-follow order
//   - skips empty pages that still have a successor within the same pull
//   - returns a failure once, then reports ErrDone on every later pull
//     without fetching again
//
// Concurrency: a paginator belongs to a single consumer. Cancelling the
// context passed to Next cancels the fetch it is waiting on; nothing else
// needs tearing down.
package pagination
