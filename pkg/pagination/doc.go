// Package pagination drives cursor-based list fetching with gap skipping.
//
// Gallery sites paginate on the server and may filter a page down to nothing
// after the fact. An empty page therefore does not mean the list ended: as
// long as the last response reports Current < Maximum the engine asks for the
// next page on its own, both for the first page and for load-more requests.
//
// Example usage:
//
//	engine := pagination.New(ctx, pagination.Config[gallery.Gallery]{
//		ScopeID: "list:watched",
//		Fetch:   apiClient.FetchGalleries,
//		ID:      gallery.Gallery.Identity,
//		Writer:  writer,
//	})
//	defer engine.Close()
//	engine.FetchFirstPage(gallery.Query{Keyword: "artbook"})
//	// ... when the list footer becomes visible:
//	engine.FetchMore()
//
// The engine:
//   - keeps one primary slot (first page) and one footer slot (load more)
//   - replaces the item list on the first page, appends with dedup afterwards
//   - sends the identity of the last item as the continuation cursor
//   - continues automatically past empty pages, one step per response,
//     never by recursion; Current is forced strictly increasing and
//     MaxGapSkips bounds a run of empty pages if Maximum keeps growing
//   - persists the list after every merge, best-effort
//
// Group keeps one engine per list index for screens with several lists.
package pagination
