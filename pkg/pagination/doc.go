// Package pagination walks the pending record set page by page with an id
// cursor.
//
// Records are read in ascending id order and the cursor is the last id seen,
// so records inserted while a run is in progress are picked up as long as
// their id is above the cursor. A page shorter than the page size does not
// end the walk on its own: the pager first asks the source whether anything
// is still pending past the cursor.
//
// Example usage:
//
//	pager, err := pagination.NewPager(store, 1000)
//	for {
//		page, err := pager.Next(ctx)
//		if err != nil {
//			return err
//		}
//		if page == nil {
//			break
//		}
//		// process page
//	}
package pagination
