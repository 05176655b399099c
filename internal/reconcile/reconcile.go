// Package reconcile compares the URLs found on the site with the stored ones.
package reconcile

import "leasesync/internal/model"

// Diff returns the URLs to fetch and the URLs to remove. added holds the
// discovered URLs that are not stored; obsolete holds the stored URLs that
// were not discovered. Both are sorted, and a URL in both inputs is in neither
// output. Stored listings are never refreshed.
func Diff(discovered, stored model.URLSet) (added, obsolete []string) {
	for u := range discovered {
		if !stored.Has(u) {
			added = append(added, u)
		}
	}
	for u := range stored {
		if !discovered.Has(u) {
			obsolete = append(obsolete, u)
		}
	}
	return model.NewURLSet(added...).Sorted(), model.NewURLSet(obsolete...).Sorted()
}
