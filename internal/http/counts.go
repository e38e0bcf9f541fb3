package http

import (
	"context"

	"github.com/fyrsmithlabs/ragd/internal/store"
)

// CountLists returns the length of each of a user's lists. A list that
// cannot be read counts as -1.
func CountLists(ctx context.Context, st store.Store, userID string) UserCounts {
	count := func(kind store.ListKind) int {
		if st == nil {
			return -1
		}
		items, err := st.List(ctx, userID, kind)
		if err != nil {
			return -1
		}
		return len(items)
	}
	return UserCounts{
		SinglePageURLs: count(store.SinglePageURLs),
		WebCrawlURLs:   count(store.WebCrawlURLs),
		Documents:      count(store.Documents),
	}
}
