package chat

import (
	"context"
	"fmt"
	"sort"

	"github.com/samber/lo"
)

// Aggregator builds the recent conversations view. It is read-only and
// recomputed on every call.
type Aggregator struct {
	store     Store
	directory Directory
}

func NewAggregator(store Store, directory Directory) *Aggregator {
	return &Aggregator{store: store, directory: directory}
}

// GetRecentConversations returns one summary per contact, newest last
// message first, ties broken by message id. Contacts that no longer resolve
// in the directory are left out.
func (a *Aggregator) GetRecentConversations(ctx context.Context, userID string) ([]ConversationSummary, error) {
	rows, err := a.store.RecentConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("recent conversations: %w", err)
	}
	if len(rows) == 0 {
		return []ConversationSummary{}, nil
	}

	ids := lo.Uniq(lo.Map(rows, func(r ConversationRow, _ int) string { return r.ContactID }))
	profiles, err := a.directory.GetProfiles(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("contact profiles: %w", err)
	}

	summaries := lo.FilterMap(rows, func(r ConversationRow, _ int) (ConversationSummary, bool) {
		p, ok := profiles[r.ContactID]
		if !ok {
			return ConversationSummary{}, false
		}
		return ConversationSummary{Contact: p, LastMessage: r.LastMessage, UnreadCount: r.UnreadCount}, true
	})

	sort.SliceStable(summaries, func(i, j int) bool {
		x, y := summaries[i].LastMessage, summaries[j].LastMessage
		if !x.CreatedAt.Equal(y.CreatedAt) {
			return x.CreatedAt.After(y.CreatedAt)
		}
		return x.ID > y.ID
	})
	return summaries, nil
}
