package vector

import "context"

// Scoped binds a Store to one namespace so tenant code cannot address
// another tenant's vectors by accident.
type Scoped struct {
	store     Store
	namespace string
}

// Scope returns a view of store restricted to namespace.
func Scope(store Store, namespace string) *Scoped {
	return &Scoped{store: store, namespace: namespace}
}

// Namespace returns the bound namespace.
func (s *Scoped) Namespace() string { return s.namespace }

func (s *Scoped) Upsert(ctx context.Context, records []Record) (UpsertResult, error) {
	return s.store.Upsert(ctx, s.namespace, records)
}

func (s *Scoped) Fetch(ctx context.Context, id string) FetchResult {
	return s.store.Fetch(ctx, s.namespace, id)
}

// ListAll walks every page of a prefix listing, stopping after max IDs
// when max > 0.
func (s *Scoped) ListAll(ctx context.Context, prefix string, max int) ([]string, error) {
	return ListAll(ctx, s.store, s.namespace, prefix, max)
}

// ListAll walks every page of a prefix listing in namespace, stopping
// after max IDs when max > 0.
func ListAll(ctx context.Context, store Store, namespace, prefix string, max int) ([]string, error) {
	var ids []string
	token := ""
	for {
		limit := MaxListPage
		if max > 0 && max-len(ids) < limit {
			limit = max - len(ids)
		}
		page, err := store.ListByPrefix(ctx, namespace, ListRequest{
			Prefix:          prefix,
			Limit:           limit,
			PaginationToken: token,
		})
		if err != nil {
			return ids, err
		}
		ids = append(ids, page.IDs...)
		if max > 0 && len(ids) >= max {
			return ids[:max], nil
		}
		if page.NextToken == "" || len(page.IDs) == 0 {
			return ids, nil
		}
		token = page.NextToken
	}
}
