package scoring

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/silverstream/sentiment-checker/internal/vector"
)

// fakeEmbedder returns a fixed vector and counts calls. A non-nil gate holds
// every call until it is closed.
type fakeEmbedder struct {
	calls atomic.Int32
	err   error
	gate  chan struct{}
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.gate != nil {
		select {
		case <-e.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text)), 1, 0}, nil
}

func (e *fakeEmbedder) Dimensions() int { return 3 }
func (e *fakeEmbedder) Version() string { return "fake" }

// fakeStore is an in-memory vector.Store. Query returns the canned matches
// for the namespace regardless of the query vector.
type fakeStore struct {
	mu        sync.Mutex
	records   map[string]map[string]vector.Record
	matches   map[string][]vector.Match
	queries   atomic.Int32
	upserts   atomic.Int32
	dropWrite bool
	fetchErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: make(map[string]map[string]vector.Record),
		matches: make(map[string][]vector.Match),
	}
}

func (f *fakeStore) put(ns string, rec vector.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.records[ns] == nil {
		f.records[ns] = make(map[string]vector.Record)
	}
	f.records[ns][rec.ID] = rec
}

func (f *fakeStore) Upsert(_ context.Context, ns string, records []vector.Record) (vector.UpsertResult, error) {
	f.upserts.Add(1)
	if f.dropWrite {
		return vector.UpsertResult{}, nil
	}
	for _, r := range records {
		f.put(ns, r)
	}
	return vector.UpsertResult{UpsertedCount: len(records)}, nil
}

func (f *fakeStore) Fetch(_ context.Context, ns, id string) vector.FetchResult {
	if f.fetchErr != nil {
		return vector.Transient(f.fetchErr)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[ns][id]
	if !ok {
		return vector.NotFound()
	}
	return vector.Found(rec)
}

func (f *fakeStore) FetchMany(_ context.Context, ns string, ids []string) (map[string]vector.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]vector.Record)
	for _, id := range ids {
		if rec, ok := f.records[ns][id]; ok {
			out[id] = rec
		}
	}
	return out, nil
}

func (f *fakeStore) Query(_ context.Context, ns string, req vector.QueryRequest) ([]vector.Match, error) {
	f.queries.Add(1)
	m := f.matches[ns]
	if len(m) > req.TopK {
		m = m[:req.TopK]
	}
	return m, nil
}

func (f *fakeStore) ListByPrefix(_ context.Context, ns string, req vector.ListRequest) (vector.ListPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id := range f.records[ns] {
		if strings.HasPrefix(id, req.Prefix) && id > req.PaginationToken {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	page := vector.ListPage{IDs: ids}
	if len(ids) > req.Limit {
		page.IDs = ids[:req.Limit]
		page.NextToken = ids[req.Limit-1]
	}
	return page, nil
}

func (f *fakeStore) Delete(_ context.Context, ns string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.records[ns], id)
	}
	return nil
}

func (f *fakeStore) DescribeIndexStats(context.Context) (vector.IndexStats, error) {
	return vector.IndexStats{}, errors.New("not implemented")
}

func (f *fakeStore) Health(context.Context) (vector.HealthStatus, error) {
	return vector.HealthStatus{Ready: true}, nil
}
