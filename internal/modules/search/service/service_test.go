package search

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"anoa.com/fellowship/internal/entity"
	"github.com/meilisearch/meilisearch-go"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// fakeMeili accepts every write as an enqueued task and answers searches
// with a fixed hit.
type fakeMeili struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (f *fakeMeili) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: string(body)})
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if strings.HasSuffix(r.URL.Path, "/search") {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"hits":[{"id":"d1","title":"Reunion","content":"who is coming","tags":["events"],"author_id":"alice","author_name":"Alice","likes":2,"comment_count":1,"created_at":1700000000}],"estimatedTotalHits":1}`))
		return
	}
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte(`{"taskUid":7,"indexUid":"discussions","status":"enqueued","type":"documentAdditionOrUpdate","enqueuedAt":"2026-01-01T00:00:00Z"}`))
}

func (f *fakeMeili) find(method, suffix string) *recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.requests {
		if f.requests[i].Method == method && strings.HasSuffix(f.requests[i].Path, suffix) {
			return &f.requests[i]
		}
	}
	return nil
}

func newTestService(t *testing.T) (SearchService, *fakeMeili) {
	t.Helper()
	fake := &fakeMeili{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewMeiliSearchService(meilisearch.New(srv.URL), zap.NewNop()), fake
}

func TestCleanContentForIndex(t *testing.T) {
	s := &meiliSearchService{sanitizer: bluemonday.StrictPolicy()}

	got := s.cleanContentForIndex("<p>Hello</p><p>world &amp; friends</p><br><script>x()</script>")
	if got != "Hello world & friends" {
		t.Fatalf("unexpected cleaned content %q", got)
	}
}

func TestNewServiceConfiguresIndex(t *testing.T) {
	_, fake := newTestService(t)

	if fake.find(http.MethodPut, "/settings/filterable-attributes") == nil {
		t.Fatal("expected filterable attributes to be configured")
	}
	if fake.find(http.MethodPut, "/settings/sortable-attributes") == nil {
		t.Fatal("expected sortable attributes to be configured")
	}
}

func TestIndexDiscussionSendsCleanDocument(t *testing.T) {
	svc, fake := newTestService(t)

	err := svc.IndexDiscussion(&entity.Discussion{
		ID:         "d1",
		Title:      "Reunion",
		Content:    "<p>who is</p><p>coming</p>",
		Tags:       []string{"events"},
		AuthorID:   "alice",
		AuthorName: "Alice",
		CreatedAt:  time.Unix(1700000000, 0),
	})
	if err != nil {
		t.Fatalf("IndexDiscussion failed: %v", err)
	}

	req := fake.find(http.MethodPost, "/indexes/discussions/documents")
	if req == nil {
		t.Fatal("expected a document write")
	}
	if !strings.Contains(req.Query, "primaryKey=id") {
		t.Errorf("expected primary key id, got query %q", req.Query)
	}
	var docs []Hit
	if err := json.Unmarshal([]byte(req.Body), &docs); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(docs) != 1 || docs[0].Content != "who is coming" || docs[0].CreatedAt != 1700000000 {
		t.Fatalf("unexpected indexed document %+v", docs)
	}
}

func TestDeleteDiscussion(t *testing.T) {
	svc, fake := newTestService(t)

	if err := svc.DeleteDiscussion("d1"); err != nil {
		t.Fatalf("DeleteDiscussion failed: %v", err)
	}
	if fake.find(http.MethodDelete, "/indexes/discussions/documents/d1") == nil {
		t.Fatal("expected a document delete")
	}
}

func TestSearchDiscussionsDecodesHits(t *testing.T) {
	svc, fake := newTestService(t)

	res, err := svc.SearchDiscussions(Query{Text: "reunion", Tag: "events"})
	if err != nil {
		t.Fatalf("SearchDiscussions failed: %v", err)
	}
	if res.Total != 1 || len(res.Hits) != 1 || res.Hits[0].AuthorName != "Alice" {
		t.Fatalf("unexpected result %+v", res)
	}

	req := fake.find(http.MethodPost, "/indexes/discussions/search")
	if req == nil {
		t.Fatal("expected a search request")
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["q"] != "reunion" || body["filter"] != `tags = "events"` || body["limit"] != float64(20) {
		t.Fatalf("unexpected search body %v", body)
	}
}
