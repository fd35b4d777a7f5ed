package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"shelfshare/internal/apperr"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveSearch(source, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, source+":"+outcome)
}

func newUpstream(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestSearchGoogle(t *testing.T) {
	var gotQuery, gotRaw string
	upstream := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotRaw = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"kind":"books#volumes","items":[
			{"id":"zyTCAlFPjgYC","volumeInfo":{"title":"The Google Story","canonicalVolumeLink":"https://books.google.com/books/about/The_Google_Story.html?id=zyTCAlFPjgYC"}},
			{"id":"noTitle","volumeInfo":{}}
		]}`))
	})
	observer := &recordingObserver{}
	provider := NewCatalogProvider(Config{GoogleURL: upstream.URL, Observer: observer})

	books, err := provider.Search(context.Background(), "google", "war & peace")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotQuery != "war & peace" {
		t.Fatalf("expected decoded query %q, got %q", "war & peace", gotQuery)
	}
	if gotRaw != "q=war+%26+peace" {
		t.Fatalf("query must be encoded once, got raw %q", gotRaw)
	}
	if len(books) != 2 {
		t.Fatalf("expected 2 books, got %d", len(books))
	}
	if books[0].ID != "zyTCAlFPjgYC" || books[0].Title != "The Google Story" || books[0].URL == "" {
		t.Fatalf("unexpected first book %+v", books[0])
	}
	if books[1].ID != "noTitle" || books[1].Title != "" || books[1].URL != "" {
		t.Fatalf("missing fields must be empty, got %+v", books[1])
	}
	if len(observer.outcomes) != 1 || observer.outcomes[0] != "google:ok" {
		t.Fatalf("unexpected observations %v", observer.outcomes)
	}
}

func TestSearchMIF(t *testing.T) {
	upstream := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "habits" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"books":[{"id":4821,"title":"Atomic Habits","url":"https://mif.example/atomic"}]}`))
	})
	provider := NewCatalogProvider(Config{MIFURL: upstream.URL})

	books, err := provider.Search(context.Background(), "MIF", "habits")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(books) != 1 || books[0].ID != "4821" || books[0].Title != "Atomic Habits" || books[0].URL != "https://mif.example/atomic" {
		t.Fatalf("unexpected books %+v", books)
	}
}

func TestSearchMissingItemsYieldsEmptyList(t *testing.T) {
	upstream := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"kind":"books#volumes","totalItems":0}`))
	})
	provider := NewCatalogProvider(Config{GoogleURL: upstream.URL})

	books, err := provider.Search(context.Background(), "google", "nothing")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if books == nil || len(books) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", books)
	}
}

func TestSearchUnknownSource(t *testing.T) {
	provider := NewCatalogProvider(Config{})
	_, err := provider.Search(context.Background(), "amazon", "go")
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if msg := apperr.From(err).Message; msg != `Source must be "google" or "mif"` {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestSearchUpstreamFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
		},
		{
			name: "invalid json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`<html>maintenance</html>`))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := newUpstream(t, tt.handler)
			provider := NewCatalogProvider(Config{GoogleURL: upstream.URL})
			_, err := provider.Search(context.Background(), "google", "go")
			appErr := apperr.From(err)
			if appErr == nil || appErr.Kind != apperr.KindProvider || appErr.Status() != http.StatusBadGateway {
				t.Fatalf("expected 502 provider error, got %v", err)
			}
			if appErr.Message != "External search failed" {
				t.Fatalf("unexpected message %q", appErr.Message)
			}
		})
	}
}

func TestSearchTimeout(t *testing.T) {
	release := make(chan struct{})
	upstream := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	observer := &recordingObserver{}
	provider := NewCatalogProvider(Config{GoogleURL: upstream.URL, Timeout: 50 * time.Millisecond, Observer: observer})
	_, err := provider.Search(context.Background(), "google", "slow")
	appErr := apperr.From(err)
	if appErr == nil || appErr.Status() != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %v", err)
	}
	if appErr.Message != "External search timed out" {
		t.Fatalf("unexpected message %q", appErr.Message)
	}
	if len(observer.outcomes) != 1 || observer.outcomes[0] != "google:timeout" {
		t.Fatalf("unexpected observations %v", observer.outcomes)
	}
}

func TestSearchCallerCancels(t *testing.T) {
	arrived := make(chan struct{})
	upstream := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		<-r.Context().Done()
	})

	observer := &recordingObserver{}
	provider := NewCatalogProvider(Config{GoogleURL: upstream.URL, Observer: observer})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-arrived
		cancel()
	}()

	_, err := provider.Search(ctx, "google", "abandoned")
	appErr := apperr.From(err)
	if appErr.Kind != apperr.KindCanceled || appErr.Internal() {
		t.Fatalf("expected canceled error, got %v", err)
	}
	if appErr.Status() == http.StatusBadGateway {
		t.Fatal("a departed caller must not be reported as an upstream failure")
	}
	if len(observer.outcomes) != 1 || observer.outcomes[0] != "google:canceled" {
		t.Fatalf("unexpected observations %v", observer.outcomes)
	}
}

func TestSources(t *testing.T) {
	got := NewCatalogProvider(Config{}).Sources()
	if len(got) != 2 || got[0] != "google" || got[1] != "mif" {
		t.Fatalf("unexpected sources %v", got)
	}
}
