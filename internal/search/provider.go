// Package search queries external book catalogs and normalizes their hits
// into models.ExternalBook values.
package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"shelfshare/internal/apperr"
	"shelfshare/internal/models"
)

const (
	SourceGoogle = "google"
	SourceMIF    = "mif"

	DefaultGoogleURL = "https://www.googleapis.com/books/v1/volumes"
	DefaultMIFURL    = "https://www.mann-ivanov-ferber.ru/book/search.ajax"
	DefaultTimeout   = 10 * time.Second

	maxResponseBytes = 4 << 20
	msgUnknownSource = `Source must be "google" or "mif"`
)

// Provider resolves a catalog query for a named source.
type Provider interface {
	Search(ctx context.Context, source, query string) ([]models.ExternalBook, error)
}

// Observer receives one call per upstream request. outcome is "ok",
// "error", "timeout" or "canceled".
type Observer interface {
	ObserveSearch(source, outcome string, duration time.Duration)
}

// Source describes where a catalog lives and which gjson paths hold the
// fields of each hit.
type Source struct {
	Endpoint  string
	ItemsPath string
	IDPath    string
	TitlePath string
	URLPath   string
}

type Config struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	GoogleURL  string
	MIFURL     string
	Observer   Observer
}

// CatalogProvider fetches search results from the Google Books and MIF
// catalogs.
type CatalogProvider struct {
	client   *http.Client
	timeout  time.Duration
	sources  map[string]Source
	observer Observer
}

var _ Provider = (*CatalogProvider)(nil)

func NewCatalogProvider(cfg Config) *CatalogProvider {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	googleURL := strings.TrimSpace(cfg.GoogleURL)
	if googleURL == "" {
		googleURL = DefaultGoogleURL
	}
	mifURL := strings.TrimSpace(cfg.MIFURL)
	if mifURL == "" {
		mifURL = DefaultMIFURL
	}
	return &CatalogProvider{
		client:  client,
		timeout: timeout,
		sources: map[string]Source{
			SourceGoogle: {
				Endpoint:  googleURL,
				ItemsPath: "items",
				IDPath:    "id",
				TitlePath: "volumeInfo.title",
				URLPath:   "volumeInfo.canonicalVolumeLink",
			},
			SourceMIF: {
				Endpoint:  mifURL,
				ItemsPath: "books",
				IDPath:    "id",
				TitlePath: "title",
				URLPath:   "url",
			},
		},
		observer: cfg.Observer,
	}
}

// Sources lists the configured source names.
func (p *CatalogProvider) Sources() []string {
	names := make([]string, 0, len(p.sources))
	for name := range p.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Search runs query against source. Unknown sources are validation errors;
// upstream failures are provider errors, with timeouts reported separately.
func (p *CatalogProvider) Search(ctx context.Context, source, query string) ([]models.ExternalBook, error) {
	src, ok := p.sources[strings.ToLower(strings.TrimSpace(source))]
	if !ok {
		return nil, apperr.Validation(msgUnknownSource)
	}

	start := time.Now()
	books, err := p.fetch(ctx, src, query)
	p.observe(source, err, time.Since(start))
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, apperr.Canceled(fmt.Errorf("search %s: %w", source, err))
		}
		if isTimeout(err) {
			return nil, apperr.ProviderTimeout(fmt.Errorf("search %s: %w", source, err))
		}
		return nil, apperr.Provider(fmt.Errorf("search %s: %w", source, err))
	}
	return books, nil
}

func (p *CatalogProvider) fetch(ctx context.Context, src Source, query string) ([]models.ExternalBook, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	endpoint, err := url.Parse(src.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	values := endpoint.Query()
	values.Set("q", query)
	endpoint.RawQuery = values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("upstream returned invalid json")
	}
	return extract(body, src), nil
}

func extract(body []byte, src Source) []models.ExternalBook {
	items := gjson.GetBytes(body, src.ItemsPath)
	books := make([]models.ExternalBook, 0)
	if !items.IsArray() {
		return books
	}
	items.ForEach(func(_, item gjson.Result) bool {
		books = append(books, models.ExternalBook{
			ID:    item.Get(src.IDPath).String(),
			Title: item.Get(src.TitlePath).String(),
			URL:   item.Get(src.URLPath).String(),
		})
		return true
	})
	return books
}

func (p *CatalogProvider) observe(source string, err error, duration time.Duration) {
	if p.observer == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		outcome = "canceled"
	case isTimeout(err):
		outcome = "timeout"
	default:
		outcome = "error"
	}
	p.observer.ObserveSearch(source, outcome, duration)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
