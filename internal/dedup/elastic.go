package dedup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/ppiankov/legiscrape/internal/model"
)

// ElasticBackend reads published records from an Elasticsearch index
type ElasticBackend struct {
	client    *elasticsearch.Client
	index     string
	pageSize  int
	scrollTTL time.Duration
}

// NewElasticBackend creates a backend from dedup settings
func NewElasticBackend(cfg model.DedupConfig) (*ElasticBackend, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 10000
	}
	ttl := cfg.ScrollTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}

	return &ElasticBackend{client: client, index: cfg.Index, pageSize: pageSize, scrollTTL: ttl}, nil
}

type searchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []struct {
			Source Record `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func query(jurisdiction, session string) ([]byte, error) {
	must := []map[string]any{}
	if jurisdiction != "" {
		must = append(must, map[string]any{"term": map[string]any{"jurisdiction.keyword": jurisdiction}})
	}
	if session != "" {
		must = append(must, map[string]any{"term": map[string]any{"legislative_session.keyword": session}})
	}
	return json.Marshal(map[string]any{
		"query": map[string]any{"bool": map[string]any{"must": must}},
	})
}

// Fetch scrolls through every hit matching jurisdiction and session
func (b *ElasticBackend) Fetch(ctx context.Context, jurisdiction, session string) (map[string]Record, error) {
	body, err := query(jurisdiction, session)
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	es := b.client
	res, err := es.Search(
		es.Search.WithContext(ctx),
		es.Search.WithIndex(b.index),
		es.Search.WithBody(bytes.NewReader(body)),
		es.Search.WithSize(b.pageSize),
		es.Search.WithScroll(b.scrollTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", b.index, err)
	}
	page, err := decodePage(res)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", b.index, err)
	}

	records := make(map[string]Record)
	scrollID := page.ScrollID
	// later pages may hand out a new scroll id; clear the latest
	defer func() { b.clearScroll(scrollID) }()

	for len(page.Hits.Hits) > 0 {
		for _, hit := range page.Hits.Hits {
			if id, ok := hit.Source["identifier"].(string); ok {
				records[id] = hit.Source
			}
		}
		if scrollID == "" {
			break
		}

		res, err := es.Scroll(
			es.Scroll.WithContext(ctx),
			es.Scroll.WithScrollID(scrollID),
			es.Scroll.WithScroll(b.scrollTTL),
		)
		if err != nil {
			return nil, fmt.Errorf("scroll %s: %w", b.index, err)
		}
		if page, err = decodePage(res); err != nil {
			return nil, fmt.Errorf("scroll %s: %w", b.index, err)
		}
		if page.ScrollID != "" {
			scrollID = page.ScrollID
		}
	}

	return records, nil
}

func (b *ElasticBackend) clearScroll(id string) {
	if id == "" {
		return
	}
	res, err := b.client.ClearScroll(b.client.ClearScroll.WithScrollID(id))
	if err == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		_ = res.Body.Close()
	}
}

func decodePage(res *esapi.Response) (*searchResponse, error) {
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, fmt.Errorf("%s: %s", res.Status(), strings.TrimSpace(string(msg)))
	}

	var page searchResponse
	if err := json.NewDecoder(res.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &page, nil
}
