package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"asset-register/backend/internal/audit/domain"
)

// ElasticsearchConfig configures the search sink.
type ElasticsearchConfig struct {
	Addresses []string
	Username  string
	Password  string
	Index     string
}

// Elasticsearch indexes records by id, so a re-export overwrites rather than
// duplicates.
type Elasticsearch struct {
	client *elasticsearch.Client
	index  string
}

func NewElasticsearch(cfg ElasticsearchConfig) (*Elasticsearch, error) {
	if len(cfg.Addresses) == 0 || cfg.Index == "" {
		return nil, errors.New("elasticsearch sink: addresses and index are required")
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch sink: %w", err)
	}
	return &Elasticsearch{client: client, index: cfg.Index}, nil
}

func (e *Elasticsearch) Name() string { return "elasticsearch:" + e.index }

func (e *Elasticsearch) Export(ctx context.Context, rec *domain.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	req := esapi.IndexRequest{
		Index:      e.index,
		DocumentID: rec.ID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("index audit record: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index audit record: %s", res.String())
	}
	return nil
}

func (e *Elasticsearch) Close() error { return nil }
