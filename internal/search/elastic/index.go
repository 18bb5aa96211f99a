package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"docmind-backend/internal/search"
)

const indexMapping = `{
  "mappings": {
    "properties": {
      "document_id": {"type": "long"},
      "owner_id":    {"type": "long"},
      "filename":    {"type": "text"},
      "content":     {"type": "text"}
    }
  }
}`

// Index is a search.Index backed by an Elasticsearch index.
type Index struct {
	client *elasticsearch.Client
	name   string
}

type document struct {
	DocumentID int64  `json:"document_id"`
	OwnerID    int64  `json:"owner_id"`
	FileName   string `json:"filename"`
	Content    string `json:"content"`
}

// New creates a client for the given cluster addresses and index name.
func New(addresses []string, indexName string) (*Index, error) {
	if strings.TrimSpace(indexName) == "" {
		return nil, fmt.Errorf("elasticsearch index name is required")
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: addresses})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &Index{client: client, name: indexName}, nil
}

// EnsureIndex creates the index with its mapping when missing.
func (x *Index) EnsureIndex(ctx context.Context) error {
	res, err := x.client.Indices.Exists([]string{x.name}, x.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", x.name, err)
	}
	drain(res)
	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("check index %s: status %d", x.name, res.StatusCode)
	}

	res, err = x.client.Indices.Create(x.name,
		x.client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
		x.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", x.name, err)
	}
	defer drain(res)
	// Another replica may have created it first.
	if res.IsError() && !strings.Contains(readBody(res), "resource_already_exists_exception") {
		return fmt.Errorf("create index %s: %s", x.name, res.Status())
	}
	return nil
}

// Ping checks the cluster is reachable.
func (x *Index) Ping(ctx context.Context) error {
	res, err := x.client.Ping(x.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer drain(res)
	if res.IsError() {
		return fmt.Errorf("ping elasticsearch: %s", res.Status())
	}
	return nil
}

// Index writes the entry using the document id as the ES _id.
func (x *Index) Index(ctx context.Context, e search.Entry) error {
	body, err := json.Marshal(document{
		DocumentID: e.DocumentID,
		OwnerID:    e.OwnerID,
		FileName:   e.FileName,
		Content:    e.Content,
	})
	if err != nil {
		return fmt.Errorf("encode document %d: %w", e.DocumentID, err)
	}

	res, err := x.client.Index(x.name, bytes.NewReader(body),
		x.client.Index.WithDocumentID(strconv.FormatInt(e.DocumentID, 10)),
		x.client.Index.WithRefresh("wait_for"),
		x.client.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("index document %d: %w", e.DocumentID, err)
	}
	defer drain(res)
	if res.IsError() {
		return fmt.Errorf("index document %d: %s", e.DocumentID, res.Status())
	}
	return nil
}

// Delete removes the entry. A 404 means it was already gone.
func (x *Index) Delete(ctx context.Context, documentID int64) error {
	res, err := x.client.Delete(x.name, strconv.FormatInt(documentID, 10),
		x.client.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("delete document %d: %w", documentID, err)
	}
	defer drain(res)
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return fmt.Errorf("delete document %d: %s", documentID, res.Status())
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Score     float64             `json:"_score"`
			Source    document            `json:"_source"`
			Highlight map[string][]string `json:"highlight"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search runs an owner-filtered match query over content and filename.
func (x *Index) Search(ctx context.Context, ownerID int64, query string, limit int) ([]search.Hit, error) {
	terms := search.Terms(query)
	if len(terms) == 0 {
		return nil, search.ErrEmptyQuery
	}

	body, err := json.Marshal(buildQuery(ownerID, strings.Join(terms, " "), search.ClampLimit(limit)))
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	res, err := x.client.Search(
		x.client.Search.WithContext(ctx),
		x.client.Search.WithIndex(x.name),
		x.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer drain(res)
	if res.IsError() {
		return nil, fmt.Errorf("search documents: %s", res.Status())
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	hits := make([]search.Hit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		hit := search.Hit{DocumentID: h.Source.DocumentID, Score: h.Score}
		if frags := h.Highlight["content"]; len(frags) > 0 {
			hit.Snippet = frags[0]
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func buildQuery(ownerID int64, text string, limit int) map[string]any {
	return map[string]any{
		"size": limit,
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []any{
					map[string]any{"term": map[string]any{"owner_id": ownerID}},
				},
				"must": []any{
					map[string]any{"multi_match": map[string]any{
						"query":    text,
						"fields":   []string{"content", "filename^2"},
						"operator": "and",
					}},
				},
			},
		},
		"highlight": map[string]any{
			"pre_tags":  []string{""},
			"post_tags": []string{""},
			"fields": map[string]any{
				"content": map[string]any{"fragment_size": 120, "number_of_fragments": 1},
			},
		},
	}
}

func readBody(res *esapi.Response) string {
	if res == nil || res.Body == nil {
		return ""
	}
	data, _ := io.ReadAll(res.Body)
	return string(data)
}

func drain(res *esapi.Response) {
	if res == nil || res.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
}

var _ search.Index = (*Index)(nil)
