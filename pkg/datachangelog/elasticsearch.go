package datachangelog

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/jecitDev/jec-go-versioning/pkg/versioning"
	"github.com/rs/zerolog"
)

// ElasticsearchRepository is the Repository implementation backed by dated Elasticsearch indices
type ElasticsearchRepository struct {
	client     *elasticsearch.Client
	config     ElasticsearchConfig
	bulkWriter *BulkIndexWriter
	log        zerolog.Logger
}

// BulkIndexWriter handles asynchronous bulk indexing of history documents
type BulkIndexWriter struct {
	repo          *ElasticsearchRepository
	queue         chan HistoryDocument
	batchSize     int
	flushInterval time.Duration
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	mutex         sync.Mutex
	status        BatchWriterStatus
}

// NewElasticsearchRepository connects to the cluster and starts the bulk writer when workers are configured.
//
// Example:
//
//	repo, err := NewElasticsearchRepository(ElasticsearchConfig{
//		Addresses:   []string{"https://localhost:9200"},
//		Username:    "elastic",
//		Password:    "password",
//		IndexPrefix: "versioning-history",
//	}, log)
//	if err != nil {
//		log.Fatal().Err(err).Msg("history index unavailable")
//	}
//	defer repo.Close()
func NewElasticsearchRepository(config ElasticsearchConfig, log zerolog.Logger) (*ElasticsearchRepository, error) {
	if len(config.Addresses) == 0 {
		return nil, fmt.Errorf("elasticsearch addresses must be specified")
	}

	escfg := elasticsearch.Config{
		Addresses:  config.Addresses,
		Username:   config.Username,
		Password:   config.Password,
		APIKey:     config.APIKey,
		MaxRetries: config.MaxRetries,
	}
	if config.RetryDelay > 0 {
		delay := config.RetryDelay
		escfg.RetryBackoff = func(attempt int) time.Duration { return time.Duration(attempt) * delay }
	}
	if config.CACert != "" {
		cert, err := os.ReadFile(config.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read elasticsearch ca_cert: %w", err)
		}
		escfg.CACert = cert
	}
	if config.InsecureSkipVerify {
		escfg.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	client, err := elasticsearch.NewClient(escfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, responseError("elasticsearch info", res)
	}

	repo := &ElasticsearchRepository{
		client: client,
		config: config,
		log:    log,
	}

	if config.NumWorkers > 0 && config.BulkSize > 0 {
		repo.bulkWriter = NewBulkIndexWriter(repo, config.BulkSize, config.FlushInterval)
		repo.bulkWriter.Start(config.NumWorkers)
	}

	return repo, nil
}

// EnsureTemplate installs the index template that maps history strings as keywords
func (r *ElasticsearchRepository) EnsureTemplate(ctx context.Context) error {
	body, err := json.Marshal(r.template())
	if err != nil {
		return fmt.Errorf("failed to marshal index template: %w", err)
	}

	ctx, cancel := r.requestContext(ctx)
	defer cancel()
	req := esapi.IndicesPutTemplateRequest{
		Name: strings.ToLower(r.config.IndexPrefix),
		Body: bytes.NewReader(body),
	}
	res, err := req.Do(ctx, r.client)
	if err != nil {
		return fmt.Errorf("failed to put index template: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("put index template", res)
	}
	return nil
}

func (r *ElasticsearchRepository) template() map[string]interface{} {
	return map[string]interface{}{
		"index_patterns": []string{strings.ToLower(r.config.IndexPrefix) + "*"},
		"mappings": map[string]interface{}{
			"dynamic_templates": []interface{}{
				map[string]interface{}{
					"strings_as_keywords": map[string]interface{}{
						"match_mapping_type": "string",
						"mapping":            map[string]interface{}{"type": "keyword"},
					},
				},
			},
			"properties": map[string]interface{}{
				"id":          map[string]interface{}{"type": "keyword"},
				"root":        map[string]interface{}{"type": "keyword"},
				"entity":      map[string]interface{}{"type": "keyword"},
				"entity_id":   map[string]interface{}{"type": "long"},
				"version":     map[string]interface{}{"type": "long"},
				"action_type": map[string]interface{}{"type": "keyword"},
				"actor":       map[string]interface{}{"type": "keyword"},
				"changed_at":  map[string]interface{}{"type": "date"},
				"masked":      map[string]interface{}{"type": "keyword"},
			},
		},
	}
}

// SaveBatch queues docs on the bulk writer, or indexes them synchronously when no writer runs
func (r *ElasticsearchRepository) SaveBatch(ctx context.Context, docs []HistoryDocument) error {
	if len(docs) == 0 {
		return nil
	}

	if r.bulkWriter != nil && r.bulkWriter.IsRunning() {
		for i := range docs {
			if err := r.bulkWriter.Write(docs[i]); err != nil {
				return err
			}
		}
		return nil
	}

	return r.saveBatchDirect(ctx, docs)
}

// saveBatchDirect indexes docs with one bulk request
func (r *ElasticsearchRepository) saveBatchDirect(ctx context.Context, docs []HistoryDocument) error {
	var buf bytes.Buffer

	for i := range docs {
		meta := map[string]interface{}{
			"index": map[string]interface{}{
				"_index": r.config.indexName(docs[i].Root, docs[i].ChangedAt),
				"_id":    docs[i].ID,
			},
		}
		metaBytes, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to marshal bulk action: %w", err)
		}
		buf.Write(metaBytes)
		buf.WriteString("\n")

		docBytes, err := json.Marshal(docs[i])
		if err != nil {
			return fmt.Errorf("failed to marshal document %s: %w", docs[i].ID, err)
		}
		buf.Write(docBytes)
		buf.WriteString("\n")
	}

	ctx, cancel := r.requestContext(ctx)
	defer cancel()
	req := esapi.BulkRequest{
		Body: &buf,
	}
	res, err := req.Do(ctx, r.client)
	if err != nil {
		return fmt.Errorf("failed to execute bulk request: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("elasticsearch bulk request", res)
	}

	var bulkRes struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkRes); err != nil {
		return fmt.Errorf("failed to parse bulk response: %w", err)
	}
	if bulkRes.Errors {
		for _, item := range bulkRes.Items {
			for _, result := range item {
				if result.Status >= 300 {
					return fmt.Errorf("bulk indexing of %s failed: %s: %s", result.ID, result.Error.Type, result.Error.Reason)
				}
			}
		}
		return fmt.Errorf("bulk request had errors")
	}

	return nil
}

// Search retrieves the documents of one hierarchy matching query. Without a limit every match is
// returned, fetched in pages of SearchSize through search_after on the (entity_id, version) sort.
func (r *ElasticsearchRepository) Search(ctx context.Context, query *HistoryQuery) ([]HistoryDocument, error) {
	if query.Limit > 0 {
		docs, _, err := r.searchPage(ctx, query, query.Limit, nil)
		return docs, err
	}

	var (
		out   []HistoryDocument
		after []json.RawMessage
	)
	for {
		page, last, err := r.searchPage(ctx, query, r.config.SearchSize, after)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < r.config.SearchSize || len(last) == 0 {
			break
		}
		after = last
	}
	sortDocuments(out)
	return out, nil
}

// searchPage runs one search request and returns its documents with the sort values of the last hit
func (r *ElasticsearchRepository) searchPage(ctx context.Context, query *HistoryQuery, size int, after []json.RawMessage) ([]HistoryDocument, []json.RawMessage, error) {
	body := r.buildQuery(query)
	if after != nil {
		body["search_after"] = after
	}
	searchBody, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	ignoreUnavailable := true
	allowNoIndices := true

	ctx, cancel := r.requestContext(ctx)
	defer cancel()
	req := esapi.SearchRequest{
		Index:             []string{r.config.searchPattern(query.Root)},
		Body:              bytes.NewReader(searchBody),
		Size:              &size,
		IgnoreUnavailable: &ignoreUnavailable,
		AllowNoIndices:    &allowNoIndices,
	}
	res, err := req.Do(ctx, r.client)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to execute search: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, nil, responseError("elasticsearch search", res)
	}

	return parseSearchResults(res.Body)
}

func (r *ElasticsearchRepository) buildQuery(q *HistoryQuery) map[string]interface{} {
	filters := []interface{}{
		map[string]interface{}{"term": map[string]interface{}{"root": q.Root}},
	}
	if q.EntityID != nil {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"entity_id": *q.EntityID}})
	}

	var mustNot []interface{}
	for _, field := range sortedFieldNames(q.Fields) {
		value := q.Fields[field]
		if value == nil {
			mustNot = append(mustNot, map[string]interface{}{"exists": map[string]interface{}{"field": field}})
			continue
		}
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{field: value}})
	}

	boolQuery := map[string]interface{}{"filter": filters}
	if len(mustNot) > 0 {
		boolQuery["must_not"] = mustNot
	}

	return map[string]interface{}{
		"query": map[string]interface{}{"bool": boolQuery},
		"sort": []interface{}{
			map[string]interface{}{"entity_id": map[string]interface{}{"order": "asc"}},
			map[string]interface{}{"version": map[string]interface{}{"order": "asc"}},
		},
	}
}

func parseSearchResults(body io.Reader) ([]HistoryDocument, []json.RawMessage, error) {
	var esRes struct {
		Hits struct {
			Hits []struct {
				Source json.RawMessage   `json:"_source"`
				Sort   []json.RawMessage `json:"sort"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(body).Decode(&esRes); err != nil {
		return nil, nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	var last []json.RawMessage
	docs := make([]HistoryDocument, 0, len(esRes.Hits.Hits))
	for _, hit := range esRes.Hits.Hits {
		doc, err := decodeDocument(hit.Source)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse search hit: %w", err)
		}
		docs = append(docs, doc)
		last = hit.Sort
	}
	sortDocuments(docs)
	return docs, last, nil
}

// Close stops the bulk writer after flushing queued documents
func (r *ElasticsearchRepository) Close() error {
	if r.bulkWriter != nil {
		return r.bulkWriter.Close()
	}
	return nil
}

// Health checks if Elasticsearch is healthy and accessible
func (r *ElasticsearchRepository) Health(ctx context.Context) error {
	ctx, cancel := r.requestContext(ctx)
	defer cancel()
	res, err := r.client.Cluster.Health(r.client.Cluster.Health.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check cluster health: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("cluster health", res)
	}
	return nil
}

// Status reports the bulk writer state. A repository without workers reports a stopped writer.
func (r *ElasticsearchRepository) Status() BatchWriterStatus {
	if r.bulkWriter == nil {
		return BatchWriterStatus{}
	}
	return r.bulkWriter.Status()
}

func (r *ElasticsearchRepository) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.config.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.config.RequestTimeout)
}

func responseError(op string, res *esapi.Response) error {
	body, _ := io.ReadAll(res.Body)
	return fmt.Errorf("%s returned %s: %s", op, res.Status(), strings.TrimSpace(string(body)))
}

func sortedFieldNames(fields map[string]interface{}) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewBulkIndexWriter creates a new bulk index writer
func NewBulkIndexWriter(repo *ElasticsearchRepository, batchSize int, flushInterval time.Duration) *BulkIndexWriter {
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &BulkIndexWriter{
		repo:          repo,
		queue:         make(chan HistoryDocument, batchSize*2),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopChan:      make(chan struct{}),
	}
}

// Start starts the bulk writer workers
func (b *BulkIndexWriter) Start(numWorkers int) {
	b.updateStatus(func() { b.status.IsRunning = true })

	for i := 0; i < numWorkers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
}

// worker drains the queue and indexes full batches or whatever is pending at each tick
func (b *BulkIndexWriter) worker() {
	defer b.wg.Done()

	batch := make([]HistoryDocument, 0, b.batchSize)
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			for {
				select {
				case doc := <-b.queue:
					batch = append(batch, doc)
				default:
					b.flush(batch)
					return
				}
			}

		case doc := <-b.queue:
			batch = append(batch, doc)
			b.updateStatus(func() { b.status.QueueSize = len(b.queue) })
			if len(batch) >= b.batchSize {
				b.flush(batch)
				batch = make([]HistoryDocument, 0, b.batchSize)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				b.flush(batch)
				batch = make([]HistoryDocument, 0, b.batchSize)
			}
		}
	}
}

func (b *BulkIndexWriter) flush(batch []HistoryDocument) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err := b.repo.saveBatchDirect(ctx, batch)
	cancel()

	if err != nil {
		b.repo.log.Error().Err(err).Int("documents", len(batch)).Msg("bulk history indexing failed")
	}
	b.updateStatus(func() {
		if err != nil {
			b.status.FailedCount += int64(len(batch))
			b.status.LastError = err.Error()
			return
		}
		b.status.ProcessedCount += int64(len(batch))
		b.status.LastFlushTime = time.Now()
	})
}

// Write queues a document for batch writing
func (b *BulkIndexWriter) Write(doc HistoryDocument) error {
	select {
	case <-b.stopChan:
		return fmt.Errorf("bulk writer is stopped")
	default:
	}

	select {
	case b.queue <- doc:
		return nil
	default:
		return fmt.Errorf("bulk writer queue is full")
	}
}

// Close stops the workers after they flush the queued documents
func (b *BulkIndexWriter) Close() error {
	b.updateStatus(func() { b.status.IsRunning = false })
	b.stopOnce.Do(func() { close(b.stopChan) })
	b.wg.Wait()
	return nil
}

// Status returns the current status of the writer
func (b *BulkIndexWriter) Status() BatchWriterStatus {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	status := b.status
	status.QueueSize = len(b.queue)
	return status
}

// IsRunning returns whether the bulk writer is running
func (b *BulkIndexWriter) IsRunning() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.status.IsRunning
}

func (b *BulkIndexWriter) updateStatus(fn func()) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	fn()
}

var _ Repository = (*ElasticsearchRepository)(nil)
var _ versioning.HistorySink = (*HistoryIndex)(nil)
var _ versioning.HistorySearcher = (*HistoryIndex)(nil)
