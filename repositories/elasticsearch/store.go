package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"gohan/genotypes/models/indexes"
	"gohan/genotypes/repositories"
	"gohan/genotypes/utils"

	"github.com/Jeffail/gabs"
	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/elastic/go-elasticsearch/v7/esutil"
	"github.com/mitchellh/mapstructure"
)

const (
	scrollPageSize  = 1000
	scrollKeepAlive = time.Minute
)

// Store keeps variants, run records, samples, individuals, projects and
// counters in Elasticsearch. Variants and projects use external versioning
// so that a write carrying a stale version is rejected with a conflict.
type Store struct {
	es      *elasticsearch.Client
	logger  *utils.Logger
	workers int
}

func NewStore(es *elasticsearch.Client, bulkWorkers int, logger *utils.Logger) *Store {
	if bulkWorkers <= 0 {
		bulkWorkers = 2
	}
	return &Store{es: es, logger: logger.OrNop(), workers: bulkWorkers}
}

// EnsureIndices creates every missing index with its mapping.
func (s *Store) EnsureIndices(ctx context.Context) error {
	for name, mapping := range indexes.INDEX_MAPPINGS {
		res, err := s.es.Indices.Exists([]string{name}, s.es.Indices.Exists.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("checking index %s: %w", name, err)
		}
		res.Body.Close()
		if res.StatusCode == http.StatusOK {
			continue
		}

		body, err := json.Marshal(map[string]interface{}{"mappings": mapping})
		if err != nil {
			return err
		}
		res, err = s.es.Indices.Create(name,
			s.es.Indices.Create.WithContext(ctx),
			s.es.Indices.Create.WithBody(bytes.NewReader(body)),
		)
		if err != nil {
			return fmt.Errorf("creating index %s: %w", name, err)
		}
		if _, err := readResponse(res); err != nil {
			return fmt.Errorf("creating index %s: %w", name, err)
		}
		s.logger.Info("created index", "index", name)
	}
	return nil
}

// readResponse closes the body and maps error statuses onto the repository
// sentinels.
func readResponse(res *esapi.Response) (*gabs.Container, error) {
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case res.StatusCode == http.StatusNotFound:
		return nil, repositories.ErrNotFound
	case res.StatusCode == http.StatusConflict:
		return nil, repositories.ErrVersionConflict
	case res.IsError():
		parsed, _ := gabs.ParseJSON(body)
		if parsed != nil {
			if reason, ok := parsed.Path("error.reason").Data().(string); ok {
				return nil, fmt.Errorf("elasticsearch %s: %s", res.Status(), reason)
			}
		}
		return nil, fmt.Errorf("elasticsearch %s", res.Status())
	}
	if len(body) == 0 {
		return gabs.New(), nil
	}
	return gabs.ParseJSON(body)
}

func decodeSource(source interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(source)
}

// getDocument fetches one document's _source.
func (s *Store) getDocument(ctx context.Context, index string, id string, out interface{}) error {
	res, err := s.es.Get(index, id, s.es.Get.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("getting %s/%s: %w", index, id, err)
	}
	parsed, err := readResponse(res)
	if err != nil {
		return err
	}
	if found, _ := parsed.Path("found").Data().(bool); !found {
		return repositories.ErrNotFound
	}
	return decodeSource(parsed.Path("_source").Data(), out)
}

// putDocument creates a document (expectedVersion < 0) or overwrites it
// with version expectedVersion+1, external versioning.
func (s *Store) putDocument(ctx context.Context, index string, id string, doc interface{}, expectedVersion int64) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	opts := []func(*esapi.IndexRequest){
		s.es.Index.WithContext(ctx),
		s.es.Index.WithDocumentID(id),
	}
	if expectedVersion < 0 {
		opts = append(opts, s.es.Index.WithOpType("create"))
	} else {
		opts = append(opts,
			s.es.Index.WithVersion(int(expectedVersion+1)),
			s.es.Index.WithVersionType("external"),
		)
	}
	res, err := s.es.Index(index, bytes.NewReader(body), opts...)
	if err != nil {
		return fmt.Errorf("indexing %s/%s: %w", index, id, err)
	}
	_, err = readResponse(res)
	return err
}

// scan walks every hit of the query with the scroll API.
func (s *Store) scan(ctx context.Context, index string, query map[string]interface{}, fn func(source interface{}) error) error {
	body, err := json.Marshal(map[string]interface{}{"query": query, "sort": []string{"_doc"}})
	if err != nil {
		return err
	}
	res, err := s.es.Search(
		s.es.Search.WithContext(ctx),
		s.es.Search.WithIndex(index),
		s.es.Search.WithBody(bytes.NewReader(body)),
		s.es.Search.WithSize(scrollPageSize),
		s.es.Search.WithScroll(scrollKeepAlive),
	)
	if err != nil {
		return fmt.Errorf("searching %s: %w", index, err)
	}

	var scrollId string
	defer func() {
		if scrollId == "" {
			return
		}
		if res, err := s.es.ClearScroll(s.es.ClearScroll.WithScrollID(scrollId)); err == nil {
			res.Body.Close()
		}
	}()

	for {
		parsed, err := readResponse(res)
		if err != nil {
			return fmt.Errorf("scrolling %s: %w", index, err)
		}
		scrollId, _ = parsed.Path("_scroll_id").Data().(string)

		hits, _ := parsed.Path("hits.hits").Children()
		if len(hits) == 0 {
			return nil
		}
		for _, hit := range hits {
			if err := fn(hit.Path("_source").Data()); err != nil {
				return err
			}
		}

		res, err = s.es.Scroll(
			s.es.Scroll.WithContext(ctx),
			s.es.Scroll.WithScrollID(scrollId),
			s.es.Scroll.WithScroll(scrollKeepAlive),
		)
		if err != nil {
			return fmt.Errorf("scrolling %s: %w", index, err)
		}
	}
}

// bulk writes documents with one BulkIndexer and returns the ids of the
// rejected ones. tolerated statuses count as success.
func (s *Store) bulk(ctx context.Context, index string, action string, docs map[string]interface{}, tolerated ...int) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	indexer, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client:     s.es,
		Index:      index,
		NumWorkers: s.workers,
		FlushBytes: 5 << 20,
	})
	if err != nil {
		return nil, err
	}

	var failed []string
	failures := make(chan string, len(docs))
	for id, doc := range docs {
		data, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", id, err)
		}
		err = indexer.Add(ctx, esutil.BulkIndexerItem{
			Action:     action,
			DocumentID: id,
			Body:       bytes.NewReader(data),
			OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
				for _, status := range tolerated {
					if res.Status == status {
						return
					}
				}
				if err != nil {
					s.logger.Warn("bulk item failed", "index", index, "id", item.DocumentID, "error", err)
				} else {
					s.logger.Warn("bulk item failed", "index", index, "id", item.DocumentID, "type", res.Error.Type, "reason", res.Error.Reason)
				}
				failures <- item.DocumentID
			},
		})
		if err != nil {
			return nil, fmt.Errorf("queueing %s: %w", id, err)
		}
	}
	if err := indexer.Close(ctx); err != nil {
		return nil, fmt.Errorf("flushing bulk writes to %s: %w", index, err)
	}
	close(failures)
	for id := range failures {
		failed = append(failed, id)
	}
	return failed, nil
}

func (s *Store) count(ctx context.Context, index string) (int64, error) {
	res, err := s.es.Count(s.es.Count.WithContext(ctx), s.es.Count.WithIndex(index))
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", index, err)
	}
	parsed, err := readResponse(res)
	if errors.Is(err, repositories.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, _ := parsed.Path("count").Data().(float64)
	return int64(n), nil
}
