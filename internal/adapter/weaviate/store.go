package weaviate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	wfault "github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"tailorcv/backend/internal/fault"
	"tailorcv/backend/internal/vector"
)

// chunkNamespace seeds the name-based UUIDs derived from chunk ids.
var chunkNamespace = uuid.MustParse("6f9a3c1e-2b7d-4e0a-9c55-1d2e3f4a5b6c")

// filterable maps metadata keys to Weaviate properties usable in filters.
var filterable = map[string]string{
	vector.MetaDocID:   "docId",
	vector.MetaSection: "sectionType",
}

type Store struct {
	client    *weaviate.Client
	class     string
	batchSize int
}

var _ vector.Index = (*Store)(nil)

func NewStore(client *weaviate.Client, class string, batchSize int) *Store {
	if batchSize <= 0 || batchSize > 100 {
		batchSize = 100
	}
	return &Store{client: client, class: class, batchSize: batchSize}
}

// ObjectID is the Weaviate object UUID for a chunk id. Weaviate requires
// UUIDs, so the chunk id itself is kept in the chunkId property.
func ObjectID(chunkID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(chunkNamespace, []byte(chunkID)).String())
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return vector.EnsureSchema(ctx, &schemaClient{client: s.client}, s.class)
}

func (s *Store) Upsert(ctx context.Context, records []vector.Record) error {
	for _, batch := range vector.Batches(records, s.batchSize) {
		objects := make([]*models.Object, 0, len(batch))
		for _, r := range batch {
			ordinal, _ := strconv.Atoi(r.Metadata[vector.MetaOrdinal])
			objects = append(objects, &models.Object{
				Class: s.class,
				ID:    ObjectID(r.ID),
				Properties: map[string]interface{}{
					"chunkId":     r.ID,
					"docId":       r.Metadata[vector.MetaDocID],
					"sectionType": r.Metadata[vector.MetaSection],
					"text":        r.Metadata[vector.MetaText],
					"ordinal":     ordinal,
				},
				Vector: r.Vector,
			})
		}

		resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
		if err != nil {
			return classify("weaviate.Upsert", err)
		}

		var msgs []string
		for _, o := range resp {
			if o.Result != nil && o.Result.Errors != nil {
				for _, e := range o.Result.Errors.Error {
					msgs = append(msgs, fmt.Sprintf("%s: %s", o.ID, e.Message))
				}
			}
		}
		if len(msgs) > 0 {
			return fault.New(fault.KindUnknown, "weaviate.Upsert", fmt.Errorf("batch errors: %s", strings.Join(msgs, "; ")))
		}
	}
	return nil
}

func (s *Store) Query(ctx context.Context, vec []float32, k int, filter map[string]string) ([]vector.Match, error) {
	if k <= 0 {
		return []vector.Match{}, nil
	}

	where, err := buildWhere(filter)
	if err != nil {
		return nil, err
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	fields := []graphql.Field{
		{Name: "chunkId"},
		{Name: "docId"},
		{Name: "sectionType"},
		{Name: "text"},
		{Name: "ordinal"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	// One extra candidate lets a score tie at position k be settled by
	// chunk id instead of by Weaviate's return order. Ties wider than that
	// still depend on which objects Weaviate returns.
	q := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithNearVector(nearVector).
		WithLimit(k + 1).
		WithFields(fields...)
	if where != nil {
		q = q.WithWhere(where)
	}

	res, err := q.Do(ctx)
	if err != nil {
		return nil, classify("weaviate.Query", err)
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	matches := []vector.Match{}
	for _, props := range s.objects(res.Data, "Get") {
		m := vector.Match{Metadata: map[string]string{}}
		if id, ok := props["chunkId"].(string); ok {
			m.ID = id
		}
		if v, ok := props["docId"].(string); ok {
			m.Metadata[vector.MetaDocID] = v
		}
		if v, ok := props["sectionType"].(string); ok {
			m.Metadata[vector.MetaSection] = v
		}
		if v, ok := props["text"].(string); ok {
			m.Metadata[vector.MetaText] = v
		}
		if v, ok := props["ordinal"].(float64); ok {
			m.Metadata[vector.MetaOrdinal] = strconv.Itoa(int(v))
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if d, ok := additional["distance"].(float64); ok {
				m.Score = vector.ScoreFromDistance(d)
			}
		}
		matches = append(matches, m)
	}

	vector.SortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *Store) DeleteByDoc(ctx context.Context, docID string) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(s.class).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithPath([]string{"docId"}).
			WithOperator(filters.Equal).
			WithValueText(docID)).
		Do(ctx)
	if err != nil {
		return classify("weaviate.DeleteByDoc", err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(s.class).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, classify("weaviate.Count", err)
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	for _, agg := range s.objects(res.Data, "Aggregate") {
		if meta, ok := agg["meta"].(map[string]interface{}); ok {
			if count, ok := meta["count"].(float64); ok {
				return int(count), nil
			}
		}
	}
	return 0, nil
}

// Dimension reads the vector of any stored object. An empty class reports 0.
func (s *Store) Dimension(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithLimit(1).
		WithFields(graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "vector"}}}).
		Do(ctx)
	if err != nil {
		return 0, classify("weaviate.Dimension", err)
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	for _, props := range s.objects(res.Data, "Get") {
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if v, ok := additional["vector"].([]interface{}); ok {
				return len(v), nil
			}
		}
	}
	return 0, nil
}

func (s *Store) objects(data map[string]models.JSONObject, root string) []map[string]interface{} {
	var out []map[string]interface{}
	group, ok := data[root].(map[string]interface{})
	if !ok {
		return out
	}
	items, ok := group[s.class].([]interface{})
	if !ok {
		return out
	}
	for _, item := range items {
		if props, ok := item.(map[string]interface{}); ok {
			out = append(out, props)
		}
	}
	return out
}

func buildWhere(filter map[string]string) (*filters.WhereBuilder, error) {
	if len(filter) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	operands := make([]*filters.WhereBuilder, 0, len(keys))
	for _, k := range keys {
		prop, ok := filterable[k]
		if !ok {
			return nil, fault.Malformed("weaviate.Query", fmt.Errorf("unsupported filter key %q", k))
		}
		operands = append(operands, filters.Where().
			WithPath([]string{prop}).
			WithOperator(filters.Equal).
			WithValueText(filter[k]))
	}

	if len(operands) == 1 {
		return operands[0], nil
	}
	return filters.Where().WithOperator(filters.And).WithOperands(operands), nil
}

func classify(op string, err error) error {
	var werr *wfault.WeaviateClientError
	if errors.As(err, &werr) {
		switch {
		case werr.StatusCode == 0, werr.StatusCode == 429, werr.StatusCode >= 500:
			return fault.Transient(op, err)
		case werr.StatusCode == 422, werr.StatusCode == 400:
			return fault.Malformed(op, err)
		}
	}
	return fault.New(fault.KindOf(err), op, err)
}
