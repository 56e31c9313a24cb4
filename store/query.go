package store

import (
	"context"
	"fmt"

	kivik "github.com/go-kivik/kivik/v4"
)

// MangoQuery is a declarative CouchDB query.
//
// Selector uses MongoDB-style operators ($eq, $ne, $gt, $gte, $lt, $lte,
// $and, $or, $in, $elemMatch, $exists, $regex). Sort requires an index
// covering the sorted fields.
type MangoQuery struct {
	Selector map[string]interface{}
	Fields   []string
	Sort     []map[string]string
	Limit    int
	Skip     int
	UseIndex string
}

// toParams converts the query options to Kivik parameters.
func (q *MangoQuery) toParams() map[string]interface{} {
	params := make(map[string]interface{})

	if len(q.Fields) > 0 {
		params["fields"] = q.Fields
	}
	if len(q.Sort) > 0 {
		params["sort"] = q.Sort
	}
	if q.Limit > 0 {
		params["limit"] = q.Limit
	}
	if q.Skip > 0 {
		params["skip"] = q.Skip
	}
	if q.UseIndex != "" {
		params["use_index"] = q.UseIndex
	}

	return params
}

// Find executes a Mango query against a collection with typed results.
func Find[T any](ctx context.Context, s *Store, collection string, query MangoQuery) ([]T, error) {
	rows := s.db(collection).Find(ctx, query.Selector, kivik.Params(query.toParams()))
	defer rows.Close()

	var results []T
	for rows.Next() {
		var doc T
		if err := rows.ScanDoc(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		results = append(results, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, wrapKivik("find", err)
	}

	return results, nil
}

// Count returns the number of documents matching the selector.
func (s *Store) Count(ctx context.Context, collection string, selector map[string]interface{}) (int, error) {
	rows := s.db(collection).Find(ctx, selector, kivik.Params(map[string]interface{}{
		"fields": []string{"_id"},
	}))
	defer rows.Close()

	count := 0
	for rows.Next() {
		count++
	}

	if err := rows.Err(); err != nil {
		return 0, wrapKivik("count", err)
	}

	return count, nil
}

// QueryDocuments runs an ad-hoc query built from pipeline stages against an
// arbitrary collection, returning raw rows. Each stage contributes one query
// aspect: {"selector": {...}}, {"sort": [...]}, {"limit": n}, {"fields":
// [...]}. Scheduled jobs with a DOCUMENT data source use this.
func (s *Store) QueryDocuments(ctx context.Context, collection string, pipeline []map[string]interface{}) ([]map[string]interface{}, error) {
	query := MangoQuery{Selector: map[string]interface{}{}}
	for _, stage := range pipeline {
		if sel, ok := stage["selector"].(map[string]interface{}); ok {
			for k, v := range sel {
				query.Selector[k] = v
			}
		}
		if raw, ok := stage["sort"].([]interface{}); ok {
			for _, entry := range raw {
				if m, ok := entry.(map[string]interface{}); ok {
					pair := map[string]string{}
					for k, v := range m {
						pair[k] = fmt.Sprintf("%v", v)
					}
					query.Sort = append(query.Sort, pair)
				}
			}
		}
		if limit, ok := stage["limit"]; ok {
			switch n := limit.(type) {
			case float64:
				query.Limit = int(n)
			case int:
				query.Limit = n
			}
		}
		if raw, ok := stage["fields"].([]interface{}); ok {
			for _, f := range raw {
				query.Fields = append(query.Fields, fmt.Sprintf("%v", f))
			}
		}
	}
	return Find[map[string]interface{}](ctx, s, collection, query)
}
