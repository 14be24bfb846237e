package remote

import (
	"context"
	"net/url"

	"recalls/internal/recall"
)

// Resource paths exposed by the backend.
const (
	pathRecalls = "/recalls"
	pathMakes   = "/makes"
	pathModels  = "/models"
)

// page is the backend's list envelope. A non-empty LastEvaluatedKey
// means another page follows; it is opaque to this client.
type page[T any] struct {
	Items            []T    `json:"items"`
	LastEvaluatedKey string `json:"lastEvaluatedKey,omitempty"`
}

// getAll follows the continuation token until the backend stops
// returning one, concatenating all pages. base narrows the listing and
// may be nil; it is copied before the token is added.
func getAll[T any](ctx context.Context, c *Client, path string, base url.Values) ([]T, error) {
	var items []T
	token := ""
	for {
		query := url.Values{}
		for k, vs := range base {
			query[k] = vs
		}
		if token != "" {
			query.Set("lastEvaluatedKey", token)
		}
		var p page[T]
		if err := c.do(ctx, "GET", path, query, nil, &p); err != nil {
			return nil, err
		}
		items = append(items, p.Items...)
		if p.LastEvaluatedKey == "" {
			return items, nil
		}
		token = p.LastEvaluatedKey
	}
}

// patchChunks splits items into consecutive chunks of the configured
// page size and submits them sequentially. The first failure aborts the
// remaining chunks.
func patchChunks[T any](ctx context.Context, c *Client, path string, items []T) error {
	for start := 0; start < len(items); start += c.pageSize {
		end := start + c.pageSize
		if end > len(items) {
			end = len(items)
		}
		if err := c.do(ctx, "PATCH", path, nil, items[start:end], nil); err != nil {
			return err
		}
	}
	return nil
}

// GetRecalls fetches the stored recalls snapshot keyed by natural key.
func (c *Client) GetRecalls(ctx context.Context) (map[recall.Key]recall.Record, error) {
	items, err := getAll[recall.Record](ctx, c, pathRecalls, nil)
	if err != nil {
		return nil, err
	}
	out := make(map[recall.Key]recall.Record, len(items))
	for _, rec := range items {
		out[rec.Key()] = rec
	}
	return out, nil
}

// GetMakes fetches the stored make records keyed by category.
func (c *Client) GetMakes(ctx context.Context) (map[string]recall.MakeRecord, error) {
	items, err := getAll[recall.MakeRecord](ctx, c, pathMakes, nil)
	if err != nil {
		return nil, err
	}
	out := make(map[string]recall.MakeRecord, len(items))
	for _, m := range items {
		out[m.Type] = m
	}
	return out, nil
}

// GetModels fetches the stored model records keyed by category-make.
func (c *Client) GetModels(ctx context.Context) (map[string]recall.ModelRecord, error) {
	items, err := getAll[recall.ModelRecord](ctx, c, pathModels, nil)
	if err != nil {
		return nil, err
	}
	out := make(map[string]recall.ModelRecord, len(items))
	for _, m := range items {
		out[m.TypeMake] = m
	}
	return out, nil
}

// PatchRecalls upserts recall records in sequential chunks.
func (c *Client) PatchRecalls(ctx context.Context, recs []recall.Record) error {
	return patchChunks(ctx, c, pathRecalls, recs)
}

// PatchMakes upserts make records in sequential chunks.
func (c *Client) PatchMakes(ctx context.Context, makes []recall.MakeRecord) error {
	return patchChunks(ctx, c, pathMakes, makes)
}

// PatchModels upserts model records in sequential chunks.
func (c *Client) PatchModels(ctx context.Context, models []recall.ModelRecord) error {
	return patchChunks(ctx, c, pathModels, models)
}

// DeleteRecalls removes recalls by their storage primary keys.
func (c *Client) DeleteRecalls(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.do(ctx, "DELETE", pathRecalls, nil, keys, nil)
}

// DeleteMakes removes make records by category key.
func (c *Client) DeleteMakes(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.do(ctx, "DELETE", pathMakes, nil, keys, nil)
}

// DeleteModels removes model records by category-make key.
func (c *Client) DeleteModels(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.do(ctx, "DELETE", pathModels, nil, keys, nil)
}

// RecallsByMake fetches the recalls published for one make, optionally
// narrowed to a model. Used by the web frontend.
func (c *Client) RecallsByMake(ctx context.Context, mk, model string) ([]recall.Record, error) {
	query := url.Values{"make": {mk}}
	if model != "" {
		query.Set("model", model)
	}
	return getAll[recall.Record](ctx, c, pathRecalls, query)
}
