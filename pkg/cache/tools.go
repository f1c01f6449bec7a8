package cache

import (
	"context"
	"fmt"

	"github.com/harun/conductor/pkg/toolexecutor"
)

// RegisterCacheTools exposes the cache to strategies as cache_get,
// cache_put and cache_recall.
func RegisterCacheTools(registry *toolexecutor.ToolExecutor, t *Tiered) error {
	return registry.RegisterAll([]toolexecutor.ToolDescriptor{
		{
			Name:        "cache_get",
			Category:    "cache",
			Version:     "1.0.0",
			Description: "Look up a cached value by key",
			MaxRetries:  toolexecutor.Retries(0),
			Parameters: []toolexecutor.ToolParameter{
				{Name: "key", Type: "string", Description: "Cache key", Required: true},
			},
			Handler: cacheGetHandler(t),
		},
		{
			Name:        "cache_put",
			Category:    "cache",
			Version:     "1.0.0",
			Description: "Store a value under a key",
			MaxRetries:  toolexecutor.Retries(0),
			Parameters: []toolexecutor.ToolParameter{
				{Name: "key", Type: "string", Description: "Cache key", Required: true},
				{Name: "value", Type: "any", Description: "Value to store", Required: true},
			},
			Handler: cachePutHandler(t),
		},
		{
			Name:        "cache_recall",
			Category:    "cache",
			Version:     "1.0.0",
			Description: "Rank cached entries by relevance to a query",
			MaxRetries:  toolexecutor.Retries(0),
			Parameters: []toolexecutor.ToolParameter{
				{Name: "query", Type: "string", Description: "Free text query", Required: true},
				{Name: "limit", Type: "integer", Description: "Maximum results", Default: 5},
			},
			Handler: cacheRecallHandler(t),
		},
	})
}

func cacheGetHandler(t *Tiered) toolexecutor.ToolHandler {
	return func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		key, _ := params["key"].(string)
		e, ok, err := t.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		out := map[string]interface{}{"key": key, "found": ok}
		if !ok {
			return out, nil
		}
		value, err := e.Value()
		if err != nil {
			return nil, err
		}
		out["value"] = value
		return out, nil
	}
}

func cachePutHandler(t *Tiered) toolexecutor.ToolHandler {
	return func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		key, _ := params["key"].(string)
		e, err := NewEntry(key, params["value"])
		if err != nil {
			return nil, err
		}
		evicted, err := t.Put(ctx, key, e)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"key":        key,
			"size_bytes": e.SizeBytes,
			"evicted":    len(evicted),
		}, nil
	}
}

func cacheRecallHandler(t *Tiered) toolexecutor.ToolHandler {
	return func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		query, _ := params["query"].(string)
		limit, err := intParam(params["limit"], 5)
		if err != nil {
			return nil, err
		}

		scored := t.Recall(query, limit)
		out := make([]interface{}, 0, len(scored))
		for _, s := range scored {
			value, err := s.Entry.Value()
			if err != nil {
				return nil, err
			}
			out = append(out, map[string]interface{}{
				"key":   s.Entry.ID,
				"score": s.Score,
				"value": value,
			})
		}
		return out, nil
	}
}

func intParam(v interface{}, def int) (int, error) {
	switch n := v.(type) {
	case nil:
		return def, nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}
