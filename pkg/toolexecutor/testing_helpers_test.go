package toolexecutor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.DefaultTimeout = time.Second
	return cfg
}

func constHandler(v interface{}) ToolHandler {
	return func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return v, nil
	}
}

func failingHandler(calls *int32) ToolHandler {
	return func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		atomic.AddInt32(calls, 1)
		return nil, errors.New("boom")
	}
}

func tool(name string, deps ...string) ToolDescriptor {
	return ToolDescriptor{
		Name:         name,
		Description:  name,
		Dependencies: deps,
		Handler:      constHandler(name + "-out"),
	}
}
