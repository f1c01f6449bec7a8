// Package toolexecutor registers tools, resolves their dependency order and
// executes them under timeout, retry and concurrency limits.
//
// Invariants:
// - Tool names are unique.
// - Every declared dependency resolves to a registered tool and the
//   dependency relation is acyclic.
// - Parameters are schema-validated before every attempt.
// - ToolStats change only after an attempt or an explicit reset.
//
// Usage:
//
//	exec := toolexecutor.New(toolexecutor.DefaultConfig())
//	_ = exec.Register(toolexecutor.ToolDescriptor{
//		Name:        "echo",
//		Description: "Echo input",
//		Parameters:  []toolexecutor.ToolParameter{{Name: "text", Type: "string", Description: "text", Required: true}},
//		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
//			return params["text"], nil
//		},
//	})
//	res, err := exec.Execute(ctx, "echo", map[string]interface{}{"text": "hi"})
package toolexecutor
