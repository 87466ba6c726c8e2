package jsonapi

import "context"

// BulkPatchOp is one item of a bulkPatch request: the id to patch plus its
// partial attributes/relationships body (spec.md §4.10).
type BulkPatchOp struct {
	ID   string
	Body []byte
}

// BulkItemError pairs a failed item's index with the error it raised, for
// the non-atomic result envelope (spec.md §4.10).
type BulkItemError struct {
	Index int
	Error *Error
}

// BulkResult is the envelope returned by every bulk operation (spec.md
// §4.10: "{data:[successes], errors:[{index, error}], meta:{total,
// succeeded, failed}}").
type BulkResult struct {
	Data   []map[string]any
	Errors []BulkItemError
	Total  int
}

func (r *BulkResult) Succeeded() int { return len(r.Data) }
func (r *BulkResult) Failed() int    { return len(r.Errors) }

// BulkExecutor implements spec.md §4.10 on top of Executor: atomic and
// non-atomic bulk create/patch/delete, each item driven through the exact
// same Execute path a single request would take.
type BulkExecutor struct {
	exec      *Executor
	storage   StorageAdapter
	maxItems  int
	chunkSize int
}

// NewBulkExecutor wires a BulkExecutor; maxItems <= 0 means "use spec.md's
// default of 100".
func NewBulkExecutor(exec *Executor, storage StorageAdapter, maxItems int) *BulkExecutor {
	if maxItems <= 0 {
		maxItems = 100
	}
	return &BulkExecutor{exec: exec, storage: storage, maxItems: maxItems, chunkSize: 25}
}

// WithChunkSize overrides the default 25-item processing chunk (spec.md
// §4.10), e.g. from a deployment's EngineConfig.
func (bx *BulkExecutor) WithChunkSize(n int) *BulkExecutor {
	if n > 0 {
		bx.chunkSize = n
	}
	return bx
}

// BulkPost runs bulkPost(records[], atomic) (spec.md §4.10).
func (bx *BulkExecutor) BulkPost(ctx context.Context, resource string, req Request, bodies [][]byte, atomic bool) (*BulkResult, error) {
	if len(bodies) > bx.maxItems {
		return nil, ErrValidationViolations(Violation{Path: "data", Message: "bulk request exceeds the configured item limit"})
	}
	return bx.run(ctx, len(bodies), atomic, func(i int) (map[string]any, error) {
		itemReq := req
		itemReq.Operation = OpPost
		itemReq.Resource = resource
		itemReq.Body = bodies[i]
		resp, err := bx.exec.Execute(ctx, itemReq)
		if err != nil {
			return nil, err
		}
		return resp.Document, nil
	})
}

// BulkPatch runs bulkPatch(ops[], atomic) (spec.md §4.10).
func (bx *BulkExecutor) BulkPatch(ctx context.Context, resource string, req Request, ops []BulkPatchOp, atomic bool) (*BulkResult, error) {
	if len(ops) > bx.maxItems {
		return nil, ErrValidationViolations(Violation{Path: "data", Message: "bulk request exceeds the configured item limit"})
	}
	return bx.run(ctx, len(ops), atomic, func(i int) (map[string]any, error) {
		itemReq := req
		itemReq.Operation = OpPatch
		itemReq.Resource = resource
		itemReq.ID = ops[i].ID
		itemReq.Body = ops[i].Body
		resp, err := bx.exec.Execute(ctx, itemReq)
		if err != nil {
			return nil, err
		}
		return resp.Document, nil
	})
}

// BulkDelete runs bulkDelete(ids[], atomic) (spec.md §4.10).
func (bx *BulkExecutor) BulkDelete(ctx context.Context, resource string, req Request, ids []string, atomic bool) (*BulkResult, error) {
	if len(ids) > bx.maxItems {
		return nil, ErrValidationViolations(Violation{Path: "data", Message: "bulk request exceeds the configured item limit"})
	}
	return bx.run(ctx, len(ids), atomic, func(i int) (map[string]any, error) {
		itemReq := req
		itemReq.Operation = OpDelete
		itemReq.Resource = resource
		itemReq.ID = ids[i]
		_, err := bx.exec.Execute(ctx, itemReq)
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": ids[i]}, nil
	})
}

// run drives fn over [0, n) chunk by chunk. In atomic mode the first
// failure aborts and its error surfaces directly; each item runs through
// Executor.Execute in its own transaction, so items before the failing one
// stay committed and are not rolled back. In non-atomic mode every item
// runs to completion and failures are collected into the envelope
// (spec.md §4.10).
func (bx *BulkExecutor) run(ctx context.Context, n int, atomic bool, fn func(i int) (map[string]any, error)) (*BulkResult, error) {
	chunkSize := bx.chunkSize
	if chunkSize <= 0 {
		chunkSize = 25
	}
	result := &BulkResult{Total: n}

	for start := 0; start < n; start += chunkSize {
		end := start + chunkSize
		if end > n {
			end = n
		}
		for i := start; i < end; i++ {
			doc, err := fn(i)
			if err != nil {
				if atomic {
					return nil, err
				}
				var ae *Error
				if e, ok := err.(*Error); ok {
					ae = e
				} else {
					ae = ErrStorage(err)
				}
				result.Errors = append(result.Errors, BulkItemError{Index: i, Error: ae})
				continue
			}
			result.Data = append(result.Data, doc)
		}
	}
	return result, nil
}
