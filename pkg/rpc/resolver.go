package rpc

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/suffix-labs/ckb-omnilock/pkg/ckb"
)

// Resolver resolves input cells through get_transaction and caches the
// transactions it fetched.
type Resolver struct {
	client *Client

	mu    sync.Mutex
	cache map[ckb.Hash]*ckb.Transaction
}

// NewResolver creates a resolver over client.
func NewResolver(client *Client) *Resolver {
	return &Resolver{client: client, cache: make(map[ckb.Hash]*ckb.Transaction)}
}

// ResolveCell returns the cell created at outPoint, spent or not.
func (r *Resolver) ResolveCell(ctx context.Context, outPoint ckb.OutPoint) (*ckb.Cell, error) {
	tx, err := r.transaction(ctx, outPoint.TxHash)
	if err != nil {
		return nil, err
	}
	if int(outPoint.Index) >= len(tx.Outputs) {
		return nil, errors.Errorf("%s: transaction has %d outputs", outPoint, len(tx.Outputs))
	}
	return &ckb.Cell{
		OutPoint: outPoint,
		Output:   tx.Outputs[outPoint.Index],
		Data:     tx.OutputsData[outPoint.Index],
	}, nil
}

func (r *Resolver) transaction(ctx context.Context, hash ckb.Hash) (*ckb.Transaction, error) {
	r.mu.Lock()
	tx, ok := r.cache[hash]
	r.mu.Unlock()
	if ok {
		return tx, nil
	}

	resp, err := r.client.GetTransaction(ctx, hash)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.cache[hash] = resp.Transaction
	r.mu.Unlock()
	return resp.Transaction, nil
}

// Collector collects plain capacity cells (no type script, no data) locked
// by a given lock through the indexer.
type Collector struct {
	client   *Client
	pageSize uint64
}

// NewCollector creates a collector over client.
func NewCollector(client *Client) *Collector {
	return &Collector{client: client, pageSize: 100}
}

// CollectCells returns cells in indexer order until their capacity reaches
// minCapacity, or every available cell if it never does. Cells listed in
// exclude are skipped.
func (c *Collector) CollectCells(ctx context.Context, lock ckb.Script, minCapacity uint64, exclude map[ckb.OutPoint]bool) ([]ckb.Cell, error) {
	var (
		cells  []ckb.Cell
		total  uint64
		cursor string
	)
	for {
		page, err := c.client.GetCells(ctx, lock, c.pageSize, cursor)
		if err != nil {
			return nil, errors.Wrap(err, "collect cells")
		}
		for _, cell := range page.Cells {
			if cell.Output.Type != nil || len(cell.Data) > 0 || exclude[cell.OutPoint] {
				continue
			}
			cells = append(cells, cell)
			total += cell.Output.Capacity
			if total >= minCapacity {
				return cells, nil
			}
		}
		if len(page.Cells) < int(c.pageSize) || page.LastCursor == "" {
			return cells, nil
		}
		cursor = page.LastCursor
	}
}
