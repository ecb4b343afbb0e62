package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"cosmossdk.io/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suffix-labs/ckb-omnilock/pkg/ckb"
)

type handler func(params []json.RawMessage) (interface{}, error)

// fakeNode is a minimal JSON-RPC 2.0 server.
type fakeNode struct {
	mu       sync.Mutex
	handlers map[string]handler
	calls    map[string]int
}

func newFakeNode(t *testing.T, handlers map[string]handler) (*fakeNode, *Client) {
	t.Helper()
	f := &fakeNode{handlers: handlers, calls: make(map[string]int)}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	c, err := Dial(context.Background(), log.NewNopLogger(), srv.URL, "")
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return f, c
}

func (f *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.calls[req.Method]++
	h := f.handlers[req.Method]
	f.mu.Unlock()

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	if h == nil {
		resp["error"] = map[string]interface{}{"code": -32601, "message": "method not found"}
	} else if result, err := h(req.Params); err != nil {
		resp["error"] = map[string]interface{}{"code": -1, "message": err.Error()}
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (f *fakeNode) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func script(b byte) ckb.Script {
	return ckb.Script{CodeHash: ckb.Hash{b}, HashType: ckb.HashTypeType, Args: []byte{b}}
}

func TestGetLiveCell(t *testing.T) {
	typeScript := script(9)
	_, c := newFakeNode(t, map[string]handler{
		"get_live_cell": func(params []json.RawMessage) (interface{}, error) {
			var op ckb.OutPoint
			if err := json.Unmarshal(params[0], &op); err != nil {
				return nil, err
			}
			if op.Index != 0 {
				return map[string]interface{}{"cell": nil, "status": "unknown"}, nil
			}
			return map[string]interface{}{
				"cell": map[string]interface{}{
					"output": ckb.CellOutput{Capacity: 1000, Lock: script(1), Type: &typeScript},
					"data":   map[string]interface{}{"content": "0x0102", "hash": ckb.Hash{}},
				},
				"status": "live",
			}, nil
		},
	})

	cell, err := c.GetLiveCell(context.Background(), ckb.OutPoint{TxHash: ckb.Hash{1}}, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), cell.Output.Capacity)
	assert.Equal(t, []byte{1, 2}, cell.Data)
	assert.True(t, cell.Output.Type.Equal(&typeScript))

	_, err = c.GetLiveCell(context.Background(), ckb.OutPoint{TxHash: ckb.Hash{1}, Index: 5}, true)
	assert.True(t, errors.Is(err, ErrCellNotLive))
}

func TestOmniLockCellDep(t *testing.T) {
	typeScript := script(7)
	_, c := newFakeNode(t, map[string]handler{
		"get_live_cell": func([]json.RawMessage) (interface{}, error) {
			return map[string]interface{}{
				"cell":   map[string]interface{}{"output": ckb.CellOutput{Capacity: 1, Lock: script(1), Type: &typeScript}},
				"status": "live",
			}, nil
		},
	})

	info, err := c.OmniLockCellDep(context.Background(), ckb.Hash{3}, 9)
	require.NoError(t, err)
	assert.Equal(t, typeScript.Hash(), info.TypeHash)
	assert.Equal(t, ckb.CellDep{OutPoint: ckb.OutPoint{TxHash: ckb.Hash{3}, Index: 9}, DepType: ckb.DepTypeCode}, info.CellDep)
}

func TestGetTransactionAndResolverCache(t *testing.T) {
	tx := &ckb.Transaction{
		Outputs:     []ckb.CellOutput{{Capacity: 5, Lock: script(1)}, {Capacity: 6, Lock: script(2)}},
		OutputsData: [][]byte{{}, {0xaa}},
	}
	f, c := newFakeNode(t, map[string]handler{
		"get_transaction": func(params []json.RawMessage) (interface{}, error) {
			var h ckb.Hash
			if err := json.Unmarshal(params[0], &h); err != nil {
				return nil, err
			}
			if h != (ckb.Hash{1}) {
				return nil, nil
			}
			return map[string]interface{}{
				"transaction": tx,
				"tx_status":   map[string]interface{}{"status": "committed", "block_hash": ckb.Hash{2}},
			}, nil
		},
	})
	ctx := context.Background()

	got, err := c.GetTransaction(ctx, ckb.Hash{1})
	require.NoError(t, err)
	assert.Equal(t, StatusCommitted, got.Status)
	assert.Equal(t, tx.Hash(), got.Transaction.Hash())

	_, err = c.GetTransaction(ctx, ckb.Hash{9})
	assert.True(t, errors.Is(err, ErrNotFound))

	r := NewResolver(c)
	cell, err := r.ResolveCell(ctx, ckb.OutPoint{TxHash: ckb.Hash{1}, Index: 1})
	require.NoError(t, err)
	assert.Equal(t, uint64(6), cell.Output.Capacity)
	assert.Equal(t, []byte{0xaa}, cell.Data)

	_, err = r.ResolveCell(ctx, ckb.OutPoint{TxHash: ckb.Hash{1}, Index: 0})
	require.NoError(t, err)
	assert.Equal(t, 3, f.count("get_transaction"), "second lookup is served from the cache")

	_, err = r.ResolveCell(ctx, ckb.OutPoint{TxHash: ckb.Hash{1}, Index: 2})
	assert.Error(t, err)
}

func TestSendTransactionUsesPassthrough(t *testing.T) {
	var validator string
	_, c := newFakeNode(t, map[string]handler{
		"send_transaction": func(params []json.RawMessage) (interface{}, error) {
			if err := json.Unmarshal(params[1], &validator); err != nil {
				return nil, err
			}
			var tx ckb.Transaction
			if err := json.Unmarshal(params[0], &tx); err != nil {
				return nil, err
			}
			return tx.Hash(), nil
		},
	})

	tx := &ckb.Transaction{Outputs: []ckb.CellOutput{{Capacity: 1, Lock: script(1)}}, OutputsData: [][]byte{{}}}
	hash, err := c.SendTransaction(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, tx.Hash(), hash)
	assert.Equal(t, "passthrough", validator)
}

func TestRPCErrorIsReturned(t *testing.T) {
	_, c := newFakeNode(t, map[string]handler{
		"send_transaction": func([]json.RawMessage) (interface{}, error) {
			return nil, errors.New("PoolRejectedDuplicatedTransaction")
		},
	})
	_, err := c.SendTransaction(context.Background(), &ckb.Transaction{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PoolRejectedDuplicatedTransaction")

	_, err = c.GetTipBlockNumber(context.Background())
	assert.Error(t, err)
}

func TestSystemCellsFromGenesis(t *testing.T) {
	sighashType, daoType, multisigType := script(0x11), script(0x22), script(0x44)
	cellbase := &ckb.Transaction{
		Outputs: []ckb.CellOutput{
			{Lock: script(0)},
			{Lock: script(0), Type: &sighashType},
			{Lock: script(0), Type: &daoType},
			{Lock: script(0)},
			{Lock: script(0), Type: &multisigType},
		},
		OutputsData: make([][]byte, 5),
	}
	depGroups := &ckb.Transaction{
		Version:     1,
		Outputs:     []ckb.CellOutput{{Lock: script(0)}, {Lock: script(0)}},
		OutputsData: make([][]byte, 2),
	}

	_, c := newFakeNode(t, map[string]handler{
		"get_block_by_number": func(params []json.RawMessage) (interface{}, error) {
			assert.JSONEq(t, `"0x0"`, string(params[0]))
			return map[string]interface{}{
				"header":       map[string]interface{}{"number": "0x0", "hash": ckb.Hash{0xbb}},
				"transactions": []*ckb.Transaction{cellbase, depGroups},
			}, nil
		},
	})

	sys, err := c.GenesisCellDeps(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sighashType.Hash(), sys.Sighash.TypeHash)
	assert.Equal(t, ckb.OutPoint{TxHash: depGroups.Hash(), Index: 0}, sys.Sighash.CellDep.OutPoint)
	assert.Equal(t, ckb.DepTypeDepGroup, sys.Sighash.CellDep.DepType)
	assert.Equal(t, ckb.OutPoint{TxHash: depGroups.Hash(), Index: 1}, sys.Multisig.CellDep.OutPoint)
	assert.Equal(t, multisigType.Hash(), sys.Multisig.TypeHash)
	assert.Equal(t, daoType.Hash(), sys.DAO.TypeHash)
	assert.Equal(t, ckb.OutPoint{TxHash: cellbase.Hash(), Index: 3}, sys.Secp256k1Data.OutPoint)

	lock := ckb.Script{CodeHash: sighashType.Hash(), HashType: ckb.HashTypeType, Args: make([]byte, 20)}
	dep, ok := sys.CellDepFor(&lock)
	assert.True(t, ok)
	assert.Equal(t, sys.Sighash.CellDep, dep)

	_, ok = sys.CellDepFor(&ckb.Script{CodeHash: ckb.Hash{1}, HashType: ckb.HashTypeType})
	assert.False(t, ok)

	_, err = SystemCellsFromGenesis(&Block{Transactions: []*ckb.Transaction{cellbase}})
	assert.Error(t, err)
}

func TestCollectorPagesAndFilters(t *testing.T) {
	lock := script(1)
	typed := script(2)
	cell := func(idx uint32, capacity uint64) map[string]interface{} {
		return map[string]interface{}{
			"output":       ckb.CellOutput{Capacity: capacity, Lock: lock},
			"output_data":  "0x",
			"out_point":    ckb.OutPoint{TxHash: ckb.Hash{1}, Index: idx},
			"block_number": "0x1",
		}
	}
	pages := map[string]map[string]interface{}{
		"": {
			"objects": []interface{}{
				cell(0, 100),
				map[string]interface{}{
					"output":       ckb.CellOutput{Capacity: 1000, Lock: lock, Type: &typed},
					"output_data":  "0x",
					"out_point":    ckb.OutPoint{TxHash: ckb.Hash{1}, Index: 1},
					"block_number": "0x1",
				},
			},
			"last_cursor": "0xc1",
		},
		"0xc1": {
			"objects":     []interface{}{cell(2, 200), cell(3, 300)},
			"last_cursor": "0xc2",
		},
		"0xc2": {"objects": []interface{}{}, "last_cursor": "0xc2"},
	}

	f, c := newFakeNode(t, map[string]handler{
		"get_cells": func(params []json.RawMessage) (interface{}, error) {
			var cursor *string
			if err := json.Unmarshal(params[3], &cursor); err != nil {
				return nil, err
			}
			key := ""
			if cursor != nil {
				key = *cursor
			}
			return pages[key], nil
		},
	})
	collector := &Collector{client: c, pageSize: 2}
	ctx := context.Background()

	cells, err := collector.CollectCells(ctx, lock, 250, nil)
	require.NoError(t, err)
	require.Len(t, cells, 2)
	assert.Equal(t, uint32(0), cells[0].OutPoint.Index)
	assert.Equal(t, uint32(2), cells[1].OutPoint.Index)

	exclude := map[ckb.OutPoint]bool{{TxHash: ckb.Hash{1}, Index: 0}: true}
	cells, err = collector.CollectCells(ctx, lock, 10_000, exclude)
	require.NoError(t, err)
	require.Len(t, cells, 2, "typed and excluded cells are skipped, exhaustion returns what exists")
	assert.Equal(t, uint32(3), cells[1].OutPoint.Index)
	assert.GreaterOrEqual(t, f.count("get_cells"), 4)
}
