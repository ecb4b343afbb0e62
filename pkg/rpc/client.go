// Package rpc is the chain client: CKB node and indexer JSON-RPC calls used
// to resolve input cells, collect spendable cells, locate script deployments
// and submit transactions.
//
// Calls are blocking and never retried. A failed call aborts the operation
// that issued it.
package rpc

import (
	"context"

	"cosmossdk.io/log"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"

	"github.com/suffix-labs/ckb-omnilock/pkg/ckb"
)

// Transaction statuses reported by get_transaction.
const (
	StatusPending   = "pending"
	StatusProposed  = "proposed"
	StatusCommitted = "committed"
	StatusUnknown   = "unknown"
	StatusRejected  = "rejected"
)

var (
	// ErrNotFound is returned when the node does not know the object.
	ErrNotFound = errors.New("not found on chain")
	// ErrCellNotLive is returned by GetLiveCell for dead or unknown cells.
	ErrCellNotLive = errors.New("cell is not live")
)

// Client talks to a CKB node and its indexer.
type Client struct {
	logger  log.Logger
	node    *gethrpc.Client
	indexer *gethrpc.Client
}

// Dial connects to the node and indexer endpoints. indexerURL may equal
// nodeURL (nodes with the built-in indexer) or be empty, in which case the
// node connection is used.
func Dial(ctx context.Context, logger log.Logger, nodeURL, indexerURL string) (*Client, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	node, err := gethrpc.DialContext(ctx, nodeURL)
	if err != nil {
		return nil, errors.Wrapf(err, "dial ckb node %s", nodeURL)
	}
	c := &Client{logger: logger, node: node, indexer: node}
	if indexerURL != "" && indexerURL != nodeURL {
		indexer, err := gethrpc.DialContext(ctx, indexerURL)
		if err != nil {
			node.Close()
			return nil, errors.Wrapf(err, "dial ckb indexer %s", indexerURL)
		}
		c.indexer = indexer
	}
	return c, nil
}

// Close closes the connections.
func (c *Client) Close() {
	if c.indexer != c.node {
		c.indexer.Close()
	}
	c.node.Close()
}

func (c *Client) call(ctx context.Context, client *gethrpc.Client, result interface{}, method string, args ...interface{}) error {
	c.logger.Debug("rpc call", "method", method)
	if err := client.CallContext(ctx, result, method, args...); err != nil {
		c.logger.Error("rpc call failed", "method", method, "err", err)
		return errors.Wrap(err, method)
	}
	return nil
}

type cellDataJSON struct {
	Content hexutil.Bytes `json:"content"`
	Hash    ckb.Hash      `json:"hash"`
}

type liveCellJSON struct {
	Cell *struct {
		Output ckb.CellOutput `json:"output"`
		Data   *cellDataJSON  `json:"data"`
	} `json:"cell"`
	Status string `json:"status"`
}

// GetLiveCell returns a live cell (with its data when withData is set).
func (c *Client) GetLiveCell(ctx context.Context, outPoint ckb.OutPoint, withData bool) (*ckb.Cell, error) {
	var resp liveCellJSON
	if err := c.call(ctx, c.node, &resp, "get_live_cell", outPoint, withData); err != nil {
		return nil, err
	}
	if resp.Status != "live" || resp.Cell == nil {
		return nil, errors.Wrapf(ErrCellNotLive, "%s is %s", outPoint, resp.Status)
	}
	cell := &ckb.Cell{OutPoint: outPoint, Output: resp.Cell.Output}
	if resp.Cell.Data != nil {
		cell.Data = resp.Cell.Data.Content
	}
	return cell, nil
}

// TransactionWithStatus is the result of get_transaction.
type TransactionWithStatus struct {
	Transaction *ckb.Transaction
	Status      string
	BlockHash   *ckb.Hash
}

type txWithStatusJSON struct {
	Transaction *ckb.Transaction `json:"transaction"`
	TxStatus    struct {
		Status    string    `json:"status"`
		BlockHash *ckb.Hash `json:"block_hash"`
	} `json:"tx_status"`
}

// GetTransaction fetches a transaction by hash.
func (c *Client) GetTransaction(ctx context.Context, hash ckb.Hash) (*TransactionWithStatus, error) {
	var resp *txWithStatusJSON
	if err := c.call(ctx, c.node, &resp, "get_transaction", hash); err != nil {
		return nil, err
	}
	if resp == nil || resp.Transaction == nil {
		return nil, errors.Wrapf(ErrNotFound, "transaction %s", hash)
	}
	return &TransactionWithStatus{
		Transaction: resp.Transaction,
		Status:      resp.TxStatus.Status,
		BlockHash:   resp.TxStatus.BlockHash,
	}, nil
}

// Block is the subset of a block this tool needs.
type Block struct {
	Number       uint64
	Hash         ckb.Hash
	Transactions []*ckb.Transaction
}

type blockJSON struct {
	Header struct {
		Number hexutil.Uint64 `json:"number"`
		Hash   ckb.Hash       `json:"hash"`
	} `json:"header"`
	Transactions []*ckb.Transaction `json:"transactions"`
}

// GetBlockByNumber fetches a block.
func (c *Client) GetBlockByNumber(ctx context.Context, number uint64) (*Block, error) {
	var resp *blockJSON
	if err := c.call(ctx, c.node, &resp, "get_block_by_number", hexutil.Uint64(number)); err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.Wrapf(ErrNotFound, "block %d", number)
	}
	return &Block{
		Number:       uint64(resp.Header.Number),
		Hash:         resp.Header.Hash,
		Transactions: resp.Transactions,
	}, nil
}

// GetTipBlockNumber returns the chain tip height.
func (c *Client) GetTipBlockNumber(ctx context.Context) (uint64, error) {
	var n hexutil.Uint64
	if err := c.call(ctx, c.node, &n, "get_tip_block_number"); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// SendTransaction submits tx. The outputs validator is "passthrough" because
// OmniLock outputs are rejected by the node's well-known-scripts validator.
func (c *Client) SendTransaction(ctx context.Context, tx *ckb.Transaction) (ckb.Hash, error) {
	var hash ckb.Hash
	if err := c.call(ctx, c.node, &hash, "send_transaction", tx, "passthrough"); err != nil {
		return ckb.Hash{}, err
	}
	c.logger.Info("transaction sent", "hash", hash.String())
	return hash, nil
}

// SearchKey selects indexer cells by lock script.
type SearchKey struct {
	Script     ckb.Script `json:"script"`
	ScriptType string     `json:"script_type"`
	WithData   bool       `json:"with_data"`
}

type indexerCellJSON struct {
	Output      ckb.CellOutput `json:"output"`
	OutputData  hexutil.Bytes  `json:"output_data"`
	OutPoint    ckb.OutPoint   `json:"out_point"`
	BlockNumber hexutil.Uint64 `json:"block_number"`
}

type cellsPageJSON struct {
	Objects    []indexerCellJSON `json:"objects"`
	LastCursor string            `json:"last_cursor"`
}

// CellsPage is one page of get_cells results.
type CellsPage struct {
	Cells      []ckb.Cell
	LastCursor string
}

// GetCells returns one page of live cells locked by lock, oldest first.
// cursor is empty for the first page.
func (c *Client) GetCells(ctx context.Context, lock ckb.Script, limit uint64, cursor string) (*CellsPage, error) {
	key := SearchKey{Script: lock, ScriptType: "lock", WithData: true}
	var after interface{}
	if cursor != "" {
		after = cursor
	}

	var resp cellsPageJSON
	if err := c.call(ctx, c.indexer, &resp, "get_cells", key, "asc", hexutil.Uint64(limit), after); err != nil {
		return nil, err
	}
	page := &CellsPage{LastCursor: resp.LastCursor, Cells: make([]ckb.Cell, len(resp.Objects))}
	for i, o := range resp.Objects {
		page.Cells[i] = ckb.Cell{OutPoint: o.OutPoint, Output: o.Output, Data: o.OutputData}
	}
	return page, nil
}
