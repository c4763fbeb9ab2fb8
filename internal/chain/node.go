package chain

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend captures the subset of ethclient used by the node.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Node answers the two questions the reconciler asks of a chain: which
// events did a contract emit, and what does a view function return.
type Node struct {
	backend Backend
	maxSpan uint64
	close   func()
}

type Option func(*Node)

// WithMaxBlockSpan splits log queries into windows of at most span blocks.
// Zero queries the whole range at once.
func WithMaxBlockSpan(span uint64) Option {
	return func(n *Node) { n.maxSpan = span }
}

// NewNode wraps an existing backend.
func NewNode(backend Backend, opts ...Option) *Node {
	n := &Node{backend: backend}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Dial connects to an EVM node over ws(s):// or http(s)://.
func Dial(ctx context.Context, rpcURL string, opts ...Option) (*Node, error) {
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, &ConnectivityError{Op: "dial", Err: err}
	}
	n := NewNode(c, opts...)
	n.close = c.Close
	return n, nil
}

// Close releases the underlying connection, if the node owns one.
func (n *Node) Close() {
	if n != nil && n.close != nil {
		n.close()
	}
}

// ChainID returns the chain id reported by the node.
func (n *Node) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := n.backend.ChainID(ctx)
	if err != nil {
		return nil, &ConnectivityError{Op: "chain id", Err: err}
	}
	return id, nil
}

// Head returns the current block number.
func (n *Node) Head(ctx context.Context) (uint64, error) {
	h, err := n.backend.BlockNumber(ctx)
	if err != nil {
		return 0, &ConnectivityError{Op: "block number", Err: err}
	}
	return h, nil
}

// Events returns every log of the named event emitted by c in [from, to].
// A nil to means the current head. Removed (reorged) logs are skipped.
func (n *Node) Events(ctx context.Context, c Contract, name string, from uint64, to *uint64) ([]Event, error) {
	ev, ok := c.ABI.Events[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownEvent)
	}

	var end uint64
	if to != nil {
		end = *to
	} else {
		head, err := n.Head(ctx)
		if err != nil {
			return nil, err
		}
		end = head
	}
	if from > end {
		return nil, nil
	}

	events := []Event{}
	for _, w := range windows(from, end, n.maxSpan) {
		logs, err := n.backend.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(w[0]),
			ToBlock:   new(big.Int).SetUint64(w[1]),
			Addresses: []common.Address{c.Address},
			Topics:    [][]common.Hash{{ev.ID}},
		})
		if err != nil {
			return nil, &ConnectivityError{Op: fmt.Sprintf("filter %s logs [%d,%d]", name, w[0], w[1]), Err: err}
		}
		for _, lg := range logs {
			if lg.Removed || lg.Address != c.Address {
				continue
			}
			if len(lg.Topics) == 0 || lg.Topics[0] != ev.ID {
				continue
			}
			args, err := decodeLog(ev, lg)
			if err != nil {
				return nil, fmt.Errorf("decode %s log %s#%d: %w", name, lg.TxHash.Hex(), lg.Index, err)
			}
			events = append(events, Event{
				Contract:    lg.Address,
				Name:        ev.Name,
				BlockNumber: lg.BlockNumber,
				TxHash:      lg.TxHash,
				LogIndex:    lg.Index,
				Args:        args,
			})
		}
	}
	return events, nil
}

// Call executes a read-only method against the latest state and returns the
// unpacked outputs.
func (n *Node) Call(ctx context.Context, c Contract, method string, args ...any) ([]any, error) {
	m, ok := c.ABI.Methods[method]
	if !ok {
		return nil, fmt.Errorf("%s: %w", method, ErrUnknownMethod)
	}
	data, err := c.ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	to := c.Address
	out, err := n.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, &ConnectivityError{Op: "call " + method, Err: err}
	}
	if len(out) == 0 && len(m.Outputs) > 0 {
		return nil, &ConnectivityError{Op: "call " + method, Err: fmt.Errorf("%s: %w", c.Address.Hex(), ErrEmptyResult)}
	}

	vals, err := c.ABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return vals, nil
}

// windows splits [from, to] into inclusive ranges of at most span blocks.
func windows(from, to, span uint64) [][2]uint64 {
	if span == 0 {
		return [][2]uint64{{from, to}}
	}
	var out [][2]uint64
	for start := from; ; start += span {
		end := start + span - 1
		if end >= to || end < start {
			out = append(out, [2]uint64{start, to})
			return out
		}
		out = append(out, [2]uint64{start, end})
	}
}

func decodeLog(ev abi.Event, lg types.Log) (map[string]any, error) {
	args := map[string]any{}
	indexed, nonIndexed := splitIndexed(ev.Inputs)
	if err := abi.ParseTopicsIntoMap(args, indexed, lg.Topics[1:]); err != nil {
		return nil, fmt.Errorf("parse topics: %w", err)
	}
	if err := nonIndexed.UnpackIntoMap(args, lg.Data); err != nil {
		return nil, fmt.Errorf("unpack data: %w", err)
	}
	return args, nil
}

func splitIndexed(args abi.Arguments) (indexed abi.Arguments, nonIndexed abi.Arguments) {
	for _, a := range args {
		if a.Indexed {
			indexed = append(indexed, a)
		} else {
			nonIndexed = append(nonIndexed, a)
		}
	}
	return indexed, nonIndexed
}
