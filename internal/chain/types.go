package chain

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnknownEvent  = errors.New("event not in contract abi")
	ErrUnknownMethod = errors.New("method not in contract abi")
	// ErrEmptyResult is returned when a view call yields no data, usually
	// because there is no contract deployed at the address.
	ErrEmptyResult = errors.New("empty call result")
)

// ConnectivityError reports a node that could not be reached or that
// rejected a request (filter refused, call reverted).
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("node %s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// Contract binds an address to the ABI used to encode calls and decode logs.
type Contract struct {
	Address common.Address
	ABI     *abi.ABI
}

// Event is a decoded contract log.
type Event struct {
	Contract    common.Address
	Name        string
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
	Args        map[string]any
}
