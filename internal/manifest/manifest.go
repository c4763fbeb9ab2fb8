package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Payout is one expected (recipient, amount) entry; Amount is in base units.
type Payout struct {
	Recipient common.Address
	Amount    *big.Int
}

// record mirrors the on-disk shape produced by the payout setter:
// [{"recipient":"0x..","amount":"1000000000000000000"}, ...]
type record struct {
	Recipient string          `json:"recipient"`
	Amount    json.RawMessage `json:"amount"`
}

// ParseError reports a missing or malformed manifest.
// Index is the offending record, or -1 when the file as a whole is bad.
type ParseError struct {
	Path  string
	Index int
	Err   error
}

func (e *ParseError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("manifest %s: record %d: %v", e.Path, e.Index, e.Err)
	}
	return fmt.Sprintf("manifest %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Load reads the expected payout list from a JSON manifest.
func Load(path string) ([]Payout, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Index: -1, Err: err}
	}
	return Parse(path, raw)
}

// Parse decodes manifest bytes; name is only used in errors. Record fields
// other than recipient and amount are ignored, but the file must hold exactly
// one JSON array.
func Parse(name string, raw []byte) ([]Payout, error) {
	var records []record
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&records); err != nil {
		return nil, &ParseError{Path: name, Index: -1, Err: fmt.Errorf("decode json: %w", err)}
	}
	if err := dec.Decode(&json.RawMessage{}); !errors.Is(err, io.EOF) {
		return nil, &ParseError{Path: name, Index: -1, Err: errors.New("unexpected data after the payout array")}
	}
	if records == nil {
		return nil, &ParseError{Path: name, Index: -1, Err: fmt.Errorf("expected a JSON array of payouts")}
	}

	out := make([]Payout, 0, len(records))
	for i, r := range records {
		p, err := r.payout()
		if err != nil {
			return nil, &ParseError{Path: name, Index: i, Err: err}
		}
		out = append(out, p)
	}
	return out, nil
}

func (r record) payout() (Payout, error) {
	if !common.IsHexAddress(r.Recipient) {
		return Payout{}, fmt.Errorf("invalid recipient address %q", r.Recipient)
	}
	amount, err := parseAmount(r.Amount)
	if err != nil {
		return Payout{}, err
	}
	return Payout{
		Recipient: common.HexToAddress(r.Recipient),
		Amount:    amount,
	}, nil
}

// parseAmount accepts the amount as a JSON string or a bare JSON integer.
// Either way the digits go straight into big.Int, never through float64.
func parseAmount(raw json.RawMessage) (*big.Int, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("amount is required")
	}
	s := strings.TrimSpace(string(raw))
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode amount: %w", err)
		}
	}
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not an integer", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("amount %q is negative", s)
	}
	return v, nil
}
