package chain

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed abi/*.json
var builtinABIs embed.FS

// PayoutsABI returns the ABI of the match payouts contract.
func PayoutsABI() *abi.ABI { return mustBuiltin("abi/payouts.json") }

// ERC20ABI returns the read-only ERC-20 surface plus its standard events.
func ERC20ABI() *abi.ABI { return mustBuiltin("abi/erc20.json") }

func mustBuiltin(name string) *abi.ABI {
	data, err := builtinABIs.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("builtin abi %s: %v", name, err))
	}
	a, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		panic(fmt.Sprintf("builtin abi %s: %v", name, err))
	}
	return &a
}

// LoadABIs loads ABI JSON files from the provided directories.
func LoadABIs(dirs []string) (map[string]*abi.ABI, error) {
	abis := map[string]*abi.ABI{}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".json") {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read abi %s: %w", path, err)
			}
			a, err := abi.JSON(bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("parse abi %s: %w", path, err)
			}
			abis[path] = &a
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return abis, nil
}

// ABIForEvent picks the first loaded ABI (by path order) declaring the event,
// falling back to the builtin one.
func ABIForEvent(abis map[string]*abi.ABI, event string, fallback *abi.ABI) *abi.ABI {
	return pick(abis, fallback, func(a *abi.ABI) bool {
		_, ok := a.Events[event]
		return ok
	})
}

// ABIForMethod is ABIForEvent for view functions.
func ABIForMethod(abis map[string]*abi.ABI, method string, fallback *abi.ABI) *abi.ABI {
	return pick(abis, fallback, func(a *abi.ABI) bool {
		_, ok := a.Methods[method]
		return ok
	})
}

func pick(abis map[string]*abi.ABI, fallback *abi.ABI, has func(*abi.ABI) bool) *abi.ABI {
	paths := make([]string, 0, len(abis))
	for p := range abis {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if has(abis[p]) {
			return abis[p]
		}
	}
	return fallback
}
