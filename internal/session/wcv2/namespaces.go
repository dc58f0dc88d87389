package wcv2

import (
	"fmt"
	"slices"
	"strings"

	"github.com/chapool/go-wallet-signer/internal/rpc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

const defaultNamespace = "celo"

// requestedChains flattens namespaces into CAIP-2 chain ids. A key that already names a
// chain ("celo:44786") stands for itself.
func requestedChains(namespaces map[string]Namespace) []string {
	var chains []string
	for _, key := range sortedKeys(namespaces) {
		ns := namespaces[key]
		if strings.Contains(key, ":") {
			chains = appendUnique(chains, key)
		}
		for _, c := range ns.Chains {
			chains = appendUnique(chains, c)
		}
	}

	return chains
}

func requestedMethods(namespaces map[string]Namespace) []string {
	var methods []string
	for _, key := range sortedKeys(namespaces) {
		for _, m := range namespaces[key].Methods {
			methods = appendUnique(methods, m)
		}
	}

	return methods
}

// settledNamespaces answers the required namespaces with accounts on chainID.
func settledNamespaces(required map[string]Namespace, accounts []common.Address, chainID uint64) map[string]Namespace {
	if len(required) == 0 {
		required = map[string]Namespace{defaultNamespace: {}}
	}

	out := make(map[string]Namespace, len(required))
	for _, key := range sortedKeys(required) {
		name, _, _ := strings.Cut(key, ":")
		chain := fmt.Sprintf("%s:%d", name, chainID)

		ns := out[name]
		ns.Chains = appendUnique(ns.Chains, chain)
		for _, m := range required[key].Methods {
			ns.Methods = appendUnique(ns.Methods, m)
		}
		for _, e := range required[key].Events {
			ns.Events = appendUnique(ns.Events, e)
		}
		for _, acc := range accounts {
			ns.Accounts = appendUnique(ns.Accounts, chain+":"+acc.Hex())
		}
		if ns.Methods == nil {
			ns.Methods = []string{}
		}
		if ns.Events == nil {
			ns.Events = []string{}
		}
		out[name] = ns
	}

	return out
}

// settledAccounts parses the "<namespace>:<chain id>:<address>" accounts of a session.
func settledAccounts(namespaces map[string]Namespace) ([]common.Address, uint64, error) {
	var (
		accounts []common.Address
		chainID  uint64
	)
	for _, key := range sortedKeys(namespaces) {
		for _, acc := range namespaces[key].Accounts {
			i := strings.LastIndexByte(acc, ':')
			if i < 0 || !common.IsHexAddress(acc[i+1:]) {
				return nil, 0, errors.Errorf("invalid account %q", acc)
			}
			id, err := rpc.ParseChainID(acc[:i])
			if err != nil {
				return nil, 0, err
			}

			addr := common.HexToAddress(acc[i+1:])
			if !slices.Contains(accounts, addr) {
				accounts = append(accounts, addr)
			}
			chainID = id
		}
	}

	return accounts, chainID, nil
}

func sortedKeys(m map[string]Namespace) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	return keys
}

func appendUnique(s []string, v string) []string {
	if slices.Contains(s, v) {
		return s
	}

	return append(s, v)
}
