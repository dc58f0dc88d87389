package rpc_test

import (
	"testing"

	"github.com/chapool/go-wallet-signer/internal/rpc"
	"github.com/stretchr/testify/assert"
)

func TestParseMethodAliases(t *testing.T) {
	tests := map[string]rpc.Method{
		"accounts":                     rpc.MethodAccounts,
		"eth_accounts":                 rpc.MethodAccounts,
		"eth_sign":                     rpc.MethodSign,
		"personal_sign":                rpc.MethodPersonalSign,
		"eth_signTransaction":          rpc.MethodSignTransaction,
		"eth_sendTransaction":          rpc.MethodSendTransaction,
		"personal_computeSharedSecret": rpc.MethodComputeSharedSecret,
		"personal_decrypt":             rpc.MethodPersonalDecrypt,
		"eth_signTypedData":            rpc.MethodSignTypedData,
	}

	for name, want := range tests {
		t.Run(name, func(t *testing.T) {
			got, ok := rpc.ParseMethod(name)
			assert.True(t, ok)
			assert.Equal(t, want, got)
		})
	}

	_, ok := rpc.ParseMethod("eth_chainId")
	assert.False(t, ok)
}

func TestMethodNames(t *testing.T) {
	for _, m := range rpc.AllMethods {
		names := m.WireNames()
		assert.NotEmpty(t, names)
		assert.Equal(t, m.String(), names[0])

		parsed, ok := rpc.ParseMethod(m.String())
		assert.True(t, ok)
		assert.Equal(t, m, parsed)
	}
	assert.Equal(t, "unknown", rpc.MethodUnknown.String())
}

func TestMethodImplemented(t *testing.T) {
	implemented := map[rpc.Method]bool{
		rpc.MethodAccounts:            true,
		rpc.MethodSign:                true,
		rpc.MethodPersonalSign:        true,
		rpc.MethodSignTransaction:     true,
		rpc.MethodSendTransaction:     true,
		rpc.MethodComputeSharedSecret: false,
		rpc.MethodPersonalDecrypt:     false,
		rpc.MethodSignTypedData:       false,
	}
	for m, want := range implemented {
		assert.Equal(t, want, m.Implemented(), m.String())
	}
}

func TestParseMethods(t *testing.T) {
	methods, unknown := rpc.ParseMethods([]string{"accounts", "eth_sign", "wallet_switchEthereumChain"})
	assert.Equal(t, []rpc.Method{rpc.MethodAccounts, rpc.MethodSign}, methods)
	assert.Equal(t, []string{"wallet_switchEthereumChain"}, unknown)
}
