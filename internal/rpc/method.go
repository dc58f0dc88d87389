package rpc

import "strings"

// Method is the closed set of request methods the wallet recognizes.
type Method int

const (
	MethodUnknown Method = iota
	MethodAccounts
	MethodSign
	MethodPersonalSign
	MethodSignTransaction
	MethodSendTransaction
	MethodComputeSharedSecret
	MethodPersonalDecrypt
	MethodSignTypedData
)

// AllMethods lists every recognized method in declaration order.
var AllMethods = []Method{
	MethodAccounts,
	MethodSign,
	MethodPersonalSign,
	MethodSignTransaction,
	MethodSendTransaction,
	MethodComputeSharedSecret,
	MethodPersonalDecrypt,
	MethodSignTypedData,
}

var methodNames = map[Method][]string{
	MethodAccounts:            {"accounts", "eth_accounts"},
	MethodSign:                {"sign", "eth_sign"},
	MethodPersonalSign:        {"personal_sign"},
	MethodSignTransaction:     {"sign_transaction", "eth_signTransaction"},
	MethodSendTransaction:     {"send_transaction", "eth_sendTransaction"},
	MethodComputeSharedSecret: {"compute_shared_secret", "personal_computeSharedSecret"},
	MethodPersonalDecrypt:     {"personal_decrypt"},
	MethodSignTypedData:       {"sign_typed_data", "eth_signTypedData"},
}

var methodsByName = func() map[string]Method {
	out := make(map[string]Method)
	for method, names := range methodNames {
		for _, name := range names {
			out[name] = method
		}
	}
	return out
}()

// ParseMethod resolves a wire name, including aliases, to its Method.
func ParseMethod(name string) (Method, bool) {
	m, ok := methodsByName[strings.TrimSpace(name)]
	return m, ok
}

// ParseMethods resolves every name; unknown names are returned separately.
func ParseMethods(names []string) ([]Method, []string) {
	var (
		methods []Method
		unknown []string
	)
	for _, name := range names {
		m, ok := ParseMethod(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		methods = append(methods, m)
	}

	return methods, unknown
}

// String returns the canonical wire name.
func (m Method) String() string {
	names, ok := methodNames[m]
	if !ok {
		return "unknown"
	}

	return names[0]
}

// WireNames returns the canonical name followed by its aliases.
func (m Method) WireNames() []string {
	return append([]string(nil), methodNames[m]...)
}

// Implemented reports whether the dispatcher can serve m. The remaining methods are
// recognized so they can be allow-listed, but are always denied.
func (m Method) Implemented() bool {
	switch m {
	case MethodAccounts, MethodSign, MethodPersonalSign, MethodSignTransaction, MethodSendTransaction:
		return true
	case MethodUnknown, MethodComputeSharedSecret, MethodPersonalDecrypt, MethodSignTypedData:
		return false
	default:
		return false
	}
}

// IsTransaction reports whether m carries a transaction object.
func (m Method) IsTransaction() bool {
	return m == MethodSignTransaction || m == MethodSendTransaction
}
