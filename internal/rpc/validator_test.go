package rpc_test

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/chapool/go-wallet-signer/internal/rpc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testChainID = uint64(44786)
	testFrom    = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
	testTo      = "0x00000000000000000000000000000000000000aa"
	testCUSD    = "0x874069Fa1Eb16D44d622F2e0Ca25eeA172369bC1"
)

func newValidator() *rpc.Validator {
	return rpc.NewValidator(testChainID, nil, rpc.AllMethods)
}

func request(method string, params any) *rpc.Request {
	raw, err := json.Marshal(params)
	if err != nil {
		panic(err)
	}

	return &rpc.Request{ID: 1, Method: method, Params: raw, Topic: "topic"}
}

func TestValidateProposal(t *testing.T) {
	v := newValidator()

	require.NoError(t, v.ValidateProposal([]string{"celo:44786"}, []string{"accounts", "sign_transaction"}))
	require.NoError(t, v.ValidateProposal(nil, nil))

	err := v.ValidateProposal([]string{"celo:1"}, []string{"accounts"})
	require.ErrorIs(t, err, rpc.ErrUnsupportedChain)
	assert.Equal(t, rpc.CodeUnsupportedChain, rpc.ErrorFrom(err).Code)

	err = v.ValidateProposal([]string{"celo:44786"}, []string{"wallet_addEthereumChain"})
	assert.ErrorIs(t, err, rpc.ErrUnsupportedMethod)
}

func TestValidateProposalAllowList(t *testing.T) {
	v := rpc.NewValidator(testChainID, []uint64{42220}, []rpc.Method{rpc.MethodAccounts, rpc.MethodPersonalSign})

	require.NoError(t, v.ValidateProposal([]string{"celo:42220", "eip155:44786"}, []string{"eth_accounts", "personal_sign"}))
	assert.ErrorIs(t, v.ValidateProposal(nil, []string{"eth_sendTransaction"}), rpc.ErrUnsupportedMethod)
	assert.Equal(t, []string{"accounts", "personal_sign"}, v.Methods())
}

func TestValidateRequestChain(t *testing.T) {
	v := newValidator()

	req := request("accounts", []any{})
	req.ChainID = "celo:1"
	_, err := v.ValidateRequest(req)
	require.ErrorIs(t, err, rpc.ErrUnsupportedChain)

	req.ChainID = "celo:44786"
	call, err := v.ValidateRequest(req)
	require.NoError(t, err)
	assert.Equal(t, rpc.MethodAccounts, call.Method)
	assert.Equal(t, testChainID, call.ChainID)
}

func TestValidateRequestInactiveChain(t *testing.T) {
	v := rpc.NewValidator(testChainID, []uint64{42220}, rpc.AllMethods)

	req := request("accounts", []any{})
	req.ChainID = "celo:42220"
	_, err := v.ValidateRequest(req)
	require.ErrorIs(t, err, rpc.ErrUnsupportedChain)
	assert.Equal(t, rpc.CodeUnsupportedChain, rpc.ErrorFrom(err).Code)

	req.ChainID = "eip155:44786"
	call, err := v.ValidateRequest(req)
	require.NoError(t, err)
	assert.Equal(t, testChainID, call.ChainID)
}

func TestValidateRequestMethod(t *testing.T) {
	v := rpc.NewValidator(testChainID, nil, []rpc.Method{rpc.MethodAccounts, rpc.MethodSignTypedData})

	_, err := v.ValidateRequest(request("eth_chainId", nil))
	assert.ErrorIs(t, err, rpc.ErrUnsupportedMethod)

	_, err = v.ValidateRequest(request("personal_sign", []string{"0x68656c6c6f", testFrom}))
	assert.ErrorIs(t, err, rpc.ErrUnsupportedMethod)

	// recognized and allow-listed but never served
	_, err = v.ValidateRequest(request("eth_signTypedData", []any{testFrom, map[string]any{}}))
	assert.ErrorIs(t, err, rpc.ErrUnsupportedMethod)
}

func TestValidateSignParams(t *testing.T) {
	v := newValidator()

	call, err := v.ValidateRequest(request("personal_sign", []string{"0x68656c6c6f", testFrom}))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), call.Message)
	assert.Equal(t, common.HexToAddress(testFrom), *call.Account)

	call, err = v.ValidateRequest(request("eth_sign", []string{testFrom, "plain text"}))
	require.NoError(t, err)
	assert.Equal(t, []byte("plain text"), call.Message)

	_, err = v.ValidateRequest(request("personal_sign", []string{"0x68656c6c6f", "not-an-address"}))
	assert.ErrorIs(t, err, rpc.ErrMissingOrInvalid)

	_, err = v.ValidateRequest(request("personal_sign", []string{"0x68656c6c6f"}))
	assert.ErrorIs(t, err, rpc.ErrMissingOrInvalid)
}

func validTx() map[string]any {
	return map[string]any{
		"from":        testFrom,
		"to":          testTo,
		"gas":         "0x5208",
		"gasPrice":    "1000000000",
		"value":       "0x2a",
		"nonce":       3,
		"data":        "0xa9059cbb",
		"feeCurrency": testCUSD,
		"chainId":     "0xaef2",
	}
}

func TestValidateTransactionParams(t *testing.T) {
	call, err := newValidator().ValidateRequest(request("eth_signTransaction", []any{validTx()}))
	require.NoError(t, err)

	tx := call.Tx
	assert.Equal(t, common.HexToAddress(testFrom), *tx.From)
	assert.Equal(t, common.HexToAddress(testTo), *tx.To)
	assert.Equal(t, uint64(21000), *tx.GasLimit)
	assert.Equal(t, big.NewInt(1_000_000_000), tx.GasPrice)
	assert.Equal(t, big.NewInt(42), tx.Value)
	assert.Equal(t, uint64(3), *tx.Nonce)
	assert.Equal(t, []byte{0xa9, 0x05, 0x9c, 0xbb}, tx.Data)
	assert.Equal(t, common.HexToAddress(testCUSD), *tx.FeeCurrency)
	assert.Nil(t, tx.GatewayFeeRecipient)
	assert.Equal(t, testChainID, *tx.ChainID)
}

func TestValidateTransactionParamsGasLimitAlias(t *testing.T) {
	tx := validTx()
	delete(tx, "gas")
	tx["gasLimit"] = 50000
	delete(tx, "nonce")

	call, err := newValidator().ValidateRequest(request("send_transaction", []any{tx}))
	require.NoError(t, err)
	assert.Equal(t, uint64(50000), *call.Tx.GasLimit)
	assert.Nil(t, call.Tx.Nonce)
}

func TestValidateTransactionParamsInvalid(t *testing.T) {
	tests := map[string]func(tx map[string]any){
		"missing to":          func(tx map[string]any) { delete(tx, "to") },
		"missing from":        func(tx map[string]any) { delete(tx, "from") },
		"bad to":              func(tx map[string]any) { tx["to"] = "0x1234" },
		"bad fee currency":    func(tx map[string]any) { tx["feeCurrency"] = "cUSD" },
		"missing gas":         func(tx map[string]any) { delete(tx, "gas") },
		"missing gas price":   func(tx map[string]any) { delete(tx, "gasPrice") },
		"negative value":      func(tx map[string]any) { tx["value"] = "-1" },
		"bad data":            func(tx map[string]any) { tx["data"] = "0xzz" },
		"chain mismatch":      func(tx map[string]any) { tx["chainId"] = 42220 },
		"nonce out of range":  func(tx map[string]any) { tx["nonce"] = "0x10000000000000000" },
		"gas is not a number": func(tx map[string]any) { tx["gas"] = "lots" },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			tx := validTx()
			mutate(tx)

			_, err := newValidator().ValidateRequest(request("sign_transaction", []any{tx}))
			require.ErrorIs(t, err, rpc.ErrMissingOrInvalid)
			assert.Equal(t, rpc.CodeMissingOrInvalid, rpc.ErrorFrom(err).Code)
		})
	}

	_, err := newValidator().ValidateRequest(request("sign_transaction", []any{}))
	assert.ErrorIs(t, err, rpc.ErrMissingOrInvalid)
}
