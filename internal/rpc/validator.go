package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/chapool/go-wallet-signer/internal/util"
	"github.com/chapool/go-wallet-signer/internal/wallet/signer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
)

// Call is a request that passed validation, with its params decoded.
type Call struct {
	Request *Request
	Method  Method
	ChainID uint64

	// Account named by sign and personal_sign, nil for other methods
	Account *common.Address
	// Message to sign, raw bytes
	Message []byte
	// Tx for sign_transaction and send_transaction
	Tx *signer.TxRequest
}

// Validator rejects requests and proposals that target a chain or method the wallet
// does not serve, before they are shown to the user.
type Validator struct {
	chainID         uint64
	supportedChains map[uint64]struct{}
	allowed         map[Method]struct{}
}

// NewValidator allows requests on chainID and supportedChains for the allowed methods.
func NewValidator(chainID uint64, supportedChains []uint64, allowed []Method) *Validator {
	v := &Validator{
		chainID:         chainID,
		supportedChains: map[uint64]struct{}{chainID: {}},
		allowed:         make(map[Method]struct{}, len(allowed)),
	}
	for _, id := range supportedChains {
		v.supportedChains[id] = struct{}{}
	}
	for _, m := range allowed {
		v.allowed[m] = struct{}{}
	}

	return v
}

// ChainID is the active chain.
func (v *Validator) ChainID() uint64 {
	return v.chainID
}

// Methods returns the canonical names of the allowed methods.
func (v *Validator) Methods() []string {
	var out []string
	for _, m := range AllMethods {
		if _, ok := v.allowed[m]; ok {
			out = append(out, m.String())
		}
	}

	return out
}

// ValidateProposal checks that every requested chain and method is supported.
func (v *Validator) ValidateProposal(chains []string, methods []string) error {
	for _, c := range chains {
		if err := v.checkChain(c); err != nil {
			return err
		}
	}

	for _, name := range methods {
		m, ok := ParseMethod(name)
		if !ok {
			return errors.Wrapf(ErrUnsupportedMethod, "method %q", name)
		}
		if _, ok := v.allowed[m]; !ok {
			return errors.Wrapf(ErrUnsupportedMethod, "method %q", name)
		}
	}

	return nil
}

// ValidateRequest checks chain, method and params of req. A request without a chain
// targets the active chain; naming any other chain, even a supported one, is denied.
func (v *Validator) ValidateRequest(req *Request) (*Call, error) {
	chainID := v.chainID
	if req.ChainID != "" {
		if err := v.checkChain(req.ChainID); err != nil {
			return nil, err
		}
		if id, _ := ParseChainID(req.ChainID); id != chainID {
			return nil, errors.Wrapf(ErrUnsupportedChain, "chain %q is not the active chain %d", req.ChainID, chainID)
		}
	}

	m, ok := ParseMethod(req.Method)
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedMethod, "method %q", req.Method)
	}
	if _, ok := v.allowed[m]; !ok || !m.Implemented() {
		return nil, errors.Wrapf(ErrUnsupportedMethod, "method %q", req.Method)
	}

	call := &Call{Request: req, Method: m, ChainID: chainID}

	var err error
	switch m {
	case MethodAccounts:
	case MethodSign:
		call.Account, call.Message, err = decodeSignParams(req.Params, 0, 1)
	case MethodPersonalSign:
		call.Account, call.Message, err = decodeSignParams(req.Params, 1, 0)
	case MethodSignTransaction, MethodSendTransaction:
		call.Tx, err = decodeTxParams(req.Params, chainID)
	case MethodUnknown, MethodComputeSharedSecret, MethodPersonalDecrypt, MethodSignTypedData:
		err = errors.Wrapf(ErrUnsupportedMethod, "method %q", req.Method)
	}
	if err != nil {
		return nil, err
	}

	return call, nil
}

func (v *Validator) checkChain(s string) error {
	id, err := ParseChainID(s)
	if err != nil {
		return errors.Wrapf(ErrUnsupportedChain, "chain %q", s)
	}
	if _, ok := v.supportedChains[id]; !ok {
		return errors.Wrapf(ErrUnsupportedChain, "chain %q", s)
	}

	return nil
}

func decodeSignParams(raw json.RawMessage, accountIdx int, messageIdx int) (*common.Address, []byte, error) {
	var params []string
	if err := json.Unmarshal(raw, &params); err != nil || len(params) < 2 {
		return nil, nil, invalidParams("expected [account, message]")
	}

	if !common.IsHexAddress(params[accountIdx]) {
		return nil, nil, invalidParams("account %q", params[accountIdx])
	}
	account := common.HexToAddress(params[accountIdx])

	return &account, decodeMessage(params[messageIdx]), nil
}

// decodeMessage treats 0x-prefixed hex as raw bytes and anything else as UTF-8 text.
func decodeMessage(s string) []byte {
	if b, err := hexutil.Decode(s); err == nil {
		return b
	}

	return []byte(s)
}

type txParams struct {
	From                *string         `json:"from"`
	To                  *string         `json:"to"`
	Gas                 json.RawMessage `json:"gas"`
	GasLimit            json.RawMessage `json:"gasLimit"`
	GasPrice            json.RawMessage `json:"gasPrice"`
	Nonce               json.RawMessage `json:"nonce"`
	Value               json.RawMessage `json:"value"`
	Data                *string         `json:"data"`
	FeeCurrency         *string         `json:"feeCurrency"`
	GatewayFeeRecipient *string         `json:"gatewayFeeRecipient"`
	GatewayFee          json.RawMessage `json:"gatewayFee"`
	ChainID             json.RawMessage `json:"chainId"`
}

func decodeTxParams(raw json.RawMessage, chainID uint64) (*signer.TxRequest, error) {
	var list []txParams
	if err := json.Unmarshal(raw, &list); err != nil || len(list) == 0 {
		return nil, invalidParams("expected [transaction]")
	}
	p := list[0]

	from, err := requiredAddress("from", p.From)
	if err != nil {
		return nil, err
	}
	to, err := requiredAddress("to", p.To)
	if err != nil {
		return nil, err
	}

	gasField, gasRaw := "gas", p.Gas
	if isAbsent(gasRaw) {
		gasField, gasRaw = "gasLimit", p.GasLimit
	}
	gas, err := requiredQuantity(gasField, gasRaw)
	if err != nil {
		return nil, err
	}
	if !gas.IsUint64() {
		return nil, invalidParams("gas out of range")
	}
	gasPrice, err := requiredQuantity("gasPrice", p.GasPrice)
	if err != nil {
		return nil, err
	}

	req := &signer.TxRequest{
		From:     from,
		To:       to,
		GasLimit: ptr(gas.Uint64()),
		GasPrice: gasPrice,
		ChainID:  ptr(chainID),
	}

	if req.Nonce, err = optionalUint64("nonce", p.Nonce); err != nil {
		return nil, err
	}
	if req.Value, err = optionalQuantity("value", p.Value); err != nil {
		return nil, err
	}
	if req.GatewayFee, err = optionalQuantity("gatewayFee", p.GatewayFee); err != nil {
		return nil, err
	}
	if req.FeeCurrency, err = optionalAddress("feeCurrency", p.FeeCurrency); err != nil {
		return nil, err
	}
	if req.GatewayFeeRecipient, err = optionalAddress("gatewayFeeRecipient", p.GatewayFeeRecipient); err != nil {
		return nil, err
	}

	if p.Data != nil && *p.Data != "" {
		data, err := hexutil.Decode(*p.Data)
		if err != nil {
			return nil, invalidParams("data: %v", err)
		}
		req.Data = data
	}

	txChain, err := optionalUint64("chainId", p.ChainID)
	if err != nil {
		return nil, err
	}
	if txChain != nil && *txChain != chainID {
		return nil, invalidParams("chainId %d does not match chain %d", *txChain, chainID)
	}

	return req, nil
}

func requiredAddress(field string, s *string) (*common.Address, error) {
	if s == nil || *s == "" {
		return nil, invalidParams("%s is required", field)
	}

	return optionalAddress(field, s)
}

func optionalAddress(field string, s *string) (*common.Address, error) {
	if s == nil || *s == "" {
		return nil, nil //nolint:nilnil // absent optional field
	}
	if !common.IsHexAddress(*s) {
		return nil, invalidParams("%s %q is not an address", field, *s)
	}
	addr := common.HexToAddress(*s)

	return &addr, nil
}

func requiredQuantity(field string, raw json.RawMessage) (*big.Int, error) {
	if isAbsent(raw) {
		return nil, invalidParams("%s is required", field)
	}

	return optionalQuantity(field, raw)
}

func optionalUint64(field string, raw json.RawMessage) (*uint64, error) {
	q, err := optionalQuantity(field, raw)
	if err != nil || q == nil {
		return nil, err
	}
	if !q.IsUint64() {
		return nil, invalidParams("%s out of range", field)
	}

	return ptr(q.Uint64()), nil
}

// optionalQuantity accepts a JSON number, a decimal string or a 0x-hex string.
func optionalQuantity(field string, raw json.RawMessage) (*big.Int, error) {
	if isAbsent(raw) {
		return nil, nil //nolint:nilnil // absent optional field
	}

	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, invalidParams("%s: %v", field, err)
		}
	}
	s = strings.TrimSpace(s)

	var (
		q  *big.Int
		ok bool
	)
	switch {
	case util.Has0x(s):
		digits := util.Strip0x(s)
		if digits == "" {
			return new(big.Int), nil
		}
		q, ok = new(big.Int).SetString(digits, 16)
	default:
		q, ok = new(big.Int).SetString(s, 10)
	}
	if !ok || q.Sign() < 0 {
		return nil, invalidParams("%s %q is not a quantity", field, s)
	}

	return q, nil
}

func isAbsent(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte(`""`))
}

func ptr[T any](v T) *T {
	return &v
}
