package test

import (
	"context"
	"math/big"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/chapool/go-wallet-signer/internal/api"
	"github.com/chapool/go-wallet-signer/internal/api/router"
	"github.com/chapool/go-wallet-signer/internal/app"
	"github.com/chapool/go-wallet-signer/internal/config"
	"github.com/chapool/go-wallet-signer/internal/wallet/chain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	Mnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	Password = "correct horse"
	ChainID  = uint64(44786)
)

// Address is the account of Mnemonic at m/44'/60'/0'/0/0.
var Address = common.HexToAddress("0x9858EfFD232B4033E47d90003D41EC34EcaEda94")

// Network is an in-memory chain backend recording broadcast transactions.
type Network struct {
	Nonce uint64
	// Price is returned by GasPrice; nil means half a gwei.
	Price *big.Int

	mu   sync.Mutex
	sent [][]byte
}

func (n *Network) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return n.Nonce, nil
}

func (n *Network) GasPrice(context.Context, *common.Address) (*big.Int, error) {
	if n.Price == nil {
		return big.NewInt(500_000_000), nil
	}

	return new(big.Int).Set(n.Price), nil
}

func (n *Network) EstimateGas(context.Context, chain.CallMsg) (uint64, error) {
	return 21000, nil
}

func (n *Network) SendRawTransaction(_ context.Context, raw []byte) (common.Hash, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.sent = append(n.sent, raw)

	return crypto.Keccak256Hash(raw), nil
}

// Sent returns the raw transactions broadcast so far.
func (n *Network) Sent() [][]byte {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([][]byte(nil), n.sent...)
}

// Config returns a local custody config with a keystore path private to t.
func Config(t *testing.T) config.Server {
	t.Helper()

	return config.Server{
		Chain: config.Chain{
			ChainID:                  ChainID,
			RPCURLs:                  []string{"http://127.0.0.1:0"},
			SupportedChainIDs:        []uint64{ChainID},
			FeeCurrencyGasMultiplier: 5,
		},
		Wallet: config.Wallet{
			KeystorePath:   filepath.Join(t.TempDir(), "keystore.json"),
			DerivationPath: "m/44'/60'/0'/0/0",
			Custody:        "local",
			LightKDF:       true,
		},
		Hardware: config.Hardware{
			RequiredAppVersion: "1.0.3",
			RetryAttempts:      3,
			RetryDelay:         time.Second,
		},
		Session: config.Session{
			Protocol:         "v1",
			RequestTimeout:   time.Minute,
			SupportedMethods: []string{"accounts", "personal_sign", "sign_transaction", "send_transaction"},
			Metadata:         config.Metadata{Name: "signer"},
		},
		Status: config.Status{ListenAddress: "127.0.0.1:0"},
	}
}

// WithTestApp runs closure with an app whose keystore holds Mnemonic and whose local
// signer is active but locked.
func WithTestApp(t *testing.T, closure func(a *app.App, network *Network)) {
	t.Helper()

	ctx := t.Context()

	network := &Network{}
	a, err := app.NewWithNetwork(Config(t), network)
	require.NoError(t, err)
	defer func() { assert.Empty(t, a.Shutdown(context.Background())) }()

	_, err = a.Wallet.Create(ctx, Mnemonic, Password)
	require.NoError(t, err)
	require.NoError(t, a.Activate(ctx, nil))

	closure(a, network)
}

// WithTestServer runs closure with a status server on top of WithTestApp. The echo
// instance is initialized but not listening; use PerformRequest.
func WithTestServer(t *testing.T, closure func(s *api.Server)) {
	t.Helper()

	WithTestApp(t, func(a *app.App, _ *Network) {
		s := api.NewServer(a.Config.Status, a, nil)
		router.Init(s)

		closure(s)
	})
}

// PerformRequest serves one request through the echo instance of s.
func PerformRequest(t *testing.T, s *api.Server, method string, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	res := httptest.NewRecorder()
	s.Echo.ServeHTTP(res, req)

	return res
}
