package session_test

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"testing"
	"time"

	"github.com/chapool/go-wallet-signer/internal/rpc"
	"github.com/chapool/go-wallet-signer/internal/session"
	"github.com/chapool/go-wallet-signer/internal/wallet/signer"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testChainID = uint64(44786)
	testKeyHex  = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testAccount = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"

	handshakeTimeout = 10 * time.Second
	proposalTimeout  = 20 * time.Second
	requestTimeout   = 30 * time.Second
	dismissDelay     = 2 * time.Second
)

var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type harness struct {
	adapter   *fakeAdapter
	observer  *recorder
	decisions chan session.Decision
	clock     *clock.TestClock
	ticks     chan time.Duration
	engine    *session.Engine
	result    chan error
}

type harnessOption func(*session.Config, *session.Dependencies)

func withDispatcher(d session.Dispatcher) harnessOption {
	return func(_ *session.Config, deps *session.Dependencies) { deps.Dispatcher = d }
}

func withDismissDelay(d time.Duration) harnessOption {
	return func(cfg *session.Config, _ *session.Dependencies) { cfg.DismissDelay = d }
}

func testKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()

	key, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)

	return key
}

func newHarness(t *testing.T, adapter *fakeAdapter, opts ...harnessOption) *harness {
	t.Helper()

	local := signer.NewLocalSigner(testKey(t), testChainID, nil)
	registry := signer.NewRegistry()
	registry.Activate(signer.Identity{Address: crypto.PubkeyToAddress(testKey(t).PublicKey), Custody: signer.CustodyLocal}, local)

	h := &harness{
		adapter:   adapter,
		observer:  newRecorder(),
		decisions: make(chan session.Decision, 1),
		ticks:     make(chan time.Duration, 64),
		result:    make(chan error, 1),
	}
	h.clock = clock.NewTestClockWithTickSignal(testStart, h.ticks)

	cfg := session.Config{
		HandshakeTimeout: handshakeTimeout,
		ProposalTimeout:  proposalTimeout,
		RequestTimeout:   requestTimeout,
	}
	deps := session.Dependencies{
		Validator:  rpc.NewValidator(testChainID, nil, rpc.AllMethods),
		Dispatcher: rpc.NewDispatcher(registry, nil),
		Signers:    registry,
		Decisions:  h.decisions,
		Observer:   h.observer,
		Clock:      h.clock,
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	h.engine = session.NewEngine(cfg, adapter, deps)

	return h
}

func (h *harness) start() {
	go func() {
		h.result <- h.engine.Run(context.Background(), "wc:test@1")
	}()
}

func (h *harness) advance(t *testing.T, d time.Duration) {
	t.Helper()

	waitTick(t, h.ticks, d)
	h.clock.SetTime(h.clock.Now().Add(d))
}

func proposal(chains ...string) session.Event {
	return session.Event{Kind: session.EventPropose, Proposal: &session.Proposal{
		ID:      "1",
		Topic:   "topic-1",
		Peer:    session.Metadata{Name: "dapp"},
		Chains:  chains,
		Methods: []string{"accounts", "personal_sign", "sign_transaction"},
	}}
}

func request(id uint64, method string, params any) session.Event {
	raw, err := json.Marshal(params)
	if err != nil {
		panic(err)
	}

	return session.Event{Kind: session.EventRequest, Request: &rpc.Request{ID: id, Method: method, Params: raw, Topic: "topic-1"}}
}

// settle runs the harness up to a settled session.
func (h *harness) settle(t *testing.T) {
	t.Helper()

	h.start()
	h.adapter.send(t, proposal("celo:44786"))
	p := receive(t, h.observer.proposals)
	h.decisions <- session.Decision{ID: session.ProposalKey(p), Approve: true}
	h.observer.waitState(t, session.StateSettled)
}

func TestEngineSettlesAndServesRequest(t *testing.T) {
	h := newHarness(t, newFakeAdapter())
	h.settle(t)
	assert.Equal(t, session.StateSettled, h.engine.State())

	h.adapter.send(t, request(7, "personal_sign", []string{"0x68656c6c6f", testAccount}))
	call := receive(t, h.observer.requests)
	assert.Equal(t, rpc.MethodPersonalSign, call.Method)

	h.decisions <- session.Decision{ID: session.RequestKey(call), Approve: true}
	done := receive(t, h.observer.finished)
	require.False(t, done.reply.Failed(), done.reply.Error)
	assert.Equal(t, uint64(7), done.reply.ID)

	states := h.observer.waitState(t, session.StateSettled)
	assert.Equal(t, []session.State{session.StateRequestPending, session.StateRequestActive, session.StateRequestComplete, session.StateSettled}, states)

	h.engine.Disconnect()
	require.NoError(t, waitResult(t, h.result))
	assert.Equal(t, session.StateDisconnected, h.engine.State())
	requireCalls(t, h.adapter, "open", "approve", "reply", "disconnect", "close")
}

func TestEngineRejectsUnsupportedChain(t *testing.T) {
	h := newHarness(t, newFakeAdapter())
	h.start()
	h.adapter.send(t, proposal("celo:1"))

	err := waitResult(t, h.result)
	require.ErrorIs(t, err, session.ErrProposalRejected)
	require.ErrorIs(t, err, rpc.ErrUnsupportedChain)

	require.Len(t, h.adapter.rejected, 1)
	assert.Equal(t, rpc.CodeUnsupportedChain, h.adapter.rejected[0].Code)
	assert.Empty(t, h.observer.proposals)
	assert.Equal(t, session.StateDisconnected, h.engine.State())
	requireCalls(t, h.adapter, "open", "reject", "close")

	close(h.observer.states)
	for s := range h.observer.states {
		assert.NotEqual(t, session.StateSettled, s)
	}
}

func TestEngineUserRejectsProposal(t *testing.T) {
	h := newHarness(t, newFakeAdapter())
	h.start()
	h.adapter.send(t, proposal("celo:44786"))
	p := receive(t, h.observer.proposals)

	h.decisions <- session.Decision{ID: session.ProposalKey(p), Approve: false}

	require.NoError(t, waitResult(t, h.result))
	require.Len(t, h.adapter.rejected, 1)
	assert.Equal(t, rpc.CodeNotApproved, h.adapter.rejected[0].Code)
	assert.Equal(t, session.StateDisconnected, h.engine.State())
}

func TestEngineApproveFails(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.approveErr = errors.New("relay gone")
	h := newHarness(t, adapter)
	h.start()
	h.adapter.send(t, proposal("celo:44786"))
	p := receive(t, h.observer.proposals)

	h.decisions <- session.Decision{ID: session.ProposalKey(p), Approve: true}

	err := waitResult(t, h.result)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay gone")
	assert.Equal(t, session.StateError, h.engine.State())
	assert.Equal(t, err, receive(t, h.observer.failures))
}

func TestEngineRequestTimeout(t *testing.T) {
	h := newHarness(t, newFakeAdapter())
	h.settle(t)

	h.adapter.send(t, request(8, "eth_accounts", []any{}))
	receive(t, h.observer.requests)
	h.advance(t, requestTimeout)

	done := receive(t, h.observer.finished)
	require.True(t, done.reply.Failed())
	assert.Equal(t, rpc.CodeNotApproved, done.reply.Error.Code)
	assert.Equal(t, "request timed out", done.reply.Error.Message)

	h.observer.waitState(t, session.StateSettled)
	assert.Equal(t, session.StateSettled, h.engine.State())

	h.engine.Disconnect()
	require.NoError(t, waitResult(t, h.result))
}

func TestEngineDropsLateDecisionAfterTimeout(t *testing.T) {
	h := newHarness(t, newFakeAdapter())
	h.settle(t)

	h.adapter.send(t, request(1, "accounts", []any{}))
	h.adapter.send(t, request(2, "accounts", []any{}))

	first := receive(t, h.observer.requests)
	h.advance(t, requestTimeout)

	done := receive(t, h.observer.finished)
	assert.Equal(t, uint64(1), done.reply.ID)
	assert.Equal(t, "request timed out", done.reply.Error.Message)

	second := receive(t, h.observer.requests)
	require.Equal(t, uint64(2), second.Request.ID)

	// the user answers the question that already expired
	h.decisions <- session.Decision{ID: session.RequestKey(first), Approve: true}

	select {
	case done := <-h.observer.finished:
		t.Fatalf("stale approval finished request %d", done.reply.ID)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, session.StateRequestPending, h.engine.State())

	h.decisions <- session.Decision{ID: session.RequestKey(second), Approve: false}
	done = receive(t, h.observer.finished)
	assert.Equal(t, uint64(2), done.reply.ID)
	assert.Equal(t, rpc.CodeNotApproved, done.reply.Error.Code)
	assert.Equal(t, "request rejected by user", done.reply.Error.Message)

	h.engine.Disconnect()
	require.NoError(t, waitResult(t, h.result))
	for _, reply := range h.adapter.Replies() {
		assert.True(t, reply.Failed())
	}
}

func TestEngineDeniesInvalidRequestWithoutPrompt(t *testing.T) {
	h := newHarness(t, newFakeAdapter())
	h.settle(t)

	h.adapter.send(t, request(9, "sign_transaction", []any{map[string]any{
		"from":     testAccount,
		"gas":      "0x5208",
		"gasPrice": "0x1",
	}}))

	done := receive(t, h.observer.finished)
	require.True(t, done.reply.Failed())
	assert.Equal(t, rpc.CodeMissingOrInvalid, done.reply.Error.Code)
	assert.Empty(t, h.observer.requests)
	assert.Equal(t, session.StateSettled, h.engine.State())

	h.adapter.send(t, request(10, "eth_signTypedData", []any{}))
	done = receive(t, h.observer.finished)
	assert.Equal(t, rpc.CodeUnsupportedMethod, done.reply.Error.Code)

	h.engine.Disconnect()
	require.NoError(t, waitResult(t, h.result))
}

func TestEngineUserDeniesRequest(t *testing.T) {
	h := newHarness(t, newFakeAdapter())
	h.settle(t)

	h.adapter.send(t, request(11, "accounts", []any{}))
	call := receive(t, h.observer.requests)
	h.decisions <- session.Decision{ID: session.RequestKey(call), Approve: false}

	done := receive(t, h.observer.finished)
	assert.Equal(t, rpc.CodeNotApproved, done.reply.Error.Code)
	assert.Equal(t, []session.State{session.StateRequestPending, session.StateSettled}, h.observer.waitState(t, session.StateSettled))

	h.engine.Disconnect()
	require.NoError(t, waitResult(t, h.result))
}

func TestEngineQueuesRequests(t *testing.T) {
	h := newHarness(t, newFakeAdapter(), withDismissDelay(dismissDelay))
	h.settle(t)

	h.adapter.send(t, request(1, "accounts", []any{}))
	h.adapter.send(t, request(2, "accounts", []any{}))

	first := receive(t, h.observer.requests)
	assert.Equal(t, uint64(1), first.Request.ID)
	assert.Empty(t, h.observer.requests)

	h.decisions <- session.Decision{ID: session.RequestKey(first), Approve: true}
	done := receive(t, h.observer.finished)
	assert.Equal(t, uint64(1), done.reply.ID)
	h.observer.waitState(t, session.StateRequestComplete)

	h.advance(t, dismissDelay)

	second := receive(t, h.observer.requests)
	assert.Equal(t, uint64(2), second.Request.ID)

	h.decisions <- session.Decision{ID: session.RequestKey(second), Approve: true}
	done = receive(t, h.observer.finished)
	assert.Equal(t, uint64(2), done.reply.ID)

	h.engine.Disconnect()
	require.NoError(t, waitResult(t, h.result))
}

func TestEngineHandshakeTimeout(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.blockOpen = true
	h := newHarness(t, adapter)
	h.start()

	h.advance(t, handshakeTimeout)

	err := waitResult(t, h.result)
	require.ErrorIs(t, err, session.ErrHandshakeTimeout)
	assert.Equal(t, session.StateError, h.engine.State())
	assert.ErrorIs(t, receive(t, h.observer.failures), session.ErrHandshakeTimeout)
	assert.Equal(t, 1, adapter.closed)
}

func TestEngineProposalTimeout(t *testing.T) {
	h := newHarness(t, newFakeAdapter())
	h.start()

	h.advance(t, proposalTimeout)

	require.ErrorIs(t, waitResult(t, h.result), session.ErrProposalTimeout)
	assert.Equal(t, session.StateError, h.engine.State())
}

func TestEngineUnansweredProposalTimesOut(t *testing.T) {
	h := newHarness(t, newFakeAdapter())
	h.start()
	h.adapter.send(t, proposal("celo:44786"))
	p := receive(t, h.observer.proposals)

	h.decisions <- session.Decision{ID: "proposal:other", Approve: true}
	h.advance(t, proposalTimeout)

	err := waitResult(t, h.result)
	require.ErrorIs(t, err, session.ErrProposalTimeout)
	assert.Equal(t, session.StateError, h.engine.State())
	assert.ErrorIs(t, receive(t, h.observer.failures), session.ErrProposalTimeout)

	require.Len(t, h.adapter.rejected, 1)
	assert.Equal(t, rpc.CodeNotApproved, h.adapter.rejected[0].Code)
	assert.Equal(t, "proposal timed out", h.adapter.rejected[0].Message)
	assert.Equal(t, "1", p.ID)
	requireCalls(t, h.adapter, "open", "reject", "close")
}

func TestEnginePairFails(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.openErr = session.ErrInvalidURI
	h := newHarness(t, adapter)
	h.start()

	require.ErrorIs(t, waitResult(t, h.result), session.ErrInvalidURI)
	assert.Equal(t, session.StateError, h.engine.State())
}

func TestEnginePeerDelete(t *testing.T) {
	h := newHarness(t, newFakeAdapter())
	h.settle(t)

	h.adapter.send(t, session.Event{Kind: session.EventDelete, Err: session.ErrSessionDeleted})

	require.NoError(t, waitResult(t, h.result))
	assert.Equal(t, session.StateDisconnected, h.engine.State())
	requireCalls(t, h.adapter, "open", "approve", "close")

	// late events after teardown are dropped
	h.adapter.send(t, request(1, "accounts", []any{}))
	assert.Equal(t, 1, h.adapter.closed)
}

func TestEngineProtocolFault(t *testing.T) {
	h := newHarness(t, newFakeAdapter())
	h.start()

	h.adapter.send(t, request(1, "accounts", []any{}))

	err := waitResult(t, h.result)
	require.ErrorIs(t, err, session.ErrProtocolFault)
	assert.Equal(t, session.StateError, h.engine.State())

	var fault *session.FaultError
	assert.ErrorAs(t, receive(t, h.observer.failures), &fault)
}

func TestEngineFaultEventInSettledSession(t *testing.T) {
	h := newHarness(t, newFakeAdapter())
	h.settle(t)

	h.adapter.send(t, session.Event{Kind: session.EventFault, Err: errors.New("bad hmac")})

	require.ErrorIs(t, waitResult(t, h.result), session.ErrProtocolFault)
	requireCalls(t, h.adapter, "open", "approve", "disconnect", "close")
}

func TestEngineDisconnectWaitsForActiveRequest(t *testing.T) {
	dispatcher := &blockingDispatcher{started: make(chan struct{}), release: make(chan struct{})}
	h := newHarness(t, newFakeAdapter(), withDispatcher(dispatcher))
	h.settle(t)

	h.adapter.send(t, request(5, "accounts", []any{}))
	call := receive(t, h.observer.requests)
	h.decisions <- session.Decision{ID: session.RequestKey(call), Approve: true}
	<-dispatcher.started

	h.engine.Disconnect()

	select {
	case err := <-h.result:
		t.Fatalf("engine stopped during an active request: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(dispatcher.release)

	require.NoError(t, waitResult(t, h.result))
	requireCalls(t, h.adapter, "open", "approve", "reply", "disconnect", "close")
	assert.Equal(t, "done", h.adapter.Replies()[0].Result)
}

func TestEngineClosedDecisionsEndSession(t *testing.T) {
	h := newHarness(t, newFakeAdapter())
	h.start()
	h.adapter.send(t, proposal("celo:44786"))
	receive(t, h.observer.proposals)

	close(h.decisions)

	require.NoError(t, waitResult(t, h.result))
	assert.Equal(t, session.StateDisconnected, h.engine.State())
}

func TestEngineRunsOnce(t *testing.T) {
	h := newHarness(t, newFakeAdapter())
	h.engine.Disconnect()

	require.NoError(t, h.engine.Run(context.Background(), "wc:test@1"))
	assert.ErrorIs(t, h.engine.Run(context.Background(), "wc:test@1"), session.ErrAlreadyStarted)
}
