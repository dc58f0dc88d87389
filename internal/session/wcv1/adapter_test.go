package wcv1

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/chapool/go-wallet-signer/internal/rpc"
	"github.com/chapool/go-wallet-signer/internal/session"
	"github.com/chapool/go-wallet-signer/internal/wallet/signer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAccount = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"

func testURI() string {
	return (&URI{Topic: handshakeTopic, Bridge: "https://bridge.example", Key: testKey()}).String()
}

// fakeConnector stands in for *Client.
type fakeConnector struct {
	handlers map[string]Handler
	calls    []string
	approved []string
	replies  map[uint64]any
	rejected map[uint64]*rpc.Error
	closed   bool
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		handlers: make(map[string]Handler),
		replies:  make(map[uint64]any),
		rejected: make(map[uint64]*rpc.Error),
	}
}

func (f *fakeConnector) On(event string, h Handler) { f.handlers[event] = h }
func (f *fakeConnector) Off(event string)           { delete(f.handlers, event) }
func (f *fakeConnector) ClientID() string           { return "client-1" }

func (f *fakeConnector) ApproveSession(_ context.Context, accounts []string, _ uint64) error {
	f.calls = append(f.calls, "approve_session")
	f.approved = accounts
	return nil
}

func (f *fakeConnector) RejectSession(context.Context, *rpc.Error) error {
	f.calls = append(f.calls, "reject_session")
	return nil
}

func (f *fakeConnector) ApproveRequest(_ context.Context, id uint64, result any) error {
	f.calls = append(f.calls, "approve_request")
	f.replies[id] = result
	return nil
}

func (f *fakeConnector) RejectRequest(_ context.Context, id uint64, reason *rpc.Error) error {
	f.calls = append(f.calls, "reject_request")
	f.rejected[id] = reason
	return nil
}

func (f *fakeConnector) KillSession(context.Context, *rpc.Error) error {
	f.calls = append(f.calls, "kill_session")
	return nil
}

func (f *fakeConnector) Close() error {
	f.calls = append(f.calls, "close")
	f.closed = true
	return nil
}

func (f *fakeConnector) fire(t *testing.T, event string, err error, p *Payload) {
	t.Helper()

	h, ok := f.handlers[event]
	require.True(t, ok, "no handler for %s", event)
	h(err, p)
}

func openFake(t *testing.T) (*Adapter, *fakeConnector, *[]session.Event) {
	t.Helper()

	conn := newFakeConnector()
	adapter := NewAdapter(session.Metadata{Name: "signer"}, func(_ context.Context, uri *URI, _ session.Metadata) (Connector, error) {
		assert.Equal(t, handshakeTopic, uri.Topic)
		return conn, nil
	})

	var events []session.Event
	require.NoError(t, adapter.Open(context.Background(), testURI(), func(ev session.Event) {
		events = append(events, ev)
	}))

	return adapter, conn, &events
}

func TestAdapterTranslatesEvents(t *testing.T) {
	adapter, conn, events := openFake(t)

	chainID := uint64(44786)
	params, err := json.Marshal([]SessionRequest{{PeerID: dappID, PeerMeta: session.Metadata{Name: "dapp"}, ChainID: &chainID}})
	require.NoError(t, err)
	conn.fire(t, EventSessionRequest, nil, &Payload{ID: 1, Method: methodSessionRequest, Params: params})

	require.Len(t, *events, 1)
	ev := (*events)[0]
	require.Equal(t, session.EventPropose, ev.Kind)
	assert.Equal(t, dappID, ev.Proposal.ID)
	assert.Equal(t, handshakeTopic, ev.Proposal.Topic)
	assert.Equal(t, "dapp", ev.Proposal.Peer.Name)
	assert.Equal(t, []string{"celo:44786"}, ev.Proposal.Chains)
	assert.Empty(t, ev.Proposal.Methods)

	conn.fire(t, EventCallRequest, nil, &Payload{ID: 9, Method: "accounts", Params: json.RawMessage(`[]`)})
	require.Len(t, *events, 2)
	ev = (*events)[1]
	require.Equal(t, session.EventRequest, ev.Kind)
	assert.Equal(t, uint64(9), ev.Request.ID)
	assert.Equal(t, "accounts", ev.Request.Method)
	assert.Equal(t, "client-1", ev.Request.Topic)

	conn.fire(t, EventDisconnect, nil, nil)
	require.Equal(t, session.EventDelete, (*events)[2].Kind)

	conn.fire(t, EventDisconnect, errors.New("socket closed"), nil)
	require.Equal(t, session.EventFault, (*events)[3].Kind)

	conn.fire(t, EventError, nil, nil)
	require.Equal(t, session.EventFault, (*events)[4].Kind)
	require.Error(t, (*events)[4].Err)

	require.NoError(t, adapter.Close())
	require.NoError(t, adapter.Close())
	assert.Empty(t, conn.handlers)
	assert.Equal(t, []string{"close"}, conn.calls)
}

func TestAdapterProposalWithoutChain(t *testing.T) {
	_, conn, events := openFake(t)

	params, err := json.Marshal([]SessionRequest{{PeerID: dappID}})
	require.NoError(t, err)
	conn.fire(t, EventSessionRequest, nil, &Payload{ID: 1, Params: params})

	require.Len(t, *events, 1)
	assert.Empty(t, (*events)[0].Proposal.Chains)

	conn.fire(t, EventSessionRequest, nil, &Payload{ID: 2, Params: json.RawMessage(`{}`)})
	require.Equal(t, session.EventFault, (*events)[1].Kind)
}

func TestAdapterActions(t *testing.T) {
	adapter, conn, _ := openFake(t)
	ctx := context.Background()
	account := common.HexToAddress(testAccount)
	proposal := &session.Proposal{ID: dappID, Topic: handshakeTopic, Peer: session.Metadata{Name: "dapp"}}

	info, err := adapter.Approve(ctx, proposal, []common.Address{account}, 44786)
	require.NoError(t, err)
	assert.Equal(t, handshakeTopic, info.Topic)
	assert.Equal(t, uint64(44786), info.ChainID)
	assert.Equal(t, []string{testAccount}, conn.approved)

	req := &rpc.Request{ID: 3}
	require.NoError(t, adapter.Reply(ctx, req, rpc.NewResult(3, "0x01")))
	assert.Equal(t, "0x01", conn.replies[3])

	req = &rpc.Request{ID: 4}
	require.NoError(t, adapter.Reply(ctx, req, rpc.NewErrorReply(4, rpc.ErrNotApproved)))
	assert.Equal(t, rpc.CodeNotApproved, conn.rejected[4].Code)

	require.NoError(t, adapter.Reject(ctx, proposal, rpc.ErrUnsupportedChain))
	require.NoError(t, adapter.Disconnect(ctx, info, rpc.ErrNotApproved))
	require.NoError(t, adapter.Close())

	assert.Equal(t, []string{"approve_session", "approve_request", "reject_request", "reject_session", "kill_session", "close"}, conn.calls)

	_, err = adapter.Approve(ctx, proposal, nil, 44786)
	require.ErrorIs(t, err, session.ErrNotPaired)
}

func TestAdapterOpenErrors(t *testing.T) {
	adapter := NewAdapter(session.Metadata{}, func(context.Context, *URI, session.Metadata) (Connector, error) {
		t.Fatal("dial must not be called for a bad uri")
		return nil, nil
	})
	require.ErrorIs(t, adapter.Open(context.Background(), "wc:topic@2?relay-protocol=irn", nil), session.ErrInvalidURI)

	dialErr := errors.New("bridge down")
	adapter = NewAdapter(session.Metadata{}, func(context.Context, *URI, session.Metadata) (Connector, error) {
		return nil, dialErr
	})
	require.ErrorIs(t, adapter.Open(context.Background(), testURI(), nil), dialErr)

	conn := newFakeConnector()
	adapter = NewAdapter(session.Metadata{}, func(context.Context, *URI, session.Metadata) (Connector, error) {
		return conn, nil
	})
	require.NoError(t, adapter.Close())
	require.ErrorIs(t, adapter.Open(context.Background(), testURI(), nil), ErrClosed)
	assert.True(t, conn.closed)
}

type flowObserver struct {
	session.NopObserver

	proposals chan *session.Proposal
	requests  chan *rpc.Call
	finished  chan *rpc.Reply
}

func (o *flowObserver) ProposalReceived(p *session.Proposal)          { o.proposals <- p }
func (o *flowObserver) RequestReceived(call *rpc.Call)                { o.requests <- call }
func (o *flowObserver) RequestFinished(_ *rpc.Call, reply *rpc.Reply) { o.finished <- reply }

func waitFor[T any](t *testing.T, ch chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out")
	}

	var zero T
	return zero
}

func TestAdapterDrivesEngineOverBridge(t *testing.T) {
	b := newBridge(t)
	d := newDapp(t, b, testKey(), dappID)

	key, err := crypto.HexToECDSA("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	registry := signer.NewRegistry()
	registry.Activate(signer.Identity{Address: crypto.PubkeyToAddress(key.PublicKey), Custody: signer.CustodyLocal},
		signer.NewLocalSigner(key, 44786, nil))

	observer := &flowObserver{
		proposals: make(chan *session.Proposal, 1),
		requests:  make(chan *rpc.Call, 1),
		finished:  make(chan *rpc.Reply, 1),
	}
	decisions := make(chan session.Decision, 1)
	engine := session.NewEngine(session.Config{}, NewAdapter(session.Metadata{Name: "signer"}, nil), session.Dependencies{
		Validator:  rpc.NewValidator(44786, nil, rpc.AllMethods),
		Dispatcher: rpc.NewDispatcher(registry, nil),
		Signers:    registry,
		Decisions:  decisions,
		Observer:   observer,
	})

	result := make(chan error, 1)
	go func() {
		result <- engine.Run(context.Background(), b.uri(testKey(), handshakeTopic).String())
	}()

	d.sessionRequest(handshakeTopic, 44786)
	proposal := waitFor(t, observer.proposals)
	assert.Equal(t, []string{"celo:44786"}, proposal.Chains)
	decisions <- session.Decision{ID: session.ProposalKey(proposal), Approve: true}

	resp := d.next()
	var approved sessionParams
	require.NoError(t, json.Unmarshal(resp.Result, &approved))
	require.True(t, approved.Approved)
	assert.Equal(t, []string{testAccount}, approved.Accounts)

	d.request(approved.PeerID, 11, "personal_sign", []string{"0x68656c6c6f", testAccount})
	call := waitFor(t, observer.requests)
	assert.Equal(t, rpc.MethodPersonalSign, call.Method)
	decisions <- session.Decision{ID: session.RequestKey(call), Approve: true}

	reply := waitFor(t, observer.finished)
	require.False(t, reply.Failed(), reply.Error)
	resp = d.next()
	assert.Equal(t, uint64(11), resp.ID)
	require.Nil(t, resp.Error)

	var sig string
	require.NoError(t, json.Unmarshal(resp.Result, &sig))
	assert.Len(t, sig, 2+65*2)

	d.request(approved.PeerID, 12, methodSessionUpdate, []map[string]any{{"approved": false}})

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("engine did not stop")
	}
	assert.Equal(t, session.StateDisconnected, engine.State())
}
