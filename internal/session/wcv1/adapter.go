package wcv1

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chapool/go-wallet-signer/internal/rpc"
	"github.com/chapool/go-wallet-signer/internal/session"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Connector is the v1 client API the adapter drives. *Client implements it.
type Connector interface {
	On(event string, h Handler)
	Off(event string)
	ClientID() string
	ApproveSession(ctx context.Context, accounts []string, chainID uint64) error
	RejectSession(ctx context.Context, reason *rpc.Error) error
	ApproveRequest(ctx context.Context, id uint64, result any) error
	RejectRequest(ctx context.Context, id uint64, reason *rpc.Error) error
	KillSession(ctx context.Context, reason *rpc.Error) error
	Close() error
}

// DialFunc creates the connector for one pairing.
type DialFunc func(ctx context.Context, uri *URI, meta session.Metadata) (Connector, error)

// DialBridge connects with the default websocket dialer.
func DialBridge(ctx context.Context, uri *URI, meta session.Metadata) (Connector, error) { //nolint:ireturn
	return Dial(ctx, uri, meta, nil)
}

var events = []string{EventSessionRequest, EventCallRequest, EventDisconnect, EventError}

// Adapter runs the v1 protocol for the session engine. Every Open creates a new
// connector that Close destroys.
type Adapter struct {
	meta session.Metadata
	dial DialFunc

	subs session.Subscriptions

	mu     sync.Mutex
	conn   Connector
	uri    *URI
	closed bool
}

func NewAdapter(meta session.Metadata, dial DialFunc) *Adapter {
	if dial == nil {
		dial = DialBridge
	}

	return &Adapter{meta: meta, dial: dial}
}

func (a *Adapter) Open(ctx context.Context, raw string, emit func(session.Event)) error {
	uri, err := ParseURI(raw)
	if err != nil {
		return err
	}

	conn, err := a.dial(ctx, uri, a.meta)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		_ = conn.Close()
		return ErrClosed
	}
	a.conn = conn
	a.uri = uri
	for _, event := range events {
		a.subs.Add(func() { conn.Off(event) })
	}

	conn.On(EventSessionRequest, func(err error, p *Payload) {
		if err != nil {
			emit(session.Event{Kind: session.EventFault, Err: err})
			return
		}
		proposal, err := toProposal(uri, p)
		if err != nil {
			emit(session.Event{Kind: session.EventFault, Err: err})
			return
		}
		emit(session.Event{Kind: session.EventPropose, Proposal: proposal})
	})

	conn.On(EventCallRequest, func(err error, p *Payload) {
		if err != nil {
			emit(session.Event{Kind: session.EventFault, Err: err})
			return
		}
		emit(session.Event{Kind: session.EventRequest, Request: &rpc.Request{
			ID:     p.ID,
			Method: p.Method,
			Params: p.Params,
			Topic:  conn.ClientID(),
		}})
	})

	conn.On(EventDisconnect, func(err error, _ *Payload) {
		if err != nil {
			emit(session.Event{Kind: session.EventFault, Err: err})
			return
		}
		emit(session.Event{Kind: session.EventDelete, Err: session.ErrSessionDeleted})
	})

	conn.On(EventError, func(err error, _ *Payload) {
		if err == nil {
			err = errors.New("unspecified connector error")
		}
		emit(session.Event{Kind: session.EventFault, Err: err})
	})

	return nil
}

func toProposal(uri *URI, p *Payload) (*session.Proposal, error) {
	var params []SessionRequest
	if err := json.Unmarshal(p.Params, &params); err != nil || len(params) == 0 {
		return nil, errors.New("malformed session request")
	}
	req := params[0]

	proposal := &session.Proposal{
		ID:    req.PeerID,
		Topic: uri.Topic,
		Peer:  req.PeerMeta,
	}
	if req.ChainID != nil {
		proposal.Chains = []string{fmt.Sprintf("celo:%d", *req.ChainID)}
	}

	return proposal, nil
}

func (a *Adapter) connector() (Connector, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn == nil || a.closed {
		return nil, session.ErrNotPaired
	}

	return a.conn, nil
}

func (a *Adapter) Approve(ctx context.Context, p *session.Proposal, accounts []common.Address, chainID uint64) (*session.Info, error) {
	conn, err := a.connector()
	if err != nil {
		return nil, err
	}

	hexAccounts := make([]string, len(accounts))
	for i, acc := range accounts {
		hexAccounts[i] = acc.Hex()
	}

	if err := conn.ApproveSession(ctx, hexAccounts, chainID); err != nil {
		return nil, err
	}

	return &session.Info{
		Topic:    p.Topic,
		Peer:     p.Peer,
		Accounts: accounts,
		ChainID:  chainID,
		Methods:  p.Methods,
	}, nil
}

func (a *Adapter) Reject(ctx context.Context, _ *session.Proposal, reason *rpc.Error) error {
	conn, err := a.connector()
	if err != nil {
		return err
	}

	return conn.RejectSession(ctx, reason)
}

func (a *Adapter) Reply(ctx context.Context, req *rpc.Request, reply *rpc.Reply) error {
	conn, err := a.connector()
	if err != nil {
		return err
	}

	if reply.Failed() {
		return conn.RejectRequest(ctx, req.ID, reply.Error)
	}

	return conn.ApproveRequest(ctx, req.ID, reply.Result)
}

func (a *Adapter) Disconnect(ctx context.Context, _ *session.Info, reason *rpc.Error) error {
	conn, err := a.connector()
	if err != nil {
		return err
	}

	return conn.KillSession(ctx, reason)
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	if a.conn == nil {
		return nil
	}
	a.subs.Release()

	return a.conn.Close()
}
