package wcv2beta

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/chapool/go-wallet-signer/internal/rpc"
	"github.com/chapool/go-wallet-signer/internal/session"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

var ErrClosed = errors.New("wcv2beta: adapter closed")

// Adapter runs the beta protocol for the session engine.
type Adapter struct {
	opts    Options
	factory ClientFactory
	subs    session.Subscriptions

	mu        sync.Mutex
	client    Client
	proposals map[string]*Proposal
	closed    bool
}

func NewAdapter(opts Options, factory ClientFactory) *Adapter {
	return &Adapter{
		opts:      opts,
		factory:   factory,
		proposals: make(map[string]*Proposal),
	}
}

func (a *Adapter) Open(ctx context.Context, uri string, emit func(session.Event)) error {
	if v, err := session.PairingVersion(uri); err != nil {
		return err
	} else if v != 2 {
		return errors.Wrapf(session.ErrInvalidURI, "version %d is not served by this adapter", v)
	}

	client, err := a.factory(ctx, a.opts)
	if err != nil {
		return errors.Wrap(err, "failed to create client")
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		_ = client.Destroy()
		return ErrClosed
	}
	a.client = client
	a.subscribe(client, emit)
	a.mu.Unlock()

	return client.Pair(ctx, uri)
}

func (a *Adapter) subscribe(client Client, emit func(session.Event)) {
	on := func(event string, h func(json.RawMessage) session.Event) {
		id := client.On(event, func(raw json.RawMessage) {
			emit(h(raw))
		})
		a.subs.Add(func() { client.Off(event, id) })
	}

	on(EventProposal, func(raw json.RawMessage) session.Event {
		var p Proposal
		if err := json.Unmarshal(raw, &p); err != nil || p.Topic == "" {
			return fault(EventProposal, err)
		}

		a.mu.Lock()
		a.proposals[p.Topic] = &p
		a.mu.Unlock()

		return session.Event{Kind: session.EventPropose, Proposal: &session.Proposal{
			ID:      p.Topic,
			Topic:   p.Topic,
			Peer:    p.Proposer.Metadata,
			Chains:  p.Permissions.Blockchain.Chains,
			Methods: p.Permissions.JSONRPC.Methods,
		}}
	})

	settled := func(event string) func(json.RawMessage) session.Event {
		return func(raw json.RawMessage) session.Event {
			var s Settled
			if err := json.Unmarshal(raw, &s); err != nil {
				return fault(event, err)
			}
			info, err := toInfo(&s)
			if err != nil {
				return fault(event, err)
			}
			return session.Event{Kind: session.EventSettle, Session: info}
		}
	}
	on(EventCreated, settled(EventCreated))
	on(EventUpdated, settled(EventUpdated))

	on(EventPayload, func(raw json.RawMessage) session.Event {
		var p Payload
		if err := json.Unmarshal(raw, &p); err != nil || p.Request.Method == "" {
			return fault(EventPayload, err)
		}
		return session.Event{Kind: session.EventRequest, Request: &rpc.Request{
			ID:      p.Request.ID,
			Method:  p.Request.Method,
			Params:  p.Request.Params,
			ChainID: p.ChainID,
			Topic:   p.Topic,
		}}
	})

	on(EventDeleted, func(raw json.RawMessage) session.Event {
		var d Deleted
		if err := json.Unmarshal(raw, &d); err != nil {
			return fault(EventDeleted, err)
		}
		return session.Event{
			Kind: session.EventDelete,
			Err:  errors.Wrapf(session.ErrSessionDeleted, "%s (%d)", d.Reason.Message, d.Reason.Code),
		}
	})
}

func fault(event string, err error) session.Event {
	if err == nil {
		err = errors.New("missing fields")
	}

	return session.Event{Kind: session.EventFault, Err: errors.Wrapf(err, "malformed %s", event)}
}

func toInfo(s *Settled) (*session.Info, error) {
	info := &session.Info{
		Topic:   s.Topic,
		Peer:    s.Peer.Metadata,
		Methods: s.Permissions.JSONRPC.Methods,
	}

	for _, acc := range s.State.Accounts {
		addr, chain, ok := strings.Cut(acc, "@")
		if !ok || !common.IsHexAddress(addr) {
			return nil, errors.Errorf("invalid account %q", acc)
		}
		chainID, err := rpc.ParseChainID(chain)
		if err != nil {
			return nil, err
		}
		info.Accounts = append(info.Accounts, common.HexToAddress(addr))
		info.ChainID = chainID
	}

	return info, nil
}

func (a *Adapter) lookup(p *session.Proposal) (Client, *Proposal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client == nil || a.closed {
		return nil, nil, session.ErrNotPaired
	}
	proposal, ok := a.proposals[p.ID]
	if !ok {
		return nil, nil, errors.Errorf("unknown proposal %s", p.ID)
	}
	delete(a.proposals, p.ID)

	return a.client, proposal, nil
}

func (a *Adapter) current() (Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client == nil || a.closed {
		return nil, session.ErrNotPaired
	}

	return a.client, nil
}

func (a *Adapter) Approve(ctx context.Context, p *session.Proposal, accounts []common.Address, chainID uint64) (*session.Info, error) {
	client, proposal, err := a.lookup(p)
	if err != nil {
		return nil, err
	}

	response := &Response{Metadata: a.opts.Metadata}
	for _, acc := range accounts {
		response.State.Accounts = append(response.State.Accounts, fmt.Sprintf("%s@celo:%d", acc.Hex(), chainID))
	}

	settled, err := client.Approve(ctx, proposal, response)
	if err != nil {
		return nil, err
	}

	info, err := toInfo(settled)
	if err != nil {
		return nil, err
	}
	if info.ChainID == 0 {
		info.ChainID = chainID
	}

	return info, nil
}

func (a *Adapter) Reject(ctx context.Context, p *session.Proposal, reason *rpc.Error) error {
	client, proposal, err := a.lookup(p)
	if err != nil {
		return err
	}

	return client.Reject(ctx, proposal, reasonFrom(reason))
}

func (a *Adapter) Reply(ctx context.Context, req *rpc.Request, reply *rpc.Reply) error {
	client, err := a.current()
	if err != nil {
		return err
	}

	return client.Respond(ctx, req.Topic, reply)
}

func (a *Adapter) Disconnect(ctx context.Context, s *session.Info, reason *rpc.Error) error {
	client, err := a.current()
	if err != nil {
		return err
	}

	return client.Disconnect(ctx, s.Topic, reasonFrom(reason))
}

// Close unsubscribes every listener and destroys the client.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	client := a.client
	a.client = nil
	clear(a.proposals)
	a.mu.Unlock()

	if client == nil {
		return nil
	}
	a.subs.Release()

	return client.Destroy()
}
