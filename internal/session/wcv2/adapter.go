package wcv2

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/chapool/go-wallet-signer/internal/rpc"
	"github.com/chapool/go-wallet-signer/internal/session"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

var ErrClosed = errors.New("wcv2: adapter closed")

// Adapter runs the v2 protocol for the session engine.
type Adapter struct {
	opts    Options
	factory ClientFactory
	subs    session.Subscriptions
	log     zerolog.Logger

	mu        sync.Mutex
	client    Client
	proposals map[string]*ProposalParams
	closed    bool
}

func NewAdapter(opts Options, factory ClientFactory) *Adapter {
	return &Adapter{
		opts:      opts,
		factory:   factory,
		log:       log.With().Str("component", "wcv2").Logger(),
		proposals: make(map[string]*ProposalParams),
	}
}

func (a *Adapter) Open(ctx context.Context, uri string, emit func(session.Event)) error {
	v, err := session.PairingVersion(uri)
	if err != nil {
		return err
	}
	if v != 2 {
		return errors.Wrapf(session.ErrInvalidURI, "version %d is not served by this adapter", v)
	}

	client, err := a.factory(ctx, a.opts)
	if err != nil {
		return errors.Wrap(err, "failed to create sign client")
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		_ = client.Shutdown(context.WithoutCancel(ctx))
		return ErrClosed
	}
	a.client = client
	a.mu.Unlock()

	a.subscribe(client, emit)

	return client.Pair(ctx, uri)
}

func (a *Adapter) subscribe(client Client, emit func(session.Event)) {
	on := func(event string, h func(Event) (session.Event, bool)) {
		a.subs.Add(client.On(event, func(ev Event) {
			if out, ok := h(ev); ok {
				emit(out)
			}
		}))
	}

	on(EventProposal, func(ev Event) (session.Event, bool) {
		var p ProposalParams
		if err := json.Unmarshal(ev.Params, &p); err != nil {
			return fault(EventProposal, err), true
		}
		if p.ID == 0 {
			p.ID = ev.ID
		}
		id := strconv.FormatUint(p.ID, 10)

		a.mu.Lock()
		a.proposals[id] = &p
		a.mu.Unlock()

		return session.Event{Kind: session.EventPropose, Proposal: &session.Proposal{
			ID:      id,
			Topic:   p.PairingTopic,
			Peer:    p.Proposer.Metadata,
			Chains:  requestedChains(p.RequiredNamespaces),
			Methods: requestedMethods(p.RequiredNamespaces),
		}}, true
	})

	on(EventRequest, func(ev Event) (session.Event, bool) {
		var p RequestParams
		if err := json.Unmarshal(ev.Params, &p); err != nil || p.Request.Method == "" {
			return fault(EventRequest, err), true
		}
		return session.Event{Kind: session.EventRequest, Request: &rpc.Request{
			ID:      ev.ID,
			Method:  p.Request.Method,
			Params:  p.Request.Params,
			ChainID: p.ChainID,
			Topic:   ev.Topic,
		}}, true
	})

	on(EventUpdate, func(ev Event) (session.Event, bool) {
		var p UpdateParams
		if err := json.Unmarshal(ev.Params, &p); err != nil {
			return fault(EventUpdate, err), true
		}
		accounts, chainID, err := settledAccounts(p.Namespaces)
		if err != nil {
			return fault(EventUpdate, err), true
		}
		return session.Event{Kind: session.EventSettle, Session: &session.Info{
			Topic:    ev.Topic,
			Accounts: accounts,
			ChainID:  chainID,
			Methods:  requestedMethods(p.Namespaces),
		}}, true
	})

	on(EventDelete, func(ev Event) (session.Event, bool) {
		return session.Event{Kind: session.EventDelete, Err: session.ErrSessionDeleted}, true
	})

	on(EventExpire, func(ev Event) (session.Event, bool) {
		return session.Event{Kind: session.EventDelete, Err: errors.Wrap(session.ErrSessionDeleted, "session expired")}, true
	})

	on(EventPing, func(ev Event) (session.Event, bool) {
		a.log.Debug().Str("topic", ev.Topic).Msg("Session ping")
		return session.Event{}, false
	})
}

func fault(event string, err error) session.Event {
	if err == nil {
		err = errors.New("missing fields")
	}

	return session.Event{Kind: session.EventFault, Err: errors.Wrapf(err, "malformed %s", event)}
}

func (a *Adapter) take(p *session.Proposal) (Client, *ProposalParams, error) {
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

// Approve settles the proposal and waits for the peer to acknowledge it.
func (a *Adapter) Approve(ctx context.Context, p *session.Proposal, accounts []common.Address, chainID uint64) (*session.Info, error) {
	client, proposal, err := a.take(p)
	if err != nil {
		return nil, err
	}

	namespaces := settledNamespaces(proposal.RequiredNamespaces, accounts, chainID)
	approval, err := client.Approve(ctx, ApproveParams{ID: proposal.ID, Namespaces: namespaces})
	if err != nil {
		return nil, err
	}

	info := &session.Info{
		Topic:    approval.Topic,
		Peer:     proposal.Proposer.Metadata,
		Accounts: accounts,
		ChainID:  chainID,
		Methods:  requestedMethods(namespaces),
	}
	if approval.Acknowledged == nil {
		return info, nil
	}

	settled, err := approval.Acknowledged(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "session not acknowledged")
	}
	info.Topic = settled.Topic
	if settled.Peer.Metadata.Name != "" {
		info.Peer = settled.Peer.Metadata
	}

	return info, nil
}

func (a *Adapter) Reject(ctx context.Context, p *session.Proposal, reason *rpc.Error) error {
	client, proposal, err := a.take(p)
	if err != nil {
		return err
	}

	return client.Reject(ctx, RejectParams{ID: proposal.ID, Reason: errorResponse(reason)})
}

func (a *Adapter) Reply(ctx context.Context, req *rpc.Request, reply *rpc.Reply) error {
	client, err := a.current()
	if err != nil {
		return err
	}

	return client.Respond(ctx, RespondParams{Topic: req.Topic, Response: reply})
}

func (a *Adapter) Disconnect(ctx context.Context, s *session.Info, reason *rpc.Error) error {
	client, err := a.current()
	if err != nil {
		return err
	}

	return client.Disconnect(ctx, DisconnectParams{Topic: s.Topic, Reason: errorResponse(reason)})
}

// Close removes every listener and shuts the client down.
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

	a.subs.Release()
	if client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return client.Shutdown(ctx)
}
