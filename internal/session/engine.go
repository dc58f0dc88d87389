package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chapool/go-wallet-signer/internal/rpc"
	"github.com/chapool/go-wallet-signer/internal/util"
	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const teardownTimeout = 10 * time.Second

// Config bounds the waits of a session. A zero duration disables that bound.
type Config struct {
	HandshakeTimeout time.Duration
	ProposalTimeout  time.Duration
	RequestTimeout   time.Duration
	// DismissDelay is how long a finished request stays visible before the session
	// returns to settled
	DismissDelay time.Duration
}

// Dispatcher serves approved calls. rpc.Dispatcher satisfies it.
type Dispatcher interface {
	Handle(ctx context.Context, call *rpc.Call, password string) *rpc.Reply
}

// Dependencies are the collaborators of an Engine. Observer and Clock are optional.
type Dependencies struct {
	Validator  *rpc.Validator
	Dispatcher Dispatcher
	Signers    rpc.Signers
	Decisions  <-chan Decision
	Observer   Observer
	Clock      clock.Clock
}

// Engine runs one session over an Adapter. All state is owned by the goroutine
// executing Run; other goroutines only read State or call Disconnect.
type Engine struct {
	cfg     Config
	adapter Adapter
	deps    Dependencies

	state        atomic.Int32
	started      atomic.Bool
	disconnected atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc

	events *eventQueue
	log    zerolog.Logger

	// owned by the Run goroutine
	proposal *Proposal
	session  *Info
	pending  *rpc.Call
	queue    []*rpc.Call
	timeout  <-chan time.Time
	dismiss  <-chan time.Time
	opened   bool
	deleted  bool
}

func NewEngine(cfg Config, adapter Adapter, deps Dependencies) *Engine {
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewDefaultClock()
	}

	return &Engine{
		cfg:     cfg,
		adapter: adapter,
		deps:    deps,
		events:  newEventQueue(),
	}
}

// State returns the current state. Safe for concurrent use.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Disconnect ends the session. A request being dispatched is finished first.
func (e *Engine) Disconnect() {
	e.disconnected.Store(true)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel != nil {
		e.cancel()
	}
}

// Run pairs with uri and serves the session until it ends. It returns nil when the
// session is disconnected locally or deleted by the peer, and the cause otherwise.
// An Engine runs once.
func (e *Engine) Run(ctx context.Context, uri string) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	e.log = util.LogFromContext(ctx).With().Str("component", "session").Logger()
	ctx = util.WithLogger(ctx, e.log)

	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	defer cancel()

	if e.disconnected.Load() {
		return nil
	}

	e.setState(StateInitializing)

	go func() {
		err := e.adapter.Open(ctx, uri, e.events.push)
		e.events.push(Event{Kind: eventOpened, Err: err})
	}()
	e.timeout = e.after(e.cfg.HandshakeTimeout)

	err := e.loop(ctx)
	e.teardown(ctx, err)

	switch {
	case err == nil:
		return nil
	case e.disconnected.Load() && errors.Is(err, context.Canceled):
		return nil
	default:
		return err
	}
}

func (e *Engine) loop(ctx context.Context) error {
	for {
		var decisions <-chan Decision
		if e.awaitingDecision() {
			decisions = e.deps.Decisions
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-e.events.ready():
			for {
				ev, ok := e.events.pop()
				if !ok {
					break
				}
				done, err := e.handleEvent(ctx, ev)
				if done || err != nil {
					return err
				}
			}

		case d, ok := <-decisions:
			if !ok {
				// the host is gone; nobody can answer anymore
				return nil
			}
			done, err := e.handleDecision(ctx, d)
			if done || err != nil {
				return err
			}

		case <-e.timeout:
			e.timeout = nil
			done, err := e.handleTimeout(ctx)
			if done || err != nil {
				return err
			}

		case <-e.dismiss:
			e.dismiss = nil
			e.setState(StateSettled)
			e.next()
		}
	}
}

func (e *Engine) awaitingDecision() bool {
	switch e.State() {
	case StateProposalPending, StateRequestPending:
		return true
	default:
		return false
	}
}

// handleEvent reports done when the session ended without error.
func (e *Engine) handleEvent(ctx context.Context, ev Event) (bool, error) {
	e.log.Debug().Str("event", ev.Kind.String()).Str("state", e.State().String()).Msg("Session event")

	switch ev.Kind {
	case eventOpened:
		if ev.Err != nil {
			return false, errors.Wrap(ev.Err, "failed to pair")
		}
		e.opened = true
		if e.State() == StateInitializing {
			e.timeout = e.after(e.cfg.ProposalTimeout)
		}
		return false, nil

	case EventPropose:
		return false, e.handleProposal(ctx, ev.Proposal)

	case EventSettle:
		if ev.Session == nil || !e.State().Settled() {
			e.log.Debug().Msg("Ignoring settle event outside a settled session")
			return false, nil
		}
		e.session = ev.Session
		return false, nil

	case EventRequest:
		return false, e.handleRequest(ctx, ev.Request)

	case EventDelete:
		e.deleted = true
		e.log.Info().AnErr("reason", ev.Err).Msg("Session deleted by peer")
		return true, nil

	case EventFault:
		if ev.Err == nil {
			return false, Faultf("fault event without cause")
		}
		return false, NewFault(ev.Err)

	default:
		return false, Faultf("unknown event %s", ev.Kind)
	}
}

func (e *Engine) handleProposal(ctx context.Context, p *Proposal) error {
	if p == nil {
		return Faultf("empty proposal")
	}
	if e.State() != StateInitializing {
		return Faultf("unexpected proposal in state %s", e.State())
	}

	e.proposal = p

	if err := e.deps.Validator.ValidateProposal(p.Chains, p.Methods); err != nil {
		e.log.Warn().Err(err).Str("peer", p.Peer.Name).Msg("Rejecting unsupported proposal")
		if rejectErr := e.adapter.Reject(ctx, p, rpc.ErrorFrom(err)); rejectErr != nil {
			e.log.Warn().Err(rejectErr).Msg("Failed to reject proposal")
		}
		e.proposal = nil
		return &RejectionError{Err: err}
	}

	e.drainDecisions()
	e.setState(StateProposalPending)
	e.timeout = e.after(e.cfg.ProposalTimeout)
	e.deps.Observer.ProposalReceived(p)

	return nil
}

func (e *Engine) handleRequest(ctx context.Context, req *rpc.Request) error {
	if req == nil {
		return Faultf("empty request")
	}
	if !e.State().Settled() {
		return Faultf("request %d before session settled", req.ID)
	}

	call, err := e.deps.Validator.ValidateRequest(req)
	if err != nil {
		e.log.Info().Err(err).Uint64("request_id", req.ID).Str("method", req.Method).Msg("Denying invalid request")
		reply := rpc.NewErrorReply(req.ID, err)
		e.reply(ctx, req, reply)
		e.deps.Observer.RequestFinished(&rpc.Call{Request: req}, reply)
		return nil
	}

	e.queue = append(e.queue, call)
	if e.State() == StateSettled {
		e.next()
	}

	return nil
}

// next moves the oldest queued request to pending.
func (e *Engine) next() {
	if len(e.queue) == 0 {
		return
	}

	e.pending = e.queue[0]
	e.queue[0] = nil
	e.queue = e.queue[1:]

	e.drainDecisions()
	e.setState(StateRequestPending)
	e.timeout = e.after(e.cfg.RequestTimeout)
	e.deps.Observer.RequestReceived(e.pending)
}

func (e *Engine) handleDecision(ctx context.Context, d Decision) (bool, error) {
	switch e.State() {
	case StateProposalPending:
		if key := ProposalKey(e.proposal); d.ID != key {
			e.log.Warn().Str("decision", d.ID).Str("pending", key).Msg("Dropping decision for another proposal")
			return false, nil
		}
		e.timeout = nil
		return e.decideProposal(ctx, d)
	case StateRequestPending:
		if key := RequestKey(e.pending); d.ID != key {
			e.log.Warn().Str("decision", d.ID).Str("pending", key).Msg("Dropping decision for another request")
			return false, nil
		}
		e.timeout = nil
		if !d.Approve {
			e.finish(ctx, rpc.NewErrorReply(e.pending.Request.ID, rpc.ErrNotApproved), false)
			return false, nil
		}
		e.dispatch(ctx, d.Password)
		return false, nil
	default:
		return false, nil
	}
}

func (e *Engine) decideProposal(ctx context.Context, d Decision) (bool, error) {
	p := e.proposal
	e.proposal = nil

	if !d.Approve {
		if err := e.adapter.Reject(ctx, p, rpc.ErrNotApproved); err != nil {
			e.log.Warn().Err(err).Msg("Failed to reject proposal")
		}
		return true, nil
	}

	identity, _, err := e.deps.Signers.Active()
	if err != nil {
		if rejectErr := e.adapter.Reject(ctx, p, rpc.ErrorFrom(err)); rejectErr != nil {
			e.log.Warn().Err(rejectErr).Msg("Failed to reject proposal")
		}
		return false, err
	}

	info, err := e.adapter.Approve(ctx, p, []common.Address{identity.Address}, e.deps.Validator.ChainID())
	if err != nil {
		return false, errors.Wrap(err, "failed to approve session")
	}

	e.session = info
	e.setState(StateSettled)
	e.log.Info().Str("peer", info.Peer.Name).Str("topic", info.Topic).Msg("Session settled")

	return false, nil
}

// dispatch serves the pending call. It runs on the engine goroutine and is not
// cancelled by Disconnect.
func (e *Engine) dispatch(ctx context.Context, password string) {
	e.setState(StateRequestActive)

	reply := e.deps.Dispatcher.Handle(context.WithoutCancel(ctx), e.pending, password)
	e.finish(ctx, reply, true)
}

// finish sends reply for the pending call. Dispatched calls pass through
// RequestComplete or RequestFailed; denials return to settled directly.
func (e *Engine) finish(ctx context.Context, reply *rpc.Reply, dispatched bool) {
	call := e.pending
	e.pending = nil

	e.reply(ctx, call.Request, reply)
	e.deps.Observer.RequestFinished(call, reply)

	if !dispatched {
		e.setState(StateSettled)
		e.next()
		return
	}

	if reply.Failed() {
		e.setState(StateRequestFailed)
	} else {
		e.setState(StateRequestComplete)
	}

	if e.cfg.DismissDelay <= 0 {
		e.setState(StateSettled)
		e.next()
		return
	}
	e.dismiss = e.deps.Clock.TickAfter(e.cfg.DismissDelay)
}

func (e *Engine) reply(ctx context.Context, req *rpc.Request, reply *rpc.Reply) {
	if err := e.adapter.Reply(context.WithoutCancel(ctx), req, reply); err != nil {
		e.log.Warn().Err(err).Uint64("request_id", req.ID).Msg("Failed to send reply")
	}
}

func (e *Engine) handleTimeout(ctx context.Context) (bool, error) {
	switch e.State() {
	case StateInitializing:
		if e.opened {
			return false, ErrProposalTimeout
		}
		return false, ErrHandshakeTimeout
	case StateProposalPending:
		p := e.proposal
		e.proposal = nil
		e.log.Info().Str("peer", p.Peer.Name).Msg("Proposal timed out")
		if err := e.adapter.Reject(ctx, p, rpc.ErrProposalTimedOut); err != nil {
			e.log.Warn().Err(err).Msg("Failed to reject proposal")
		}
		return false, ErrProposalTimeout
	case StateRequestPending:
		e.log.Info().Uint64("request_id", e.pending.Request.ID).Msg("Request timed out")
		e.finish(ctx, rpc.NewErrorReply(e.pending.Request.ID, rpc.ErrRequestTimedOut), false)
		return false, nil
	default:
		return false, nil
	}
}

func (e *Engine) teardown(ctx context.Context, cause error) {
	e.events.close()
	e.timeout = nil
	e.dismiss = nil

	notice, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	if e.session != nil && !e.deleted {
		reason := rpc.NewError(rpc.CodeNotApproved, "session disconnected")
		if cause != nil && !errors.Is(cause, context.Canceled) {
			reason = rpc.ErrorFrom(cause)
		}
		if err := e.adapter.Disconnect(notice, e.session, reason); err != nil {
			e.log.Warn().Err(err).Msg("Failed to send disconnect")
		}
	}

	if err := e.adapter.Close(); err != nil {
		e.log.Warn().Err(err).Msg("Failed to close protocol client")
	}

	switch {
	case cause == nil,
		errors.Is(cause, context.Canceled),
		errors.Is(cause, context.DeadlineExceeded),
		errors.Is(cause, ErrProposalRejected):
		e.setState(StateDisconnected)
	default:
		e.setState(StateError)
		e.deps.Observer.SessionFailed(cause)
	}
}

func (e *Engine) setState(to State) {
	from := State(e.state.Swap(int32(to)))
	if from == to {
		return
	}

	e.log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("Session state changed")
	e.deps.Observer.StateChanged(from, to)
}

func (e *Engine) after(d time.Duration) <-chan time.Time {
	if d <= 0 {
		return nil
	}

	return e.deps.Clock.TickAfter(d)
}

// drainDecisions drops answers given before the user was asked.
func (e *Engine) drainDecisions() {
	for {
		select {
		case _, ok := <-e.deps.Decisions:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
