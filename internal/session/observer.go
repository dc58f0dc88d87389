package session

import (
	"strconv"

	"github.com/chapool/go-wallet-signer/internal/rpc"
)

// Decision is the user's answer to the pending proposal or request. Password unlocks
// a locked signer before an approved request is dispatched.
type Decision struct {
	// ID is the ProposalKey or RequestKey of the item answered. A decision for anything
	// but the pending item is dropped.
	ID       string
	Approve  bool
	Password string
}

// ProposalKey names p in a Decision.
func ProposalKey(p *Proposal) string {
	return "proposal:" + p.ID
}

// RequestKey names call in a Decision.
func RequestKey(call *rpc.Call) string {
	return "request:" + strconv.FormatUint(call.Request.ID, 10)
}

// Observer is told about everything the host application has to show. Calls are made
// from the engine goroutine and must not block.
type Observer interface {
	StateChanged(from State, to State)
	// ProposalReceived asks for a Decision on p
	ProposalReceived(p *Proposal)
	// RequestReceived asks for a Decision on call
	RequestReceived(call *rpc.Call)
	RequestFinished(call *rpc.Call, reply *rpc.Reply)
	SessionFailed(err error)
}

// NopObserver ignores everything. Embed it to implement part of Observer.
type NopObserver struct{}

func (NopObserver) StateChanged(State, State)             {}
func (NopObserver) ProposalReceived(*Proposal)            {}
func (NopObserver) RequestReceived(*rpc.Call)             {}
func (NopObserver) RequestFinished(*rpc.Call, *rpc.Reply) {}
func (NopObserver) SessionFailed(error)                   {}

type multiObserver []Observer

// MultiObserver fans out every call to observers in order.
func MultiObserver(observers ...Observer) Observer { //nolint:ireturn
	return multiObserver(observers)
}

func (m multiObserver) StateChanged(from State, to State) {
	for _, o := range m {
		o.StateChanged(from, to)
	}
}

func (m multiObserver) ProposalReceived(p *Proposal) {
	for _, o := range m {
		o.ProposalReceived(p)
	}
}

func (m multiObserver) RequestReceived(call *rpc.Call) {
	for _, o := range m {
		o.RequestReceived(call)
	}
}

func (m multiObserver) RequestFinished(call *rpc.Call, reply *rpc.Reply) {
	for _, o := range m {
		o.RequestFinished(call, reply)
	}
}

func (m multiObserver) SessionFailed(err error) {
	for _, o := range m {
		o.SessionFailed(err)
	}
}
