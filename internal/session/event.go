package session

import (
	"context"
	"fmt"

	"github.com/chapool/go-wallet-signer/internal/rpc"
	"github.com/ethereum/go-ethereum/common"
)

// EventKind is the protocol independent event vocabulary adapters translate into.
type EventKind int

const (
	EventPropose EventKind = iota + 1
	EventSettle
	EventRequest
	EventDelete
	EventFault

	eventOpened
)

func (k EventKind) String() string {
	switch k {
	case EventPropose:
		return "propose"
	case EventSettle:
		return "settle"
	case EventRequest:
		return "request"
	case EventDelete:
		return "delete"
	case EventFault:
		return "fault"
	case eventOpened:
		return "opened"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Metadata describes a peer application or this wallet.
type Metadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Icons       []string `json:"icons"`
}

// Proposal is a peer's request to open a session.
type Proposal struct {
	// ID identifies the proposal to the adapter that emitted it
	ID    string
	Topic string
	Peer  Metadata
	// Chains in CAIP-2 form, e.g. "celo:44786"
	Chains  []string
	Methods []string
}

// Info describes a settled session.
type Info struct {
	Topic    string
	Peer     Metadata
	Accounts []common.Address
	ChainID  uint64
	Methods  []string
}

// Event is emitted by an Adapter. Only the field matching Kind is set.
type Event struct {
	Kind     EventKind
	Proposal *Proposal
	Session  *Info
	Request  *rpc.Request
	// Err is the delete reason or the fault
	Err error
}

// Adapter translates one protocol generation into the session event vocabulary.
// Implementations must be safe for Close racing an in-flight Open.
type Adapter interface {
	// Open creates the protocol client and pairs with uri. Events are passed to emit
	// until Close is called; emit never blocks.
	Open(ctx context.Context, uri string, emit func(Event)) error

	// Approve settles proposal p for accounts on chainID.
	Approve(ctx context.Context, p *Proposal, accounts []common.Address, chainID uint64) (*Info, error)

	// Reject declines proposal p with reason.
	Reject(ctx context.Context, p *Proposal, reason *rpc.Error) error

	// Reply answers req.
	Reply(ctx context.Context, req *rpc.Request, reply *rpc.Reply) error

	// Disconnect deletes the settled session on the peer side.
	Disconnect(ctx context.Context, s *Info, reason *rpc.Error) error

	// Close removes all protocol listeners and destroys the client. It is idempotent.
	Close() error
}
