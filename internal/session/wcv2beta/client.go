// Package wcv2beta adapts the beta generation of the v2 pairing SDK to the session engine.
// The SDK client itself is supplied by the host through a ClientFactory.
package wcv2beta

import (
	"context"
	"encoding/json"

	"github.com/chapool/go-wallet-signer/internal/rpc"
	"github.com/chapool/go-wallet-signer/internal/session"
)

// SDK event names.
const (
	EventProposal = "session_proposal"
	EventCreated  = "session_created"
	EventUpdated  = "session_updated"
	EventPayload  = "session_payload"
	EventDeleted  = "session_deleted"
)

// Client is the beta SDK surface. Listeners are identified by the id On returns.
type Client interface {
	On(event string, h func(json.RawMessage)) int
	Off(event string, id int)
	Pair(ctx context.Context, uri string) error
	Approve(ctx context.Context, proposal *Proposal, response *Response) (*Settled, error)
	Reject(ctx context.Context, proposal *Proposal, reason Reason) error
	Respond(ctx context.Context, topic string, response *rpc.Reply) error
	Disconnect(ctx context.Context, topic string, reason Reason) error
	Destroy() error
}

// Options configure a client instance.
type Options struct {
	RelayURL string
	Metadata session.Metadata
}

// ClientFactory creates one client per session. The adapter destroys it on Close.
type ClientFactory func(ctx context.Context, opts Options) (Client, error)

type Permissions struct {
	Blockchain struct {
		Chains []string `json:"chains"`
	} `json:"blockchain"`
	JSONRPC struct {
		Methods []string `json:"methods"`
	} `json:"jsonrpc"`
}

type Participant struct {
	PublicKey string           `json:"publicKey"`
	Metadata  session.Metadata `json:"metadata"`
}

// Proposal is the session_proposal payload.
type Proposal struct {
	Topic       string      `json:"topic"`
	Proposer    Participant `json:"proposer"`
	Permissions Permissions `json:"permissions"`
	TTL         uint64      `json:"ttl"`
}

// State lists accounts as "<address>@<namespace>:<chain id>".
type State struct {
	Accounts []string `json:"accounts"`
}

type Response struct {
	Metadata session.Metadata `json:"metadata"`
	State    State            `json:"state"`
}

// Settled is the session_created and session_updated payload.
type Settled struct {
	Topic       string      `json:"topic"`
	Peer        Participant `json:"peer"`
	State       State       `json:"state"`
	Permissions Permissions `json:"permissions"`
}

// Payload is the session_payload event.
type Payload struct {
	Topic   string `json:"topic"`
	ChainID string `json:"chainId"`
	Request struct {
		ID      uint64          `json:"id"`
		JSONRPC string          `json:"jsonrpc"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
	} `json:"request"`
}

// Reason is the beta SDK's rejection and deletion reason.
type Reason struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type Deleted struct {
	Topic  string `json:"topic"`
	Reason Reason `json:"reason"`
}

func reasonFrom(err *rpc.Error) Reason {
	if err == nil {
		return Reason{Code: rpc.CodeUnknown, Message: "unknown"}
	}

	return Reason{Code: err.Code, Message: err.Message}
}
