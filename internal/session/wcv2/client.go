// Package wcv2 adapts the v2 sign client to the session engine. The SDK client is
// supplied by the host through a ClientFactory.
package wcv2

import (
	"context"
	"encoding/json"

	"github.com/chapool/go-wallet-signer/internal/rpc"
	"github.com/chapool/go-wallet-signer/internal/session"
)

// SDK event names.
const (
	EventProposal = "session_proposal"
	EventRequest  = "session_request"
	EventUpdate   = "session_update"
	EventDelete   = "session_delete"
	EventExpire   = "session_expire"
	EventPing     = "session_ping"
)

// Client is the v2 sign client surface. On returns the function that removes the
// listener.
type Client interface {
	On(event string, h func(Event)) (unsubscribe func())
	Pair(ctx context.Context, uri string) error
	Approve(ctx context.Context, params ApproveParams) (*Approval, error)
	Reject(ctx context.Context, params RejectParams) error
	Respond(ctx context.Context, params RespondParams) error
	Disconnect(ctx context.Context, params DisconnectParams) error
	Shutdown(ctx context.Context) error
}

type Options struct {
	ProjectID string
	RelayURL  string
	Metadata  session.Metadata
}

// ClientFactory creates one client per session. The adapter shuts it down on Close.
type ClientFactory func(ctx context.Context, opts Options) (Client, error)

// Event is what the client passes to listeners.
type Event struct {
	ID     uint64          `json:"id"`
	Topic  string          `json:"topic"`
	Params json.RawMessage `json:"params"`
}

// Namespace is a CAIP-25 namespace. Accounts are "<namespace>:<chain id>:<address>".
type Namespace struct {
	Chains   []string `json:"chains,omitempty"`
	Methods  []string `json:"methods"`
	Events   []string `json:"events"`
	Accounts []string `json:"accounts,omitempty"`
}

type Proposer struct {
	PublicKey string           `json:"publicKey"`
	Metadata  session.Metadata `json:"metadata"`
}

type ProposalParams struct {
	ID                 uint64               `json:"id"`
	Expiry             int64                `json:"expiry"`
	PairingTopic       string               `json:"pairingTopic"`
	Proposer           Proposer             `json:"proposer"`
	RequiredNamespaces map[string]Namespace `json:"requiredNamespaces"`
	OptionalNamespaces map[string]Namespace `json:"optionalNamespaces,omitempty"`
}

type RequestParams struct {
	ChainID string `json:"chainId"`
	Request struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	} `json:"request"`
}

type UpdateParams struct {
	Namespaces map[string]Namespace `json:"namespaces"`
}

type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type ApproveParams struct {
	ID         uint64               `json:"id"`
	Namespaces map[string]Namespace `json:"namespaces"`
}

// Approval is returned before the peer settles the session. Acknowledged waits for
// the peer's settlement.
type Approval struct {
	Topic        string
	Acknowledged func(ctx context.Context) (*Session, error)
}

type Session struct {
	Topic      string               `json:"topic"`
	Expiry     int64                `json:"expiry"`
	Namespaces map[string]Namespace `json:"namespaces"`
	Peer       Proposer             `json:"peer"`
}

type RejectParams struct {
	ID     uint64        `json:"id"`
	Reason ErrorResponse `json:"reason"`
}

type RespondParams struct {
	Topic    string     `json:"topic"`
	Response *rpc.Reply `json:"response"`
}

type DisconnectParams struct {
	Topic  string        `json:"topic"`
	Reason ErrorResponse `json:"reason"`
}

func errorResponse(err *rpc.Error) ErrorResponse {
	if err == nil {
		return ErrorResponse{Code: rpc.CodeUnknown, Message: "unknown"}
	}

	return ErrorResponse{Code: err.Code, Message: err.Message}
}
