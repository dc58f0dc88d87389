package wcv1

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chapool/go-wallet-signer/internal/rpc"
	"github.com/chapool/go-wallet-signer/internal/session"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Connector events.
const (
	EventSessionRequest = "session_request"
	EventConnect        = "connect"
	EventCallRequest    = "call_request"
	EventDisconnect     = "disconnect"
	EventError          = "error"
)

const (
	methodSessionRequest = "wc_sessionRequest"
	methodSessionUpdate  = "wc_sessionUpdate"

	writeTimeout = 10 * time.Second
)

var ErrClosed = errors.New("wcv1: client closed")

// Payload is a decrypted JSON-RPC message from the peer.
type Payload struct {
	ID      uint64          `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpc.Error      `json:"error,omitempty"`
}

// Handler receives connector events. err is set for EventError and for a lost bridge
// connection reported as EventDisconnect.
type Handler func(err error, payload *Payload)

// SessionRequest is the param of wc_sessionRequest.
type SessionRequest struct {
	PeerID   string           `json:"peerId"`
	PeerMeta session.Metadata `json:"peerMeta"`
	ChainID  *uint64          `json:"chainId"`
}

type sessionParams struct {
	Approved  bool              `json:"approved"`
	ChainID   *uint64           `json:"chainId"`
	NetworkID *uint64           `json:"networkId"`
	Accounts  []string          `json:"accounts"`
	RPCURL    string            `json:"rpcUrl,omitempty"`
	PeerID    string            `json:"peerId,omitempty"`
	PeerMeta  *session.Metadata `json:"peerMeta,omitempty"`
}

// socketMessage is the bridge envelope. Payload holds an encryptedPayload as JSON text.
type socketMessage struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Payload string `json:"payload"`
	Silent  bool   `json:"silent"`
}

// Client is a v1 connector speaking to a bridge server over a websocket.
type Client struct {
	uri      *URI
	clientID string
	meta     session.Metadata
	conn     *websocket.Conn
	log      zerolog.Logger

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu          sync.Mutex
	handlers    map[string]Handler
	peerID      string
	handshakeID uint64
	connected   bool
	closed      bool

	done chan struct{}
}

// Dial connects to the bridge named in uri and subscribes to the handshake topic and
// the client's own topic.
func Dial(ctx context.Context, uri *URI, meta session.Metadata, dialer *websocket.Dialer) (*Client, error) {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	socketURL, err := uri.socketURL()
	if err != nil {
		return nil, err
	}

	conn, resp, err := dialer.DialContext(ctx, socketURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to bridge %s", uri.Bridge)
	}

	c := &Client{
		uri:      uri,
		clientID: uuid.New().String(),
		meta:     meta,
		conn:     conn,
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
	}
	c.log = log.With().Str("component", "wcv1").Str("client_id", c.clientID).Logger()
	c.nextID.Store(uint64(time.Now().UnixMilli()) * 1000)

	for _, topic := range []string{uri.Topic, c.clientID} {
		if err := c.write(ctx, &socketMessage{Topic: topic, Type: "sub", Silent: true}); err != nil {
			_ = conn.Close()
			return nil, errors.Wrap(err, "failed to subscribe")
		}
	}

	go c.readLoop()

	return c, nil
}

// ClientID is the topic the peer publishes requests to.
func (c *Client) ClientID() string {
	return c.clientID
}

// PeerID is the topic replies are published to, empty before the session request.
func (c *Client) PeerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.peerID
}

// On sets the handler for event, replacing any previous one.
func (c *Client) On(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers[event] = h
}

func (c *Client) Off(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.handlers, event)
}

func (c *Client) ApproveSession(ctx context.Context, accounts []string, chainID uint64) error {
	c.mu.Lock()
	peerID, id := c.peerID, c.handshakeID
	c.mu.Unlock()
	if peerID == "" {
		return session.ErrNotPaired
	}

	networkID := uint64(0)
	err := c.publish(ctx, peerID, rpc.NewResult(id, &sessionParams{
		Approved:  true,
		ChainID:   &chainID,
		NetworkID: &networkID,
		Accounts:  accounts,
		PeerID:    c.clientID,
		PeerMeta:  &c.meta,
	}))
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	c.emit(EventConnect, nil, &Payload{ID: id, JSONRPC: rpc.Version})

	return nil
}

func (c *Client) RejectSession(ctx context.Context, reason *rpc.Error) error {
	c.mu.Lock()
	peerID, id := c.peerID, c.handshakeID
	c.mu.Unlock()
	if peerID == "" {
		return session.ErrNotPaired
	}

	return c.publish(ctx, peerID, &rpc.Reply{ID: id, JSONRPC: rpc.Version, Error: reason})
}

func (c *Client) ApproveRequest(ctx context.Context, id uint64, result any) error {
	return c.reply(ctx, rpc.NewResult(id, result))
}

func (c *Client) RejectRequest(ctx context.Context, id uint64, reason *rpc.Error) error {
	return c.reply(ctx, &rpc.Reply{ID: id, JSONRPC: rpc.Version, Error: reason})
}

// KillSession tells the peer the session is over.
func (c *Client) KillSession(ctx context.Context, reason *rpc.Error) error {
	c.mu.Lock()
	peerID, connected := c.peerID, c.connected
	c.connected = false
	c.mu.Unlock()
	if peerID == "" || !connected {
		return nil
	}

	params, err := json.Marshal([]sessionParams{{Approved: false}})
	if err != nil {
		return errors.Wrap(err, "failed to marshal session update")
	}

	c.log.Debug().Str("reason", reason.Message).Msg("Killing session")

	return c.publish(ctx, peerID, &Payload{
		ID:      c.nextID.Add(1),
		JSONRPC: rpc.Version,
		Method:  methodSessionUpdate,
		Params:  params,
	})
}

// Close drops the bridge connection. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.handlers = make(map[string]Handler)
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := c.conn.Close()
	<-c.done

	return err
}

func (c *Client) reply(ctx context.Context, reply *rpc.Reply) error {
	peerID := c.PeerID()
	if peerID == "" {
		return session.ErrNotPaired
	}

	return c.publish(ctx, peerID, reply)
}

func (c *Client) publish(ctx context.Context, topic string, message any) error {
	plaintext, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}

	sealed, err := encrypt(c.uri.Key, plaintext)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(sealed)
	if err != nil {
		return errors.Wrap(err, "failed to marshal payload")
	}

	return c.write(ctx, &socketMessage{Topic: topic, Type: "pub", Payload: string(payload), Silent: true})
}

func (c *Client) write(ctx context.Context, msg *socketMessage) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return errors.Wrap(err, "failed to set write deadline")
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return errors.Wrap(err, "failed to write to bridge")
	}

	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		var msg socketMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if c.isClosed() {
				return
			}
			c.emit(EventDisconnect, errors.Wrap(err, "bridge connection lost"), nil)
			return
		}

		if msg.Type != "pub" {
			continue
		}

		payload, err := c.open(msg.Payload)
		if err != nil {
			c.emit(EventError, err, nil)
			continue
		}

		c.route(payload)
	}
}

func (c *Client) open(raw string) (*Payload, error) {
	var sealed encryptedPayload
	if err := json.Unmarshal([]byte(raw), &sealed); err != nil {
		return nil, errors.Wrap(err, "malformed payload")
	}

	plaintext, err := decrypt(c.uri.Key, &sealed)
	if err != nil {
		return nil, err
	}

	var payload Payload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, errors.Wrap(err, "malformed json-rpc message")
	}

	return &payload, nil
}

func (c *Client) route(p *Payload) {
	switch p.Method {
	case "":
		c.log.Debug().Uint64("id", p.ID).Msg("Ignoring response from peer")

	case methodSessionRequest:
		var params []SessionRequest
		if err := json.Unmarshal(p.Params, &params); err != nil || len(params) == 0 || params[0].PeerID == "" {
			c.emit(EventError, errors.New("malformed session request"), p)
			return
		}

		c.mu.Lock()
		c.peerID = params[0].PeerID
		c.handshakeID = p.ID
		c.mu.Unlock()

		c.emit(EventSessionRequest, nil, p)

	case methodSessionUpdate:
		var params []sessionParams
		if err := json.Unmarshal(p.Params, &params); err != nil || len(params) == 0 {
			c.emit(EventError, errors.New("malformed session update"), p)
			return
		}
		if params[0].Approved {
			return
		}

		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()

		c.emit(EventDisconnect, nil, p)

	default:
		c.emit(EventCallRequest, nil, p)
	}
}

func (c *Client) emit(event string, err error, p *Payload) {
	c.mu.Lock()
	h := c.handlers[event]
	c.mu.Unlock()

	if h != nil {
		h(err, p)
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}
