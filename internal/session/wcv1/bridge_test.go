package wcv1

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

// bridge is an in-memory relay: "sub" registers a socket for a topic, "pub" forwards to
// the topic's subscribers or keeps the message until one subscribes.
type bridge struct {
	server *httptest.Server

	mu      sync.Mutex
	subs    map[string][]*bridgeConn
	pending map[string][]socketMessage
	conns   []*bridgeConn
}

type bridgeConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *bridgeConn) send(msg socketMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.WriteJSON(msg)
}

func newBridge(t *testing.T) *bridge {
	t.Helper()

	b := &bridge{
		subs:    make(map[string][]*bridgeConn),
		pending: make(map[string][]socketMessage),
	}
	upgrader := websocket.Upgrader{}

	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		bc := &bridgeConn{conn: conn}
		b.mu.Lock()
		b.conns = append(b.conns, bc)
		b.mu.Unlock()

		for {
			var msg socketMessage
			if err := conn.ReadJSON(&msg); err != nil {
				b.drop(bc)
				return
			}
			b.handle(bc, msg)
		}
	}))
	t.Cleanup(b.server.Close)

	return b
}

func (b *bridge) handle(from *bridgeConn, msg socketMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch msg.Type {
	case "sub":
		b.subs[msg.Topic] = append(b.subs[msg.Topic], from)
		for _, queued := range b.pending[msg.Topic] {
			from.send(queued)
		}
		delete(b.pending, msg.Topic)
	case "pub":
		from.send(socketMessage{Topic: msg.Topic, Type: "ack", Silent: true})
		subs := b.subs[msg.Topic]
		if len(subs) == 0 {
			b.pending[msg.Topic] = append(b.pending[msg.Topic], msg)
			return
		}
		for _, sub := range subs {
			sub.send(msg)
		}
	}
}

func (b *bridge) drop(c *bridgeConn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subs {
		kept := subs[:0]
		for _, s := range subs {
			if s != c {
				kept = append(kept, s)
			}
		}
		b.subs[topic] = kept
	}
}

// kill drops every socket without a close handshake.
func (b *bridge) kill() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range b.conns {
		_ = c.conn.Close()
	}
}

func (b *bridge) uri(key []byte, topic string) *URI {
	return &URI{Topic: topic, Bridge: b.server.URL, Key: key}
}

// dapp is the peer side of a v1 session.
type dapp struct {
	t    *testing.T
	conn *websocket.Conn
	key  []byte
	id   string
	msgs chan *Payload

	writeMu sync.Mutex
}

func newDapp(t *testing.T, b *bridge, key []byte, id string) *dapp {
	t.Helper()

	url := "ws" + strings.TrimPrefix(b.server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	d := &dapp{t: t, conn: conn, key: key, id: id, msgs: make(chan *Payload, 16)}
	d.write(socketMessage{Topic: id, Type: "sub", Silent: true})

	go func() {
		for {
			var msg socketMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type != "pub" {
				continue
			}
			var sealed encryptedPayload
			if err := json.Unmarshal([]byte(msg.Payload), &sealed); err != nil {
				continue
			}
			plaintext, err := decrypt(key, &sealed)
			if err != nil {
				continue
			}
			var p Payload
			if err := json.Unmarshal(plaintext, &p); err != nil {
				continue
			}
			d.msgs <- &p
		}
	}()

	return d
}

func (d *dapp) write(msg socketMessage) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	require.NoError(d.t, d.conn.WriteJSON(msg))
}

func (d *dapp) publish(topic string, message any) {
	plaintext, err := json.Marshal(message)
	require.NoError(d.t, err)

	sealed, err := encrypt(d.key, plaintext)
	require.NoError(d.t, err)

	raw, err := json.Marshal(sealed)
	require.NoError(d.t, err)

	d.write(socketMessage{Topic: topic, Type: "pub", Payload: string(raw)})
}

func (d *dapp) request(topic string, id uint64, method string, params any) {
	raw, err := json.Marshal(params)
	require.NoError(d.t, err)

	d.publish(topic, &Payload{ID: id, JSONRPC: "2.0", Method: method, Params: raw})
}

func (d *dapp) sessionRequest(topic string, chainID uint64) {
	d.request(topic, 1, methodSessionRequest, []map[string]any{{
		"peerId":   d.id,
		"peerMeta": map[string]any{"name": "Test Dapp", "url": "https://dapp.example"},
		"chainId":  chainID,
	}})
}

func (d *dapp) next() *Payload {
	d.t.Helper()

	select {
	case p := <-d.msgs:
		return p
	case <-time.After(waitTimeout):
		d.t.Fatal("dapp received nothing")
	}

	return nil
}
