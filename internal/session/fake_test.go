package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chapool/go-wallet-signer/internal/rpc"
	"github.com/chapool/go-wallet-signer/internal/session"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

type fakeAdapter struct {
	mu         sync.Mutex
	emit       func(session.Event)
	openErr    error
	blockOpen  bool
	approveErr error

	opened      chan struct{}
	calls       []string
	rejected    []*rpc.Error
	replies     []*rpc.Reply
	disconnects []*rpc.Error
	closed      int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{opened: make(chan struct{})}
}

func (a *fakeAdapter) record(call string) {
	a.calls = append(a.calls, call)
}

func (a *fakeAdapter) Open(ctx context.Context, _ string, emit func(session.Event)) error {
	a.mu.Lock()
	a.record("open")
	a.emit = emit
	block, err := a.blockOpen, a.openErr
	a.mu.Unlock()
	close(a.opened)

	if block {
		<-ctx.Done()
		return ctx.Err()
	}

	return err
}

func (a *fakeAdapter) Approve(_ context.Context, p *session.Proposal, accounts []common.Address, chainID uint64) (*session.Info, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.record("approve")
	if a.approveErr != nil {
		return nil, a.approveErr
	}

	return &session.Info{Topic: p.Topic, Peer: p.Peer, Accounts: accounts, ChainID: chainID, Methods: p.Methods}, nil
}

func (a *fakeAdapter) Reject(_ context.Context, _ *session.Proposal, reason *rpc.Error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.record("reject")
	a.rejected = append(a.rejected, reason)

	return nil
}

func (a *fakeAdapter) Reply(_ context.Context, _ *rpc.Request, reply *rpc.Reply) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.record("reply")
	a.replies = append(a.replies, reply)

	return nil
}

func (a *fakeAdapter) Disconnect(_ context.Context, _ *session.Info, reason *rpc.Error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.record("disconnect")
	a.disconnects = append(a.disconnects, reason)

	return nil
}

func (a *fakeAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.record("close")
	a.closed++

	return nil
}

// send delivers ev once Open has been called.
func (a *fakeAdapter) send(t *testing.T, ev session.Event) {
	t.Helper()

	select {
	case <-a.opened:
	case <-time.After(waitTimeout):
		t.Fatal("adapter was never opened")
	}

	a.mu.Lock()
	emit := a.emit
	a.mu.Unlock()
	emit(ev)
}

func (a *fakeAdapter) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]string(nil), a.calls...)
}

func (a *fakeAdapter) Replies() []*rpc.Reply {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]*rpc.Reply(nil), a.replies...)
}

type finished struct {
	call  *rpc.Call
	reply *rpc.Reply
}

// recorder turns observer calls into channels.
type recorder struct {
	states    chan session.State
	proposals chan *session.Proposal
	requests  chan *rpc.Call
	finished  chan finished
	failures  chan error
}

func newRecorder() *recorder {
	return &recorder{
		states:    make(chan session.State, 64),
		proposals: make(chan *session.Proposal, 8),
		requests:  make(chan *rpc.Call, 8),
		finished:  make(chan finished, 8),
		failures:  make(chan error, 8),
	}
}

func (r *recorder) StateChanged(_ session.State, to session.State) { r.states <- to }
func (r *recorder) ProposalReceived(p *session.Proposal)           { r.proposals <- p }
func (r *recorder) RequestReceived(call *rpc.Call)                 { r.requests <- call }
func (r *recorder) SessionFailed(err error)                        { r.failures <- err }

func (r *recorder) RequestFinished(call *rpc.Call, reply *rpc.Reply) {
	r.finished <- finished{call: call, reply: reply}
}

// waitState reads states until want shows up and returns everything seen.
func (r *recorder) waitState(t *testing.T, want session.State) []session.State {
	t.Helper()

	var seen []session.State
	for {
		select {
		case s := <-r.states:
			seen = append(seen, s)
			if s == want {
				return seen
			}
		case <-time.After(waitTimeout):
			t.Fatalf("state %s not reached, saw %v", want, seen)
		}
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for observer")
	}

	var zero T
	return zero
}

// waitTick waits for the engine to register a timer of duration d.
func waitTick(t *testing.T, ticks <-chan time.Duration, d time.Duration) {
	t.Helper()

	for {
		select {
		case got := <-ticks:
			if got == d {
				return
			}
		case <-time.After(waitTimeout):
			t.Fatalf("timer %s never registered", d)
		}
	}
}

func waitResult(t *testing.T, result <-chan error) error {
	t.Helper()

	select {
	case err := <-result:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("engine did not stop")
	}

	return nil
}

// blockingDispatcher holds every call until release is closed.
type blockingDispatcher struct {
	started chan struct{}
	release chan struct{}
}

func (d *blockingDispatcher) Handle(_ context.Context, call *rpc.Call, _ string) *rpc.Reply {
	close(d.started)
	<-d.release

	return rpc.NewResult(call.Request.ID, "done")
}

func requireCalls(t *testing.T, a *fakeAdapter, want ...string) {
	t.Helper()

	require.Equal(t, want, a.Calls())
}
