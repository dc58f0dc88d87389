package pair

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/chapool/go-wallet-signer/internal/rpc"
	"github.com/chapool/go-wallet-signer/internal/session"
	"github.com/rs/zerolog/log"
)

const maxQuestions = 16

type question struct {
	// id is the decision key of the proposal or request asked about
	id       string
	text     string
	proposal bool
	// password is asked for after an approval when set
	password func() bool
}

// prompter shows engine callbacks on out and answers them from in. The observer side
// never blocks; questions are asked in order by run and withdrawn once the engine is
// done with them.
type prompter struct {
	out      io.Writer
	in       *bufio.Reader
	locked   func() bool
	readPass func(prompt string) (string, error)

	mu        sync.Mutex
	questions []question
	changed   chan struct{}
}

func newPrompter(out io.Writer, in io.Reader, locked func() bool, readPass func(string) (string, error)) *prompter {
	return &prompter{
		out:      out,
		in:       bufio.NewReader(in),
		locked:   locked,
		readPass: readPass,
		changed:  make(chan struct{}, 1),
	}
}

func (p *prompter) notify() {
	select {
	case p.changed <- struct{}{}:
	default:
	}
}

func (p *prompter) ask(q question) {
	p.mu.Lock()
	if len(p.questions) >= maxQuestions {
		p.mu.Unlock()
		log.Warn().Str("question", q.text).Msg("Too many unanswered questions, dropping")
		return
	}
	p.questions = append(p.questions, q)
	p.mu.Unlock()

	p.notify()
}

// withdraw removes every question matching drop.
func (p *prompter) withdraw(drop func(question) bool) {
	p.mu.Lock()
	n := len(p.questions)
	p.questions = slices.DeleteFunc(p.questions, drop)
	removed := len(p.questions) != n
	p.mu.Unlock()

	if removed {
		p.notify()
	}
}

func (p *prompter) current() (question, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.questions) == 0 {
		return question{}, false
	}

	return p.questions[0], true
}

func (p *prompter) StateChanged(from session.State, to session.State) {
	fmt.Fprintf(p.out, "[%s -> %s]\n", from, to)

	if from == session.StateProposalPending {
		p.withdraw(func(q question) bool { return q.proposal })
	}
}

func (p *prompter) ProposalReceived(proposal *session.Proposal) {
	chains := "any chain"
	if len(proposal.Chains) > 0 {
		chains = strings.Join(proposal.Chains, ", ")
	}

	p.ask(question{
		id:       session.ProposalKey(proposal),
		proposal: true,
		text:     fmt.Sprintf("%s (%s) wants to connect on %s. Approve? [y/N] ", proposal.Peer.Name, proposal.Peer.URL, chains),
	})
}

func (p *prompter) RequestReceived(call *rpc.Call) {
	text := fmt.Sprintf("Request %d: %s on chain %d", call.Request.ID, call.Method, call.ChainID)
	switch {
	case call.Tx != nil:
		to := "<none>"
		if call.Tx.To != nil {
			to = call.Tx.To.Hex()
		}
		text += fmt.Sprintf(" to %s value %s", to, call.Tx.Value)
	case call.Message != nil:
		text += fmt.Sprintf(" message %q", call.Message)
	}

	q := question{id: session.RequestKey(call), text: text + ". Approve? [y/N] "}
	if call.Method != rpc.MethodAccounts {
		q.password = p.locked
	}

	p.ask(q)
}

func (p *prompter) RequestFinished(call *rpc.Call, reply *rpc.Reply) {
	key := session.RequestKey(call)
	p.withdraw(func(q question) bool { return q.id == key })

	if reply.Failed() {
		fmt.Fprintf(p.out, "Request %d failed: %s (%d)\n", call.Request.ID, reply.Error.Message, reply.Error.Code)
		return
	}

	result, err := json.Marshal(reply.Result)
	if err != nil {
		result = []byte(fmt.Sprint(reply.Result))
	}
	fmt.Fprintf(p.out, "Request %d done: %s\n", call.Request.ID, result)
}

func (p *prompter) SessionFailed(err error) {
	fmt.Fprintf(p.out, "Session failed: %v\n", err)
}

// run answers questions until ctx is done or in is exhausted. Closing decisions ends
// the session.
func (p *prompter) run(ctx context.Context, decisions chan<- session.Decision) {
	defer close(decisions)

	done := make(chan struct{})
	defer close(done)

	lines := make(chan string)
	resume := make(chan struct{}, 1)
	go p.read(lines, resume, done)

	var shown string
	for {
		if q, ok := p.current(); ok && q.id != shown {
			fmt.Fprint(p.out, q.text)
			shown = q.id
		}

		select {
		case <-ctx.Done():
			return

		case <-p.changed:
			if q, ok := p.current(); shown != "" && (!ok || q.id != shown) {
				fmt.Fprintln(p.out, "\nNo longer pending.")
				shown = ""
			}

		case line, ok := <-lines:
			if !ok {
				return
			}

			q, pending := p.current()
			if !pending || q.id != shown {
				// nothing on screen to answer
				resume <- struct{}{}
				continue
			}

			d := session.Decision{ID: q.id, Approve: isYes(line)}
			if d.Approve && q.password != nil && q.password() {
				var err error
				if d.Password, err = p.readPass("Keystore password: "); err != nil {
					log.Error().Err(err).Msg("Failed to read password")
					d = session.Decision{ID: q.id}
				}
			}
			resume <- struct{}{}

			p.withdraw(func(other question) bool { return other.id == q.id })
			shown = ""

			select {
			case <-ctx.Done():
				return
			case decisions <- d:
			}
		}
	}
}

// read feeds lines from in until EOF, which closes lines. It waits on resume after
// each line so a password prompt can take over the terminal.
func (p *prompter) read(lines chan<- string, resume <-chan struct{}, done <-chan struct{}) {
	defer close(lines)

	for {
		line, err := p.in.ReadString('\n')
		if err != nil && line == "" {
			if err != io.EOF {
				log.Error().Err(err).Msg("Failed to read answer")
			}
			return
		}

		select {
		case lines <- line:
		case <-done:
			return
		}

		select {
		case <-resume:
		case <-done:
			return
		}
	}
}

func isYes(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
