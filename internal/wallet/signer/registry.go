package signer

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Custody says where the key of an identity lives.
type Custody string

const (
	CustodyLocal    Custody = "local"
	CustodyHardware Custody = "hardware"
)

// ParseCustody validates a configured custody type.
func ParseCustody(s string) (Custody, error) {
	switch c := Custody(s); c {
	case CustodyLocal, CustodyHardware:
		return c, nil
	default:
		return "", errors.Errorf("unknown custody %q", s)
	}
}

// Identity describes the active account. It is a value and never changes once activated.
type Identity struct {
	Address        common.Address
	Custody        Custody
	DerivationPath string
}

// Registry holds the one active identity and its signer.
type Registry struct {
	mu       sync.RWMutex
	identity Identity
	signer   Signer
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Activate replaces the active pair.
func (r *Registry) Activate(identity Identity, s Signer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.identity = identity
	r.signer = s
}

// Active returns the active pair or ErrNoActiveSigner.
func (r *Registry) Active() (Identity, Signer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.signer == nil {
		return Identity{}, nil, ErrNoActiveSigner
	}

	return r.identity, r.signer, nil
}

// Deactivate clears the active pair and returns the signer that was active, if any.
func (r *Registry) Deactivate() Signer {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.signer
	r.identity = Identity{}
	r.signer = nil

	return s
}
