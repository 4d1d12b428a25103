/*
Package directory resolves drivers and clients for the bag ledger.

PURPOSE:
  Identity (names, emails, which organization a driver belongs to) is owned
  by another service. The ledger only stores ids; this package looks them up.

IMPLEMENTATIONS:
  Static:  In-process table, for tests and single-binary deployments
  HTTP:    REST client for the identity service
  Cached:  Expiring LRU in front of any Directory

SEE ALSO:
  - bags/collaborators.go: Directory contract
*/
package directory

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/text/cases"

	"github.com/Wizard254-ux/gabbage-web-sub000/bags"
	"github.com/Wizard254-ux/gabbage-web-sub000/generic"
)

// =============================================================================
// STATIC DIRECTORY
// =============================================================================

type partyKey struct {
	org  bags.OrganizationID
	kind bags.PartyKind
	id   string
}

// Static is a fixed, in-memory directory.
type Static struct {
	mu      sync.RWMutex
	parties map[partyKey]bags.Party
	order   []partyKey
}

var _ bags.Directory = (*Static)(nil)

func NewStatic(parties ...bags.Party) *Static {
	s := &Static{
		parties: make(map[partyKey]bags.Party),
	}
	for _, p := range parties {
		s.Add(p)
	}
	return s
}

// Add registers or replaces a party.
func (s *Static) Add(p bags.Party) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := partyKey{org: p.OrganizationID, kind: p.Kind, id: p.ID}
	if _, ok := s.parties[key]; !ok {
		s.order = append(s.order, key)
	}
	s.parties[key] = p
}

func (s *Static) lookup(org bags.OrganizationID, kind bags.PartyKind, id string) (bags.Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.parties[partyKey{org: org, kind: kind, id: id}]
	if !ok {
		return bags.Party{}, &generic.NotFoundError{Kind: string(kind), ID: id}
	}
	return p, nil
}

func (s *Static) Driver(_ context.Context, org bags.OrganizationID, id bags.DriverID) (bags.Party, error) {
	return s.lookup(org, bags.KindDriver, string(id))
}

func (s *Static) Client(_ context.Context, org bags.OrganizationID, id bags.ClientID) (bags.Party, error) {
	return s.lookup(org, bags.KindClient, string(id))
}

// Search matches names case-insensitively, in registration order.
func (s *Static) Search(_ context.Context, org bags.OrganizationID, kind bags.PartyKind, query string) ([]bags.Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fold := cases.Fold()
	needle := fold.String(strings.TrimSpace(query))
	var out []bags.Party
	for _, key := range s.order {
		if key.org != org || key.kind != kind {
			continue
		}
		p := s.parties[key]
		if strings.Contains(fold.String(p.Name), needle) {
			out = append(out, p)
		}
	}
	return out, nil
}
