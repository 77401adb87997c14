// Package memory implements store.Store in process memory. It backs single
// node dev deployments and the engine tests; production runs on postgres.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/finchops/finch/internal/model"
	"github.com/finchops/finch/internal/store"
)

// AuthArtifact is an expirable auxiliary record (login link, reset token,
// one-time code) swept by the cleanup detector.
type AuthArtifact struct {
	ID        string
	Kind      string
	ExpiresAt time.Time
}

// Store is the in-memory implementation.
type Store struct {
	mu            sync.RWMutex
	invoices      map[string]*model.Invoice
	contracts     map[string]*model.Contract
	stock         []*model.StockLevel
	members       map[string][]*model.Member // orgID -> members
	notifications map[string]*model.Notification
	activity      []*model.ActivityEntry
	rules         map[string]*model.WorkflowRule
	auth          map[string]*AuthArtifact
	ruleSeq       int // creation order tie-breaker
}

var _ store.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		invoices:      make(map[string]*model.Invoice),
		contracts:     make(map[string]*model.Contract),
		members:       make(map[string][]*model.Member),
		notifications: make(map[string]*model.Notification),
		rules:         make(map[string]*model.WorkflowRule),
		auth:          make(map[string]*AuthArtifact),
	}
}

// Seed helpers for tests and dev fixtures.

func (s *Store) AddInvoice(inv *model.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *inv
	s.invoices[inv.ID] = &cp
}

func (s *Store) AddContract(c *model.Contract) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.contracts[c.ID] = &cp
}

func (s *Store) AddStock(lvl *model.StockLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *lvl
	s.stock = append(s.stock, &cp)
}

func (s *Store) AddMember(m *model.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.members[m.OrgID] = append(s.members[m.OrgID], &cp)
}

func (s *Store) AddAuthArtifact(a *AuthArtifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.auth[a.ID] = &cp
}

// Invoice returns a copy of the invoice, for test assertions.
func (s *Store) Invoice(id string) (model.Invoice, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[id]
	if !ok {
		return model.Invoice{}, false
	}
	return *inv, true
}

// Store interface.

func (s *Store) ListInvoicesPastDue(ctx context.Context, asOf time.Time) ([]*model.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Invoice
	for _, inv := range s.invoices {
		if !inv.DueDate.Before(asOf) {
			continue
		}
		switch inv.Status {
		case model.InvoiceStatusOverdue, model.InvoiceStatusPaid, model.InvoiceStatusVoided:
			continue
		}
		cp := *inv
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateInvoiceStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return store.ErrNotFound
	}
	inv.Status = status
	return nil
}

func (s *Store) ListActiveContractsExpiring(ctx context.Context) ([]*model.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Contract
	for _, c := range s.contracts {
		if !c.Active || c.ExpiresAt == nil {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListStockAtOrBelowReorder(ctx context.Context) ([]*model.StockLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.StockLevel
	for _, lvl := range s.stock {
		if lvl.OnHand <= lvl.ReorderPoint {
			cp := *lvl
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) ListMembers(ctx context.Context, orgID string) ([]*model.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Member
	for _, m := range s.members[orgID] {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) CreateNotification(ctx context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.notifications[n.ID] = &cp
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, f store.NotificationFilter) ([]*model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Notification
	for _, n := range s.notifications {
		if f.OrgID != "" && n.OrgID != f.OrgID {
			continue
		}
		if f.UserID != "" && n.UserID != f.UserID {
			continue
		}
		if f.UnreadOnly && n.Read {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, orgID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.OrgID != orgID {
		return store.ErrNotFound
	}
	n.Read = true
	return nil
}

func (s *Store) CreateActivity(ctx context.Context, entry *model.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.activity = append(s.activity, &cp)
	return nil
}

func (s *Store) ListActivity(ctx context.Context, f store.ActivityFilter) ([]*model.ActivityEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.ActivityEntry
	for _, e := range s.activity {
		if f.OrgID != "" && e.OrgID != f.OrgID {
			continue
		}
		if f.EntityType != "" && e.EntityType != f.EntityType {
			continue
		}
		if f.EntityID != "" && e.EntityID != f.EntityID {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

func (s *Store) ListActivitySince(ctx context.Context, since time.Time) ([]*model.ActivityEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.ActivityEntry
	for _, e := range s.activity {
		if e.CreatedAt.Before(since) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) CreateRule(ctx context.Context, r *model.WorkflowRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ruleSeq++
	cp := *r
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	// Nanosecond offset keeps creation order stable even within one tick.
	cp.CreatedAt = cp.CreatedAt.Add(time.Duration(s.ruleSeq))
	s.rules[r.ID] = &cp
	return nil
}

func (s *Store) GetRule(ctx context.Context, orgID, id string) (*model.WorkflowRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok || r.OrgID != orgID {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *Store) ListRules(ctx context.Context, orgID string) ([]*model.WorkflowRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.WorkflowRule
	for _, r := range s.rules {
		if r.OrgID != orgID {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sortRules(out)
	return out, nil
}

func (s *Store) ListActiveRules(ctx context.Context, orgID string, entityType model.EntityType, eventType model.EventType) ([]*model.WorkflowRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.WorkflowRule
	for _, r := range s.rules {
		if r.OrgID != orgID || !r.Active {
			continue
		}
		if r.TriggerEntityType != entityType || r.TriggerEventType != eventType {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sortRules(out)
	return out, nil
}

func sortRules(rules []*model.WorkflowRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].ExecutionOrder != rules[j].ExecutionOrder {
			return rules[i].ExecutionOrder < rules[j].ExecutionOrder
		}
		if !rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].CreatedAt.Before(rules[j].CreatedAt)
		}
		return rules[i].ID < rules[j].ID
	})
}

func (s *Store) UpdateRule(ctx context.Context, r *model.WorkflowRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.rules[r.ID]
	if !ok || old.OrgID != r.OrgID {
		return store.ErrNotFound
	}
	cp := *r
	cp.CreatedAt = old.CreatedAt
	cp.UpdatedAt = time.Now().UTC()
	s.rules[r.ID] = &cp
	return nil
}

func (s *Store) DeleteRule(ctx context.Context, orgID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok || r.OrgID != orgID {
		return store.ErrNotFound
	}
	delete(s.rules, id)
	return nil
}

func (s *Store) PurgeExpiredAuthArtifacts(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, a := range s.auth {
		if a.ExpiresAt.Before(now) {
			delete(s.auth, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) PurgeReadNotifications(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, ntf := range s.notifications {
		if ntf.Read && ntf.CreatedAt.Before(olderThan) {
			delete(s.notifications, id)
			n++
		}
	}
	return n, nil
}

// RunInTransaction snapshots mutable state and restores it when fn fails.
// This mirrors the rollback the postgres store gets for free; it is enough
// for the detector's scan-and-update runs.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	s.mu.Lock()
	snapInvoices := cloneMap(s.invoices)
	snapNotifications := cloneMap(s.notifications)
	snapActivity := cloneSlice(s.activity)
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.invoices = snapInvoices
		s.notifications = snapNotifications
		s.activity = snapActivity
		s.mu.Unlock()
		return err
	}
	return nil
}

func cloneMap[T any](src map[string]*T) map[string]*T {
	out := make(map[string]*T, len(src))
	for k, v := range src {
		cp := *v
		out[k] = &cp
	}
	return out
}

func cloneSlice[T any](src []*T) []*T {
	out := make([]*T, 0, len(src))
	for _, v := range src {
		cp := *v
		out = append(out, &cp)
	}
	return out
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// FindNotifications returns notifications whose title contains the given
// substring, for test assertions.
func (s *Store) FindNotifications(title string) []*model.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Notification
	for _, n := range s.notifications {
		if strings.Contains(n.Title, title) {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out
}
