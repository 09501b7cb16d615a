package refunds

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/souqline/souqline/internal/audit"
)

// Workflow rule violations.
var (
	ErrBadTransition = errors.New("refunds: transition not permitted")
	ErrInvalidAmount = errors.New("refunds: amount must be positive")
	ErrReasonNeeded  = errors.New("refunds: reason is required")
)

// Store defines data access for refunds.
type Store interface {
	Create(ctx context.Context, refund *Refund) (*Refund, error)
	Get(ctx context.Context, id int64) (*Refund, error)
	List(ctx context.Context, f Filters) ([]Refund, int, error)
	Transition(ctx context.Context, id int64, from, to Status, reviewerID *int64, note string) (*Refund, error)
}

var _ Store = (*Repository)(nil)

// AuditSink accepts audit events fire-and-forget.
type AuditSink interface {
	Record(event audit.Event)
}

// Actor identifies who performed a workflow action.
type Actor struct {
	UserID    int64
	IP        string
	UserAgent string
}

// Service applies the refund workflow rules.
type Service struct {
	store Store
	sink  AuditSink
}

// NewService builds a Service.
func NewService(store Store, sink AuditSink) *Service {
	return &Service{store: store, sink: sink}
}

// Request opens a refund request on behalf of the customer.
func (s *Service) Request(ctx context.Context, actor Actor, orderID, vendorID, amountSYP int64, reason string) (*Refund, error) {
	if amountSYP <= 0 {
		return nil, ErrInvalidAmount
	}
	if strings.TrimSpace(reason) == "" {
		return nil, ErrReasonNeeded
	}
	refund, err := s.store.Create(ctx, &Refund{
		OrderID:    orderID,
		CustomerID: actor.UserID,
		VendorID:   vendorID,
		AmountSYP:  amountSYP,
		Reason:     strings.TrimSpace(reason),
	})
	if err != nil {
		return nil, err
	}
	s.recordTransition(actor, refund, "", StatusRequested)
	return refund, nil
}

// Get returns one refund.
func (s *Service) Get(ctx context.Context, id int64) (*Refund, error) {
	return s.store.Get(ctx, id)
}

// List returns refunds matching the filters.
func (s *Service) List(ctx context.Context, f Filters) ([]Refund, int, error) {
	return s.store.List(ctx, f)
}

// Transition moves a refund to the next workflow state. The current state is
// read first so an impossible move fails before touching the row.
func (s *Service) Transition(ctx context.Context, actor Actor, id int64, to Status, note string) (*Refund, error) {
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanTransition(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrBadTransition, current.Status, to)
	}
	reviewerID := &actor.UserID
	updated, err := s.store.Transition(ctx, id, current.Status, to, reviewerID, strings.TrimSpace(note))
	if err != nil {
		return nil, err
	}
	s.recordTransition(actor, updated, current.Status, to)
	return updated, nil
}

func (s *Service) recordTransition(actor Actor, refund *Refund, from, to Status) {
	actorID := actor.UserID
	meta := map[string]any{
		"order_id":   refund.OrderID,
		"amount_syp": refund.AmountSYP,
		"to":         string(to),
	}
	if from != "" {
		meta["from"] = string(from)
	}
	s.sink.Record(audit.Event{
		UserID:       &actorID,
		Action:       audit.ActionRefundTransition,
		ResourceType: "refund",
		ResourceID:   strconv.FormatInt(refund.ID, 10),
		Success:      true,
		IP:           actor.IP,
		UserAgent:    actor.UserAgent,
		Metadata:     meta,
	})
}
