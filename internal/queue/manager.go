package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"qms/token-service/internal/models"
	"qms/token-service/internal/notify"
	"qms/token-service/internal/policy"
	"qms/token-service/internal/store"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Manager runs every queue operation as authorize, then one store
// transaction, then a best-effort notification.
type Manager struct {
	store    store.Store
	notifier notify.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(st store.Store, notifier notify.Notifier, logger *zap.Logger, opts ...Option) *Manager {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{store: st, notifier: notifier, logger: logger, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type GenerateRequest struct {
	BranchID     string
	ServiceID    string
	SubServiceID string
}

// Authenticate resolves a session id into the principal used by Authorize.
func (m *Manager) Authenticate(ctx context.Context, sessionID string) (policy.Principal, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return policy.Principal{}, err
	}
	return policy.Principal{UserID: session.UserID, Role: session.Role, BranchID: session.BranchID}, nil
}

func (m *Manager) Generate(ctx context.Context, p policy.Principal, req GenerateRequest) (token models.Token, err error) {
	ctx, done := track(ctx, "generate")
	defer func() { done(err) }()

	req.BranchID = strings.TrimSpace(req.BranchID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.SubServiceID = strings.TrimSpace(req.SubServiceID)
	if req.BranchID == "" || req.ServiceID == "" {
		return models.Token{}, store.Invalid("branch_id and service_id are required")
	}
	if err := policy.Authorize(p, policy.OpGenerateToken, req.BranchID); err != nil {
		return models.Token{}, err
	}

	token, err = m.store.GenerateToken(ctx, store.GenerateTokenInput{
		BranchID:     req.BranchID,
		ServiceID:    req.ServiceID,
		SubServiceID: req.SubServiceID,
	})
	if err != nil {
		return models.Token{}, err
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("token.display_number", token.DisplayNumber))
	tokensIssued.Inc()
	m.publishToken(notify.EventTokenCreated, token)
	return token, nil
}

// ServeNext claims the oldest eligible token for the employee's desk. found is
// false when nothing is waiting. A retry while a token is already SERVING
// returns that token.
func (m *Manager) ServeNext(ctx context.Context, p policy.Principal, employeeID string) (token models.Token, found bool, err error) {
	ctx, done := track(ctx, "serve_next")
	defer func() { done(err) }()

	if err := policy.AuthorizeSelf(p, policy.OpServeNext, p.BranchID, employeeID); err != nil {
		return models.Token{}, false, err
	}
	token, claimed, err := m.store.ServeNext(ctx, store.ServeNextInput{EmployeeID: employeeID, ServedAt: m.now()})
	if errors.Is(err, store.ErrNoToken) {
		return models.Token{}, false, nil
	}
	if err != nil {
		return models.Token{}, false, err
	}
	if claimed {
		tokensClaimed.Inc()
		m.publishToken(notify.EventTokenServing, token)
	}
	return token, true, nil
}

// Complete closes the caller's SERVING token. Completing a token the caller
// already completed returns it unchanged.
func (m *Manager) Complete(ctx context.Context, p policy.Principal, tokenID string) (token models.Token, err error) {
	ctx, done := track(ctx, "complete")
	defer func() { done(err) }()

	current, err := m.store.GetToken(ctx, tokenID)
	if err != nil {
		return models.Token{}, err
	}
	if err := policy.Authorize(p, policy.OpCompleteToken, current.BranchID); err != nil {
		return models.Token{}, err
	}
	token, changed, err := m.store.CompleteToken(ctx, store.CompleteTokenInput{
		TokenID:     tokenID,
		EmployeeID:  p.UserID,
		CompletedAt: m.now(),
	})
	if err != nil {
		return models.Token{}, err
	}
	if changed {
		m.publishToken(notify.EventTokenCompleted, token)
	}
	return token, nil
}

func (m *Manager) ResetBranch(ctx context.Context, p policy.Principal, branchID string) (result store.ResetResult, err error) {
	ctx, done := track(ctx, "reset_branch")
	defer func() { done(err) }()

	if err := policy.Authorize(p, policy.OpResetSeries, branchID); err != nil {
		return store.ResetResult{}, err
	}
	result, err = m.store.ResetBranch(ctx, branchID)
	if err != nil {
		return store.ResetResult{}, err
	}
	tokensForceCompleted.Add(float64(result.ClosedTokens))
	m.logger.Info("series reset",
		zap.String("branch_id", branchID),
		zap.String("by", p.UserID),
		zap.Int64("closed_tokens", result.ClosedTokens),
		zap.Int64("reset_series", result.ResetSeries))
	m.publish(notify.Event{Type: notify.EventSeriesReset, BranchID: branchID, Data: marshalData(result)})
	return result, nil
}

func (m *Manager) GetToken(ctx context.Context, p policy.Principal, tokenID string) (models.Token, error) {
	token, err := m.store.GetToken(ctx, tokenID)
	if err != nil {
		return models.Token{}, err
	}
	if err := policy.Authorize(p, policy.OpViewQueue, token.BranchID); err != nil {
		return models.Token{}, err
	}
	return token, nil
}

// ListTokenEvents returns a token's history after checking the hash chain and
// that replaying it lands on the token's stored status.
func (m *Manager) ListTokenEvents(ctx context.Context, p policy.Principal, tokenID string) ([]store.TokenEvent, error) {
	token, err := m.GetToken(ctx, p, tokenID)
	if err != nil {
		return nil, err
	}
	events, err := m.store.ListTokenEvents(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if err := verifyHistory(token, events); err != nil {
		m.logger.Error("token history failed verification", zap.String("token_id", tokenID), zap.Error(err))
		return nil, err
	}
	return events, nil
}

func verifyHistory(token models.Token, events []store.TokenEvent) error {
	if err := store.VerifyChain(events); err != nil {
		return fmt.Errorf("%w: %v", store.ErrCorruptHistory, err)
	}
	if len(events) == 0 {
		return nil
	}
	replayed, err := store.RehydrateToken(events)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrCorruptHistory, err)
	}
	if replayed.Status != token.Status {
		return fmt.Errorf("%w: history ends in %s, token is %s", store.ErrCorruptHistory, replayed.Status, token.Status)
	}
	return nil
}

func (m *Manager) ListTokens(ctx context.Context, p policy.Principal, filter store.TokenFilter) ([]models.Token, error) {
	if err := policy.Authorize(p, policy.OpViewQueue, filter.BranchID); err != nil {
		return nil, err
	}
	for i, status := range filter.Statuses {
		status = strings.ToUpper(strings.TrimSpace(status))
		switch status {
		case models.TokenPending, models.TokenServing, models.TokenCompleted:
		default:
			return nil, store.Invalid("unknown status %q", status)
		}
		filter.Statuses[i] = status
	}
	return m.store.ListTokens(ctx, filter)
}

// CurrentToken returns the SERVING token held by an employee, if any.
func (m *Manager) CurrentToken(ctx context.Context, p policy.Principal, employeeID string) (models.Token, bool, error) {
	if _, err := m.userInScope(ctx, p, policy.OpViewQueue, employeeID); err != nil {
		return models.Token{}, false, err
	}
	return m.store.CurrentToken(ctx, employeeID)
}

func (m *Manager) userInScope(ctx context.Context, p policy.Principal, op policy.Operation, userID string) (models.User, error) {
	if p.Anonymous() {
		return models.User{}, policy.Authorize(p, op, "")
	}
	user, err := m.store.GetUser(ctx, userID)
	if err != nil {
		return models.User{}, err
	}
	if err := policy.Authorize(p, op, derefString(user.BranchID)); err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (m *Manager) publishToken(eventType string, token models.Token) {
	m.publish(notify.Event{
		Type:      eventType,
		BranchID:  token.BranchID,
		DeskID:    derefString(token.DeskID),
		ServiceID: token.ServiceID,
		Token:     &token,
	})
}

func (m *Manager) publish(event notify.Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = m.now()
	}
	m.notifier.Notify(event)
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
