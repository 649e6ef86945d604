package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"qms/token-service/internal/models"
	"qms/token-service/internal/notify"
	"qms/token-service/internal/policy"
	"qms/token-service/internal/store"
	"qms/token-service/internal/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(event notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingNotifier) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, event := range r.events {
		out = append(out, event.Type)
	}
	return out
}

var (
	fixedNow = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	kiosk    = policy.Principal{}
	employee = policy.Principal{UserID: "emp-1", Role: models.RoleEmployee, BranchID: "b1"}
	manager  = policy.Principal{UserID: "mgr-1", Role: models.RoleManager, BranchID: "b1"}
	admin    = policy.Principal{UserID: "root", Role: models.RoleSuperadmin}
)

func newManager(fake *storetest.Fake) (*Manager, *recordingNotifier) {
	rec := &recordingNotifier{}
	return NewManager(fake, rec, nil, WithClock(func() time.Time { return fixedNow })), rec
}

func strPtr(value string) *string {
	return &value
}

func TestGenerateAllowsKioskAndNotifies(t *testing.T) {
	var got store.GenerateTokenInput
	fake := &storetest.Fake{
		GenerateTokenFn: func(_ context.Context, input store.GenerateTokenInput) (models.Token, error) {
			got = input
			return models.Token{ID: "t1", DisplayNumber: "A-001", Status: models.TokenPending, BranchID: input.BranchID, ServiceID: input.ServiceID}, nil
		},
	}
	m, rec := newManager(fake)

	token, err := m.Generate(context.Background(), kiosk, GenerateRequest{BranchID: "b1", ServiceID: " s1 "})
	require.NoError(t, err)
	assert.Equal(t, "A-001", token.DisplayNumber)
	assert.Equal(t, "s1", got.ServiceID)
	assert.Equal(t, []string{notify.EventTokenCreated}, rec.types())
}

func TestGenerateRequiresService(t *testing.T) {
	m, _ := newManager(&storetest.Fake{})
	_, err := m.Generate(context.Background(), kiosk, GenerateRequest{BranchID: "b1"})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestGenerateRejectsOtherBranchEmployee(t *testing.T) {
	m, rec := newManager(&storetest.Fake{})
	_, err := m.Generate(context.Background(), employee, GenerateRequest{BranchID: "b2", ServiceID: "s1"})
	assert.ErrorIs(t, err, store.ErrAccessDenied)
	assert.Empty(t, rec.types())
}

func TestGenerateFailureDoesNotNotify(t *testing.T) {
	fake := &storetest.Fake{
		GenerateTokenFn: func(context.Context, store.GenerateTokenInput) (models.Token, error) {
			return models.Token{}, store.ErrNoActiveSeries
		},
	}
	m, rec := newManager(fake)
	_, err := m.Generate(context.Background(), kiosk, GenerateRequest{BranchID: "b1", ServiceID: "s1"})
	assert.ErrorIs(t, err, store.ErrConfiguration)
	assert.Empty(t, rec.types())
}

func TestServeNextNoTokenIsNotAnError(t *testing.T) {
	fake := &storetest.Fake{
		ServeNextFn: func(context.Context, store.ServeNextInput) (models.Token, bool, error) {
			return models.Token{}, false, store.ErrNoToken
		},
	}
	m, rec := newManager(fake)

	_, found, err := m.ServeNext(context.Background(), employee, "emp-1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, rec.types())
}

func TestServeNextClaimNotifiesOnce(t *testing.T) {
	claimed := true
	fake := &storetest.Fake{
		ServeNextFn: func(_ context.Context, input store.ServeNextInput) (models.Token, bool, error) {
			assert.Equal(t, "emp-1", input.EmployeeID)
			token := models.Token{ID: "t1", Status: models.TokenServing, BranchID: "b1", DeskID: strPtr("d1"), AssignedTo: strPtr("emp-1")}
			return token, claimed, nil
		},
	}
	m, rec := newManager(fake)

	token, found, err := m.ServeNext(context.Background(), employee, "emp-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, models.TokenServing, token.Status)

	claimed = false
	_, found, err = m.ServeNext(context.Background(), employee, "emp-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{notify.EventTokenServing}, rec.types())
}

func TestServeNextForAnotherEmployeeDenied(t *testing.T) {
	m, _ := newManager(&storetest.Fake{})
	_, _, err := m.ServeNext(context.Background(), employee, "emp-2")
	assert.ErrorIs(t, err, store.ErrAccessDenied)

	_, _, err = m.ServeNext(context.Background(), manager, "mgr-1")
	assert.ErrorIs(t, err, store.ErrAccessDenied)
}

func TestCompleteUsesCallerAndIsIdempotent(t *testing.T) {
	changed := true
	fake := &storetest.Fake{
		GetTokenFn: func(context.Context, string) (models.Token, error) {
			return models.Token{ID: "t1", BranchID: "b1", Status: models.TokenServing}, nil
		},
		CompleteTokenFn: func(_ context.Context, input store.CompleteTokenInput) (models.Token, bool, error) {
			assert.Equal(t, "emp-1", input.EmployeeID)
			return models.Token{ID: "t1", BranchID: "b1", Status: models.TokenCompleted}, changed, nil
		},
	}
	m, rec := newManager(fake)

	token, err := m.Complete(context.Background(), employee, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.TokenCompleted, token.Status)

	changed = false
	_, err = m.Complete(context.Background(), employee, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{notify.EventTokenCompleted}, rec.types())
}

func TestCompletePropagatesStoreErrors(t *testing.T) {
	fake := &storetest.Fake{
		GetTokenFn: func(context.Context, string) (models.Token, error) {
			return models.Token{ID: "t1", BranchID: "b1", Status: models.TokenPending}, nil
		},
		CompleteTokenFn: func(context.Context, store.CompleteTokenInput) (models.Token, bool, error) {
			return models.Token{}, false, store.ErrInvalidState
		},
	}
	m, _ := newManager(fake)
	_, err := m.Complete(context.Background(), employee, "t1")
	assert.ErrorIs(t, err, store.ErrInvalidState)
}

func TestCompleteOtherBranchDenied(t *testing.T) {
	fake := &storetest.Fake{
		GetTokenFn: func(context.Context, string) (models.Token, error) {
			return models.Token{ID: "t1", BranchID: "b2", Status: models.TokenServing}, nil
		},
	}
	m, _ := newManager(fake)
	_, err := m.Complete(context.Background(), employee, "t1")
	assert.ErrorIs(t, err, store.ErrAccessDenied)
}

// eventChain builds a hash-linked history with one event per status.
func eventChain(t *testing.T, tokenID string, statuses ...string) []store.TokenEvent {
	t.Helper()
	types := map[string]string{
		models.TokenPending:   store.EventTokenCreated,
		models.TokenServing:   store.EventTokenServing,
		models.TokenCompleted: store.EventTokenCompleted,
	}
	var events []store.TokenEvent
	prev := ""
	for i, status := range statuses {
		payload, err := json.Marshal(store.EventPayload{TokenID: tokenID, Status: status})
		require.NoError(t, err)
		at := fixedNow.Add(time.Duration(i) * time.Minute)
		hash := store.ComputeTokenEventHash(prev, tokenID, types[status], payload, at, i+1)
		events = append(events, store.TokenEvent{
			TokenID: tokenID, Seq: i + 1, Type: types[status], Payload: payload, CreatedAt: at, PrevHash: prev, Hash: hash,
		})
		prev = hash
	}
	return events
}

func TestListTokenEventsVerifiesHistory(t *testing.T) {
	status := models.TokenServing
	events := eventChain(t, "t1", models.TokenPending, models.TokenServing)
	fake := &storetest.Fake{
		GetTokenFn: func(context.Context, string) (models.Token, error) {
			return models.Token{ID: "t1", BranchID: "b1", Status: status}, nil
		},
		ListTokenEventsFn: func(context.Context, string) ([]store.TokenEvent, error) {
			return events, nil
		},
	}
	m, _ := newManager(fake)

	got, err := m.ListTokenEvents(context.Background(), manager, "t1")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// history behind the stored status
	status = models.TokenCompleted
	_, err = m.ListTokenEvents(context.Background(), manager, "t1")
	assert.ErrorIs(t, err, store.ErrCorruptHistory)

	// rewritten payload breaks the hash chain
	status = models.TokenServing
	events[0].Payload = json.RawMessage(`{"token_id":"t1","status":"SERVING"}`)
	_, err = m.ListTokenEvents(context.Background(), manager, "t1")
	assert.ErrorIs(t, err, store.ErrCorruptHistory)
}

func TestListTokenEventsRejectsBackwardTransition(t *testing.T) {
	fake := &storetest.Fake{
		GetTokenFn: func(context.Context, string) (models.Token, error) {
			return models.Token{ID: "t1", BranchID: "b1", Status: models.TokenServing}, nil
		},
		ListTokenEventsFn: func(context.Context, string) ([]store.TokenEvent, error) {
			return eventChain(t, "t1", models.TokenCompleted, models.TokenServing), nil
		},
	}
	m, _ := newManager(fake)
	_, err := m.ListTokenEvents(context.Background(), manager, "t1")
	assert.ErrorIs(t, err, store.ErrCorruptHistory)
}

func TestResetBranchRequiresManager(t *testing.T) {
	fake := &storetest.Fake{
		ResetBranchFn: func(context.Context, string) (store.ResetResult, error) {
			return store.ResetResult{ClosedTokens: 3, ResetSeries: 2}, nil
		},
	}
	m, rec := newManager(fake)

	_, err := m.ResetBranch(context.Background(), employee, "b1")
	assert.ErrorIs(t, err, store.ErrAccessDenied)

	result, err := m.ResetBranch(context.Background(), manager, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.ClosedTokens)
	assert.Equal(t, []string{notify.EventSeriesReset}, rec.types())
}

func TestListTokensNormalizesStatuses(t *testing.T) {
	var got store.TokenFilter
	fake := &storetest.Fake{
		ListTokensFn: func(_ context.Context, filter store.TokenFilter) ([]models.Token, error) {
			got = filter
			return []models.Token{}, nil
		},
	}
	m, _ := newManager(fake)

	_, err := m.ListTokens(context.Background(), employee, store.TokenFilter{BranchID: "b1", Statuses: []string{"pending"}})
	require.NoError(t, err)
	assert.Equal(t, []string{models.TokenPending}, got.Statuses)

	_, err = m.ListTokens(context.Background(), employee, store.TokenFilter{BranchID: "b1", Statuses: []string{"lost"}})
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = m.ListTokens(context.Background(), kiosk, store.TokenFilter{BranchID: "b1"})
	assert.ErrorIs(t, err, store.ErrAccessDenied)
}

func TestUpdateSeriesScopedToBranch(t *testing.T) {
	fake := &storetest.Fake{
		GetSeriesFn: func(context.Context, string) (models.TokenSeries, error) {
			return models.TokenSeries{ID: "sr1", BranchID: "b2"}, nil
		},
	}
	m, _ := newManager(fake)

	_, err := m.SetSeriesActive(context.Background(), manager, "sr1", false)
	assert.ErrorIs(t, err, store.ErrAccessDenied)
}

func TestSetSeriesActivePassesFlag(t *testing.T) {
	var got store.UpdateSeriesInput
	fake := &storetest.Fake{
		GetSeriesFn: func(context.Context, string) (models.TokenSeries, error) {
			return models.TokenSeries{ID: "sr1", BranchID: "b1"}, nil
		},
		UpdateSeriesFn: func(_ context.Context, _ string, input store.UpdateSeriesInput) (models.TokenSeries, error) {
			got = input
			return models.TokenSeries{ID: "sr1", BranchID: "b1", Active: *input.Active}, nil
		},
	}
	m, _ := newManager(fake)

	series, err := m.SetSeriesActive(context.Background(), manager, "sr1", false)
	require.NoError(t, err)
	assert.False(t, series.Active)
	require.NotNil(t, got.Active)
	assert.Nil(t, got.Prefix)
}

func TestDeleteDeskNotifiesClosedTokens(t *testing.T) {
	fake := &storetest.Fake{
		GetDeskFn: func(context.Context, string) (models.Desk, error) {
			return models.Desk{ID: "d1", BranchID: "b1"}, nil
		},
		DeleteDeskFn: func(context.Context, string) (int64, error) {
			return 2, nil
		},
	}
	m, rec := newManager(fake)

	closed, err := m.DeleteDesk(context.Background(), manager, "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), closed)
	require.Len(t, rec.events, 1)
	assert.Equal(t, notify.EventDeskClosed, rec.events[0].Type)
	assert.Equal(t, "d1", rec.events[0].DeskID)
	assert.JSONEq(t, `{"closed_tokens":2}`, string(rec.events[0].Data))
}

func TestListBranchesScopedForManager(t *testing.T) {
	fake := &storetest.Fake{
		ListBranchesFn: func(context.Context) ([]models.Branch, error) {
			return []models.Branch{{ID: "b1"}, {ID: "b2"}}, nil
		},
	}
	m, _ := newManager(fake)

	branches, err := m.ListBranches(context.Background(), manager)
	require.NoError(t, err)
	require.Len(t, branches, 1)
	assert.Equal(t, "b1", branches[0].ID)

	branches, err = m.ListBranches(context.Background(), admin)
	require.NoError(t, err)
	assert.Len(t, branches, 2)
}

func TestCreateUserRoleRules(t *testing.T) {
	fake := &storetest.Fake{
		CreateUserFn: func(_ context.Context, input store.CreateUserInput) (models.User, error) {
			return models.User{ID: "u9", Role: input.Role}, nil
		},
	}
	m, _ := newManager(fake)

	user, err := m.CreateUser(context.Background(), manager, store.CreateUserInput{BranchID: "b1", Role: "employee", Name: "E", Email: "e@x", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleEmployee, user.Role)

	_, err = m.CreateUser(context.Background(), manager, store.CreateUserInput{BranchID: "b1", Role: models.RoleManager})
	assert.ErrorIs(t, err, store.ErrAccessDenied)

	_, err = m.CreateUser(context.Background(), admin, store.CreateUserInput{Role: "janitor"})
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = m.CreateUser(context.Background(), admin, store.CreateUserInput{Role: models.RoleManager, AssignedDeskID: "d1", BranchID: "b1"})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestRecordShiftOnlySelf(t *testing.T) {
	fake := &storetest.Fake{
		RecordShiftEventFn: func(_ context.Context, userID, eventType string) (models.UserLog, models.User, error) {
			return models.UserLog{UserID: userID, Type: eventType}, models.User{ID: userID, IsWorking: true}, nil
		},
	}
	m, _ := newManager(fake)

	entry, user, err := m.RecordShift(context.Background(), employee, "emp-1", "work_start")
	require.NoError(t, err)
	assert.Equal(t, models.LogWorkStart, entry.Type)
	assert.True(t, user.IsWorking)

	_, _, err = m.RecordShift(context.Background(), employee, "emp-2", models.LogWorkStart)
	assert.ErrorIs(t, err, store.ErrAccessDenied)
}

func TestAuthenticateBuildsPrincipal(t *testing.T) {
	fake := &storetest.Fake{
		GetSessionFn: func(_ context.Context, sessionID string) (store.Session, error) {
			if sessionID != "sess" {
				return store.Session{}, store.ErrSessionNotFound
			}
			return store.Session{SessionID: "sess", UserID: "emp-1", Role: models.RoleEmployee, BranchID: "b1"}, nil
		},
	}
	m, _ := newManager(fake)

	p, err := m.Authenticate(context.Background(), "sess")
	require.NoError(t, err)
	assert.Equal(t, employee, p)

	_, err = m.Authenticate(context.Background(), "nope")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, "ok", outcomeOf(nil))
	assert.Equal(t, "denied", outcomeOf(store.ErrTokenNotAssigned))
	assert.Equal(t, "rejected", outcomeOf(store.ErrRangeExhausted))
	assert.Equal(t, "rejected", outcomeOf(store.ErrDeskUnavailable))
	assert.Equal(t, "error", outcomeOf(errors.New("boom")))
}
