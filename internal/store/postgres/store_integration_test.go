package postgres

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"

	"qms/token-service/internal/models"
	"qms/token-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fixture struct {
	branch    models.Branch
	service   models.Service
	series    models.TokenSeries
	deskA     models.Desk
	deskB     models.Desk
	employeeA models.User
	employeeB models.User
}

func TestGenerateTokenConcurrentNumbersAreUnique(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)
	fx := seedBaseData(t, ctx, st)

	const callers = 20
	var wg sync.WaitGroup
	results := make(chan models.Token, callers)
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := st.GenerateToken(ctx, store.GenerateTokenInput{BranchID: fx.branch.ID, ServiceID: fx.service.ID})
			if err != nil {
				errs <- err
				return
			}
			results <- token
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("generate error: %v", err)
	}
	seen := make(map[string]bool)
	var numbers []int
	for token := range results {
		if seen[token.DisplayNumber] {
			t.Fatalf("duplicate display number %s", token.DisplayNumber)
		}
		seen[token.DisplayNumber] = true
		numbers = append(numbers, token.Number)
	}
	sort.Ints(numbers)
	for i, n := range numbers {
		if n != i+1 {
			t.Fatalf("expected contiguous numbers, got %v", numbers)
		}
	}
}

func TestGenerateTokenFormatsFromSeries(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)
	fx := seedBaseData(t, ctx, st)

	first := generate(t, ctx, st, fx)
	second := generate(t, ctx, st, fx)
	assert.Equal(t, "A-001", first.DisplayNumber)
	assert.Equal(t, "A-002", second.DisplayNumber)
	assert.Equal(t, models.TokenPending, first.Status)
	assert.Nil(t, first.DeskID)
	assert.Equal(t, fx.service.Name, first.ServiceName)

	series, err := st.GetSeries(ctx, fx.series.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, series.CurrentNumber)
}

func TestGenerateTokenInactiveSeriesLeavesCounter(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)
	fx := seedBaseData(t, ctx, st)

	inactive := false
	_, err := st.UpdateSeries(ctx, fx.series.ID, store.UpdateSeriesInput{Active: &inactive})
	require.NoError(t, err)

	_, err = st.GenerateToken(ctx, store.GenerateTokenInput{BranchID: fx.branch.ID, ServiceID: fx.service.ID})
	require.ErrorIs(t, err, store.ErrConfiguration)

	series, err := st.GetSeries(ctx, fx.series.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, series.CurrentNumber)

	tokens, err := st.ListTokens(ctx, store.TokenFilter{BranchID: fx.branch.ID})
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestGenerateTokenRejectsInactiveService(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)
	fx := seedBaseData(t, ctx, st)

	_, err := st.UpdateService(ctx, fx.service.ID, store.ServiceInput{Name: fx.service.Name, Code: fx.service.Code, Status: models.StatusInactive})
	require.NoError(t, err)

	_, err = st.GenerateToken(ctx, store.GenerateTokenInput{BranchID: fx.branch.ID, ServiceID: fx.service.ID})
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestNextNumberRangeExhausted(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)
	fx := seedBaseData(t, ctx, st)

	last := fx.series.EndAt - 1
	_, err := st.UpdateSeries(ctx, fx.series.ID, store.UpdateSeriesInput{CurrentNumber: &last})
	require.NoError(t, err)

	issued, err := st.NextNumber(ctx, fx.series.ID)
	require.NoError(t, err)
	assert.Equal(t, "A-100", issued.DisplayNumber)

	_, err = st.NextNumber(ctx, fx.series.ID)
	require.ErrorIs(t, err, store.ErrRangeExhausted)

	_, err = st.NextNumber(ctx, uuid.NewString())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestServeNextConcurrency(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)
	fx := seedBaseData(t, ctx, st)

	token := generate(t, ctx, st, fx)

	var wg sync.WaitGroup
	results := make(chan serveResult, 2)
	for _, employee := range []models.User{fx.employeeA, fx.employeeB} {
		wg.Add(1)
		go func(employeeID string) {
			defer wg.Done()
			claimed, ok, err := st.ServeNext(ctx, store.ServeNextInput{EmployeeID: employeeID})
			results <- serveResult{tokenID: claimed.ID, ok: ok, err: err}
		}(employee.ID)
	}
	wg.Wait()
	close(results)

	var claimed, empty int
	for result := range results {
		switch {
		case result.err == nil && result.ok:
			claimed++
			if result.tokenID != token.ID {
				t.Fatalf("expected token %s, got %s", token.ID, result.tokenID)
			}
		case errors.Is(result.err, store.ErrNoToken):
			empty++
		default:
			t.Fatalf("unexpected serve result: %+v", result)
		}
	}
	if claimed != 1 || empty != 1 {
		t.Fatalf("expected one claim and one empty result, got %d and %d", claimed, empty)
	}
}

func TestServeNextOnlyMatchesDeskServices(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)
	fx := seedBaseData(t, ctx, st)

	other, err := st.CreateService(ctx, store.ServiceInput{BranchID: fx.branch.ID, Name: "Loans", Code: "LN", Status: models.StatusActive})
	require.NoError(t, err)
	_, err = st.CreateSeries(ctx, store.CreateSeriesInput{BranchID: fx.branch.ID, ServiceID: other.ID, Prefix: "L", StartFrom: 1, EndAt: 100, Active: true})
	require.NoError(t, err)

	// older token for a service the desk does not serve
	_, err = st.GenerateToken(ctx, store.GenerateTokenInput{BranchID: fx.branch.ID, ServiceID: other.ID})
	require.NoError(t, err)
	mine := generate(t, ctx, st, fx)

	claimed, ok, err := st.ServeNext(ctx, store.ServeNextInput{EmployeeID: fx.employeeA.ID})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, mine.ID, claimed.ID)
	assert.Equal(t, models.TokenServing, claimed.Status)
	require.NotNil(t, claimed.DeskID)
	assert.Equal(t, fx.deskA.ID, *claimed.DeskID)

	// the SERVING token comes back unchanged on retry
	again, ok, err := st.ServeNext(ctx, store.ServeNextInput{EmployeeID: fx.employeeA.ID})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, mine.ID, again.ID)
}

func TestServeNextIsFIFO(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)
	fx := seedBaseData(t, ctx, st)

	first := generate(t, ctx, st, fx)
	generate(t, ctx, st, fx)

	claimed, ok, err := st.ServeNext(ctx, store.ServeNextInput{EmployeeID: fx.employeeA.ID})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.ID, claimed.ID)
}

func TestCompleteTokenLifecycle(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)
	fx := seedBaseData(t, ctx, st)

	token := generate(t, ctx, st, fx)

	_, _, err := st.CompleteToken(ctx, store.CompleteTokenInput{TokenID: token.ID, EmployeeID: fx.employeeA.ID})
	require.ErrorIs(t, err, store.ErrInvalidState)

	_, _, err = st.ServeNext(ctx, store.ServeNextInput{EmployeeID: fx.employeeA.ID})
	require.NoError(t, err)

	_, _, err = st.CompleteToken(ctx, store.CompleteTokenInput{TokenID: token.ID, EmployeeID: fx.employeeB.ID})
	require.ErrorIs(t, err, store.ErrAccessDenied)

	done, changed, err := st.CompleteToken(ctx, store.CompleteTokenInput{TokenID: token.ID, EmployeeID: fx.employeeA.ID})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.TokenCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	again, changed, err := st.CompleteToken(ctx, store.CompleteTokenInput{TokenID: token.ID, EmployeeID: fx.employeeA.ID})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, models.TokenCompleted, again.Status)

	events, err := st.ListTokenEvents(ctx, token.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.NoError(t, store.VerifyChain(events))
	rebuilt, err := store.RehydrateToken(events)
	require.NoError(t, err)
	assert.Equal(t, models.TokenCompleted, rebuilt.Status)
}

func TestResetBranchRestartsNumbering(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)
	fx := seedBaseData(t, ctx, st)

	generate(t, ctx, st, fx)
	generate(t, ctx, st, fx)
	_, _, err := st.ServeNext(ctx, store.ServeNextInput{EmployeeID: fx.employeeA.ID})
	require.NoError(t, err)

	result, err := st.ResetBranch(ctx, fx.branch.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.ClosedTokens)
	assert.Equal(t, int64(1), result.ResetSeries)

	open, err := st.ListTokens(ctx, store.TokenFilter{BranchID: fx.branch.ID, Statuses: []string{models.TokenPending, models.TokenServing}})
	require.NoError(t, err)
	assert.Empty(t, open)

	token := generate(t, ctx, st, fx)
	assert.Equal(t, "A-001", token.DisplayNumber)
}

func TestDeleteDeskCompletesBoundTokens(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)
	fx := seedBaseData(t, ctx, st)

	token := generate(t, ctx, st, fx)
	_, _, err := st.ServeNext(ctx, store.ServeNextInput{EmployeeID: fx.employeeA.ID})
	require.NoError(t, err)

	closed, err := st.DeleteDesk(ctx, fx.deskA.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), closed)

	after, err := st.GetToken(ctx, token.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TokenCompleted, after.Status)
	assert.Nil(t, after.DeskID)

	var dangling int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM tokens WHERE desk_id = $1`, fx.deskA.ID).Scan(&dangling))
	assert.Zero(t, dangling)

	employee, err := st.GetUser(ctx, fx.employeeA.ID)
	require.NoError(t, err)
	assert.Nil(t, employee.AssignedDeskID)
}

func TestDeleteServiceCompletesTokens(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)
	fx := seedBaseData(t, ctx, st)

	token := generate(t, ctx, st, fx)
	closed, err := st.DeleteService(ctx, fx.service.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), closed)

	after, err := st.GetToken(ctx, token.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TokenCompleted, after.Status)
	assert.Nil(t, after.DeskID)

	_, err = st.GetSeries(ctx, fx.series.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteSeriesRefusedWithOpenTokens(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)
	fx := seedBaseData(t, ctx, st)

	generate(t, ctx, st, fx)
	err := st.DeleteSeries(ctx, fx.series.ID)
	require.ErrorIs(t, err, store.ErrConflict)

	_, err = st.ResetBranch(ctx, fx.branch.ID)
	require.NoError(t, err)
	require.NoError(t, st.DeleteSeries(ctx, fx.series.ID))
}

func TestUpdateSeriesRefusesReusingOpenNumbers(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)
	fx := seedBaseData(t, ctx, st)

	for i := 0; i < 3; i++ {
		generate(t, ctx, st, fx)
	}

	rewind := 0
	_, err := st.UpdateSeries(ctx, fx.series.ID, store.UpdateSeriesInput{CurrentNumber: &rewind})
	require.ErrorIs(t, err, store.ErrSeriesInUse)

	series, err := st.GetSeries(ctx, fx.series.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, series.CurrentNumber)

	// generation keeps working after the refused edit
	token := generate(t, ctx, st, fx)
	assert.Equal(t, "A-004", token.DisplayNumber)

	// edits that leave open numbers below the counter are allowed
	prefix := "B"
	updated, err := st.UpdateSeries(ctx, fx.series.ID, store.UpdateSeriesInput{Prefix: &prefix})
	require.NoError(t, err)
	assert.Equal(t, 4, updated.CurrentNumber)

	_, err = st.ResetBranch(ctx, fx.branch.ID)
	require.NoError(t, err)
	forward := 10
	_, err = st.UpdateSeries(ctx, fx.series.ID, store.UpdateSeriesInput{CurrentNumber: &forward})
	require.NoError(t, err)
	rewind = 2
	updated, err = st.UpdateSeries(ctx, fx.series.ID, store.UpdateSeriesInput{CurrentNumber: &rewind})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.CurrentNumber)
}

func TestGenerateTokenCreatedAtFollowsNumber(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)
	fx := seedBaseData(t, ctx, st)

	const callers = 10
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.GenerateToken(ctx, store.GenerateTokenInput{BranchID: fx.branch.ID, ServiceID: fx.service.ID})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	tokens, err := st.ListTokens(ctx, store.TokenFilter{BranchID: fx.branch.ID})
	require.NoError(t, err)
	require.Len(t, tokens, callers)
	for i, token := range tokens {
		assert.Equal(t, i+1, token.Number, "queue order must match issue order")
	}

	claimed, ok, err := st.ServeNext(ctx, store.ServeNextInput{EmployeeID: fx.employeeA.ID})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, claimed.Number)
}

func TestCreateSeriesDuplicatePrefix(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)
	fx := seedBaseData(t, ctx, st)

	other, err := st.CreateService(ctx, store.ServiceInput{BranchID: fx.branch.ID, Name: "Cards", Code: "CD", Status: models.StatusActive})
	require.NoError(t, err)
	_, err = st.CreateSeries(ctx, store.CreateSeriesInput{BranchID: fx.branch.ID, ServiceID: other.ID, Prefix: "a", StartFrom: 1, EndAt: 50, Active: true})
	require.ErrorIs(t, err, store.ErrConflict)
}

func TestRecordShiftEventBlocksServing(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)
	fx := seedBaseData(t, ctx, st)

	_, user, err := st.RecordShiftEvent(ctx, fx.employeeA.ID, models.LogBreakStart)
	require.NoError(t, err)
	assert.True(t, user.IsOnBreak)

	generate(t, ctx, st, fx)
	_, _, err = st.ServeNext(ctx, store.ServeNextInput{EmployeeID: fx.employeeA.ID})
	require.ErrorIs(t, err, store.ErrEmployeeOnBreak)

	logs, err := st.ListUserLogs(ctx, fx.employeeA.ID, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestServeNextRequiresStartedShift(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)
	fx := seedBaseData(t, ctx, st)

	_, user, err := st.RecordShiftEvent(ctx, fx.employeeA.ID, models.LogWorkEnd)
	require.NoError(t, err)
	assert.False(t, user.IsWorking)

	token := generate(t, ctx, st, fx)
	_, _, err = st.ServeNext(ctx, store.ServeNextInput{EmployeeID: fx.employeeA.ID})
	require.ErrorIs(t, err, store.ErrEmployeeOffShift)

	after, err := st.GetToken(ctx, token.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TokenPending, after.Status)
}

type serveResult struct {
	tokenID string
	ok      bool
	err     error
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	st := NewStore(pool, Options{BcryptCost: bcrypt.MinCost})
	cleanup := func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return st, pool, cleanup
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

// seedBaseData builds one branch with a service "A" series and two desks
// serving it, each staffed by one employee.
func seedBaseData(t *testing.T, ctx context.Context, st *Store) fixture {
	t.Helper()
	var fx fixture
	var err error

	fx.branch, err = st.CreateBranch(ctx, "Main Branch", "1 Queue Street")
	require.NoError(t, err, "insert branch")
	fx.service, err = st.CreateService(ctx, store.ServiceInput{BranchID: fx.branch.ID, Name: "Accounts", Code: "AC", Status: models.StatusActive})
	require.NoError(t, err, "insert service")
	fx.series, err = st.CreateSeries(ctx, store.CreateSeriesInput{BranchID: fx.branch.ID, ServiceID: fx.service.ID, Prefix: "A", StartFrom: 1, EndAt: 100, Active: true})
	require.NoError(t, err, "insert series")

	fx.deskA, err = st.CreateDesk(ctx, store.DeskInput{BranchID: fx.branch.ID, Name: "Desk A", Status: models.StatusActive, ServiceIDs: []string{fx.service.ID}})
	require.NoError(t, err, "insert desk A")
	fx.deskB, err = st.CreateDesk(ctx, store.DeskInput{BranchID: fx.branch.ID, Name: "Desk B", Status: models.StatusActive, ServiceIDs: []string{fx.service.ID}})
	require.NoError(t, err, "insert desk B")

	fx.employeeA, err = st.CreateUser(ctx, store.CreateUserInput{
		BranchID: fx.branch.ID, Name: "Ana", Email: uuid.NewString() + "@example.com", Password: "secret",
		Role: models.RoleEmployee, AssignedDeskID: fx.deskA.ID,
	})
	require.NoError(t, err, "insert employee A")
	fx.employeeB, err = st.CreateUser(ctx, store.CreateUserInput{
		BranchID: fx.branch.ID, Name: "Ben", Email: uuid.NewString() + "@example.com", Password: "secret",
		Role: models.RoleEmployee, AssignedDeskID: fx.deskB.ID,
	})
	require.NoError(t, err, "insert employee B")

	for _, employee := range []models.User{fx.employeeA, fx.employeeB} {
		_, _, err = st.RecordShiftEvent(ctx, employee.ID, models.LogWorkStart)
		require.NoError(t, err, "start shift")
	}
	return fx
}

func generate(t *testing.T, ctx context.Context, st *Store, fx fixture) models.Token {
	t.Helper()
	token, err := st.GenerateToken(ctx, store.GenerateTokenInput{BranchID: fx.branch.ID, ServiceID: fx.service.ID})
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}
