package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"SelamBot/internal/core/domain"
	"SelamBot/internal/core/ports"
	"SelamBot/internal/shared/config"
	"SelamBot/internal/shared/locker"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- Mocks ---

// MockUserRepository
type MockUserRepository struct {
	mock.Mock
}

var _ ports.UserRepository = (*MockUserRepository)(nil)

func (m *MockUserRepository) Create(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}
func (m *MockUserRepository) GetByTelegramID(ctx context.Context, id int64) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}
func (m *MockUserRepository) GetByPhoneHash(ctx context.Context, hash string) (*domain.User, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}
func (m *MockUserRepository) GetByPaymentReference(ctx context.Context, reference string) (*domain.User, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}
func (m *MockUserRepository) Update(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}
func (m *MockUserRepository) ListStalePaymentSessions(ctx context.Context, cutoff time.Time) ([]*domain.User, error) {
	args := m.Called(ctx, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.User), args.Error(1)
}
func (m *MockUserRepository) BulkResetDailyCounters(ctx context.Context, today time.Time) (int64, int64, error) {
	args := m.Called(ctx, today)
	return args.Get(0).(int64), args.Get(1).(int64), args.Error(2)
}

// MockPaymentProvider
type MockPaymentProvider struct {
	mock.Mock
}

var _ ports.PaymentProviderPort = (*MockPaymentProvider)(nil)

func (m *MockPaymentProvider) RequestPayment(ctx context.Context, req ports.PaymentRequest) (bool, error) {
	args := m.Called(ctx, req)
	return args.Bool(0), args.Error(1)
}
func (m *MockPaymentProvider) CheckStatus(ctx context.Context, reference string) (domain.PaymentStatus, error) {
	args := m.Called(ctx, reference)
	return args.Get(0).(domain.PaymentStatus), args.Error(1)
}

// MockBotClient
type MockBotClient struct {
	mock.Mock
}

var _ ports.BotClientPort = (*MockBotClient)(nil)

func (m *MockBotClient) SendMessage(ctx context.Context, params ports.SendMessageParams) error {
	args := m.Called(ctx, params)
	return args.Error(0)
}
func (m *MockBotClient) AnswerCallbackQuery(ctx context.Context, params ports.AnswerCallbackParams) error {
	args := m.Called(ctx, params)
	return args.Error(0)
}
func (m *MockBotClient) SetMenuCommands(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- Helpers ---

func testConfig() *config.Config {
	return &config.Config{
		Payment: config.PaymentConfig{
			Currency:    "ETB",
			CallbackURL: "https://bot.example.com/payments/callback",
			Timeout:     15 * time.Minute,
		},
		Plans: map[domain.PlanType]config.PlanConfig{
			domain.PlanWeekly:  {Amount: 10000, DurationDays: 7},
			domain.PlanMonthly: {Amount: 35000, DurationDays: 30},
		},
	}
}

func newTestOrchestrator(repo *MockUserRepository, provider *MockPaymentProvider, bot *MockBotClient) *Orchestrator {
	nopLogger := zerolog.Nop()
	return NewOrchestrator(testConfig(), repo, provider, bot, locker.NewKeyedMutex(), &nopLogger)
}

func paymentPhone(s string) *string { return &s }

// --- Initiate ---

func TestInitiate_InvalidPlan(t *testing.T) {
	orch := newTestOrchestrator(new(MockUserRepository), new(MockPaymentProvider), new(MockBotClient))
	user := &domain.User{TelegramID: 1, Stage: domain.StageAwaitingPhoneForPayment, PhoneNumber: paymentPhone("0921234567")}

	_, err := orch.Initiate(context.Background(), user, domain.PlanType("lifetime"))
	assert.ErrorIs(t, err, domain.ErrInvalidPlan)
	assert.Nil(t, user.PendingPayment)
}

func TestInitiate_MissingPayerPhone(t *testing.T) {
	orch := newTestOrchestrator(new(MockUserRepository), new(MockPaymentProvider), new(MockBotClient))
	user := &domain.User{TelegramID: 1, Stage: domain.StageAwaitingPhoneForPayment}

	_, err := orch.Initiate(context.Background(), user, domain.PlanWeekly)
	assert.ErrorIs(t, err, domain.ErrMissingPayerPhone)
}

func TestInitiate_ProviderRefusal_LeavesNoSession(t *testing.T) {
	repo := new(MockUserRepository)
	provider := new(MockPaymentProvider)
	orch := newTestOrchestrator(repo, provider, new(MockBotClient))

	provider.On("RequestPayment", mock.Anything, mock.Anything).Return(false, nil)

	user := &domain.User{TelegramID: 1, Stage: domain.StageAwaitingPhoneForPayment, PhoneNumber: paymentPhone("0921234567")}
	_, err := orch.Initiate(context.Background(), user, domain.PlanWeekly)

	assert.ErrorIs(t, err, domain.ErrPaymentInitiationFailed)
	assert.Nil(t, user.PendingPayment)
	assert.Equal(t, domain.StageAwaitingPhoneForPayment, user.Stage, "stage must not advance on failure")
	repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestInitiate_ProviderError_Wrapped(t *testing.T) {
	repo := new(MockUserRepository)
	provider := new(MockPaymentProvider)
	orch := newTestOrchestrator(repo, provider, new(MockBotClient))

	provider.On("RequestPayment", mock.Anything, mock.Anything).Return(false, errors.New("connection refused"))

	user := &domain.User{TelegramID: 1, Stage: domain.StageAwaitingPhoneForPayment, PhoneNumber: paymentPhone("0921234567")}
	_, err := orch.Initiate(context.Background(), user, domain.PlanWeekly)

	assert.ErrorIs(t, err, domain.ErrPaymentInitiationFailed)
	assert.Nil(t, user.PendingPayment)
}

func TestInitiate_Accepted_OpensSessionAndAdvancesStage(t *testing.T) {
	repo := new(MockUserRepository)
	provider := new(MockPaymentProvider)
	orch := newTestOrchestrator(repo, provider, new(MockBotClient))

	var sent ports.PaymentRequest
	provider.On("RequestPayment", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).(ports.PaymentRequest) }).
		Return(true, nil)
	repo.On("Update", mock.Anything, mock.Anything).Return(nil)

	user := &domain.User{
		TelegramID:         7,
		Stage:              domain.StageAwaitingPhoneForPayment,
		PhoneNumber:        paymentPhone("0921234567"),
		PaymentPhoneNumber: paymentPhone("0917654321"),
	}
	session, err := orch.Initiate(context.Background(), user, domain.PlanWeekly)
	require.NoError(t, err)

	assert.Equal(t, "0917654321", sent.PayerPhone, "payment phone takes precedence over trial phone")
	assert.Equal(t, int64(10000), sent.Amount)
	assert.Equal(t, "ETB", sent.Currency)
	assert.Equal(t, session.Reference, sent.Reference)

	assert.Equal(t, domain.StageAwaitingPayment, user.Stage)
	require.NotNil(t, user.PendingPayment)
	assert.Equal(t, domain.PaymentPending, user.PendingPayment.Status)
	assert.Equal(t, domain.PlanWeekly, user.PendingPayment.PlanType)
	repo.AssertCalled(t, "Update", mock.Anything, user)
}

// --- Reconcile ---

func TestReconcile_Successful_ActivatesSubscription(t *testing.T) {
	repo := new(MockUserRepository)
	bot := new(MockBotClient)
	orch := newTestOrchestrator(repo, new(MockPaymentProvider), bot)

	now := time.Now()
	orch.now = func() time.Time { return now }

	user := &domain.User{
		TelegramID: 7,
		Stage:      domain.StageAwaitingPayment,
		PendingPayment: &domain.PaymentSession{
			PlanType:  domain.PlanWeekly,
			Amount:    10000,
			Reference: "SB-1-7",
			StartedAt: now.Add(-time.Minute),
			Status:    domain.PaymentPending,
		},
	}
	repo.On("GetByPaymentReference", mock.Anything, "SB-1-7").Return(user, nil)
	repo.On("GetByTelegramID", mock.Anything, int64(7)).Return(user, nil)
	repo.On("Update", mock.Anything, user).Return(nil)
	bot.On("SendMessage", mock.Anything, mock.Anything).Return(nil)

	result, err := orch.Reconcile(context.Background(), "SB-1-7", domain.PaymentSuccessful)
	require.NoError(t, err)
	assert.Equal(t, ResultActivated, result)

	assert.Nil(t, user.PendingPayment)
	assert.Equal(t, domain.StageSubscriptionActive, user.Stage)
	assert.Equal(t, domain.SubscriptionActive, user.Subscription.Status)
	assert.True(t, user.Subscription.ExpiryDate.Equal(now.AddDate(0, 0, 7)))
}

func TestReconcile_DuplicateCallback_NoDoubleExtension(t *testing.T) {
	repo := new(MockUserRepository)
	bot := new(MockBotClient)
	orch := newTestOrchestrator(repo, new(MockPaymentProvider), bot)

	now := time.Now()
	orch.now = func() time.Time { return now }

	user := &domain.User{
		TelegramID: 7,
		Stage:      domain.StageAwaitingPayment,
		PendingPayment: &domain.PaymentSession{
			PlanType:  domain.PlanWeekly,
			Amount:    10000,
			Reference: "SB-1-7",
			StartedAt: now.Add(-time.Minute),
			Status:    domain.PaymentPending,
		},
	}
	repo.On("GetByPaymentReference", mock.Anything, "SB-1-7").Return(user, nil)
	repo.On("GetByTelegramID", mock.Anything, int64(7)).Return(user, nil)
	repo.On("Update", mock.Anything, user).Return(nil)
	bot.On("SendMessage", mock.Anything, mock.Anything).Return(nil)

	_, err := orch.Reconcile(context.Background(), "SB-1-7", domain.PaymentSuccessful)
	require.NoError(t, err)
	firstExpiry := user.Subscription.ExpiryDate

	// Same terminal callback again, a day later.
	orch.now = func() time.Time { return now.Add(24 * time.Hour) }
	result, err := orch.Reconcile(context.Background(), "SB-1-7", domain.PaymentSuccessful)
	require.NoError(t, err)

	assert.Equal(t, ResultAlreadySettled, result)
	assert.True(t, user.Subscription.ExpiryDate.Equal(firstExpiry), "expiry must not extend twice")
	assert.Equal(t, domain.StageSubscriptionActive, user.Stage)
	repo.AssertNumberOfCalls(t, "Update", 1)
}

func TestReconcile_Failed_RecoverableStage(t *testing.T) {
	repo := new(MockUserRepository)
	bot := new(MockBotClient)
	orch := newTestOrchestrator(repo, new(MockPaymentProvider), bot)

	user := &domain.User{
		TelegramID: 7,
		Stage:      domain.StageAwaitingPayment,
		PendingPayment: &domain.PaymentSession{
			PlanType:  domain.PlanMonthly,
			Amount:    35000,
			Reference: "SB-2-7",
			Status:    domain.PaymentPending,
		},
	}
	repo.On("GetByPaymentReference", mock.Anything, "SB-2-7").Return(user, nil)
	repo.On("GetByTelegramID", mock.Anything, int64(7)).Return(user, nil)
	repo.On("Update", mock.Anything, user).Return(nil)
	bot.On("SendMessage", mock.Anything, mock.Anything).Return(nil)

	result, err := orch.Reconcile(context.Background(), "SB-2-7", domain.PaymentFailed)
	require.NoError(t, err)

	assert.Equal(t, ResultFailed, result)
	assert.Nil(t, user.PendingPayment)
	assert.Equal(t, domain.StagePaymentFailed, user.Stage)
}

func TestReconcile_UnknownReference(t *testing.T) {
	repo := new(MockUserRepository)
	orch := newTestOrchestrator(repo, new(MockPaymentProvider), new(MockBotClient))

	repo.On("GetByPaymentReference", mock.Anything, "SB-nope").Return(nil, nil)

	_, err := orch.Reconcile(context.Background(), "SB-nope", domain.PaymentSuccessful)
	assert.ErrorIs(t, err, domain.ErrUnknownReference)
}

func TestReconcile_NonTerminalStatus_NoMutation(t *testing.T) {
	repo := new(MockUserRepository)
	orch := newTestOrchestrator(repo, new(MockPaymentProvider), new(MockBotClient))

	user := &domain.User{
		TelegramID: 7,
		Stage:      domain.StageAwaitingPayment,
		PendingPayment: &domain.PaymentSession{
			PlanType:  domain.PlanWeekly,
			Reference: "SB-3-7",
			Status:    domain.PaymentPending,
		},
	}
	repo.On("GetByPaymentReference", mock.Anything, "SB-3-7").Return(user, nil)
	repo.On("GetByTelegramID", mock.Anything, int64(7)).Return(user, nil)

	result, err := orch.Reconcile(context.Background(), "SB-3-7", domain.PaymentStatus("PROCESSING"))
	require.NoError(t, err)

	assert.Equal(t, ResultPending, result)
	assert.NotNil(t, user.PendingPayment)
	assert.Equal(t, domain.StageAwaitingPayment, user.Stage)
	repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestNewReference_EmbedsUser(t *testing.T) {
	ref := NewReference(time.Unix(0, 1234), 42)
	assert.Equal(t, "SB-1234-42", ref)
}
