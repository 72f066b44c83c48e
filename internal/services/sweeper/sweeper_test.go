package sweeper

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/channel-gatekeeper/internal/access"
	"github.com/magabrotheeeer/channel-gatekeeper/internal/models"
)

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) FindExpiredActive(ctx context.Context, now time.Time) ([]*models.MemberSubscription, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.MemberSubscription), args.Error(1)
}

func (m *mockRepository) MarkExpired(ctx context.Context, subscriptionID int64) error {
	args := m.Called(ctx, subscriptionID)
	return args.Error(0)
}

func (m *mockRepository) HasValidAccess(ctx context.Context, telegramID int64) (bool, error) {
	args := m.Called(ctx, telegramID)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepository) FindLapsedMembers(ctx context.Context) ([]*models.Member, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Member), args.Error(1)
}

func (m *mockRepository) FindExpiringOn(ctx context.Context, day time.Time) ([]*models.MemberSubscription, error) {
	args := m.Called(ctx, day)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.MemberSubscription), args.Error(1)
}

type mockAccess struct {
	mock.Mock
}

func (m *mockAccess) Revoke(ctx context.Context, telegramID int64) (access.Status, error) {
	args := m.Called(ctx, telegramID)
	return args.Get(0).(access.Status), args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) SendExpiryNotice(ctx context.Context, telegramID int64, day time.Time) {
	m.Called(ctx, telegramID, day)
}

func (m *mockNotifier) SendRenewalReminder(ctx context.Context, telegramID, subscriptionID int64, expiresAt time.Time) {
	m.Called(ctx, telegramID, subscriptionID, expiresAt)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, repo Repository, acc AccessController, notifier Notifier) *Service {
	t.Helper()
	svc, err := New(repo, acc, notifier, discardLogger(), 6*time.Hour, "09:00")
	require.NoError(t, err)
	return svc
}

func TestNewRejectsBadDailyAt(t *testing.T) {
	_, err := New(&mockRepository{}, &mockAccess{}, &mockNotifier{},
		discardLogger(), time.Hour, "nine am")
	require.Error(t, err)
}

func TestSweepExpiresAndRevokes(t *testing.T) {
	repo := new(mockRepository)
	acc := new(mockAccess)
	notifier := new(mockNotifier)

	sub := &models.MemberSubscription{SubscriptionID: 7, UserID: 1, TelegramID: 100}
	repo.On("FindExpiredActive", mock.Anything, mock.Anything).Return([]*models.MemberSubscription{sub}, nil)
	repo.On("MarkExpired", mock.Anything, int64(7)).Return(nil)
	repo.On("HasValidAccess", mock.Anything, int64(100)).Return(false, nil)
	repo.On("FindLapsedMembers", mock.Anything).Return([]*models.Member{}, nil)
	acc.On("Revoke", mock.Anything, int64(100)).Return(access.StatusDone, nil)
	notifier.On("SendExpiryNotice", mock.Anything, int64(100), mock.Anything).Return()

	svc := newTestService(t, repo, acc, notifier)
	svc.Sweep(context.Background(), KindInterval)

	repo.AssertExpectations(t)
	acc.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestSweepSkipsRevokeAfterRenewal(t *testing.T) {
	repo := new(mockRepository)
	acc := new(mockAccess)
	notifier := new(mockNotifier)

	sub := &models.MemberSubscription{SubscriptionID: 7, UserID: 1, TelegramID: 100}
	repo.On("FindExpiredActive", mock.Anything, mock.Anything).Return([]*models.MemberSubscription{sub}, nil)
	repo.On("MarkExpired", mock.Anything, int64(7)).Return(nil)
	// Пользователь успел оплатить между истечением и сверкой.
	repo.On("HasValidAccess", mock.Anything, int64(100)).Return(true, nil)
	repo.On("FindLapsedMembers", mock.Anything).Return([]*models.Member{}, nil)

	svc := newTestService(t, repo, acc, notifier)
	svc.Sweep(context.Background(), KindInterval)

	acc.AssertNotCalled(t, "Revoke", mock.Anything, mock.Anything)
	notifier.AssertNotCalled(t, "SendExpiryNotice", mock.Anything, mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestSweepKeepsLedgerWhenRevokeFails(t *testing.T) {
	repo := new(mockRepository)
	acc := new(mockAccess)
	notifier := new(mockNotifier)

	sub := &models.MemberSubscription{SubscriptionID: 7, UserID: 1, TelegramID: 100}
	repo.On("FindExpiredActive", mock.Anything, mock.Anything).Return([]*models.MemberSubscription{sub}, nil)
	repo.On("MarkExpired", mock.Anything, int64(7)).Return(nil)
	repo.On("HasValidAccess", mock.Anything, int64(100)).Return(false, nil)
	repo.On("FindLapsedMembers", mock.Anything).Return([]*models.Member{}, nil)
	acc.On("Revoke", mock.Anything, int64(100)).Return(access.StatusFailed, assert.AnError)

	svc := newTestService(t, repo, acc, notifier)
	svc.Sweep(context.Background(), KindInterval)

	// Запись уже переведена в expired; уведомление при сбое отзыва не шлется.
	repo.AssertCalled(t, "MarkExpired", mock.Anything, int64(7))
	notifier.AssertNotCalled(t, "SendExpiryNotice", mock.Anything, mock.Anything, mock.Anything)
}

func TestSweepSecondRunIsNoop(t *testing.T) {
	repo := new(mockRepository)
	acc := new(mockAccess)
	notifier := new(mockNotifier)

	// После первой сверки истекших активных записей больше нет.
	repo.On("FindExpiredActive", mock.Anything, mock.Anything).Return([]*models.MemberSubscription{}, nil)
	repo.On("FindLapsedMembers", mock.Anything).Return([]*models.Member{}, nil)

	svc := newTestService(t, repo, acc, notifier)
	svc.Sweep(context.Background(), KindInterval)
	svc.Sweep(context.Background(), KindInterval)

	acc.AssertNotCalled(t, "Revoke", mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestRecoveryPassRevokesLapsedMembers(t *testing.T) {
	repo := new(mockRepository)
	acc := new(mockAccess)
	notifier := new(mockNotifier)

	repo.On("FindExpiredActive", mock.Anything, mock.Anything).Return([]*models.MemberSubscription{}, nil)
	repo.On("FindLapsedMembers", mock.Anything).Return([]*models.Member{
		{UserID: 1, TelegramID: 100},
		{UserID: 2, TelegramID: 200},
	}, nil)
	acc.On("Revoke", mock.Anything, int64(100)).Return(access.StatusDone, nil)
	acc.On("Revoke", mock.Anything, int64(200)).Return(access.StatusNoop, nil)

	svc := newTestService(t, repo, acc, notifier)
	svc.Sweep(context.Background(), KindInterval)

	acc.AssertExpectations(t)
	// Обычная сверка лишних уведомлений не шлет.
	notifier.AssertNotCalled(t, "SendExpiryNotice", mock.Anything, mock.Anything, mock.Anything)
}

func TestStartupSweepNotifiesLapsedMembers(t *testing.T) {
	repo := new(mockRepository)
	acc := new(mockAccess)
	notifier := new(mockNotifier)

	repo.On("FindExpiredActive", mock.Anything, mock.Anything).Return([]*models.MemberSubscription{}, nil)
	repo.On("FindLapsedMembers", mock.Anything).Return([]*models.Member{
		{UserID: 1, TelegramID: 100},
	}, nil)
	acc.On("Revoke", mock.Anything, int64(100)).Return(access.StatusDone, nil)
	notifier.On("SendExpiryNotice", mock.Anything, int64(100), mock.Anything).Return()

	svc := newTestService(t, repo, acc, notifier)
	svc.Sweep(context.Background(), KindStartup)

	notifier.AssertExpectations(t)
}

func TestDailySweepSendsReminders(t *testing.T) {
	repo := new(mockRepository)
	acc := new(mockAccess)
	notifier := new(mockNotifier)

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	expiresAt := now.Add(30 * time.Hour)
	repo.On("FindExpiredActive", mock.Anything, mock.Anything).Return([]*models.MemberSubscription{}, nil)
	repo.On("FindLapsedMembers", mock.Anything).Return([]*models.Member{}, nil)
	repo.On("FindExpiringOn", mock.Anything, now.Add(24*time.Hour)).Return([]*models.MemberSubscription{
		{SubscriptionID: 5, UserID: 1, TelegramID: 100, ExpiresAt: expiresAt},
	}, nil)
	notifier.On("SendRenewalReminder", mock.Anything, int64(100), int64(5), expiresAt).Return()

	svc := newTestService(t, repo, acc, notifier)
	svc.now = func() time.Time { return now }
	svc.Sweep(context.Background(), KindDaily)

	notifier.AssertExpectations(t)
}

func TestIntervalSweepSkipsReminders(t *testing.T) {
	repo := new(mockRepository)
	acc := new(mockAccess)
	notifier := new(mockNotifier)

	repo.On("FindExpiredActive", mock.Anything, mock.Anything).Return([]*models.MemberSubscription{}, nil)
	repo.On("FindLapsedMembers", mock.Anything).Return([]*models.Member{}, nil)

	svc := newTestService(t, repo, acc, notifier)
	svc.Sweep(context.Background(), KindInterval)

	repo.AssertNotCalled(t, "FindExpiringOn", mock.Anything, mock.Anything)
}

func TestSweepNonReentrant(t *testing.T) {
	repo := new(mockRepository)
	acc := new(mockAccess)
	notifier := new(mockNotifier)

	entered := make(chan struct{})
	release := make(chan struct{})
	repo.On("FindExpiredActive", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return([]*models.MemberSubscription{}, nil).Once()
	repo.On("FindLapsedMembers", mock.Anything).Return([]*models.Member{}, nil).Once()

	svc := newTestService(t, repo, acc, notifier)

	done := make(chan struct{})
	go func() {
		svc.Sweep(context.Background(), KindInterval)
		close(done)
	}()
	<-entered

	// Запуск во время идущей сверки пропускается, не трогая журнал.
	svc.Sweep(context.Background(), KindDaily)

	close(release)
	<-done

	repo.AssertNumberOfCalls(t, "FindExpiredActive", 1)
	repo.AssertNotCalled(t, "FindExpiringOn", mock.Anything, mock.Anything)
}

func TestUntilNextDaily(t *testing.T) {
	svc := newTestService(t, &mockRepository{}, &mockAccess{}, &mockNotifier{})

	svc.now = func() time.Time {
		return time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC)
	}
	assert.Equal(t, 30*time.Minute, svc.untilNextDaily())

	// Сегодняшнее время уже прошло — ждем до завтра.
	svc.now = func() time.Time {
		return time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	}
	assert.Equal(t, 23*time.Hour, svc.untilNextDaily())
}
