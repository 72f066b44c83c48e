package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/channel-gatekeeper/internal/access"
	"github.com/magabrotheeeer/channel-gatekeeper/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/channel-gatekeeper/internal/models"
	"github.com/magabrotheeeer/channel-gatekeeper/internal/storage/repository"
)

type RepoMock struct{ mock.Mock }

func (m *RepoMock) CreateOrGetUser(ctx context.Context, telegramID int64, username, firstName string) (*models.User, bool, error) {
	args := m.Called(ctx, telegramID, username, firstName)
	if args.Get(0) == nil {
		return nil, false, args.Error(2)
	}
	return args.Get(0).(*models.User), args.Bool(1), args.Error(2)
}
func (m *RepoMock) GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	args := m.Called(ctx, telegramID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}
func (m *RepoMock) MarkTrialUsed(ctx context.Context, userID int64) error {
	return m.Called(ctx, userID).Error(0)
}
func (m *RepoMock) CreateSubscription(ctx context.Context, userID int64, duration time.Duration) (int64, error) {
	args := m.Called(ctx, userID, duration)
	return int64(args.Int(0)), args.Error(1)
}
func (m *RepoMock) CreatePayment(ctx context.Context, payment models.Payment) (int64, error) {
	args := m.Called(ctx, payment)
	return int64(args.Int(0)), args.Error(1)
}

type AccessMock struct{ mock.Mock }

func (m *AccessMock) Grant(ctx context.Context, telegramID int64) (access.Status, error) {
	args := m.Called(ctx, telegramID)
	return args.Get(0).(access.Status), args.Error(1)
}

type NotifierMock struct{ mock.Mock }

func (m *NotifierMock) SendTrialActivated(ctx context.Context, telegramID int64, days int) {
	m.Called(ctx, telegramID, days)
}
func (m *NotifierMock) SendPaymentAccepted(ctx context.Context, telegramID int64, months int) {
	m.Called(ctx, telegramID, months)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func newTestService(r *RepoMock, a *AccessMock, n *NotifierMock) *Service {
	return New(r, a, n, newNoopLogger(), 3)
}

func TestRequestTrialSuccess(t *testing.T) {
	r := &RepoMock{}
	a := &AccessMock{}
	n := &NotifierMock{}
	r.On("GetUserByTelegramID", mock.Anything, int64(42)).
		Return(&models.User{ID: 1, TelegramID: 42, TrialUsed: false}, nil).Once()
	r.On("MarkTrialUsed", mock.Anything, int64(1)).Return(nil).Once()
	r.On("CreateSubscription", mock.Anything, int64(1), 3*24*time.Hour).Return(10, nil).Once()
	a.On("Grant", mock.Anything, int64(42)).Return(access.StatusDone, nil).Once()
	n.On("SendTrialActivated", mock.Anything, int64(42), 3).Once()

	err := newTestService(r, a, n).RequestTrial(context.Background(), 42)

	require.NoError(t, err)
	r.AssertExpectations(t)
	a.AssertExpectations(t)
	n.AssertExpectations(t)
}

func TestRequestTrialAlreadyUsed(t *testing.T) {
	r := &RepoMock{}
	a := &AccessMock{}
	n := &NotifierMock{}
	r.On("GetUserByTelegramID", mock.Anything, int64(42)).
		Return(&models.User{ID: 1, TelegramID: 42, TrialUsed: true}, nil).Once()

	err := newTestService(r, a, n).RequestTrial(context.Background(), 42)

	assert.ErrorIs(t, err, ErrTrialAlreadyUsed)
	r.AssertNotCalled(t, "CreateSubscription", mock.Anything, mock.Anything, mock.Anything)
	a.AssertNotCalled(t, "Grant", mock.Anything, mock.Anything)
}

func TestRequestTrialGrantFailureKeepsLedger(t *testing.T) {
	r := &RepoMock{}
	a := &AccessMock{}
	n := &NotifierMock{}
	r.On("GetUserByTelegramID", mock.Anything, int64(42)).
		Return(&models.User{ID: 1, TelegramID: 42}, nil).Once()
	r.On("MarkTrialUsed", mock.Anything, int64(1)).Return(nil).Once()
	r.On("CreateSubscription", mock.Anything, int64(1), mock.Anything).Return(10, nil).Once()
	a.On("Grant", mock.Anything, int64(42)).
		Return(access.StatusFailed, errors.New("directory unavailable")).Once()
	n.On("SendTrialActivated", mock.Anything, int64(42), 3).Once()

	// Сбой справочника не откатывает запись журнала и не является ошибкой
	// для вызывающего: доступ доберет плановая проверка.
	err := newTestService(r, a, n).RequestTrial(context.Background(), 42)

	require.NoError(t, err)
	r.AssertExpectations(t)
}

func validEvent() models.PaymentEvent {
	return models.PaymentEvent{
		EventID:    "e-1",
		ChargeID:   "ch_123",
		TelegramID: 42,
		Months:     3,
		Amount:     "300.00",
	}
}

func TestConfirmPaymentSuccess(t *testing.T) {
	r := &RepoMock{}
	a := &AccessMock{}
	n := &NotifierMock{}
	r.On("CreateOrGetUser", mock.Anything, int64(42), "", "").
		Return(&models.User{ID: 1, TelegramID: 42}, false, nil).Once()
	r.On("CreatePayment", mock.Anything, mock.MatchedBy(func(p models.Payment) bool {
		return p.ChargeID == "ch_123" && p.UserID == 1 && p.Months == 3
	})).Return(5, nil).Once()
	r.On("CreateSubscription", mock.Anything, int64(1), 3*30*24*time.Hour).Return(11, nil).Once()
	a.On("Grant", mock.Anything, int64(42)).Return(access.StatusDone, nil).Once()
	n.On("SendPaymentAccepted", mock.Anything, int64(42), 3).Once()

	err := newTestService(r, a, n).ConfirmPayment(context.Background(), validEvent())

	require.NoError(t, err)
	r.AssertExpectations(t)
	a.AssertExpectations(t)
	n.AssertExpectations(t)
}

func TestConfirmPaymentDuplicateChargeID(t *testing.T) {
	r := &RepoMock{}
	a := &AccessMock{}
	n := &NotifierMock{}
	r.On("CreateOrGetUser", mock.Anything, int64(42), "", "").
		Return(&models.User{ID: 1, TelegramID: 42}, false, nil).Once()
	r.On("CreatePayment", mock.Anything, mock.Anything).
		Return(0, repository.ErrPaymentExists).Once()

	// Повторное событие — no-op: ни второй подписки, ни второго grant.
	err := newTestService(r, a, n).ConfirmPayment(context.Background(), validEvent())

	require.NoError(t, err)
	r.AssertNotCalled(t, "CreateSubscription", mock.Anything, mock.Anything, mock.Anything)
	a.AssertNotCalled(t, "Grant", mock.Anything, mock.Anything)
}

func TestConfirmPaymentMalformedEvent(t *testing.T) {
	r := &RepoMock{}
	a := &AccessMock{}
	n := &NotifierMock{}

	event := validEvent()
	event.ChargeID = ""

	err := newTestService(r, a, n).ConfirmPayment(context.Background(), event)

	require.Error(t, err)
	assert.ErrorIs(t, err, rabbitmq.ErrBadMessage)
	r.AssertNotCalled(t, "CreateOrGetUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	r.AssertNotCalled(t, "CreatePayment", mock.Anything, mock.Anything)
}

func TestConfirmPaymentTransientFailureIsRetriable(t *testing.T) {
	r := &RepoMock{}
	a := &AccessMock{}
	n := &NotifierMock{}
	r.On("CreateOrGetUser", mock.Anything, int64(42), "", "").
		Return(&models.User{ID: 1, TelegramID: 42}, false, nil).Once()
	r.On("CreatePayment", mock.Anything, mock.Anything).
		Return(0, errors.New("connection refused")).Once()

	// Временный сбой журнала — обычная ошибка: сообщение вернется в очередь
	// и будет доставлено повторно.
	err := newTestService(r, a, n).ConfirmPayment(context.Background(), validEvent())

	require.Error(t, err)
	assert.NotErrorIs(t, err, rabbitmq.ErrBadMessage)
}

func TestHandlePaymentMessageUnparseable(t *testing.T) {
	r := &RepoMock{}
	a := &AccessMock{}
	n := &NotifierMock{}

	err := newTestService(r, a, n).HandlePaymentMessage([]byte("not-json"))

	require.Error(t, err)
	assert.ErrorIs(t, err, rabbitmq.ErrBadMessage)
	r.AssertNotCalled(t, "CreatePayment", mock.Anything, mock.Anything)
}

func TestExtendSubscription(t *testing.T) {
	r := &RepoMock{}
	a := &AccessMock{}
	n := &NotifierMock{}
	r.On("GetUserByTelegramID", mock.Anything, int64(42)).
		Return(&models.User{ID: 1, TelegramID: 42}, nil).Once()
	r.On("CreateSubscription", mock.Anything, int64(1), 30*24*time.Hour).Return(12, nil).Once()
	a.On("Grant", mock.Anything, int64(42)).Return(access.StatusNoop, nil).Once()

	err := newTestService(r, a, n).ExtendSubscription(context.Background(), 42, 30)

	require.NoError(t, err)
	r.AssertExpectations(t)
}
