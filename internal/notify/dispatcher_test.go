package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
)

type SenderMock struct{ mock.Mock }

func (m *SenderMock) SendMessage(ctx context.Context, chatID int64, text string) error {
	return m.Called(ctx, chatID, text).Error(0)
}

type MarkerMock struct{ mock.Mock }

func (m *MarkerMock) Once(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestSendAccessInviteSwallowsErrors(t *testing.T) {
	s := &SenderMock{}
	mk := &MarkerMock{}
	s.On("SendMessage", mock.Anything, int64(42), mock.Anything).
		Return(errors.New("bot was blocked by the user")).Once()

	// Не должно ни паниковать, ни возвращать ошибку.
	New(s, mk, newNoopLogger()).SendAccessInvite(context.Background(), 42, "https://t.me/+abc")

	s.AssertExpectations(t)
}

func TestSendExpiryNoticeDeduplicated(t *testing.T) {
	s := &SenderMock{}
	mk := &MarkerMock{}
	day := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)

	mk.On("Once", mock.Anything, "notice:expired:42:2026-08-23", mock.Anything).
		Return(true, nil).Once()
	mk.On("Once", mock.Anything, "notice:expired:42:2026-08-23", mock.Anything).
		Return(false, nil).Once()
	s.On("SendMessage", mock.Anything, int64(42), mock.Anything).Return(nil).Once()

	d := New(s, mk, newNoopLogger())
	d.SendExpiryNotice(context.Background(), 42, day)
	d.SendExpiryNotice(context.Background(), 42, day)

	s.AssertNumberOfCalls(t, "SendMessage", 1)
	mk.AssertExpectations(t)
}

func TestSendExpiryNoticeMarkerStoreDown(t *testing.T) {
	s := &SenderMock{}
	mk := &MarkerMock{}
	day := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)

	mk.On("Once", mock.Anything, mock.Anything, mock.Anything).
		Return(false, errors.New("redis down")).Once()
	s.On("SendMessage", mock.Anything, int64(42), mock.Anything).Return(nil).Once()

	// Недоступность хранилища отметок деградирует в отправку.
	New(s, mk, newNoopLogger()).SendExpiryNotice(context.Background(), 42, day)

	s.AssertNumberOfCalls(t, "SendMessage", 1)
}

func TestSendRenewalReminderKeyPerSubscription(t *testing.T) {
	s := &SenderMock{}
	mk := &MarkerMock{}
	expires := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)

	mk.On("Once", mock.Anything, "notice:remind:7:2026-08-24", mock.Anything).
		Return(true, nil).Once()
	s.On("SendMessage", mock.Anything, int64(42), mock.Anything).Return(nil).Once()

	New(s, mk, newNoopLogger()).SendRenewalReminder(context.Background(), 42, 7, expires)

	mk.AssertExpectations(t)
	s.AssertExpectations(t)
}

func TestSendTrialActivated(t *testing.T) {
	s := &SenderMock{}
	mk := &MarkerMock{}
	s.On("SendMessage", mock.Anything, int64(42), mock.MatchedBy(func(text string) bool {
		return text != ""
	})).Return(nil).Once()

	New(s, mk, newNoopLogger()).SendTrialActivated(context.Background(), 42, 3)

	s.AssertExpectations(t)
}
