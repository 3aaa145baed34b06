package service

import (
	"context"
	"errors"
	"testing"

	"github.com/richardliu001/pix-acquirer/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockOutbox struct{ mock.Mock }

func (m *mockOutbox) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	args := m.Called(ctx, limit)
	evts, _ := args.Get(0).([]model.OutboxEvent)
	return evts, args.Error(1)
}

func (m *mockOutbox) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	return m.Called(ctx, evt).Error(0)
}

func (m *mockOutbox) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	return m.Called(ctx, id).Error(0)
}

func TestRelay_FlushSkipsFailedPublish(t *testing.T) {
	store := &mockOutbox{}
	ok := model.OutboxEvent{ID: 1, EventType: "TransactionCompleted"}
	bad := model.OutboxEvent{ID: 2, EventType: "BalanceAdjusted"}
	store.On("PollOutbox", mock.Anything, 10).Return([]model.OutboxEvent{ok, bad}, nil)
	store.On("PublishEvent", mock.Anything, ok).Return(nil)
	store.On("PublishEvent", mock.Anything, bad).Return(errors.New("broker down"))
	store.On("MarkOutboxProcessed", mock.Anything, uint64(1)).Return(nil)

	r := NewRelay(store, 10, zap.NewNop().Sugar())
	sent, err := r.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "MarkOutboxProcessed", mock.Anything, uint64(2))
}

func TestRelay_PollError(t *testing.T) {
	store := &mockOutbox{}
	store.On("PollOutbox", mock.Anything, 100).Return(nil, errors.New("db gone"))

	_, err := NewRelay(store, 0, zap.NewNop().Sugar()).Flush(context.Background())
	assert.Error(t, err)
}
