// SPDX-License-Identifier: AGPL-3.0-or-later
package webhookdispatch

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/mailrelay/internal/domain/models"
)

type fakeDeliveries struct {
	inserted *models.WebhookDelivery
	err      error
}

func (f *fakeDeliveries) Insert(ctx context.Context, d *models.WebhookDelivery) error {
	if f.err != nil {
		return f.err
	}
	d.ID = 99
	f.inserted = d
	return nil
}

type fakeBroker struct {
	enqueued []DeliverWebhookTask
	err      error
}

func (f *fakeBroker) Enqueue(ctx context.Context, queueName string, payload any, maxAttempts int) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.enqueued = append(f.enqueued, payload.(DeliverWebhookTask))
	return 1, nil
}

func sentJob() *models.EmailJob {
	return &models.EmailJob{ID: 5, TenantID: uuid.New(), ApplicationID: 1, Status: models.EmailJobSent, ToEmail: "a@example.com"}
}

func TestDispatch_SkipsWhenWebhookDisabled(t *testing.T) {
	app := &models.Application{ID: 1, WebhookEnabled: false}
	d := New(&fakeDeliveries{}, &fakeBroker{}, 3)

	queued, err := d.Dispatch(context.Background(), app, sentJob(), "transactional", models.EventEmailSent)

	require.NoError(t, err)
	assert.False(t, queued)
}

func TestDispatch_SkipsWhenURLMissing(t *testing.T) {
	app := &models.Application{ID: 1, WebhookEnabled: true, WebhookEvents: []string{models.EventEmailSent}}
	d := New(&fakeDeliveries{}, &fakeBroker{}, 3)

	queued, err := d.Dispatch(context.Background(), app, sentJob(), "transactional", models.EventEmailSent)

	require.NoError(t, err)
	assert.False(t, queued)
}

func TestDispatch_SkipsWhenEventNotSubscribed(t *testing.T) {
	url := "https://example.com/hook"
	app := &models.Application{ID: 1, WebhookEnabled: true, WebhookURL: &url, WebhookEvents: []string{models.EventEmailFailed}}
	d := New(&fakeDeliveries{}, &fakeBroker{}, 3)

	queued, err := d.Dispatch(context.Background(), app, sentJob(), "transactional", models.EventEmailSent)

	require.NoError(t, err)
	assert.False(t, queued)
}

func TestDispatch_InsertsAndEnqueuesOnSubscribedEvent(t *testing.T) {
	url := "https://example.com/hook"
	app := &models.Application{ID: 1, WebhookEnabled: true, WebhookURL: &url, WebhookEvents: []string{models.EventEmailSent}}
	deliveries := &fakeDeliveries{}
	broker := &fakeBroker{}
	d := New(deliveries, broker, 3)

	queued, err := d.Dispatch(context.Background(), app, sentJob(), "transactional", models.EventEmailSent)

	require.NoError(t, err)
	assert.True(t, queued)
	require.NotNil(t, deliveries.inserted)
	assert.Equal(t, url, deliveries.inserted.WebhookURL)
	assert.Equal(t, 3, deliveries.inserted.MaxRetries)
	require.Len(t, broker.enqueued, 1)
	assert.Equal(t, int64(99), broker.enqueued[0].DeliveryID)
}

func TestDispatch_EnqueueFailureStillReportsQueuedTrue(t *testing.T) {
	url := "https://example.com/hook"
	app := &models.Application{ID: 1, WebhookEnabled: true, WebhookURL: &url, WebhookEvents: []string{models.EventEmailSent}}
	d := New(&fakeDeliveries{}, &fakeBroker{err: assert.AnError}, 3)

	queued, err := d.Dispatch(context.Background(), app, sentJob(), "transactional", models.EventEmailSent)

	require.Error(t, err)
	assert.True(t, queued)
}

func TestNew_DefaultsMaxRetries(t *testing.T) {
	d := New(&fakeDeliveries{}, &fakeBroker{}, 0)
	assert.Equal(t, 3, d.maxRetries)
}
