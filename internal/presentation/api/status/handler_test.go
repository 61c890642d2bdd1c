// SPDX-License-Identifier: AGPL-3.0-or-later
package status

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/mailrelay/internal/domain/models"
	"github.com/btouchard/mailrelay/internal/presentation/api/shared"
)

type fakeJobs struct {
	job *models.EmailJob
	err error
}

func (f *fakeJobs) GetByID(ctx context.Context, id int64) (*models.EmailJob, error) {
	return f.job, f.err
}

type fakeLogs struct {
	logs []*models.EmailLog
}

func (f *fakeLogs) ListByJob(ctx context.Context, jobID int64) ([]*models.EmailLog, error) {
	return f.logs, nil
}

type fakeDeliveries struct {
	delivery *models.WebhookDelivery
	err      error
}

func (f *fakeDeliveries) GetByEmailJobID(ctx context.Context, emailJobID int64) (*models.WebhookDelivery, error) {
	return f.delivery, f.err
}

func requestWithJobID(app *models.Application, id string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+id, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	if app != nil {
		ctx = context.WithValue(ctx, shared.ContextKeyApplication, app)
	}
	return req.WithContext(ctx)
}

func TestHandleGetJob_ReturnsSummary(t *testing.T) {
	app := &models.Application{ID: 1}
	job := &models.EmailJob{ID: 5, ApplicationID: 1, Status: models.EmailJobSent, MaxRetries: 3}
	h := NewHandler(&fakeJobs{job: job}, &fakeLogs{}, &fakeDeliveries{})

	w := httptest.NewRecorder()
	h.HandleGetJob(w, requestWithJobID(app, "5"))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleGetJob_NotFound(t *testing.T) {
	app := &models.Application{ID: 1}
	h := NewHandler(&fakeJobs{err: models.ErrJobNotFound}, &fakeLogs{}, &fakeDeliveries{})

	w := httptest.NewRecorder()
	h.HandleGetJob(w, requestWithJobID(app, "99"))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleGetJob_OtherApplicationLookupIsNotFound(t *testing.T) {
	app := &models.Application{ID: 2}
	job := &models.EmailJob{ID: 5, ApplicationID: 1, Status: models.EmailJobSent}
	h := NewHandler(&fakeJobs{job: job}, &fakeLogs{}, &fakeDeliveries{})

	w := httptest.NewRecorder()
	h.HandleGetJob(w, requestWithJobID(app, "5"))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleGetJob_InvalidIDIsBadRequest(t *testing.T) {
	app := &models.Application{ID: 1}
	h := NewHandler(&fakeJobs{}, &fakeLogs{}, &fakeDeliveries{})

	w := httptest.NewRecorder()
	h.HandleGetJob(w, requestWithJobID(app, "not-a-number"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleGetJobFull_IncludesWebhookWhenRequested(t *testing.T) {
	app := &models.Application{ID: 1}
	job := &models.EmailJob{ID: 5, ApplicationID: 1, Status: models.EmailJobSent, WebhookRequested: true}
	delivery := &models.WebhookDelivery{Status: models.WebhookDeliveryDelivered}
	h := NewHandler(&fakeJobs{job: job}, &fakeLogs{logs: []*models.EmailLog{{Status: models.EmailJobSent}}}, &fakeDeliveries{delivery: delivery})

	w := httptest.NewRecorder()
	h.HandleGetJobFull(w, requestWithJobID(app, "5"))

	require.Equal(t, http.StatusOK, w.Code)
}

func TestHandleGetJobFull_TolerantOfNoWebhookDelivery(t *testing.T) {
	app := &models.Application{ID: 1}
	job := &models.EmailJob{ID: 5, ApplicationID: 1, Status: models.EmailJobSent, WebhookRequested: true}
	h := NewHandler(&fakeJobs{job: job}, &fakeLogs{}, &fakeDeliveries{err: models.ErrWebhookDeliveryNotFound})

	w := httptest.NewRecorder()
	h.HandleGetJobFull(w, requestWithJobID(app, "5"))

	assert.Equal(t, http.StatusOK, w.Code)
}
