// SPDX-License-Identifier: AGPL-3.0-or-later

// Package intake is the HTTP surface over application/intake.Service:
// POST /api/v1/send/email. decode/validate/call/respond.
package intake

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/btouchard/mailrelay/internal/application/intake"
	"github.com/btouchard/mailrelay/internal/domain/models"
	"github.com/btouchard/mailrelay/internal/presentation/api/shared"
)

// requestBody is the decoded POST body. The template name travels on
// the query string (?template=).
type requestBody struct {
	ServiceName string         `json:"service"`
	ToEmail     string         `json:"to_email"`
	Variables   map[string]any `json:"variables"`
}

// response is the 202 envelope returned on acceptance.
type response struct {
	JobID  int64  `json:"job_id"`
	Status string `json:"status"`
}

// Handler wires intake.Service into the HTTP layer.
type Handler struct {
	service *intake.Service
}

func NewHandler(service *intake.Service) *Handler {
	return &Handler{service: service}
}

// HandleSendEmail implements POST /api/v1/send/email?template=<name>.
// The caller's Application was already resolved by
// shared.Middleware.RequireAPIKey and lives on the request context.
func (h *Handler) HandleSendEmail(w http.ResponseWriter, r *http.Request) {
	app, ok := shared.GetApplicationFromContext(r.Context())
	if !ok {
		shared.WriteUnauthorized(w, "")
		return
	}

	template := r.URL.Query().Get("template")
	if template == "" {
		shared.WriteBadRequest(w, "template query parameter is required")
		return
	}

	var body requestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		shared.WriteBadRequest(w, "invalid JSON body")
		return
	}
	if body.ServiceName == "" {
		shared.WriteBadRequest(w, "service is required")
		return
	}
	if body.ToEmail == "" {
		shared.WriteBadRequest(w, "to_email is required")
		return
	}

	result, err := h.service.Accept(r.Context(), app, intake.Request{
		Template:      template,
		ServiceName:   body.ServiceName,
		ToEmail:       body.ToEmail,
		VariablesData: body.Variables,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusAccepted, response{
		JobID:  result.JobID,
		Status: string(result.Status),
	})
}

// writeServiceError maps an intake.Service sentinel error to the HTTP
// status matching the error case.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrEmailServiceNotFound),
		errors.Is(err, models.ErrNoActiveConfiguration),
		errors.Is(err, models.ErrTemplateNotFound),
		errors.Is(err, models.ErrSMTPConfigurationMissing):
		shared.WriteError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, models.ErrTemplateRenderFailed):
		shared.WriteBadRequest(w, err.Error())
	default:
		shared.WriteInternalError(w)
	}
}
