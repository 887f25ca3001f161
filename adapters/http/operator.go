package http

import (
	"net/http"

	"github.com/artpar/netbill/app"
	"github.com/artpar/netbill/domain/billing"
	"github.com/artpar/netbill/domain/router"
	"github.com/go-chi/chi/v5"
)

// defaultRouterID addresses the default router in paths.
const defaultRouterID = "default"

func (h *Handler) registerOperator(r chi.Router) {
	// Routers
	r.Get("/routers", h.ListRouters)
	r.Post("/routers", h.SaveRouter)
	r.Get("/routers/{router}", h.GetRouter)
	r.Put("/routers/{router}", h.SaveRouter)
	r.Post("/routers/{router}/test", h.TestConnection)
	r.Post("/routers/{router}/push-config", h.PushConfig)
	r.Get("/routers/{router}/profiles", h.GetProfiles)
	r.Post("/routers/{router}/secrets", h.UpsertSecret)
	r.Get("/routers/{router}/secrets/{username}", h.GetSecretStatus)
	r.Post("/routers/{router}/secrets/{username}/toggle", h.ToggleSecret)
	r.Put("/routers/{router}/secrets/{username}/profile", h.SetSecretProfile)
	r.Delete("/routers/{router}/secrets/{username}", h.DeleteSecret)

	// Subscribers
	r.Get("/subscribers", h.ListSubscribers)
	r.Post("/subscribers", h.UpsertSubscriber)
	r.Get("/subscribers/{id}", h.GetSubscriber)
	r.Put("/subscribers/{id}", h.UpsertSubscriber)
	r.Post("/subscribers/{id}/payments", h.RecordPayment)
	r.Post("/subscribers/{id}/outages", h.RecordOutage)
	r.Post("/subscribers/{id}/access", h.SetAccess)
	r.Post("/subscribers/{id}/sync", h.SyncCredential)
	r.Post("/subscribers/{id}/archive", h.ArchiveSubscriber)

	// Billing
	r.Get("/stats", h.Stats)
	r.Post("/billing/monthly-reset", h.MonthlyReset)
	r.Get("/billing/reports", h.Reports)
	r.Get("/settings/billing", h.GetBillingSettings)
	r.Put("/settings/billing", h.UpdateBillingSettings)

	// Sweep
	r.Post("/sweep", h.RunSweep)
	r.Get("/sweep/last", h.LastSweep)
}

// -----------------------------------------------------------------------------
// Routers
// -----------------------------------------------------------------------------

// resolveRouter loads the router named in the path. A missing record
// yields an empty router that every device operation reports as not
// configured, so callers relay the result rather than a 404.
func (h *Handler) resolveRouter(r *http.Request) (router.Router, error) {
	id := chi.URLParam(r, "router")
	if id == defaultRouterID {
		id = ""
	}
	return h.routers.ResolveRouter(r.Context(), id)
}

// ListRouters returns all stored routers. Passwords are never serialized.
func (h *Handler) ListRouters(w http.ResponseWriter, r *http.Request) {
	routers, err := h.routers.ListRouters(r.Context())
	if err != nil {
		h.fail(w, r, err, "failed to list routers")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"routers": routers, "total": len(routers)})
}

// GetRouter returns one stored router.
func (h *Handler) GetRouter(w http.ResponseWriter, r *http.Request) {
	rt, err := h.resolveRouter(r)
	if err != nil {
		h.fail(w, r, err, "failed to get router")
		return
	}
	if rt.ID == "" {
		writeError(w, http.StatusNotFound, "not_found", router.MsgNotConfigured)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

// SaveRouter creates a router (POST) or updates the one in the path (PUT).
func (h *Handler) SaveRouter(w http.ResponseWriter, r *http.Request) {
	var in app.RouterInput
	if err := decode(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	in.ID = chi.URLParam(r, "router")

	rt, err := h.routers.SaveRouter(r.Context(), in)
	if err != nil {
		h.fail(w, r, err, "failed to save router")
		return
	}
	status := http.StatusOK
	if in.ID == "" {
		status = http.StatusCreated
	}
	writeJSON(w, status, rt)
}

// TestConnection checks a stored router and records its status.
func (h *Handler) TestConnection(w http.ResponseWriter, r *http.Request) {
	rt, err := h.resolveRouter(r)
	if err != nil {
		h.fail(w, r, err, "failed to resolve router")
		return
	}
	if rt.ID == "" {
		writeJSON(w, http.StatusOK, h.routers.CheckHealth(r.Context(), rt))
		return
	}
	res, err := h.routers.TestConnection(r.Context(), rt.ID)
	if err != nil {
		h.fail(w, r, err, "failed to test router")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PushConfigRequest is the body of a provisioning request.
type PushConfigRequest struct {
	ServerAddress string `json:"serverAddress"`
}

// PushConfig applies the PPPoE provisioning plan to a router.
func (h *Handler) PushConfig(w http.ResponseWriter, r *http.Request) {
	var req PushConfigRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	rt, err := h.resolveRouter(r)
	if err != nil {
		h.fail(w, r, err, "failed to resolve router")
		return
	}
	writeJSON(w, http.StatusOK, h.routers.PushConfig(r.Context(), rt, req.ServerAddress))
}

// GetProfiles lists the router's PPP profiles.
func (h *Handler) GetProfiles(w http.ResponseWriter, r *http.Request) {
	rt, err := h.resolveRouter(r)
	if err != nil {
		h.fail(w, r, err, "failed to resolve router")
		return
	}
	writeJSON(w, http.StatusOK, h.routers.GetProfiles(r.Context(), rt))
}

// UpsertSecret creates or updates a PPP secret directly.
func (h *Handler) UpsertSecret(w http.ResponseWriter, r *http.Request) {
	var cred router.Credential
	if err := decode(r, &cred); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	rt, err := h.resolveRouter(r)
	if err != nil {
		h.fail(w, r, err, "failed to resolve router")
		return
	}
	writeJSON(w, http.StatusOK, h.routers.CreateOrUpdateSecret(r.Context(), rt, cred))
}

// GetSecretStatus reports whether a credential exists, is enabled and is online.
func (h *Handler) GetSecretStatus(w http.ResponseWriter, r *http.Request) {
	rt, err := h.resolveRouter(r)
	if err != nil {
		h.fail(w, r, err, "failed to resolve router")
		return
	}
	writeJSON(w, http.StatusOK, h.routers.GetPppoeStatus(r.Context(), rt, chi.URLParam(r, "username")))
}

// ToggleRequest enables or disables a credential.
type ToggleRequest struct {
	Enable bool `json:"enable"`
}

// ToggleSecret enables or disables a PPP secret.
func (h *Handler) ToggleSecret(w http.ResponseWriter, r *http.Request) {
	var req ToggleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	rt, err := h.resolveRouter(r)
	if err != nil {
		h.fail(w, r, err, "failed to resolve router")
		return
	}
	writeJSON(w, http.StatusOK, h.routers.TogglePppoeSecret(r.Context(), rt, chi.URLParam(r, "username"), req.Enable))
}

// ProfileRequest changes a credential's profile.
type ProfileRequest struct {
	Profile string `json:"profile"`
}

// SetSecretProfile moves a PPP secret to another profile.
func (h *Handler) SetSecretProfile(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	rt, err := h.resolveRouter(r)
	if err != nil {
		h.fail(w, r, err, "failed to resolve router")
		return
	}
	writeJSON(w, http.StatusOK, h.routers.SetPppoeProfile(r.Context(), rt, chi.URLParam(r, "username"), req.Profile))
}

// DeleteSecret removes a PPP secret. Deleting a missing secret succeeds.
func (h *Handler) DeleteSecret(w http.ResponseWriter, r *http.Request) {
	rt, err := h.resolveRouter(r)
	if err != nil {
		h.fail(w, r, err, "failed to resolve router")
		return
	}
	writeJSON(w, http.StatusOK, h.routers.DeleteSecret(r.Context(), rt, chi.URLParam(r, "username")))
}

// -----------------------------------------------------------------------------
// Subscribers
// -----------------------------------------------------------------------------

// ListSubscribers returns billing views, optionally filtered by ?status=.
func (h *Handler) ListSubscribers(w http.ResponseWriter, r *http.Request) {
	views, err := h.billing.List(r.Context(), billing.Status(r.URL.Query().Get("status")))
	if err != nil {
		h.fail(w, r, err, "failed to list subscribers")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscribers": views, "total": len(views)})
}

// GetSubscriber returns one subscriber with its resolved bill.
func (h *Handler) GetSubscriber(w http.ResponseWriter, r *http.Request) {
	view, err := h.billing.Evaluate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err, "failed to evaluate subscriber")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// UpsertSubscriber creates a subscriber (POST) or updates the one in the path (PUT).
func (h *Handler) UpsertSubscriber(w http.ResponseWriter, r *http.Request) {
	var in app.SubscriberInput
	if err := decode(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	in.ID = chi.URLParam(r, "id")

	sub, err := h.billing.UpsertSubscriber(r.Context(), in)
	if err != nil {
		h.fail(w, r, err, "failed to save subscriber")
		return
	}
	status := http.StatusOK
	if in.ID == "" {
		status = http.StatusCreated
	}
	writeJSON(w, status, sub)
}

// RecordPayment appends a payment and reports any re-enable outcome.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var in app.PaymentInput
	if err := decode(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	out, err := h.billing.RecordPayment(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.fail(w, r, err, "failed to record payment")
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// OutageRequest adds outage days.
type OutageRequest struct {
	Days int `json:"days"`
}

// RecordOutage adds outage days to a subscriber.
func (h *Handler) RecordOutage(w http.ResponseWriter, r *http.Request) {
	var req OutageRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	view, err := h.billing.RecordOutage(r.Context(), chi.URLParam(r, "id"), req.Days)
	if err != nil {
		h.fail(w, r, err, "failed to record outage")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// SetAccess enables or disables a subscriber's credential.
func (h *Handler) SetAccess(w http.ResponseWriter, r *http.Request) {
	var req ToggleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	res, err := h.billing.SetAccess(r.Context(), chi.URLParam(r, "id"), req.Enable)
	if err != nil {
		h.fail(w, r, err, "failed to change access")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SyncCredential pushes a subscriber's credential to its router.
func (h *Handler) SyncCredential(w http.ResponseWriter, r *http.Request) {
	res, err := h.billing.SyncCredential(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err, "failed to sync credential")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ArchiveSubscriber archives a subscriber and disables its credential.
func (h *Handler) ArchiveSubscriber(w http.ResponseWriter, r *http.Request) {
	res, err := h.billing.ArchiveSubscriber(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err, "failed to archive subscriber")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archived": true, "disable": res})
}

// -----------------------------------------------------------------------------
// Billing
// -----------------------------------------------------------------------------

// Stats returns dashboard totals.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.billing.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// MonthlyReset snapshots the month and clears outage days and balances.
func (h *Handler) MonthlyReset(w http.ResponseWriter, r *http.Request) {
	report, err := h.billing.MonthlyReset(r.Context())
	if err != nil {
		h.fail(w, r, err, "monthly reset failed")
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

// Reports returns monthly reports, newest first.
func (h *Handler) Reports(w http.ResponseWriter, r *http.Request) {
	reports, err := h.billing.Reports(r.Context(), parseIntQuery(r, "limit", 12))
	if err != nil {
		h.fail(w, r, err, "failed to list reports")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

// GetBillingSettings returns the billing parameters.
func (h *Handler) GetBillingSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.settings.Billing())
}

// UpdateBillingSettings changes billing parameters. Omitted fields are kept.
func (h *Handler) UpdateBillingSettings(w http.ResponseWriter, r *http.Request) {
	var in app.BillingInput
	if err := decode(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	s, err := h.settings.UpdateBilling(r.Context(), in)
	if err != nil {
		h.fail(w, r, err, "failed to update billing settings")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// -----------------------------------------------------------------------------
// Sweep
// -----------------------------------------------------------------------------

// RunSweep runs the overdue sweep now and returns its report.
// A run already in progress is waited for.
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweep.Run(r.Context())
	if err != nil {
		h.fail(w, r, err, "sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// LastSweep returns the report of the most recent sweep.
func (h *Handler) LastSweep(w http.ResponseWriter, r *http.Request) {
	last := h.sweep.Last()
	if last == nil {
		writeError(w, http.StatusNotFound, "not_found", "No sweep has run yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"report":   last,
		"schedule": h.sweep.Schedule(),
	})
}
