package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"duetrack.org/internal/alert"
	"duetrack.org/internal/audit"
	"duetrack.org/internal/scope"
)

type listAlertsResponse struct {
	Items []alert.Alert `json:"items"`
	AsOf  time.Time     `json:"as_of"`
}

type patchAlertRequest struct {
	Status string `json:"status"`
}

func (a *API) handleAlertsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listAlerts(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) handleAlertResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/alerts/")
	id = strings.Trim(id, "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodPatch:
		a.patchAlert(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodPatch)
	}
}

func (a *API) listAlerts(w http.ResponseWriter, r *http.Request) {
	sc, ok := requireScope(w, r)
	if !ok {
		return
	}
	if !sc.Can(scope.ActionViewAlerts) {
		writeError(w, r, http.StatusForbidden, "alert access denied")
		return
	}

	q := r.URL.Query()

	var statuses []alert.Status
	for _, raw := range q["status"] {
		st, err := alert.ParseStatus(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		statuses = append(statuses, st)
	}
	if len(statuses) == 0 {
		statuses = []alert.Status{alert.StatusActive, alert.StatusAcknowledged}
	}

	limit, err := parsePositiveInt(q.Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	// Caller-supplied firm ids only narrow the computed scope, never widen it.
	firms, all := sc.Apply(q["firm_id"])

	items, err := a.alerts.List(r.Context(), alert.Filter{
		Statuses: statuses,
		AllFirms: all,
		Firms:    firms,
		Limit:    limit,
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "alert listing failed")
		return
	}
	if items == nil {
		items = []alert.Alert{}
	}

	writeJSON(w, http.StatusOK, listAlertsResponse{
		Items: items,
		AsOf:  time.Now().UTC(),
	})
}

func (a *API) patchAlert(w http.ResponseWriter, r *http.Request, id string) {
	sc, ok := requireScope(w, r)
	if !ok {
		return
	}

	var req patchAlertRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	st, err := alert.ParseStatus(req.Status)
	if err != nil || st != alert.StatusAcknowledged {
		writeError(w, r, http.StatusBadRequest, "only status=acknowledged is supported")
		return
	}

	row, err := a.alerts.Get(r.Context(), id)
	if err != nil {
		handleAlertError(w, r, err)
		return
	}
	if err := sc.Authorize(scope.ActionAcknowledgeAlert, row.FirmID); err != nil {
		writeError(w, r, http.StatusForbidden, err.Error())
		return
	}

	updated, err := a.alerts.Acknowledge(r.Context(), id)
	if err != nil {
		handleAlertError(w, r, err)
		return
	}

	_ = audit.Record(r.Context(), "alert.acknowledge", "alert", updated.ID, map[string]any{
		"entity_type": string(updated.EntityType),
		"entity_id":   updated.EntityID,
		"firm_id":     updated.FirmID,
		"rule_code":   updated.RuleCode,
	})

	writeJSON(w, http.StatusOK, updated)
}

func (a *API) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	sc, ok := requireScope(w, r)
	if !ok {
		return
	}
	if err := sc.Authorize(scope.ActionTriggerScan, ""); err != nil {
		writeError(w, r, http.StatusForbidden, err.Error())
		return
	}

	summary := a.scanner.RunOnce(r.Context())

	_ = audit.Record(r.Context(), "scan.manual_trigger", "scan", "", map[string]any{
		"summary": summary,
	})

	writeJSON(w, http.StatusOK, summary)
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, fmt.Errorf("limit must be between %d and %d", min, max)
	}
	return val, nil
}

func handleAlertError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, alert.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, alert.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "alert operation failed")
	}
}
