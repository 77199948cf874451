package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

type handlers struct {
	alerts AlertService
	reader MetricReader
}

type response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response{Success: false, Error: message})
}

func (h *handlers) listAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := h.alerts.ActiveAlerts()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (h *handlers) getAlert(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.alerts.Alert(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (h *handlers) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	inst, err := h.alerts.Acknowledge(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (h *handlers) resolveAlert(w http.ResponseWriter, r *http.Request) {
	inst, err := h.alerts.Resolve(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (h *handlers) listNotifications(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	recs, err := h.reader.Notifications(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": recs,
		"count":         len(recs),
	})
}

// healthVerdict reports the composite verdict: 200 when healthy, 503
// otherwise so probes can act on the status code alone.
func (h *handlers) healthVerdict(w http.ResponseWriter, r *http.Request) {
	overall := h.alerts.Health()
	status := http.StatusOK
	if !overall.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, overall)
}

func (h *handlers) queryMetric(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	from, to, err := parseTimeRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	samples, err := h.reader.Query(r.Context(), name, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"metric":  name,
		"samples": samples,
		"count":   len(samples),
	})
}

// parseTimeRange reads from/to query parameters, accepting RFC3339 or
// Unix seconds. The default window is the last hour.
func parseTimeRange(r *http.Request) (from, to time.Time, err error) {
	fromStr := r.URL.Query().Get("from")
	toStr := r.URL.Query().Get("to")

	to = time.Now()
	from = to.Add(-time.Hour)

	if fromStr != "" {
		from, err = parseTime(fromStr)
		if err != nil {
			return from, to, err
		}
	}
	if toStr != "" {
		to, err = parseTime(toStr)
		if err != nil {
			return from, to, err
		}
	}
	return from, to, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(ts, 0), nil
}
