// Package api exposes the broker's HTTP surface: the WebSocket upgrade
// endpoint, presence and history queries, on-demand retention, and metrics.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"driftchat/internal/retention"
	"driftchat/pkg/history"
	"driftchat/pkg/hub"
	"driftchat/pkg/logger"
	"driftchat/pkg/models"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Handler builds the broker router. hist and sweeper may be nil; the
// corresponding endpoints then report 404 / 503.
func Handler(h *hub.Hub, hist *history.History, sweeper *retention.Sweeper) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	r.HandleFunc("/ws", h.ServeWS).Methods(http.MethodGet)

	r.HandleFunc("/v1/online", func(w http.ResponseWriter, _ *http.Request) {
		users := h.Online()
		writeJSON(w, http.StatusOK, map[string]any{
			"count": len(users),
			"users": users,
		})
	}).Methods(http.MethodGet)

	r.HandleFunc("/v1/history", func(w http.ResponseWriter, req *http.Request) {
		if hist == nil {
			jsonError(w, http.StatusNotFound, "history disabled")
			return
		}
		channel := req.URL.Query().Get("channel")
		if channel == "" {
			channel = models.KindPublic
		}
		limit := 0
		if v := req.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				jsonError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}
		msgs, err := hist.List(channel, limit)
		if err != nil {
			logger.Error("history_list_failed", "channel", channel, "error", err)
			jsonError(w, http.StatusInternalServerError, "history read failed")
			return
		}
		if msgs == nil {
			msgs = []models.Message{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"channel":  channel,
			"messages": msgs,
		})
	}).Methods(http.MethodGet)

	r.HandleFunc("/v1/admin/sweep", func(w http.ResponseWriter, req *http.Request) {
		if sweeper == nil {
			jsonError(w, http.StatusServiceUnavailable, "retention not configured")
			return
		}
		deleted, err := sweeper.RunOnce(time.Now().UTC())
		if err != nil {
			jsonError(w, http.StatusInternalServerError, "sweep finished with errors")
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
	}).Methods(http.MethodPost)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return r
}
