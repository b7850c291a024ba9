package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fuomag9/server-uptime/internal/models"
	"github.com/fuomag9/server-uptime/internal/store"
	"github.com/fuomag9/server-uptime/internal/uptime"
)

// ServerStatus is a server together with its uptime row for the current day,
// when one exists.
type ServerStatus struct {
	models.Server
	Today *models.Uptime `json:"today"`
}

// HandleListServers returns all known servers with today's uptime record
func HandleListServers(st *store.Store, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		servers, err := st.ListServers(r.Context())
		if err != nil {
			http.Error(w, "Failed to list servers", http.StatusInternalServerError)
			return
		}

		today := uptime.DateOf(time.Now().In(loc))
		statuses := make([]ServerStatus, 0, len(servers))
		for _, server := range servers {
			rec, err := st.GetUptime(r.Context(), server.ID, today)
			if err != nil {
				http.Error(w, "Failed to load uptime", http.StatusInternalServerError)
				return
			}
			statuses = append(statuses, ServerStatus{Server: server, Today: rec})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(statuses)
	}
}

// HandleServerUptimeHistory returns daily uptime rows for one server
func HandleServerUptimeHistory(st *store.Store, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "Invalid server id", http.StatusBadRequest)
			return
		}

		server, err := st.GetServer(r.Context(), id)
		if err != nil {
			http.Error(w, "Failed to load server", http.StatusInternalServerError)
			return
		}
		if server == nil {
			http.Error(w, "Server not found", http.StatusNotFound)
			return
		}

		// Days of history from query param (default 30, max 365)
		days := 30
		if daysStr := r.URL.Query().Get("days"); daysStr != "" {
			if d, err := strconv.Atoi(daysStr); err == nil && d > 0 && d <= 365 {
				days = d
			}
		}

		since := uptime.DateOf(time.Now().In(loc)).AddDate(0, 0, -days+1)
		history, err := st.UptimeHistory(r.Context(), id, since)
		if err != nil {
			http.Error(w, "Failed to load uptime history", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(history)
	}
}
