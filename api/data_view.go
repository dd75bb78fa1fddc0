package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/MunishMummadi/web-scrapper/database"
)

// StatsData represents stats for the dashboard
type StatsData struct {
	TotalResults int    `json:"total_results"`
	QueuedURLs   int    `json:"queued_urls"`
	Downloaded   int    `json:"downloaded"`
	SessionID    string `json:"session_id"`
}

// StatsSource is the live-crawl side of the stats endpoint, implemented
// by the running crawler.
type StatsSource interface {
	SuccessfulDownloads() int
	TotalResults() int
}

// DataViewHandler serves the JSON read API over stored crawl results
type DataViewHandler struct {
	storage   database.Storage
	sessionID string
	stats     StatsSource
}

// NewDataViewHandler creates a new handler for viewing data
func NewDataViewHandler(storage database.Storage, sessionID string, stats StatsSource) *DataViewHandler {
	return &DataViewHandler{
		storage:   storage,
		sessionID: sessionID,
		stats:     stats,
	}
}

// RegisterRoutes registers the data view routes
func (h *DataViewHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/results", h.handleAPIResults)
	mux.HandleFunc("/api/stats", h.handleAPIStats)
	mux.HandleFunc("/api/logs", h.handleAPILogs)
}

// queryInt parses an integer query parameter with a default and bounds.
func queryInt(r *http.Request, name string, def, min, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < min || v > max {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}

// handleAPIResults returns stored crawl results as JSON, paginated
func (h *DataViewHandler) handleAPIResults(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1, 1, 1<<30)
	limit := queryInt(r, "limit", 20, 1, 100)
	offset := (page - 1) * limit

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = h.sessionID
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	totalCount, err := h.storage.GetResultsCount(ctx, sessionID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to count results: %v", err)
		return
	}

	results, err := h.storage.GetResults(ctx, sessionID, limit, offset)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to get results: %v", err)
		return
	}
	if results == nil {
		results = []database.StoredResult{}
	}

	totalPages := (totalCount + limit - 1) / limit
	if totalPages < 1 {
		totalPages = 1
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results":     results,
		"page":        page,
		"total_pages": totalPages,
		"total":       totalCount,
	})
}

// handleAPIStats returns stats as JSON for the dashboard
func (h *DataViewHandler) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	totalCount, err := h.storage.GetResultsCount(ctx, h.sessionID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to count results: %v", err)
		return
	}

	stats := StatsData{
		TotalResults: totalCount,
		SessionID:    h.sessionID,
	}
	if h.stats != nil {
		stats.Downloaded = h.stats.SuccessfulDownloads()
		stats.QueuedURLs = h.stats.TotalResults() - h.stats.SuccessfulDownloads()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleAPILogs returns the most recent crawl log lines for the session
func (h *DataViewHandler) handleAPILogs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100, 1, 1000)

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = h.sessionID
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	logs, err := h.storage.GetRecentLogs(ctx, sessionID, limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to get logs: %v", err)
		return
	}
	if logs == nil {
		logs = []database.StoredLog{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}
