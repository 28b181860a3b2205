package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/chatsync/internal/chatsync"
	"github.com/chatsync/internal/logger"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeActionError отдаёт ошибку действия пользователя с кодом по chatsync.Classify.
func writeActionError(w http.ResponseWriter, op string, err error) {
	status, msg := chatsync.Classify(err)
	if status >= http.StatusInternalServerError {
		logger.Errorf("%s: %v", op, err)
	}
	writeError(w, status, msg)
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
