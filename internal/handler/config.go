package handler

import (
	"net/http"

	"github.com/chatsync/internal/chatsync"
	"github.com/chatsync/internal/config"
)

// ConfigHandler отдаёт UI публичные параметры синхронизации.
type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

type syncConfigResponse struct {
	Username        string `json:"username"`
	PollIntervalMS  int64  `json:"poll_interval_ms"`
	DisplayTimezone string `json:"display_timezone"`
	PollingEnabled  bool   `json:"polling_enabled"`
	HistoryStorage  string `json:"history_storage"`
}

// GetSyncConfig: пользователь, интервал опроса и часовой пояс отображения.
func (h *ConfigHandler) GetSyncConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, syncConfigResponse{
		Username:        h.cfg.Username,
		PollIntervalMS:  h.cfg.PollInterval.Milliseconds(),
		DisplayTimezone: h.cfg.DisplayTimezone,
		PollingEnabled:  h.cfg.Username != "" && h.cfg.Username != chatsync.GuestUser,
		HistoryStorage:  h.cfg.Storage.Driver,
	})
}
