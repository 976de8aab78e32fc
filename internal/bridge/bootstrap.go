package bridge

import (
	"encoding/json"
	"net/http"

	"github.com/biglietto/sealbridge/internal/logging"
	"github.com/biglietto/sealbridge/internal/protocol"
	"github.com/biglietto/sealbridge/internal/status"
)

// bootstrap fetches a best-effort status snapshot over plain HTTP so the UI
// has data before the channel finishes opening. The duplex channel is the
// authoritative path; any failure here is logged and ignored.
func (s *Session) bootstrap() {
	defer logging.RecoverAndLog("bootstrap fetch", false)

	if s.cfg.BootstrapURL == "" {
		return
	}

	client := s.cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: s.cfg.BootstrapTimeout}
	}

	req, err := http.NewRequest(http.MethodGet, s.cfg.BootstrapURL, nil)
	if err != nil {
		logging.Debug(logging.CatSession, "Bootstrap request build failed", map[string]any{
			"error": err.Error(),
		})
		return
	}
	if s.cfg.SessionCookie != "" {
		req.Header.Set("Cookie", s.cfg.SessionCookie)
	}

	resp, err := client.Do(req)
	if err != nil {
		logging.Debug(logging.CatSession, "Bootstrap fetch failed", map[string]any{
			"error": err.Error(),
		})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logging.Debug(logging.CatSession, "Bootstrap fetch rejected", map[string]any{
			"status": resp.StatusCode,
		})
		return
	}

	var p protocol.StatusPayload
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		logging.Debug(logging.CatSession, "Bootstrap payload unreadable", map[string]any{
			"error": err.Error(),
		})
		return
	}

	s.store.Update(func(cur status.DeviceStatus) status.DeviceStatus {
		return status.ApplyStatusPayload(cur, p)
	})
	logging.Info(logging.CatSession, "Bootstrap status merged", nil)
}
