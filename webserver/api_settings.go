package webserver

import (
	"io"
	"net/http"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"rewardaudit/notifications"
)

func (ws *WebServer) saveTelegram(w http.ResponseWriter, r *http.Request) {

	log.Trace("API - SaveTelegram")

	// CORS preflight
	if r.Method == http.MethodOptions {
		return
	}

	if ws.notifications == nil {
		apiError(errors.New("Notifications are disabled"), w)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.WithError(err).Error("API SaveTelegram")
		apiError(errors.Wrap(err, "Failed to parse body"), w)

		return
	}

	// Send string to configure for JSON unmarshaling; make sure to save config to db
	if err := ws.notifications.Configure(notifications.TELEGRAM, body, true); err != nil {
		log.WithError(err).Error("API SaveTelegram")
		apiError(errors.Wrap(err, "Failed to configure telegram"), w)

		return
	}

	if err := ws.notifications.TestSend(notifications.TELEGRAM, "Test message from rewardaudit"); err != nil {
		log.WithError(err).Error("API SaveTelegram")
		apiError(errors.Wrap(err, "Failed to execute telegram test"), w)

		return
	}

	apiReturnOk(w)
}

func (ws *WebServer) getSettings(w http.ResponseWriter, r *http.Request) {

	log.Trace("API - GetSettings")

	if ws.notifications == nil {
		apiReturn(map[string]interface{}{"notifications": nil}, w)
		return
	}

	// Returns json.RawMessage
	config, err := ws.notifications.GetConfig()
	if err != nil {
		apiErrorCode(errors.Wrap(err, "Cannot get notification settings"), http.StatusInternalServerError, w)

		return
	}

	apiReturn(map[string]interface{}{"notifications": config}, w)
}
