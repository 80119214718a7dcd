package webserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"rewardaudit/storage"
)

const DEFAULT_REPORT_LIMIT = 50

type ApiError struct {
	Error string `json:"error"`
}

func apiError(err error, w http.ResponseWriter) {
	apiErrorCode(err, http.StatusBadRequest, w)
}

func apiErrorCode(err error, code int, w http.ResponseWriter) {
	e, _ := json.Marshal(ApiError{err.Error()})
	http.Error(w, string(e), code)
}

func apiReturnOk(w http.ResponseWriter) {
	apiReturn(map[string]bool{"ok": true}, w)
}

func apiReturn(v interface{}, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("UI Return Encode Failure")
	}
}

func (ws *WebServer) getHealth(w http.ResponseWriter, r *http.Request) {
	apiReturnOk(w)
}

func (ws *WebServer) listReports(w http.ResponseWriter, r *http.Request) {

	log.Trace("API - ListReports")

	limit := DEFAULT_REPORT_LIMIT
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			apiError(errors.Errorf("Invalid limit %q", l), w)
			return
		}
		limit = n
	}

	entries, err := ws.storage.ListReports(limit)
	if err != nil {
		log.WithError(err).Error("API ListReports")
		apiErrorCode(errors.Wrap(err, "Cannot list reports"), http.StatusInternalServerError, w)
		return
	}

	apiReturn(map[string]interface{}{"reports": entries}, w)
}

func (ws *WebServer) getReport(w http.ResponseWriter, r *http.Request) {

	round, err := strconv.ParseUint(mux.Vars(r)["round"], 10, 32)
	if err != nil {
		apiError(errors.Wrap(err, "Invalid round"), w)
		return
	}

	log.WithField("Round", round).Trace("API - GetReport")

	raw, err := ws.storage.GetReport(uint32(round))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		apiErrorCode(errors.Errorf("No report for round %d", round), http.StatusNotFound, w)
		return
	case err != nil:
		log.WithError(err).Error("API GetReport")
		apiErrorCode(errors.Wrap(err, "Cannot get report"), http.StatusInternalServerError, w)
		return
	}

	apiReturn(raw, w)
}

func (ws *WebServer) getLatestRun(w http.ResponseWriter, r *http.Request) {

	log.Trace("API - GetLatestRun")

	run, err := ws.storage.GetLatestRun()
	switch {
	case errors.Is(err, storage.ErrNotFound):
		apiErrorCode(errors.New("No run recorded yet"), http.StatusNotFound, w)
		return
	case err != nil:
		log.WithError(err).Error("API GetLatestRun")
		apiErrorCode(errors.Wrap(err, "Cannot get latest run"), http.StatusInternalServerError, w)
		return
	}

	apiReturn(run, w)
}
