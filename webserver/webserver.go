// Package webserver serves stored audit reports and run summaries as JSON,
// plus the Prometheus scrape endpoint.
package webserver

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"rewardaudit/notifications"
	"rewardaudit/storage"
)

type WebServer struct {
	storage       *storage.Storage
	notifications *notifications.NotificationHandler
	httpSvr       *http.Server
}

type WebServerArgs struct {
	BindAddr string
	BindPort int

	Storage       *storage.Storage
	Notifications *notifications.NotificationHandler

	ShutdownChannel <-chan interface{}
	WG              *sync.WaitGroup
}

func New(store *storage.Storage, notifier *notifications.NotificationHandler) *WebServer {
	return &WebServer{
		storage:       store,
		notifications: notifier,
	}
}

// Router builds the HTTP routes.
func (ws *WebServer) Router() *mux.Router {

	router := mux.NewRouter()

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(handlers.CORS(
		handlers.AllowedHeaders([]string{"Content-Type"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
	))

	apiRouter.HandleFunc("/health", ws.getHealth).Methods(http.MethodGet)
	apiRouter.HandleFunc("/reports", ws.listReports).Methods(http.MethodGet)
	apiRouter.HandleFunc("/reports/{round:[0-9]+}", ws.getReport).Methods(http.MethodGet)
	apiRouter.HandleFunc("/runs/latest", ws.getLatestRun).Methods(http.MethodGet)
	apiRouter.HandleFunc("/settings", ws.getSettings).Methods(http.MethodGet)
	apiRouter.HandleFunc("/settings/telegram", ws.saveTelegram).Methods(http.MethodPost, http.MethodOptions)

	router.Handle("/metrics", promhttp.Handler())

	return router
}

func Start(args WebServerArgs) error {

	if args.Storage == nil {
		return errors.New("Webserver needs a storage")
	}

	ws := New(args.Storage, args.Notifications)

	httpAddr := fmt.Sprintf("%s:%d", args.BindAddr, args.BindPort)
	ws.httpSvr = &http.Server{
		Handler:      handlers.LoggingHandler(os.Stdout, ws.Router()),
		Addr:         httpAddr,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	log.WithField("Addr", httpAddr).Info("Audit API Listening")

	args.WG.Add(1)

	// Launch webserver in background
	go func() {
		if err := ws.httpSvr.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Errorf("Httpserver: ListenAndServe()")
		}
		log.Info("Httpserver: Shutdown")
	}()

	// Wait for shutdown signal on channel
	go func() {
		defer args.WG.Done()

		<-args.ShutdownChannel

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := ws.httpSvr.Shutdown(ctx); err != nil {
			log.WithError(err).Errorf("Httpserver: Shutdown()")
		}
	}()

	return nil
}
