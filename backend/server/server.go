package server

import (
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// recoveryMiddleware recovers from panics and provides a generic error
// message to the client.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logrus.WithField("panic", err).Error("panic recovered")
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// newRouter builds the REST router. Every handler speaks JSON except the
// backup pair, which moves CSV.
func newRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", healthHandler).Methods("GET")
	r.HandleFunc("/catalog", catalogHandler).Methods("GET")

	r.HandleFunc("/activities", logActivityHandler).Methods("POST")
	r.HandleFunc("/activities/{id}", deleteActivityHandler).Methods("DELETE")

	r.HandleFunc("/days/{date}", getDayHandler).Methods("GET")
	r.HandleFunc("/days/{date}/streak", getStreakHandler).Methods("GET")
	r.HandleFunc("/days/{date}/recompute", recomputeDayHandler).Methods("POST")

	r.HandleFunc("/todos", listTodosHandler).Methods("GET")
	r.HandleFunc("/todos", addTodoHandler).Methods("POST")
	r.HandleFunc("/todos/{id}/complete", completeTodoHandler).Methods("POST")
	r.HandleFunc("/todos/{id}", deleteTodoHandler).Methods("DELETE")

	r.HandleFunc("/quests/today", getQuestHandler).Methods("GET")
	r.HandleFunc("/quests/today/complete", completeQuestHandler).Methods("POST")

	r.HandleFunc("/backup/export", exportHandler).Methods("GET")
	r.HandleFunc("/backup/restore", restoreHandler).Methods("POST")

	return r
}

// Start initializes and starts the REST server on the given address.
// The call blocks; run it in a goroutine when the caller has more to do.
func Start(addr string) {
	router := recoveryMiddleware(newRouter())

	// Apply the CORS middleware to the router
	corsOrigins := handlers.AllowedOrigins([]string{"*"})
	corsMethods := handlers.AllowedMethods([]string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"})
	corsHeaders := handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type", "Authorization"})
	corsRouter := handlers.CORS(corsOrigins, corsMethods, corsHeaders)(router)

	// Apply the logging middleware
	loggingRouter := handlers.LoggingHandler(os.Stdout, corsRouter)

	server := &http.Server{
		Handler:      loggingRouter,
		Addr:         addr,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	logrus.WithField("addr", addr).Info("server listening")
	logrus.Fatal(server.ListenAndServe())
}
