package config

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/gofrs/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/joho/godotenv"
)

// LoadEnv loads ./.env when present. Variables already set in the process
// environment win over the file.
func LoadEnv(service string) {
	log.Infof("%s service configuration and env variables loading started ...", service)
	err := godotenv.Load("./.env")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Info("no .env file, using process environment")
			return
		}
		log.Warnf("unable to load .env file: %s", err)
		return
	}

	log.Info(".env file loaded.")
}

func CreateUniqueInstance(service string) string {
	id, err := uuid.NewV4() // instance identifier
	if err != nil {
		log.Errorf("error generating instanceId: %s", err)
		os.Exit(1)
	}
	log.Infof(service+" service with Instance ID: %s is ready", id)
	return id.String()
}

// CORS allows any origin; the board is a public single-page client.
func CORS() *cors.Cors {
	corsOptions := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Card-Matched", "X-Cards-Removed"},
		MaxAge:         300, // Maximum value not ignored by any of major browsers
	})

	return corsOptions
}

// Logging sets the global logger level and, when logDir is not empty,
// redirects output to <logDir>/<service>.log.
func Logging(service, logDir, level string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.Warnf("unknown log level %q, using info", level)
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)

	if logDir == "" {
		log.SetOutput(os.Stdout)
		return
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.Warnf("unable to create folder for log %s", err)
		return
	}

	logFilePath := filepath.Join(logDir, service+".log")

	file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Fatal("Failed to open log file:", err)
	}

	log.SetOutput(file)

	log.Infof("log to file started for service: %s", service)
}

func CustomLoggerMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				log.WithFields(log.Fields{
					"request_id": middleware.GetReqID(r.Context()),
					"method":     r.Method,
					"uri":        r.RequestURI,
					"remote":     r.RemoteAddr,
					"status":     ww.Status(),
					"bytes":      ww.BytesWritten(),
					"latency":    time.Since(start).String(),
				}).Info(http.StatusText(ww.Status()))
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
