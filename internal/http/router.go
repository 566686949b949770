package httpserver

import (
	"log"
	"net/http"

	"github.com/velocity-los/velocity-back/internal/http/handlers"
	"github.com/velocity-los/velocity-back/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         *log.Logger
	AuthToken      string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", deps.API.Health)
	mux.HandleFunc("/v1/applications", deps.API.Applications)
	mux.HandleFunc("/v1/applications/", deps.API.Application)
	mux.HandleFunc("/internal/pipeline/parse", deps.API.TriggerParse)
	mux.HandleFunc("/internal/pipeline/analyze", deps.API.TriggerAnalyze)

	handler := http.Handler(mux)
	handler = middleware.Auth(deps.AuthToken)(handler)
	handler = middleware.RateLimit(deps.RateLimitRPS, deps.RateLimitBurst)(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.CORSOrigins,
	})(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
