// Copyright 2025 AgentLedger
// SPDX-License-Identifier: BUSL-1.1

// Package ledger wires the persistence and accounting services into one HTTP
// daemon: identity, sessions, usage accounting, feedback, audit and the
// aggregation views, all sharing one Postgres pool and one Redis client.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"agentledger/platform/ledger/audit"
	"agentledger/platform/ledger/feedback"
	"agentledger/platform/ledger/identity"
	"agentledger/platform/ledger/quota"
	"agentledger/platform/ledger/session"
	"agentledger/platform/ledger/views"
	"agentledger/platform/shared/types"
)

// Prometheus metrics
var (
	promRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentledger_ledger_requests_total",
			Help: "Total number of HTTP requests handled by the ledger service",
		},
		[]string{"endpoint", "status"},
	)
	promRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentledger_ledger_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"endpoint"},
	)
	promAdmissionDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentledger_ledger_admission_decisions_total",
			Help: "Total number of admission decisions, by outcome and deny reason",
		},
		[]string{"decision", "reason"},
	)
	promUsageRecords = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentledger_ledger_usage_records_total",
			Help: "Total number of usage records durably written",
		},
	)
)

func init() {
	prometheus.MustRegister(promRequestsTotal)
	prometheus.MustRegister(promRequestDuration)
	prometheus.MustRegister(promAdmissionDecisions)
	prometheus.MustRegister(promUsageRecords)
}

// serviceRegistry holds everything the health and metrics endpoints inspect.
type serviceRegistry struct {
	db         *sql.DB
	deployment types.DeploymentConfig
	identity   *identity.Service
	sessions   *session.Service
	quotas     *quota.Service
	feedback   *feedback.Service
	views      *views.Service
	auditor    *audit.Recorder
	rate       *quota.RateLimiter
	startedAt  time.Time

	requestCount atomic.Int64
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// databaseURL returns DATABASE_URL when set, otherwise assembles a connection
// URL from the DATABASE_* parts with credentials escaped.
func databaseURL() string {
	if direct := os.Getenv("DATABASE_URL"); direct != "" {
		return direct
	}

	host := getEnv("DATABASE_HOST", "localhost")
	port := getEnv("DATABASE_PORT", "5432")
	name := getEnv("DATABASE_NAME", "agentledger")
	user := getEnv("DATABASE_USER", "postgres")
	password := os.Getenv("DATABASE_PASSWORD")
	sslMode := getEnv("DATABASE_SSLMODE", "disable")

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		url.QueryEscape(user), url.QueryEscape(password), host, port, name, sslMode)
}

func deploymentConfig() types.DeploymentConfig {
	mode := types.DeploymentMode(getEnv("DEPLOYMENT_MODE", "standalone"))
	if !mode.IsValid() {
		log.Printf("Unknown DEPLOYMENT_MODE '%s', falling back to standalone", mode)
		mode = types.DeploymentModeStandalone
	}
	if mode == types.DeploymentModeSaaS {
		return types.DefaultSaaSConfig()
	}
	return types.DefaultStandaloneConfig()
}

// Run is the exported entry point for the ledger service. It opens the
// database and Redis, applies the schema, builds every domain service, and
// blocks serving HTTP.
//
// Environment variables used:
//   - PORT: HTTP server port (default: 8084)
//   - DATABASE_URL or DATABASE_HOST/PORT/NAME/USER/PASSWORD/SSLMODE
//   - REDIS_URL: rate-window backend (optional; windows disabled without it)
//   - DEPLOYMENT_MODE: standalone (default) or saas
//   - JWT_SECRET: HS256 secret for admin endpoints (unset = open, dev mode)
//   - LEDGER_PRICING_FILE / LEDGER_PRICING: pricing table overrides
func Run() {
	log.Println("Starting AgentLedger ledger service...")

	reg := initializeServices()
	if reg.auditor != nil {
		defer reg.auditor.Close()
	}
	if reg.rate != nil {
		defer func() { _ = reg.rate.Close() }()
	}

	r := mux.NewRouter()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	r.HandleFunc("/health", reg.healthHandler).Methods("GET")
	r.HandleFunc("/metrics", reg.metricsHandler).Methods("GET")
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	identity.NewHandler(reg.identity).RegisterRoutes(r)
	session.NewHandler(reg.sessions).RegisterRoutes(r)
	quota.NewHandler(reg.quotas).RegisterRoutes(r)
	feedback.NewHandler(reg.feedback).RegisterRoutes(r)
	views.NewHandler(reg.views).RegisterRoutes(r)
	audit.NewHandler(reg.auditor).RegisterRoutes(r)

	auth := NewAdminAuth(os.Getenv("JWT_SECRET"))
	if reg.deployment.RequireAdminAuth && !auth.Enabled() {
		log.Println("WARNING: saas deployment without JWT_SECRET - tenant management is open")
	}

	// Route-aware middleware goes on the router so the mux route template is
	// available for the endpoint label.
	r.Use(reg.instrument)
	r.Use(auth.Middleware)

	handler := c.Handler(r)

	port := getEnv("PORT", "8084")
	log.Printf("Ledger service listening on port %s (%s mode)", port, reg.deployment.Mode)
	log.Fatal(http.ListenAndServe(":"+port, handler))
}

func initializeServices() *serviceRegistry {
	reg := &serviceRegistry{
		deployment: deploymentConfig(),
		startedAt:  time.Now().UTC(),
	}

	// Database: degraded, not fatal. Health reports the outage and every
	// handler surfaces errors until the database comes back.
	db, err := sql.Open("postgres", databaseURL())
	if err != nil {
		log.Fatalf("Invalid database configuration: %v", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	reg.db = db

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Printf("Database unreachable: %v (running degraded)", err)
	} else if err := InitSchema(ctx, db, reg.deployment); err != nil {
		log.Printf("Schema initialization failed: %v (running degraded)", err)
	} else {
		if reg.deployment.TenantIsolation {
			if err := RLSHealthCheck(ctx, db); err != nil {
				log.Printf("RLS health check failed: %v", err)
			} else {
				log.Println("RLS enabled on tenant-scoped tables")
			}
		}
		log.Println("Database connected, schema applied")
	}

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		rate, err := quota.NewRateLimiter(redisURL)
		if err != nil {
			log.Printf("Redis unavailable: %v (rate windows disabled, admission fails open)", err)
		} else {
			reg.rate = rate
			log.Println("Redis connected, rate windows enabled")
		}
	} else {
		log.Println("REDIS_URL unset, rate windows disabled")
	}

	pricing, err := quota.NewPricingTable()
	if err != nil {
		// Partial table still returned; defaults stay intact
		log.Printf("Pricing override rejected: %v (using defaults)", err)
	}

	reg.auditor = audit.NewRecorder(reg.db)
	reg.identity = identity.NewService(identity.NewPostgresRepository(reg.db), reg.auditor)
	reg.quotas = quota.NewService(quota.NewPostgresRepository(reg.db), reg.identity, pricing, reg.rate, reg.auditor)
	reg.sessions = session.NewService(session.NewPostgresRepository(reg.db), reg.identity, reg.quotas, reg.auditor)
	reg.feedback = feedback.NewService(feedback.NewPostgresRepository(reg.db), reg.auditor)
	reg.views = views.NewService(reg.db)

	reg.quotas.SetMetricsHooks(func(d *quota.AdmissionDecision) {
		outcome := "allowed"
		reason := "none"
		if !d.Allowed {
			outcome = "denied"
			reason = string(d.Reason)
		}
		promAdmissionDecisions.WithLabelValues(outcome, reason).Inc()
	}, func() {
		promUsageRecords.Inc()
	})

	return reg
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// instrument records per-request Prometheus metrics. The endpoint label uses
// the mux route template, not the raw path, to keep cardinality bounded.
func (reg *serviceRegistry) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sr, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tmpl
			}
		}
		promRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(sr.status)).Inc()
		promRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		reg.requestCount.Add(1)
	})
}

func (reg *serviceRegistry) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	dbHealthy := reg.db != nil && reg.db.PingContext(ctx) == nil
	components := map[string]bool{
		"database":    dbHealthy,
		"redis":       reg.rate.IsHealthy(ctx),
		"audit_queue": reg.auditor.IsHealthy(),
	}

	status := "healthy"
	if !dbHealthy {
		status = "degraded"
	}

	health := map[string]interface{}{
		"status":            status,
		"service":           "agentledger-ledger",
		"version":           "1.0.0",
		"timestamp":         time.Now().UTC(),
		"deployment_mode":   reg.deployment.Mode,
		"components":        components,
		"audit_queue_depth": reg.auditor.QueueDepth(),
	}

	w.Header().Set("Content-Type", "application/json")
	if !dbHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(health); err != nil {
		log.Printf("Error encoding health response: %v", err)
	}
}

// metricsHandler returns a JSON snapshot for dashboards that do not scrape
// Prometheus. The /prometheus endpoint carries the full series.
func (reg *serviceRegistry) metricsHandler(w http.ResponseWriter, r *http.Request) {
	snapshot := map[string]interface{}{
		"service":           "agentledger-ledger",
		"uptime_seconds":    int64(time.Since(reg.startedAt).Seconds()),
		"requests_total":    reg.requestCount.Load(),
		"audit_queue_depth": reg.auditor.QueueDepth(),
		"deployment_mode":   reg.deployment.Mode,
		"timestamp":         time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		log.Printf("Error encoding metrics response: %v", err)
	}
}
