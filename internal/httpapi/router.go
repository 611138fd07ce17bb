// Package httpapi — REST API движка заказов поверх chi.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
	"github.com/vladislavdragonenkov/stockorders/internal/metrics"
	"github.com/vladislavdragonenkov/stockorders/internal/service/catalog"
	"github.com/vladislavdragonenkov/stockorders/internal/service/orders"
)

const defaultRequestTimeout = 15 * time.Second

// Deps — зависимости роутера.
type Deps struct {
	Orders  *orders.Service
	Catalog *catalog.Service

	// Idempotency включает обработку Idempotency-Key на POST /orders; nil отключает.
	Idempotency        domain.IdempotencyRepository
	IdempotencyTTL     time.Duration
	IdempotencyMetrics *metrics.IdempotencyMetrics

	RequestTimeout time.Duration
	Logger         *log.Entry
}

// NewRouter собирает маршруты API.
func NewRouter(deps Deps) *chi.Mux {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(logger), middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	oh := &ordersHandler{svc: deps.Orders, customers: deps.Catalog.Customers(), logger: logger}
	ph := &productsHandler{svc: deps.Catalog, logger: logger}
	categories := resource[domain.Category, categoryDTO]{
		repo:    deps.Catalog.Categories(),
		toDTO:   categoryToDTO,
		fromDTO: categoryFromDTO,
		logger:  logger,
	}
	customers := resource[domain.Customer, customerDTO]{
		repo:    deps.Catalog.Customers(),
		toDTO:   customerToDTO,
		fromDTO: customerFromDTO,
		logger:  logger,
	}

	r.Route("/orders", func(r chi.Router) {
		r.With(Idempotency(deps.Idempotency, deps.IdempotencyTTL, deps.IdempotencyMetrics, logger)).
			Post("/", oh.create)
		r.Get("/", oh.list)
		r.Get("/{id}", oh.get)
		r.Put("/{id}", oh.update)
		r.Delete("/{id}", oh.delete)
	})
	r.Route("/products", ph.routes)
	r.Route("/categories", func(r chi.Router) {
		categories.routes(r)
		r.Get("/{id}/products", ph.listInCategory)
	})
	r.Route("/customers", func(r chi.Router) {
		customers.routes(r)
		r.Get("/{id}/orders", oh.listByCustomer)
	})
	return r
}

// requestLogger пишет одну строку logrus на запрос.
func requestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			entry := logger.WithFields(log.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			})
			if ww.Status() >= http.StatusInternalServerError {
				entry.Warn("http request")
				return
			}
			entry.Debug("http request")
		})
	}
}
