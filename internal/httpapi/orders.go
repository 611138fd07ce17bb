package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
	"github.com/vladislavdragonenkov/stockorders/internal/repository"
	"github.com/vladislavdragonenkov/stockorders/internal/service/orders"
)

type ordersHandler struct {
	svc       *orders.Service
	customers *repository.Transactional[domain.Customer]
	logger    *log.Entry
}

func (h *ordersHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	order, err := h.svc.CreateOrder(r.Context(), orders.CreateOrderInput{
		CustomerID: req.CustomerID,
		Status:     req.Status,
		Items:      toItems(req.Items),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *ordersHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	order, err := h.svc.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *ordersHandler) list(w http.ResponseWriter, r *http.Request) {
	filter := domain.OrderFilter{Status: r.URL.Query().Get("status")}

	var err error
	if filter.CustomerID, err = queryInt64(r, "customer_id"); err != nil {
		badRequest(w, "customer_id must be an integer")
		return
	}
	limit, err := queryInt64(r, "limit")
	if err != nil {
		badRequest(w, "limit must be an integer")
		return
	}
	filter.Limit = int(limit)

	list, err := h.svc.ListOrders(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponses(list))
}

// listByCustomer отдаёт заказы клиента; отсутствующий клиент даёт 404.
func (h *ordersHandler) listByCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := h.customers.Get(r.Context(), id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	list, err := h.svc.ListOrders(r.Context(), domain.OrderFilter{
		CustomerID: id,
		Status:     r.URL.Query().Get("status"),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponses(list))
}

func (h *ordersHandler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	order, err := h.svc.UpdateOrder(r.Context(), id, orders.UpdateOrderInput{
		Items:  toItems(req.Items),
		Status: req.Status,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *ordersHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteOrder(r.Context(), id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func queryInt64(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
