package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockorders/internal/domain"
	"github.com/vladislavdragonenkov/stockorders/internal/repository"
	"github.com/vladislavdragonenkov/stockorders/internal/service/catalog"
)

type productsHandler struct {
	svc    *catalog.Service
	logger *log.Entry
}

func (h *productsHandler) routes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.delete)
	r.Put("/{id}/stock", h.setStock)
	r.Post("/{id}/stock/adjust", h.adjustStock)
}

func (h *productsHandler) create(w http.ResponseWriter, r *http.Request) {
	var req productDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	product, err := h.svc.CreateProduct(r.Context(), productFromDTO(0, req))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, productToDTO(product))
}

// list поддерживает ?q= (поиск по названию) и ?category_id=.
func (h *productsHandler) list(w http.ResponseWriter, r *http.Request) {
	categoryID, err := queryInt64(r, "category_id")
	if err != nil {
		badRequest(w, "category_id must be an integer")
		return
	}

	var products []domain.Product
	switch query := r.URL.Query().Get("q"); {
	case categoryID > 0:
		products, err = h.svc.ProductsInCategory(r.Context(), categoryID)
	case query != "":
		products, err = h.svc.SearchProducts(r.Context(), query)
	default:
		products, err = h.svc.ListProducts(r.Context())
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(products, productToDTO))
}

func (h *productsHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	product, err := h.svc.GetProduct(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, productToDTO(product))
}

func (h *productsHandler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req productDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	product, err := h.svc.UpdateProduct(r.Context(), productFromDTO(id, req))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, productToDTO(product))
}

func (h *productsHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteProduct(r.Context(), id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *productsHandler) setStock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req setStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	product, err := h.svc.SetStock(r.Context(), id, req.Quantity)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, productToDTO(product))
}

func (h *productsHandler) adjustStock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req adjustStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	product, err := h.svc.AdjustStock(r.Context(), id, req.Delta)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, productToDTO(product))
}

// resource отдаёт CRUD-маршруты для сущности поверх обобщённого репозитория.
type resource[T any, D any] struct {
	repo    *repository.Transactional[T]
	toDTO   func(T) D
	fromDTO func(id int64, dto D) T
	logger  *log.Entry
}

func (res resource[T, D]) routes(r chi.Router) {
	r.Post("/", res.create)
	r.Get("/", res.list)
	r.Get("/{id}", res.get)
	r.Put("/{id}", res.update)
	r.Delete("/{id}", res.delete)
}

func (res resource[T, D]) create(w http.ResponseWriter, r *http.Request) {
	var req D
	if !decodeJSON(w, r, &req) {
		return
	}
	created, err := res.repo.Add(r.Context(), res.fromDTO(0, req))
	if err != nil {
		writeError(w, res.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res.toDTO(created))
}

func (res resource[T, D]) list(w http.ResponseWriter, r *http.Request) {
	all, err := res.repo.GetAll(r.Context())
	if err != nil {
		writeError(w, res.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(all, res.toDTO))
}

func (res resource[T, D]) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	entity, err := res.repo.Get(r.Context(), id)
	if err != nil {
		writeError(w, res.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res.toDTO(entity))
}

func (res resource[T, D]) update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req D
	if !decodeJSON(w, r, &req) {
		return
	}
	updated, err := res.repo.Update(r.Context(), res.fromDTO(id, req))
	if err != nil {
		writeError(w, res.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res.toDTO(updated))
}

func (res resource[T, D]) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := res.repo.Delete(r.Context(), id); err != nil {
		writeError(w, res.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func mapSlice[T, D any](in []T, fn func(T) D) []D {
	out := make([]D, len(in))
	for i, v := range in {
		out[i] = fn(v)
	}
	return out
}

func (h *productsHandler) listInCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	products, err := h.svc.ProductsInCategory(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(products, productToDTO))
}
