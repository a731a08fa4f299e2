package order

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"marketplace-be/internal/apperror"
	"marketplace-be/internal/logger"
	"marketplace-be/internal/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxOrderBodySize = 64 * 1024

type createOrderRequest struct {
	// UserID is honoured for admins placing an order on behalf of a user.
	UserID      *int64      `json:"userId"`
	Country     string      `json:"country"`
	Locality    string      `json:"locality"`
	Region      string      `json:"region"`
	PostalCode  string      `json:"postalCode"`
	Street      string      `json:"street"`
	HouseNumber string      `json:"houseNumber"`
	Description string      `json:"description"`
	OrderItems  []ItemInput `json:"orderItems"`
}

// Handler exposes the order endpoints. Callers must be authenticated.
type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// Routes registers the /orders endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{id}", h.getOrder)
	r.Patch("/{id}", h.updateOrder)
	r.Put("/{id}", h.updateOrder)
	r.Delete("/{id}", h.deleteOrder)
	r.Post("/{id}/cancel", h.cancelOrder)
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := utils.GetUserIDFromContext(ctx)
	if !ok {
		utils.WriteJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req createOrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		utils.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.UserID != nil && utils.IsAdmin(ctx) {
		userID = *req.UserID
	}

	o, err := h.svc.CreateOrder(ctx, CreateOrderInput{
		UserID: userID,
		Address: Address{
			Country:     req.Country,
			Locality:    req.Locality,
			Region:      req.Region,
			PostalCode:  req.PostalCode,
			Street:      req.Street,
			HouseNumber: req.HouseNumber,
		},
		Description: req.Description,
		Items:       req.OrderItems,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/orders/%d", o.ID))
	utils.WriteJSON(w, http.StatusCreated, o)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := utils.GetUserIDFromContext(r.Context())
	if !ok {
		utils.WriteJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	orders, err := h.svc.ListOrders(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []*Order{}
	}
	utils.WriteJSON(w, http.StatusOK, orders)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}
	utils.WriteJSON(w, http.StatusOK, o)
}

func (h *Handler) updateOrder(w http.ResponseWriter, r *http.Request) {
	current, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}

	var req UpdateOrderInput
	if err := decodeBody(w, r, &req); err != nil {
		utils.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	o, err := h.svc.UpdateOrder(r.Context(), current.ID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, o)
}

func (h *Handler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	current, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}

	if err := h.svc.DeleteOrder(r.Context(), current.ID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	current, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}

	o, err := h.svc.CancelOrder(r.Context(), current.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, o)
}

// ownedOrder loads the order named in the path. Orders of other users are
// reported as missing unless the caller is an admin.
func (h *Handler) ownedOrder(w http.ResponseWriter, r *http.Request) (*Order, bool) {
	ctx := r.Context()
	userID, ok := utils.GetUserIDFromContext(ctx)
	if !ok {
		utils.WriteJSONError(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}

	id, err := utils.ParseID(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		utils.WriteJSONError(w, "invalid order id", http.StatusBadRequest)
		return nil, false
	}

	o, err := h.svc.GetOrder(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	if o.UserID != userID && !utils.IsAdmin(ctx) {
		writeError(w, r, apperror.NotFound("Order with ID: %d does not exist", id))
		return nil, false
	}
	return o, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxOrderBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperror.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.FromCtx(r.Context()).Error("order request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	utils.WriteJSONError(w, apperror.PublicMessage(err), status)
}
