package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/hmdp/seckill/internal/core/domain"
	"github.com/hmdp/seckill/internal/core/service"
)

type HTTPHandler struct {
	seckillService *service.SeckillService
	shopService    *service.ShopService
}

func NewHTTPHandler(seckillService *service.SeckillService, shopService *service.ShopService) *HTTPHandler {
	return &HTTPHandler{seckillService: seckillService, shopService: shopService}
}

func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/voucher/seckill", h.Seckill)
	mux.HandleFunc("POST /api/voucher", h.PublishVoucher)
	mux.HandleFunc("GET /api/voucher/{id}", h.GetVoucher)
	mux.HandleFunc("GET /api/shop/{id}", h.GetShop)
	mux.HandleFunc("PUT /api/shop", h.UpdateShop)
	mux.HandleFunc("GET /health", h.HealthCheck)
}

type SeckillRequest struct {
	VoucherID int64 `json:"voucher_id"`
	UserID    int64 `json:"user_id"`
}

type SeckillResponse struct {
	Success bool   `json:"success"`
	OrderID int64  `json:"order_id,omitempty"`
	Message string `json:"message,omitempty"`
}

func (h *HTTPHandler) Seckill(w http.ResponseWriter, r *http.Request) {
	var req SeckillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, SeckillResponse{Message: "invalid request body"})
		return
	}
	if req.VoucherID == 0 || req.UserID == 0 {
		writeJSON(w, http.StatusBadRequest, SeckillResponse{Message: "missing required fields"})
		return
	}

	orderID, err := h.seckillService.Seckill(r.Context(), req.VoucherID, req.UserID)
	if err != nil {
		status := http.StatusInternalServerError
		message := "internal error"

		switch {
		case errors.Is(err, service.ErrInsufficientStock):
			status, message = http.StatusGone, "sold out"
		case errors.Is(err, service.ErrDuplicateOrder):
			status, message = http.StatusConflict, "already ordered"
		case errors.Is(err, service.ErrSaleNotStarted):
			status, message = http.StatusForbidden, "sale not started"
		case errors.Is(err, service.ErrSaleEnded):
			status, message = http.StatusForbidden, "sale ended"
		}

		writeJSON(w, status, SeckillResponse{Message: message})
		return
	}

	writeJSON(w, http.StatusOK, SeckillResponse{Success: true, OrderID: orderID})
}

type PublishVoucherRequest struct {
	VoucherID int64     `json:"voucher_id"`
	Stock     int       `json:"stock"`
	BeginTime time.Time `json:"begin_time"`
	EndTime   time.Time `json:"end_time"`
}

func (h *HTTPHandler) PublishVoucher(w http.ResponseWriter, r *http.Request) {
	var req PublishVoucherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid request body"})
		return
	}
	if req.VoucherID == 0 || req.Stock < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "missing required fields"})
		return
	}

	voucher := domain.SeckillVoucher{
		VoucherID: req.VoucherID,
		Stock:     req.Stock,
		BeginTime: req.BeginTime,
		EndTime:   req.EndTime,
	}
	if err := h.seckillService.PublishVoucher(r.Context(), voucher); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "internal error"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "voucher published"})
}

func (h *HTTPHandler) GetVoucher(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid voucher id"})
		return
	}

	voucher, err := h.seckillService.GetVoucher(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrVoucherNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "voucher not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, voucher)
}

func (h *HTTPHandler) GetShop(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid shop id"})
		return
	}

	shop, err := h.shopService.GetShopByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrShopNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "shop not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, shop)
}

func (h *HTTPHandler) UpdateShop(w http.ResponseWriter, r *http.Request) {
	var shop domain.Shop
	if err := json.NewDecoder(r.Body).Decode(&shop); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid request body"})
		return
	}
	if shop.ID == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "shop id required"})
		return
	}

	if err := h.shopService.UpdateShop(r.Context(), shop); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "shop updated"})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
