package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/go-authgate/meetgate/apierr"
	"github.com/go-authgate/meetgate/meet"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
}

func (h *handlers) listDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := h.booking.ListDoctors(r.Context())
	h.respond(w, r, doctors, err)
}

func (h *handlers) getDoctor(w http.ResponseWriter, r *http.Request) {
	doc, err := h.booking.GetDoctor(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, r, doc, err)
}

func (h *handlers) getAvailability(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "date query parameter is required"})
		return
	}
	date, err := time.Parse(meet.DateLayout, raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "date must be formatted as YYYY-MM-DD"})
		return
	}
	av, err := h.booking.GetAvailability(r.Context(), chi.URLParam(r, "id"), date)
	h.respond(w, r, av, err)
}

func (h *handlers) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.booking.ListProducts(r.Context())
	h.respond(w, r, products, err)
}

func (h *handlers) createOrder(w http.ResponseWriter, r *http.Request) {
	var req meet.OrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	order, err := h.booking.CreateOrder(r.Context(), req)
	h.respond(w, r, order, err)
}

func (h *handlers) createPayment(w http.ResponseWriter, r *http.Request) {
	var req meet.PaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	payment, err := h.booking.CreatePayment(r.Context(), req)
	h.respond(w, r, payment, err)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func (h *handlers) respond(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, v)
		return
	}
	status, msg := translate(err)
	h.log.Warn("upstream call failed",
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	)
	writeJSON(w, status, errorBody{Error: msg})
}

// translate maps a client error to the status and message sent to the
// browser. Bad caller input is 400, configuration problems are 503,
// upstream rejections keep the upstream status and everything else is 500.
func translate(err error) (int, string) {
	var ae *apierr.Error
	if !errors.As(err, &ae) {
		return http.StatusInternalServerError, err.Error()
	}
	switch ae.Code {
	case apierr.CodeConfiguration:
		return http.StatusServiceUnavailable, ae.Message
	case apierr.CodeInvalidInput:
		return http.StatusBadRequest, ae.Message
	case apierr.CodeUpstreamRejected:
		status := ae.Status
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		return status, ae.Message
	}
	return http.StatusInternalServerError, err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
