// Package api is the admin HTTP surface: account lifecycle, message
// submission, and health/metrics endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/AndreiStanca/account-supervisor/internal/model"
	"github.com/AndreiStanca/account-supervisor/internal/supervisor"
)

type Handler struct {
	sup *supervisor.Supervisor
}

func NewHandler(sup *supervisor.Supervisor) *Handler {
	return &Handler{sup: sup}
}

type createAccountRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	acc, err := h.sup.AddAccount(r.Context(), req.Name, req.Phone)
	if err != nil {
		if errors.Is(err, supervisor.ErrCapacity) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, acc)
}

func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.sup.RemoveAccount(r.Context(), id); err != nil {
		if errors.Is(err, supervisor.ErrAccountNotFound) {
			http.Error(w, "account not found", http.StatusNotFound)
			return
		}
		// Teardown is partially done; report it but the account is gone.
		slog.Error("account removal incomplete", "account", id, "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"accounts": h.sup.Accounts(),
	})
}

type sendMessageRequest struct {
	AccountID string `json:"accountId"`
	Recipient string `json:"recipient"`
	Payload   string `json:"payload"`
	Priority  int    `json:"priority,omitempty"`
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" || req.Recipient == "" || req.Payload == "" {
		http.Error(w, "accountId, recipient and payload are required", http.StatusBadRequest)
		return
	}

	res, err := h.sup.Send(r.Context(), req.AccountID, req.Recipient, req.Payload, req.Priority)
	if err != nil {
		if errors.Is(err, supervisor.ErrAccountNotFound) {
			http.Error(w, "account not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	status := http.StatusOK
	if res.Queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	accounts := h.sup.Accounts()
	connected := 0
	for _, a := range accounts {
		if a.Status == model.StatusConnected {
			connected++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"accounts":  len(accounts),
		"connected": connected,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encoding failed", "err", err)
	}
}
