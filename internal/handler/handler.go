package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/lunovey/simshop/internal/infrastructure/auth"
	"github.com/lunovey/simshop/internal/models"
	service "github.com/lunovey/simshop/internal/services"
	pkgerrors "github.com/lunovey/simshop/pkg/errors"
)

const maxWebhookBody = 1 << 20

type Handler struct {
	catalog     service.CatalogService
	activations service.ActivationService
	wallet      service.WalletService
	identity    service.IdentityService
	verifier    *auth.WebhookVerifier

	// verifier may be nil only when signature checks are explicitly disabled
	// outside production.
	skipWebhookVerify bool
}

func NewHandler(
	catalog service.CatalogService,
	activations service.ActivationService,
	wallet service.WalletService,
	identity service.IdentityService,
	verifier *auth.WebhookVerifier,
	skipWebhookVerify bool,
) *Handler {
	return &Handler{
		catalog:           catalog,
		activations:       activations,
		wallet:            wallet,
		identity:          identity,
		verifier:          verifier,
		skipWebhookVerify: skipWebhookVerify,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

// writeServiceError maps sentinel errors from the service layer onto HTTP
// statuses. Unrecognized errors stay opaque 500s.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pkgerrors.ErrValidation),
		errors.Is(err, pkgerrors.ErrActivationHasSMS),
		errors.Is(err, pkgerrors.ErrActivationNoSMS):
		h.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, pkgerrors.ErrAuthenticationRequired):
		h.writeError(w, http.StatusUnauthorized, err)
	case errors.Is(err, pkgerrors.ErrInsufficientFunds):
		h.writeError(w, http.StatusPaymentRequired, err)
	case errors.Is(err, pkgerrors.ErrNotFound),
		errors.Is(err, pkgerrors.ErrUserNotFound),
		errors.Is(err, pkgerrors.ErrTransactionNotFound):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, pkgerrors.ErrUpstream):
		h.writeError(w, http.StatusBadGateway, err)
	default:
		h.writeError(w, http.StatusInternalServerError, err)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/countries", h.Countries).Methods("GET")
	r.HandleFunc("/operators", h.Operators).Methods("GET")
	r.HandleFunc("/products", h.Products).Methods("GET")
	r.HandleFunc("/status", h.Status).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/webhook/identity", h.IdentityWebhook).Methods("POST")
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/purchase", h.Purchase).Methods("POST")
	r.HandleFunc("/activations", h.ListActivations).Methods("GET")
	r.HandleFunc("/activation/{id}", h.GetActivation).Methods("GET")
	r.HandleFunc("/activation/{id}/finish", h.FinishActivation).Methods("POST")
	r.HandleFunc("/activation/{id}/cancel", h.CancelActivation).Methods("POST")
	r.HandleFunc("/activation/{id}/ban", h.BanActivation).Methods("POST")
	r.HandleFunc("/activation/{id}/repurchase", h.RepurchaseActivation).Methods("POST")
	r.HandleFunc("/user/balance", h.Balance).Methods("GET")
	r.HandleFunc("/user/balance", h.Deposit).Methods("POST")
	r.HandleFunc("/user/transactions", h.TransactionHistory).Methods("GET")
	r.HandleFunc("/user/profile", h.Profile).Methods("GET")
}

func (h *Handler) externalID(w http.ResponseWriter, r *http.Request) (string, bool) {
	externalID, ok := auth.ExternalIDFromContext(r.Context())
	if !ok || externalID == "" {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return "", false
	}
	return externalID, true
}

func (h *Handler) activationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, errors.New("invalid activation id"))
		return 0, false
	}
	return id, true
}

func (h *Handler) Countries(w http.ResponseWriter, r *http.Request) {
	countries, err := h.catalog.Countries(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, countries)
}

func (h *Handler) Operators(w http.ResponseWriter, r *http.Request) {
	country := r.URL.Query().Get("country")
	if country == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("country is required"))
		return
	}
	operators, err := h.catalog.Operators(r.Context(), country, r.URL.Query().Get("product"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, operators)
}

func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	country := r.URL.Query().Get("country")
	if country == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("country is required"))
		return
	}
	products, err := h.catalog.Products(r.Context(), country)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, products)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]bool{"operational": h.catalog.Operational(r.Context())})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	externalID, ok := h.externalID(w, r)
	if !ok {
		return
	}

	var req struct {
		Country  string `json:"country"`
		Operator string `json:"operator"`
		Product  string `json:"product"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Country == "" || req.Operator == "" || req.Product == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("country, operator and product are required"))
		return
	}

	activation, err := h.activations.Purchase(r.Context(), externalID, req.Country, req.Operator, req.Product)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, activation)
}

func (h *Handler) ListActivations(w http.ResponseWriter, r *http.Request) {
	externalID, ok := h.externalID(w, r)
	if !ok {
		return
	}
	activations, err := h.activations.ListMine(r.Context(), externalID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, activations)
}

func (h *Handler) GetActivation(w http.ResponseWriter, r *http.Request) {
	externalID, ok := h.externalID(w, r)
	if !ok {
		return
	}
	id, ok := h.activationID(w, r)
	if !ok {
		return
	}
	activation, err := h.activations.Get(r.Context(), externalID, id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	remaining, progress := service.Countdown(activation, time.Now())
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"activation":        activation,
		"remaining_seconds": int64(remaining.Seconds()),
		"progress":          progress,
	})
}

func (h *Handler) FinishActivation(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.activations.Finish)
}

func (h *Handler) CancelActivation(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.activations.Cancel)
}

func (h *Handler) BanActivation(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.activations.Ban)
}

func (h *Handler) RepurchaseActivation(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.activations.Repurchase)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, externalID string, id int64) (*models.Activation, error)) {
	externalID, ok := h.externalID(w, r)
	if !ok {
		return
	}
	id, ok := h.activationID(w, r)
	if !ok {
		return
	}
	activation, err := op(r.Context(), externalID, id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, activation)
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	externalID, ok := h.externalID(w, r)
	if !ok {
		return
	}
	user, err := h.wallet.Balance(r.Context(), externalID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]float64{"balance": user.Balance})
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	externalID, ok := h.externalID(w, r)
	if !ok {
		return
	}

	var req struct {
		Amount      float64 `json:"amount"`
		Description string  `json:"description"`
		Reference   string  `json:"reference"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.wallet.Deposit(r.Context(), externalID, req.Amount, req.Description, req.Reference)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) TransactionHistory(w http.ResponseWriter, r *http.Request) {
	externalID, ok := h.externalID(w, r)
	if !ok {
		return
	}
	history, err := h.wallet.History(r.Context(), externalID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, history)
}

func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	externalID, ok := h.externalID(w, r)
	if !ok {
		return
	}
	profile, err := h.identity.GetProfile(r.Context(), externalID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, profile)
}

func (h *Handler) IdentityWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, errors.New("unable to read request body"))
		return
	}

	// Signature bypass is confined to local development by config validation.
	if !h.skipWebhookVerify {
		if h.verifier == nil {
			h.writeError(w, http.StatusInternalServerError, errors.New("webhook verification is not configured"))
			return
		}
		err := h.verifier.Verify(
			r.Header.Get("svix-id"),
			r.Header.Get("svix-timestamp"),
			r.Header.Get("svix-signature"),
			body,
		)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, pkgerrors.ErrWebhookSignature)
			return
		}
	}

	var event service.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.writeError(w, http.StatusBadRequest, errors.New("malformed webhook payload"))
		return
	}

	if err := h.identity.HandleWebhook(r.Context(), event); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}
