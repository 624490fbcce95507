package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dripsend/dripsend/internal/dispatch"
	"github.com/dripsend/dripsend/internal/models"
	"github.com/dripsend/dripsend/internal/storage"
)

type CampaignHandler struct {
	store    storage.Storage
	producer *dispatch.Producer
}

func NewCampaignHandler(store storage.Storage, producer *dispatch.Producer) *CampaignHandler {
	return &CampaignHandler{store: store, producer: producer}
}

const maxRequestSize = 1 << 20 // 1MB

func (h *CampaignHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestSize)
	var spec dispatch.CampaignSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := h.producer.CreateCampaign(r.Context(), spec)
	if err != nil {
		if errors.Is(err, dispatch.ErrInvalidCampaign) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create campaign")
		return
	}

	writeJSON(w, http.StatusCreated, c)
}

func (h *CampaignHandler) List(w http.ResponseWriter, r *http.Request) {
	campaigns, err := h.store.ListCampaigns(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list campaigns")
		return
	}
	if campaigns == nil {
		campaigns = []models.Campaign{}
	}
	writeJSON(w, http.StatusOK, campaigns)
}

func (h *CampaignHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := h.store.GetCampaign(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get campaign")
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}

	counts, err := h.store.CampaignCounts(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get campaign counts")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"campaign": c,
		"counts":   counts,
	})
}

func (h *CampaignHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := h.producer.CancelCampaign(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrCampaignNotFound):
			writeError(w, http.StatusNotFound, "campaign not found")
		case errors.Is(err, dispatch.ErrInvalidCampaign):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to cancel campaign")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cancelled_messages": n,
	})
}

func (h *CampaignHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	msgs, err := h.store.ListMessages(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *CampaignHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, err := h.store.GetMessage(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get message")
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}
