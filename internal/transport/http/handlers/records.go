package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/careportal/auth-service/internal/errors"
	"github.com/careportal/auth-service/internal/models"
	"github.com/careportal/auth-service/internal/service"
	"github.com/careportal/auth-service/internal/transport/http/middleware"
)

type profileResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	FullName  string `json:"full_name,omitempty"`
	BirthDate string `json:"birth_date,omitempty"`
	Phone     string `json:"phone,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type updateProfileRequest struct {
	FullName  string `json:"full_name"`
	BirthDate string `json:"birth_date"`
	Phone     string `json:"phone"`
}

type recordRequest struct {
	Title       string   `json:"title"`
	Category    string   `json:"category,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

type recordResponse struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Category    string   `json:"category,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

func toProfileResponse(p *models.Profile) profileResponse {
	return profileResponse{
		ID:        p.ID.String(),
		Email:     p.Email,
		Role:      p.Role,
		FullName:  p.FullName,
		BirthDate: p.BirthDate,
		Phone:     p.Phone,
		CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toRecordResponse(rec *models.MedicalRecord) recordResponse {
	return recordResponse{
		ID:          rec.ID.String(),
		Title:       rec.Title,
		Category:    rec.Category,
		Notes:       rec.Notes,
		Attachments: rec.Attachments,
		CreatedAt:   rec.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   rec.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// GetProfile возвращает профиль аутентифицированного пользователя.
func (h *Handlers) GetProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		apierrors.WriteError(w, r, service.ErrInvalidToken)
		return
	}

	profile, err := h.Service.ProfileByID(r.Context(), claims.UserID)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toProfileResponse(profile))
}

// UpdateProfile обновляет профиль аутентифицированного пользователя.
func (h *Handlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		apierrors.WriteError(w, r, service.ErrInvalidToken)
		return
	}

	var in updateProfileRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, service.ErrInvalidEmail)
		return
	}

	profile, err := h.Service.UpdateProfile(r.Context(), claims.UserID, in.FullName, in.BirthDate, in.Phone)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toProfileResponse(profile))
}

// CreateRecord создаёт запись медкарты пациента.
func (h *Handlers) CreateRecord(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		apierrors.WriteError(w, r, service.ErrInvalidToken)
		return
	}

	var in recordRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, service.ErrEmptyTitle)
		return
	}

	rec, err := h.Service.CreateRecord(r.Context(), claims.UserID, in.Title, in.Category, in.Notes, in.Attachments)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toRecordResponse(rec))
}

// ListRecords возвращает записи медкарты пациента (новые сверху).
func (h *Handlers) ListRecords(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		apierrors.WriteError(w, r, service.ErrInvalidToken)
		return
	}

	var limit int64
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.ParseInt(raw, 10, 64)
	}

	recs, err := h.Service.ListRecords(r.Context(), claims.UserID, limit)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	out := make([]recordResponse, 0, len(recs))
	for i := range recs {
		out = append(out, toRecordResponse(&recs[i]))
	}

	writeJSON(w, http.StatusOK, out)
}

// GetRecord возвращает одну запись медкарты пациента.
func (h *Handlers) GetRecord(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		apierrors.WriteError(w, r, service.ErrInvalidToken)
		return
	}

	recordID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.WriteError(w, r, service.ErrRecordNotFound)
		return
	}

	rec, err := h.Service.RecordByID(r.Context(), claims.UserID, recordID)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toRecordResponse(rec))
}

// UpdateRecord обновляет запись медкарты пациента.
func (h *Handlers) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		apierrors.WriteError(w, r, service.ErrInvalidToken)
		return
	}

	recordID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.WriteError(w, r, service.ErrRecordNotFound)
		return
	}

	var in recordRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, service.ErrEmptyTitle)
		return
	}

	rec, err := h.Service.UpdateRecord(r.Context(), claims.UserID, recordID, in.Title, in.Category, in.Notes, in.Attachments)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toRecordResponse(rec))
}

// DeleteRecord удаляет запись медкарты пациента.
func (h *Handlers) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		apierrors.WriteError(w, r, service.ErrInvalidToken)
		return
	}

	recordID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.WriteError(w, r, service.ErrRecordNotFound)
		return
	}

	if err := h.Service.DeleteRecord(r.Context(), claims.UserID, recordID); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
