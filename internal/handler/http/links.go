package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"shortlink/internal/auth"
	"shortlink/internal/domain"
	"shortlink/internal/service"
)

// LinksHandler обработчик для работы со ссылками
type LinksHandler struct {
	links   *service.LinkService
	log     *zap.Logger
	baseURL string
}

// NewLinksHandler создает новый обработчик ссылок
func NewLinksHandler(links *service.LinkService, log *zap.Logger, baseURL string) *LinksHandler {
	return &LinksHandler{
		links:   links,
		log:     log,
		baseURL: baseURL,
	}
}

// CreateLinkRequest структура запроса создания ссылки
type CreateLinkRequest struct {
	URL       string   `json:"url"`
	Alias     string   `json:"alias,omitempty"`
	ExpiresAt string   `json:"expires_at,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// UpdateLinkRequest структура запроса изменения ссылки. Пустые поля не меняются.
type UpdateLinkRequest struct {
	URL         *string   `json:"url,omitempty"`
	ExpiresAt   *string   `json:"expires_at,omitempty"`
	ClearExpiry bool      `json:"clear_expiry,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
}

// LinkResponse информация о ссылке
type LinkResponse struct {
	Code        string           `json:"code"`
	ShortURL    string           `json:"short_url"`
	OriginalURL string           `json:"original_url"`
	Clicks      int64            `json:"clicks"`
	IsActive    bool             `json:"is_active"`
	IsCustom    bool             `json:"is_custom"`
	Tags        []string         `json:"tags"`
	Metadata    *domain.Metadata `json:"metadata,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	ExpiresAt   *time.Time       `json:"expires_at,omitempty"`
}

// ListLinksResponse структура ответа списка ссылок
type ListLinksResponse struct {
	Links    []LinkResponse `json:"links"`
	Total    int64          `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

// CreateLink создает новую короткую ссылку
func (h *LinksHandler) CreateLink(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(r)
	if !ok {
		writeError(w, "Account not found in context", http.StatusUnauthorized)
		return
	}

	var req CreateLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid create link request", zap.Error(err))
		writeError(w, "Invalid request format", http.StatusBadRequest)
		return
	}

	if req.URL == "" {
		writeError(w, "URL is required", http.StatusBadRequest)
		return
	}

	createReq := service.CreateRequest{
		URL:   req.URL,
		Alias: req.Alias,
		Tags:  req.Tags,
	}
	if req.ExpiresAt != "" {
		expiresAt, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			writeError(w, "Invalid expires_at format. Use RFC3339 format", http.StatusBadRequest)
			return
		}
		createReq.ExpiresAt = &expiresAt
	}

	link, err := h.links.Create(r.Context(), caller, createReq)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.log.Info("created link", zap.String("code", link.Code), zap.Int64("account_id", caller.AccountID))
	writeJSON(w, h.toResponse(link), http.StatusCreated)
}

// ListLinks возвращает список ссылок аккаунта
func (h *LinksHandler) ListLinks(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(r)
	if !ok {
		writeError(w, "Account not found in context", http.StatusUnauthorized)
		return
	}

	query := r.URL.Query()
	page, err := intParam(query.Get("page"))
	if err != nil {
		writeError(w, "Invalid page parameter", http.StatusBadRequest)
		return
	}
	pageSize, err := intParam(query.Get("page_size"))
	if err != nil {
		writeError(w, "Invalid page_size parameter", http.StatusBadRequest)
		return
	}

	result, err := h.links.List(r.Context(), caller, service.ListRequest{
		Page:     page,
		PageSize: pageSize,
		Tag:      query.Get("tag"),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	response := ListLinksResponse{
		Links:    make([]LinkResponse, 0, len(result.Links)),
		Total:    result.Total,
		Page:     result.Page,
		PageSize: result.PageSize,
	}
	for i := range result.Links {
		response.Links = append(response.Links, h.toResponse(&result.Links[i]))
	}

	writeJSON(w, response, http.StatusOK)
}

// GetLink возвращает ссылку по коду
func (h *LinksHandler) GetLink(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(r)
	if !ok {
		writeError(w, "Account not found in context", http.StatusUnauthorized)
		return
	}

	link, err := h.links.Get(r.Context(), caller, mux.Vars(r)["code"])
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, h.toResponse(link), http.StatusOK)
}

// UpdateLink меняет адрес, срок действия или теги ссылки
func (h *LinksHandler) UpdateLink(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(r)
	if !ok {
		writeError(w, "Account not found in context", http.StatusUnauthorized)
		return
	}

	var req UpdateLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid update link request", zap.Error(err))
		writeError(w, "Invalid request format", http.StatusBadRequest)
		return
	}

	updateReq := service.UpdateRequest{
		URL:         req.URL,
		ClearExpiry: req.ClearExpiry,
		Tags:        req.Tags,
	}
	if req.ExpiresAt != nil && !req.ClearExpiry {
		expiresAt, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			writeError(w, "Invalid expires_at format. Use RFC3339 format", http.StatusBadRequest)
			return
		}
		updateReq.ExpiresAt = &expiresAt
	}

	link, err := h.links.Update(r.Context(), caller, mux.Vars(r)["code"], updateReq)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, h.toResponse(link), http.StatusOK)
}

// DeleteLink удаляет ссылку
func (h *LinksHandler) DeleteLink(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(r)
	if !ok {
		writeError(w, "Account not found in context", http.StatusUnauthorized)
		return
	}

	code := mux.Vars(r)["code"]
	if err := h.links.Delete(r.Context(), caller, code); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.log.Info("deleted link", zap.String("code", code), zap.Int64("account_id", caller.AccountID))
	w.WriteHeader(http.StatusNoContent)
}

// GetStats возвращает статистику переходов. Глубина зависит от тарифа.
func (h *LinksHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(r)
	if !ok {
		writeError(w, "Account not found in context", http.StatusUnauthorized)
		return
	}

	stats, err := h.links.Stats(r.Context(), caller, mux.Vars(r)["code"])
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, stats, http.StatusOK)
}

func (h *LinksHandler) toResponse(link *domain.Link) LinkResponse {
	resp := LinkResponse{
		Code:        link.Code,
		ShortURL:    h.baseURL + "/" + link.Code,
		OriginalURL: link.OriginalURL,
		Clicks:      link.ClickCount,
		IsActive:    link.IsActive,
		IsCustom:    link.IsCustom,
		Tags:        link.TagNames(),
		CreatedAt:   link.CreatedAt,
		ExpiresAt:   link.ExpiresAt,
	}

	meta := domain.Metadata{Title: link.Title, Description: link.Description, Favicon: link.Favicon}
	if !meta.IsEmpty() {
		resp.Metadata = &meta
	}
	return resp
}

// writeServiceError переводит ошибки сервиса в HTTP статусы
func (h *LinksHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("link operation failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeError(w, message, status)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "Link not found"
	case errors.Is(err, domain.ErrExpired):
		return http.StatusGone, "Link has expired"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "Access denied"
	case errors.Is(err, domain.ErrQuotaExceeded):
		return http.StatusForbidden, "Active link limit reached for your plan"
	case errors.Is(err, domain.ErrAliasNotPermitted):
		return http.StatusForbidden, "Custom aliases are not available on your plan"
	case errors.Is(err, domain.ErrAliasCollision):
		return http.StatusConflict, "Alias already exists"
	case errors.Is(err, domain.ErrInvalidURL),
		errors.Is(err, domain.ErrInvalidAlias),
		errors.Is(err, domain.ErrInvalidExpiry),
		errors.Is(err, domain.ErrInvalidTags),
		errors.Is(err, domain.ErrInvalidPage):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrQuotaUnavailable):
		return http.StatusServiceUnavailable, "Quota could not be verified, try again later"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func callerFromRequest(r *http.Request) (service.Caller, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return service.Caller{}, false
	}
	return service.Caller{AccountID: p.AccountID, Tier: p.Tier}, true
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, map[string]string{"error": message}, statusCode)
}
