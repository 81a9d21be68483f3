package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"shortlink/internal/analytics"
	"shortlink/internal/domain"
	"shortlink/internal/resolver"
)

// Resolver переводит короткий код в адрес назначения
type Resolver interface {
	Resolve(ctx context.Context, code string) (*resolver.Resolution, error)
}

// ClickRecorder принимает события переходов без блокировки
type ClickRecorder interface {
	Record(ev analytics.ClickEvent) error
}

// RedirectHandler обработчик редиректов
type RedirectHandler struct {
	resolver Resolver
	clicks   ClickRecorder
	now      func() time.Time
	log      *zap.Logger
}

// NewRedirectHandler создает новый обработчик редиректов
func NewRedirectHandler(resolver Resolver, clicks ClickRecorder, log *zap.Logger) *RedirectHandler {
	return &RedirectHandler{
		resolver: resolver,
		clicks:   clicks,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log,
	}
}

// HandleRedirect обрабатывает редирект по коду
func (h *RedirectHandler) HandleRedirect(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	res, err := h.resolver.Resolve(r.Context(), code)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			h.log.Debug("code not found", zap.String("code", code))
			writeError(w, "Link not found", http.StatusNotFound)
		case errors.Is(err, domain.ErrExpired):
			h.log.Debug("code expired", zap.String("code", code))
			writeError(w, "Link has expired", http.StatusGone)
		default:
			h.log.Error("failed to resolve code", zap.String("code", code), zap.Error(err))
			writeError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	// HEAD запросы (превью, мониторинг) не считаются переходами
	if r.Method != http.MethodHead {
		// Аналитика никогда не задерживает редирект
		ev := analytics.NewClickEvent(code, extractIPAddress(r), r.UserAgent(), r.Referer(), h.now())
		if err := h.clicks.Record(ev); err != nil {
			h.log.Debug("click not recorded", zap.String("code", code), zap.Error(err))
		}
	}

	http.Redirect(w, r, res.Destination, http.StatusFound)
}

// extractIPAddress извлекает IP адрес из запроса с учетом прокси
func extractIPAddress(r *http.Request) string {
	// Проверяем заголовки прокси в порядке приоритета
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		// X-Forwarded-For может содержать список IP через запятую
		ips := strings.Split(ip, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return strings.TrimSpace(ip)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
