package web

import (
	"context"
	"embed"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/xsamir/ProductCompare/internal/config"
	"github.com/xsamir/ProductCompare/internal/models"
	"github.com/xsamir/ProductCompare/internal/services/tracing"
	"github.com/xsamir/ProductCompare/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	indexTemplate   = "index.html"
	lastUpdatedFmt  = "2006-01-02 15:04:05"
	sessionMaxAge   = 0
	dbErrorResponse = "Database error: product listing unavailable"
)

//go:embed templates/*.html
var templateFS embed.FS

// ParseTemplates loads the page templates with their helper funcs.
func ParseTemplates() (*template.Template, error) {
	return template.New("").Funcs(template.FuncMap{
		"price": FormatPrice,
	}).ParseFS(templateFS, "templates/*.html")
}

type pageData struct {
	CategoryID    int
	Categories    []models.Category
	Products      []models.Product
	ShowSecondary bool
	RefreshError  string
	LastUpdated   string
}

// PageHandler renders the comparison page. Each visit may trigger a
// catalogue refresh for the selected category when the visitor's session is
// due one.
type PageHandler struct {
	refresher     Refresher
	products      ProductLister
	throttle      RefreshThrottle
	tracer        *tracing.Service
	cookieName    string
	showSecondary bool
	location      *time.Location
	logger        *zap.Logger
}

func NewPageHandler(
	refresher Refresher,
	products ProductLister,
	throttle RefreshThrottle,
	tracer *tracing.Service,
	cfg *config.Config,
	logger *zap.Logger,
) *PageHandler {
	return &PageHandler{
		refresher:     refresher,
		products:      products,
		throttle:      throttle,
		tracer:        tracer,
		cookieName:    cfg.Refresh.SessionCookie,
		showSecondary: cfg.AliExpress.Enabled,
		location:      time.Local,
		logger:        logger,
	}
}

// HandleIndex serves GET /?category=N
func (h *PageHandler) HandleIndex(c *gin.Context) {
	ctx := c.Request.Context()
	categoryID := parseCategory(c.Query("category"))
	if h.tracer != nil {
		var span trace.Span
		ctx, span = h.tracer.StartSpan(ctx, "page.index",
			trace.WithAttributes(attribute.Int("category.id", categoryID)))
		defer span.End()
	}

	sessionID := h.session(c)

	data := pageData{
		CategoryID:    categoryID,
		Categories:    models.Categories(),
		ShowSecondary: h.showSecondary,
	}

	if msg := h.maybeRefresh(ctx, sessionID, categoryID); msg != "" {
		data.RefreshError = msg
	}

	products, err := h.products.ListByCategory(ctx, categoryID)
	if err != nil {
		h.logger.Error("failed to list products", zap.Error(err), zap.Int("category_id", categoryID))
		_ = c.Error(err)
		c.String(http.StatusInternalServerError, dbErrorResponse)
		return
	}
	data.Products = products

	if last, ok, err := h.throttle.LastRefresh(ctx, sessionID); err == nil && ok {
		data.LastUpdated = last.In(h.location).Format(lastUpdatedFmt)
	}

	c.HTML(http.StatusOK, indexTemplate, data)
}

// maybeRefresh runs a refresh when the session is due and returns the message
// to show when it fails. Existing products are still rendered either way.
func (h *PageHandler) maybeRefresh(ctx context.Context, sessionID string, categoryID int) string {
	due, err := h.throttle.Due(ctx, sessionID)
	if err != nil {
		h.logger.Warn("refresh throttle unavailable, refreshing anyway", zap.Error(err))
		due = true
	}
	if !due {
		return ""
	}

	if _, err := h.refresher.Refresh(ctx, categoryID); err != nil {
		h.logger.Error("product refresh failed",
			zap.Int("category_id", categoryID),
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return errors.PublicMessage(err)
	}

	if err := h.throttle.MarkRefreshed(ctx, sessionID); err != nil {
		h.logger.Warn("failed to record refresh", zap.Error(err))
	}
	return ""
}

// session returns the visitor's session id, issuing a cookie on first visit.
func (h *PageHandler) session(c *gin.Context) string {
	if id, err := c.Cookie(h.cookieName); err == nil {
		if _, err := uuid.Parse(id); err == nil {
			return id
		}
	}

	id := uuid.New().String()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookieName, id, sessionMaxAge, "/", "", c.Request.TLS != nil, true)
	return id
}

// parseCategory reads the category query value. Missing or non-numeric values
// select the default category.
func parseCategory(raw string) int {
	id, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return models.DefaultCategory
	}
	return id
}

// FormatPrice renders a price with two decimals and thousands separators.
func FormatPrice(d decimal.Decimal) string {
	s := d.StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}
