package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/joshdurbin/product-cache/internal/auth"
	"github.com/joshdurbin/product-cache/internal/domain"
	"github.com/joshdurbin/product-cache/internal/service"
)

var validate = validator.New()

// searchRequest is the validated form of GET /api/products
type searchRequest struct {
	Query      string `validate:"required,max=256"`
	Category   string `validate:"omitempty,max=64"`
	MaxResults int    `validate:"omitempty,min=1,max=100"`
	FastTTL    int    `validate:"omitempty,min=1,max=604800"`
	DurableTTL int    `validate:"omitempty,min=1,max=365"`
}

// clearRequest is the validated form of DELETE /api/cache
type clearRequest struct {
	Tier     string `validate:"omitempty,oneof=fast durable all"`
	Category string `validate:"omitempty,max=64"`
}

// lookupRequest is the validated form of GET /api/cache/products
type lookupRequest struct {
	Match   string `validate:"omitempty,max=256"`
	Pattern string `validate:"omitempty,max=256"`
	Limit   int    `validate:"omitempty,min=1,max=500"`
}

// ErrorResponse is the body of every non-search failure
type ErrorResponse struct {
	Error string           `json:"error"`
	Code  domain.ErrorKind `json:"code,omitempty"`
}

// LookupResponse is the body of GET /api/cache/products
type LookupResponse struct {
	Products []domain.Product `json:"products"`
	Count    int              `json:"count"`
}

// Handler holds the HTTP handlers for the product search cache
type Handler struct {
	search         service.ProductSearch
	auth           *auth.Authenticator
	requestTimeout time.Duration
	logger         *zap.Logger

	// defaults fill in options a request leaves unset
	defaults domain.Options
}

// NewHandler creates a new HTTP handler
func NewHandler(search service.ProductSearch, authenticator *auth.Authenticator, requestTimeout time.Duration, logger *zap.Logger) *Handler {
	return &Handler{
		search:         search,
		auth:           authenticator,
		requestTimeout: requestTimeout,
		logger:         logger.Named("http"),
	}
}

// SearchProducts handles GET /api/products
func (h *Handler) SearchProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("q") == "" {
		h.writeError(w, http.StatusBadRequest, "q is required", domain.KindInvalidQuery)
		return
	}

	req := searchRequest{
		Query:    q.Get("q"),
		Category: q.Get("category"),
	}
	var err error
	if req.MaxResults, err = intParam(q.Get("max_results")); err != nil {
		h.writeError(w, http.StatusBadRequest, "max_results must be an integer", domain.KindInvalidQuery)
		return
	}
	if req.FastTTL, err = intParam(q.Get("fast_ttl")); err != nil {
		h.writeError(w, http.StatusBadRequest, "fast_ttl must be an integer", domain.KindInvalidQuery)
		return
	}
	if req.DurableTTL, err = intParam(q.Get("durable_ttl")); err != nil {
		h.writeError(w, http.StatusBadRequest, "durable_ttl must be an integer", domain.KindInvalidQuery)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, validationMessage(err), domain.KindInvalidQuery)
		return
	}

	ctx := r.Context()
	if h.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}

	opts := domain.Options{
		MaxResults: req.MaxResults,
		FastTTL:    req.FastTTL,
		DurableTTL: req.DurableTTL,
	}
	if opts.MaxResults == 0 {
		opts.MaxResults = h.defaults.MaxResults
	}
	if opts.FastTTL == 0 {
		opts.FastTTL = h.defaults.FastTTL
	}
	if opts.DurableTTL == 0 {
		opts.DurableTTL = h.defaults.DurableTTL
	}

	resp := h.search.GetProducts(ctx, domain.NewSearchQuery(req.Query, req.Category, opts))

	h.writeJSON(w, statusForKind(resp.ErrorCode), resp)
}

// CacheStats handles GET /api/cache/stats
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.search.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to read cache stats", zap.Error(err))
		h.writeError(w, http.StatusServiceUnavailable, "cache tiers unavailable", domain.KindTierUnavailable)
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// ClearCache handles DELETE /api/cache
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	req := clearRequest{
		Tier:     r.URL.Query().Get("tier"),
		Category: r.URL.Query().Get("category"),
	}
	if err := validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, validationMessage(err), domain.KindInvalidQuery)
		return
	}

	result, err := h.search.Clear(r.Context(), req.Tier, req.Category)
	if err != nil {
		h.writeServiceError(w, "failed to clear cache", err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// LookupProducts handles GET /api/cache/products
func (h *Handler) LookupProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := lookupRequest{
		Match:   q.Get("match"),
		Pattern: q.Get("pattern"),
	}
	var err error
	if req.Limit, err = intParam(q.Get("limit")); err != nil {
		h.writeError(w, http.StatusBadRequest, "limit must be an integer", domain.KindInvalidQuery)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, validationMessage(err), domain.KindInvalidQuery)
		return
	}

	products, err := h.search.Lookup(r.Context(), domain.LookupFilter{
		Match:   req.Match,
		Pattern: req.Pattern,
		Limit:   req.Limit,
	})
	if err != nil {
		h.writeServiceError(w, "failed to look up products", err)
		return
	}
	if products == nil {
		products = []domain.Product{}
	}

	h.writeJSON(w, http.StatusOK, LookupResponse{Products: products, Count: len(products)})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RequireAdmin is middleware that requires a valid JWT token with admin role
func (h *Handler) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenStr := auth.GetBearerToken(r)
		if tokenStr == "" {
			h.writeError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}

		claims, err := h.auth.ParseToken(tokenStr)
		if err != nil {
			h.logger.Debug("rejected admin token", zap.Error(err))
			h.writeError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}

		if !auth.HasRole(claims.Roles, auth.RoleAdmin) {
			h.logger.Debug("admin role missing", zap.String("subject", claims.Subject))
			h.writeError(w, http.StatusForbidden, "forbidden - admin role required", "")
			return
		}

		next(w, r)
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, message string, err error) {
	kind := domain.KindOf(err)
	if kind == domain.KindInvalidQuery {
		h.writeError(w, http.StatusBadRequest, domain.MessageOf(err), kind)
		return
	}

	h.logger.Error(message, zap.Error(err))
	h.writeError(w, http.StatusInternalServerError, message, kind)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string, kind domain.ErrorKind) {
	h.writeJSON(w, status, ErrorResponse{Error: message, Code: kind})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("error encoding response", zap.Error(err))
	}
}

// statusForKind maps a search error kind to the HTTP status of the response
func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case "":
		return http.StatusOK
	case domain.KindInvalidQuery:
		return http.StatusBadRequest
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindUpstreamExhausted, domain.KindTransient, domain.KindTierUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// validationMessage renders validator errors as "field: rule" pairs
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msg := "invalid request:"
	for i, fe := range verrs {
		if i > 0 {
			msg += ","
		}
		msg += " " + fieldName(fe.Field()) + " " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
	}
	return msg
}

var fieldNames = map[string]string{
	"Query":      "q",
	"Category":   "category",
	"MaxResults": "max_results",
	"FastTTL":    "fast_ttl",
	"DurableTTL": "durable_ttl",
	"Tier":       "tier",
	"Match":      "match",
	"Pattern":    "pattern",
	"Limit":      "limit",
}

func fieldName(field string) string {
	if name, ok := fieldNames[field]; ok {
		return name
	}
	return field
}
