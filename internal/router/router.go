package router

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/conduit/internal/core"
	"github.com/edvin/conduit/internal/model"
	"github.com/edvin/conduit/internal/platform"
	"github.com/edvin/conduit/internal/pool"
)

// KeyRegistry is the slice of the API key service the router consumes.
type KeyRegistry interface {
	Validate(ctx context.Context, secret string) (*model.APIKey, error)
	CheckIPAccess(key *model.APIKey, clientIP string) bool
	CheckRateLimit(ctx context.Context, key *model.APIKey, now time.Time) (*core.RateLimitStatus, error)
	CheckServiceAccess(ctx context.Context, key *model.APIKey, serviceKey string) (bool, error)
	CheckActionAccess(ctx context.Context, key *model.APIKey, serviceKey, action string) (bool, error)
	IncrementRateLimit(ctx context.Context, apiKeyID string, now time.Time) error
}

// Catalog resolves service definitions.
type Catalog interface {
	GetByKey(ctx context.Context, serviceKey string) (*model.ServiceDefinition, error)
}

// Vault is the slice of the credential vault the router consumes.
type Vault interface {
	Get(ctx context.Context, userID, serviceKey string, env model.Environment) (*model.UserServiceConfig, error)
	GetDecryptedCredentials(ctx context.Context, userID, serviceKey string, env model.Environment) (map[string]string, error)
	RecordUsage(ctx context.Context, userID, serviceKey string, env model.Environment, success bool) error
}

// UsageLog records the audit entry for every routed call.
type UsageLog interface {
	Insert(ctx context.Context, entry *model.UsageLogEntry) error
}

// Executor dispatches admitted calls; satisfied by *pool.ExecutionPool.
type Executor interface {
	Execute(ctx context.Context, userID string, def *model.ServiceDefinition, credentials map[string]string, action string, params map[string]any) (*pool.Result, error)
}

// Router runs the admission pipeline for inbound invocations. Every call,
// admitted or rejected, produces exactly one usage log entry.
type Router struct {
	keys     KeyRegistry
	catalog  Catalog
	vault    Vault
	usage    UsageLog
	executor Executor
	logger   zerolog.Logger
	now      func() time.Time
}

func New(keys KeyRegistry, catalog Catalog, vault Vault, usage UsageLog, executor Executor, logger zerolog.Logger) *Router {
	return &Router{
		keys:     keys,
		catalog:  catalog,
		vault:    vault,
		usage:    usage,
		executor: executor,
		logger:   logger,
		now:      time.Now,
	}
}

// Request is one inbound invocation.
type Request struct {
	Service string
	Action  string
	Params  map[string]any
}

// CallContext carries the caller identity material accompanying a request.
type CallContext struct {
	APIKeySecret string
	ClientIP     string
	UserAgent    string
	Environment  model.Environment
}

// ErrorBody is the caller-facing error payload.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// RateLimitRemaining reports the caller's quota after this call.
type RateLimitRemaining struct {
	MinuteRemaining int       `json:"minute_remaining"`
	MinuteResetAt   time.Time `json:"minute_reset_at"`
	DayRemaining    int       `json:"day_remaining"`
	DayResetAt      time.Time `json:"day_reset_at"`
}

// Metadata accompanies every response, success or failure.
type Metadata struct {
	RequestID          string              `json:"request_id"`
	Service            string              `json:"service"`
	Action             string              `json:"action"`
	ResponseTimeMs     int64               `json:"response_time_ms"`
	RateLimitRemaining *RateLimitRemaining `json:"rate_limit_remaining,omitempty"`
}

// Response is the router's answer to one invocation.
type Response struct {
	Success  bool       `json:"success"`
	Data     any        `json:"data,omitempty"`
	Error    *ErrorBody `json:"error,omitempty"`
	Metadata Metadata   `json:"metadata"`

	// HTTPStatus is the transport status the API layer should use.
	HTTPStatus int `json:"-"`
}

// call accumulates per-request state across pipeline stages.
type call struct {
	requestID string
	started   time.Time
	req       Request
	env       model.Environment
	clientIP  string
	userAgent string

	key       *model.APIKey
	rateLimit *core.RateLimitStatus

	poolAcquisitionMs int64
	externalCallMs    int64
	logged            bool
}

// Route runs the admission pipeline. It never returns an error: rejections
// and internal failures alike come back as a structured Response, and a
// panic anywhere in the pipeline is converted into a generic internal error.
func (r *Router) Route(ctx context.Context, req Request, cc CallContext) (resp *Response) {
	c := &call{
		requestID: platform.NewID(),
		started:   r.now(),
		req:       req,
		env:       cc.Environment,
		clientIP:  cc.ClientIP,
		userAgent: cc.UserAgent,
	}
	if c.env == "" {
		c.env = model.EnvProduction
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().
				Str("request_id", c.requestID).
				Interface("panic", p).
				Msg("panic while routing call")
			resp = r.reject(ctx, c, errInternal())
		}
	}()

	// Stage 1: key validation. Everything downstream trusts c.key.
	key, err := r.keys.Validate(ctx, cc.APIKeySecret)
	if err != nil {
		if errors.Is(err, core.ErrInvalidAPIKey) {
			return r.reject(ctx, c, errInvalidAPIKey())
		}
		r.logInternal(c, err, "key validation failed")
		return r.reject(ctx, c, errInternal())
	}
	c.key = key

	// Stage 2: IP allow-list, when the transport knows the caller's IP.
	if cc.ClientIP != "" && !r.keys.CheckIPAccess(key, cc.ClientIP) {
		return r.reject(ctx, c, errIPNotAllowed())
	}

	// Stage 3: rate limit. Counters are read here and incremented only
	// after the call fully succeeds.
	rl, err := r.keys.CheckRateLimit(ctx, key, r.now())
	if err != nil {
		r.logInternal(c, err, "rate limit check failed")
		return r.reject(ctx, c, errInternal())
	}
	c.rateLimit = rl
	if !rl.Allowed {
		code := CodeRateLimitExceededDay
		if rl.MinuteRemaining <= 0 {
			code = CodeRateLimitExceededMinute
		}
		return r.reject(ctx, c, errRateLimited(code, map[string]any{
			"minute_limit":     rl.MinuteLimit,
			"minute_remaining": rl.MinuteRemaining,
			"minute_reset_at":  rl.MinuteResetAt,
			"day_limit":        rl.DayLimit,
			"day_remaining":    rl.DayRemaining,
			"day_reset_at":     rl.DayResetAt,
		}))
	}

	// Stage 4: service scope.
	allowed, err := r.keys.CheckServiceAccess(ctx, key, req.Service)
	if err != nil {
		r.logInternal(c, err, "service scope check failed")
		return r.reject(ctx, c, errInternal())
	}
	if !allowed {
		return r.reject(ctx, c, errServiceNotInScope(req.Service))
	}

	// Stage 5: action scope.
	allowed, err = r.keys.CheckActionAccess(ctx, key, req.Service, req.Action)
	if err != nil {
		r.logInternal(c, err, "action scope check failed")
		return r.reject(ctx, c, errInternal())
	}
	if !allowed {
		return r.reject(ctx, c, errActionNotAllowed(req.Action))
	}

	// Stage 6: catalog lookup and availability.
	def, err := r.catalog.GetByKey(ctx, req.Service)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return r.reject(ctx, c, errServiceNotFound(req.Service))
		}
		r.logInternal(c, err, "catalog lookup failed")
		return r.reject(ctx, c, errInternal())
	}
	if !def.IsAvailable {
		return r.reject(ctx, c, errServiceUnavailable(req.Service))
	}

	// Stage 7: the caller's vault configuration.
	cfg, err := r.vault.Get(ctx, key.UserID, req.Service, c.env)
	if err != nil {
		if errors.Is(err, core.ErrNotConfigured) {
			return r.reject(ctx, c, errServiceNotConfigured(req.Service))
		}
		r.logInternal(c, err, "vault lookup failed")
		return r.reject(ctx, c, errInternal())
	}
	if !cfg.IsEnabled {
		return r.reject(ctx, c, errServiceNotEnabled(req.Service))
	}

	// Stage 8: credential decryption.
	creds, err := r.vault.GetDecryptedCredentials(ctx, key.UserID, req.Service, c.env)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrServiceDisabled):
			return r.reject(ctx, c, errServiceNotEnabled(req.Service))
		case errors.Is(err, core.ErrNotConfigured):
			return r.reject(ctx, c, errServiceNotConfigured(req.Service))
		}
		r.logInternal(c, err, "credential decryption failed")
		return r.reject(ctx, c, errCredentialDecryption())
	}

	// Stage 9: dispatch.
	result, err := r.executor.Execute(ctx, key.UserID, def, creds, req.Action, req.Params)
	if err != nil {
		r.logInternal(c, err, "execution failed")
		r.recordVaultUsage(ctx, c, false)
		return r.reject(ctx, c, errExecution())
	}
	c.poolAcquisitionMs = result.PoolAcquisitionMs
	c.externalCallMs = result.ExternalCallMs

	// Stage 10: admit. Counters move only now.
	return r.succeed(ctx, c, result.Data)
}

func (r *Router) succeed(ctx context.Context, c *call, data any) *Response {
	if err := r.keys.IncrementRateLimit(ctx, c.key.ID, r.now()); err != nil {
		r.logInternal(c, err, "rate limit increment failed")
	}
	r.recordVaultUsage(ctx, c, true)

	body, preview := capBody(data)
	totalMs := r.sinceMs(c)
	r.writeUsage(ctx, c, model.UsageSuccess, nil, totalMs, &preview)

	remaining := &RateLimitRemaining{
		MinuteRemaining: c.rateLimit.MinuteRemaining - 1,
		MinuteResetAt:   c.rateLimit.MinuteResetAt,
		DayRemaining:    c.rateLimit.DayRemaining - 1,
		DayResetAt:      c.rateLimit.DayResetAt,
	}
	if remaining.MinuteRemaining < 0 {
		remaining.MinuteRemaining = 0
	}
	if remaining.DayRemaining < 0 {
		remaining.DayRemaining = 0
	}

	return &Response{
		Success:    true,
		Data:       body,
		HTTPStatus: 200,
		Metadata: Metadata{
			RequestID:          c.requestID,
			Service:            c.req.Service,
			Action:             c.req.Action,
			ResponseTimeMs:     totalMs,
			RateLimitRemaining: remaining,
		},
	}
}

func (r *Router) reject(ctx context.Context, c *call, re *RouteError) *Response {
	totalMs := r.sinceMs(c)
	code := re.Code
	r.writeUsage(ctx, c, re.usageStatus(), &code, totalMs, nil)

	meta := Metadata{
		RequestID:      c.requestID,
		Service:        c.req.Service,
		Action:         c.req.Action,
		ResponseTimeMs: totalMs,
	}
	if c.rateLimit != nil {
		meta.RateLimitRemaining = &RateLimitRemaining{
			MinuteRemaining: c.rateLimit.MinuteRemaining,
			MinuteResetAt:   c.rateLimit.MinuteResetAt,
			DayRemaining:    c.rateLimit.DayRemaining,
			DayResetAt:      c.rateLimit.DayResetAt,
		}
	}

	return &Response{
		Success:    false,
		HTTPStatus: re.HTTPStatus,
		Error: &ErrorBody{
			Code:    re.Code,
			Message: re.Message,
			Details: re.Details,
		},
		Metadata: meta,
	}
}

// writeUsage records the single audit entry for this call. Failures to
// persist the entry are logged but never surfaced to the caller.
func (r *Router) writeUsage(ctx context.Context, c *call, status model.UsageStatus, errorCode *string, totalMs int64, preview *string) {
	if c.logged {
		return
	}
	c.logged = true

	entry := &model.UsageLogEntry{
		ID:                platform.NewID(),
		RequestID:         c.requestID,
		ServiceKey:        c.req.Service,
		Action:            c.req.Action,
		Status:            status,
		ErrorCode:         errorCode,
		TotalMs:           totalMs,
		PoolAcquisitionMs: c.poolAcquisitionMs,
		ExternalCallMs:    c.externalCallMs,
		ResponsePreview:   preview,
		CreatedAt:         r.now(),
	}
	if c.key != nil {
		entry.UserID = c.key.UserID
		keyID := c.key.ID
		entry.APIKeyID = &keyID
	}
	if c.clientIP != "" {
		entry.ClientIP = &c.clientIP
	}
	if c.userAgent != "" {
		entry.UserAgent = &c.userAgent
	}

	if err := r.usage.Insert(ctx, entry); err != nil {
		r.logger.Error().Err(err).
			Str("request_id", c.requestID).
			Msg("failed to persist usage log entry")
	}

	routeOutcomes.WithLabelValues(string(status)).Inc()
}

func (r *Router) recordVaultUsage(ctx context.Context, c *call, success bool) {
	if err := r.vault.RecordUsage(ctx, c.key.UserID, c.req.Service, c.env, success); err != nil {
		r.logger.Warn().Err(err).
			Str("request_id", c.requestID).
			Msg("failed to bump config usage counters")
	}
}

func (r *Router) logInternal(c *call, err error, msg string) {
	r.logger.Error().Err(err).
		Str("request_id", c.requestID).
		Str("service", c.req.Service).
		Str("action", c.req.Action).
		Msg(msg)
}

func (r *Router) sinceMs(c *call) int64 {
	return r.now().Sub(c.started).Milliseconds()
}
