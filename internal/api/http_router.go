package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"pwbloom/internal/common"
	"pwbloom/internal/core"
	"pwbloom/internal/logger"
	"pwbloom/internal/metrics"

	"github.com/o1egl/paseto"
	"github.com/valyala/fasthttp"
)

const (
	MaximumBatchSize = 10000

	addedMessage          = "Password hash added to bloom filter"
	compromisedMessage    = "Password has been compromised in a known data breach"
	safeMessage           = "Password appears safe: not found in the breach corpus"
	notInitializedMessage = "Bloom filter not initialized"
)

type HttpApiRouter struct {
	SystemState *core.SystemState
}

type PasswordRequestPayload struct {
	Password string `json:"password"`
}

type BatchPasswordRequestPayload struct {
	Passwords []string `json:"passwords"`
}

type StatusResponsePayload struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type CheckResponsePayload struct {
	Compromised bool   `json:"compromised"`
	Message     string `json:"message"`
}

type AddResponsePayload struct {
	Added   bool   `json:"added"`
	Message string `json:"message"`
}

type BatchAddResponsePayload struct {
	Added   int    `json:"added"`
	Message string `json:"message"`
}

type StatsResponsePayload struct {
	BitSize                    uint64  `json:"bit_size"`
	BitsSet                    uint64  `json:"bits_set"`
	NumHashes                  uint32  `json:"num_hashes"`
	ExpectedItems              uint64  `json:"expected_items"`
	FalsePositiveRate          float64 `json:"false_positive_rate"`
	MemoryUsageMegabytes       float64 `json:"memory_usage_mb"`
	FillRatio                  float64 `json:"fill_ratio"`
	EstimatedFalsePositiveRate float64 `json:"estimated_false_positive_rate"`
}

type errorResponsePayload struct {
	Detail string `json:"detail"`
}

func (router *HttpApiRouter) GetFastHTTPHandler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		router.handleRequest(ctx)
	}
}

func (router *HttpApiRouter) handleRequest(ctx *fasthttp.RequestCtx) {
	startTime := time.Now()
	defer func() {
		if r := recover(); r != nil {
			recoverPanic(ctx, r)
		}
		logger.LogAccessEvent("%s %s %s %d %v", string(ctx.Method()), string(ctx.Path()), ctx.RemoteAddr(), ctx.Response.StatusCode(), time.Since(startTime))
	}()

	router.applyCorsHeaders(ctx)
	if ctx.IsOptions() {
		ctx.SetStatusCode(fasthttp.StatusNoContent)
		return
	}

	router.routePath(ctx)
}

func (router *HttpApiRouter) routePath(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/":
		router.HandleRootRequest(ctx)
	case "/health":
		router.HandleHealthRequest(ctx)
	case "/check":
		router.HandleCheckRequest(ctx)
	case "/add":
		if router.requireAuth(ctx) {
			router.HandleAddRequest(ctx)
		}
	case "/batch":
		if router.requireAuth(ctx) {
			router.HandleBatchAddRequest(ctx)
		}
	case "/stats":
		router.HandleStatsRequest(ctx)
	case "/metrics":
		router.HandleMetricsRequest(ctx)
	default:
		writeErrorResponse(ctx, fasthttp.StatusNotFound, "Not Found")
	}
}

func (router *HttpApiRouter) applyCorsHeaders(ctx *fasthttp.RequestCtx) {
	origin := string(ctx.Request.Header.Peek("Origin"))
	if origin == "" || router.SystemState == nil {
		return
	}

	allowed := ""
	for _, candidate := range router.SystemState.Configuration.CorsAllowedOrigins {
		if candidate == "*" {
			allowed = "*"
			break
		}
		if strings.EqualFold(candidate, origin) {
			allowed = origin
		}
	}
	if allowed == "" {
		return
	}

	header := &ctx.Response.Header
	header.Set("Access-Control-Allow-Origin", allowed)
	if allowed != "*" {
		header.Add("Vary", "Origin")
	}
	header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
}

// requireAuth passes every request when no secret is configured.
func (router *HttpApiRouter) requireAuth(ctx *fasthttp.RequestCtx) bool {
	if router.SystemState == nil || router.SystemState.Configuration.AuthenticationSecret == "" {
		return true
	}
	headerToken := strings.TrimPrefix(string(ctx.Request.Header.Peek("Authorization")), "Bearer ")
	if headerToken == "" || ValidateAuthenticationToken(router.SystemState.Configuration.AuthenticationSecret, headerToken) != nil {
		metrics.IncrementRejectedRequestCount()
		writeErrorResponse(ctx, fasthttp.StatusUnauthorized, "Unauthorized")
		return false
	}
	return true
}

func deriveTokenKey(secret string) []byte {
	return []byte(fmt.Sprintf("%-32s", secret))[:32]
}

// MintAuthenticationToken issues a paseto v2 local token accepted by the
// write endpoints until ttl elapses.
func MintAuthenticationToken(secret string, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := paseto.JSONToken{
		Subject:    subject,
		IssuedAt:   now,
		NotBefore:  now,
		Expiration: now.Add(ttl),
	}
	return paseto.NewV2().Encrypt(deriveTokenKey(secret), &claims, "")
}

func ValidateAuthenticationToken(secret string, token string) error {
	var footer string
	var claims paseto.JSONToken
	if err := paseto.NewV2().Decrypt(token, deriveTokenKey(secret), &claims, &footer); err != nil {
		return err
	}
	return claims.Validate(paseto.ValidAt(time.Now()))
}

func (router *HttpApiRouter) HandleRootRequest(ctx *fasthttp.RequestCtx) {
	if !isMethodAllowed(ctx, "GET") {
		return
	}
	writeJSONResponse(ctx, fasthttp.StatusOK, StatusResponsePayload{Status: "alive", Message: "API is running"})
}

func (router *HttpApiRouter) HandleHealthRequest(ctx *fasthttp.RequestCtx) {
	if !isMethodAllowed(ctx, "GET") {
		return
	}

	state := router.SystemState
	if state == nil {
		writeErrorResponse(ctx, fasthttp.StatusServiceUnavailable, "Service unhealthy: not initialized")
		return
	}
	if pinger, ok := state.Store.(common.Pinger); ok {
		opCtx, cancel := state.OperationContext(context.Background())
		defer cancel()
		if err := pinger.Ping(opCtx); err != nil {
			writeErrorResponse(ctx, fasthttp.StatusServiceUnavailable, "Service unhealthy: "+err.Error())
			return
		}
	}

	writeJSONResponse(ctx, fasthttp.StatusOK, StatusResponsePayload{
		Status:  "healthy",
		Message: fmt.Sprintf("Service is healthy (environment: %s)", state.Configuration.Environment),
	})
}

func (router *HttpApiRouter) HandleCheckRequest(ctx *fasthttp.RequestCtx) {
	if !isMethodAllowed(ctx, "POST") {
		return
	}
	password, ok := decodePasswordPayload(ctx)
	if !ok {
		return
	}
	state, ok := router.readyState(ctx)
	if !ok {
		return
	}

	digest := common.DigestSecret(password)
	if state.PositiveCache.Contains(digest) {
		metrics.IncrementCacheHitCount()
		metrics.RecordCheck(true)
		writeJSONResponse(ctx, fasthttp.StatusOK, CheckResponsePayload{Compromised: true, Message: compromisedMessage})
		return
	}

	opCtx, cancel := state.OperationContext(context.Background())
	defer cancel()
	compromised, err := state.Engine.Check(opCtx, []byte(digest))
	if err != nil {
		writeEngineFailure(ctx, "check", err)
		return
	}
	if compromised {
		state.PositiveCache.Insert(digest)
	}
	metrics.RecordCheck(compromised)

	message := safeMessage
	if compromised {
		message = compromisedMessage
	}
	writeJSONResponse(ctx, fasthttp.StatusOK, CheckResponsePayload{Compromised: compromised, Message: message})
}

func (router *HttpApiRouter) HandleAddRequest(ctx *fasthttp.RequestCtx) {
	if !isMethodAllowed(ctx, "POST") {
		return
	}
	password, ok := decodePasswordPayload(ctx)
	if !ok {
		return
	}
	state, ok := router.readyState(ctx)
	if !ok {
		return
	}

	opCtx, cancel := state.OperationContext(context.Background())
	defer cancel()
	digest := common.DigestSecret(password)
	if err := state.Engine.Add(opCtx, []byte(digest)); err != nil {
		writeEngineFailure(ctx, "add", err)
		return
	}
	metrics.RecordAdd(1)
	writeJSONResponse(ctx, fasthttp.StatusOK, AddResponsePayload{Added: true, Message: addedMessage})
}

func (router *HttpApiRouter) HandleBatchAddRequest(ctx *fasthttp.RequestCtx) {
	if !isMethodAllowed(ctx, "POST") {
		return
	}

	var payload BatchPasswordRequestPayload
	if err := json.Unmarshal(ctx.PostBody(), &payload); err != nil {
		writeErrorResponse(ctx, fasthttp.StatusUnprocessableEntity, "Invalid request body: "+err.Error())
		return
	}
	if len(payload.Passwords) == 0 || len(payload.Passwords) > MaximumBatchSize {
		writeErrorResponse(ctx, fasthttp.StatusUnprocessableEntity,
			fmt.Sprintf("passwords must hold between 1 and %d entries", MaximumBatchSize))
		return
	}
	items := make([][]byte, len(payload.Passwords))
	for i, password := range payload.Passwords {
		if password == "" {
			writeErrorResponse(ctx, fasthttp.StatusUnprocessableEntity, fmt.Sprintf("passwords[%d] must not be empty", i))
			return
		}
		items[i] = []byte(common.DigestSecret(password))
	}

	state, ok := router.readyState(ctx)
	if !ok {
		return
	}
	opCtx, cancel := state.OperationContext(context.Background())
	defer cancel()
	if err := state.Engine.AddBatch(opCtx, items); err != nil {
		writeEngineFailure(ctx, "batch", err)
		return
	}
	metrics.RecordAdd(len(items))
	writeJSONResponse(ctx, fasthttp.StatusOK, BatchAddResponsePayload{
		Added:   len(items),
		Message: fmt.Sprintf("%d password hashes added to bloom filter", len(items)),
	})
}

func (router *HttpApiRouter) HandleStatsRequest(ctx *fasthttp.RequestCtx) {
	if !isMethodAllowed(ctx, "GET") {
		return
	}
	state, ok := router.readyState(ctx)
	if !ok {
		return
	}

	opCtx, cancel := state.OperationContext(context.Background())
	defer cancel()
	stats, err := state.Engine.Stats(opCtx)
	if err != nil {
		metrics.IncrementStoreFailureCount()
		logger.LogErrorEvent("stats failed: %v", err)
		writeErrorResponse(ctx, fasthttp.StatusInternalServerError, "Failed to retrieve statistics: "+err.Error())
		return
	}

	writeJSONResponse(ctx, fasthttp.StatusOK, StatsResponsePayload{
		BitSize:                    stats.Parameters.BitSize,
		BitsSet:                    stats.BitsSet,
		NumHashes:                  stats.Parameters.HashCount,
		ExpectedItems:              stats.Parameters.ExpectedItems,
		FalsePositiveRate:          stats.Parameters.FalsePositiveRate,
		MemoryUsageMegabytes:       stats.MemoryMegabytes(),
		FillRatio:                  stats.FillRatio,
		EstimatedFalsePositiveRate: stats.EstimatedFalsePositiveRate,
	})
}

func (router *HttpApiRouter) HandleMetricsRequest(ctx *fasthttp.RequestCtx) {
	if !isMethodAllowed(ctx, "GET") {
		return
	}
	writeJSONResponse(ctx, fasthttp.StatusOK, metrics.GetCurrentState())
}

func (router *HttpApiRouter) readyState(ctx *fasthttp.RequestCtx) (*core.SystemState, bool) {
	state := router.SystemState
	if state == nil || !state.Engine.IsReady() {
		writeErrorResponse(ctx, fasthttp.StatusServiceUnavailable, notInitializedMessage)
		return nil, false
	}
	return state, true
}

func decodePasswordPayload(ctx *fasthttp.RequestCtx) (string, bool) {
	var payload PasswordRequestPayload
	if err := json.Unmarshal(ctx.PostBody(), &payload); err != nil {
		writeErrorResponse(ctx, fasthttp.StatusUnprocessableEntity, "Invalid request body: "+err.Error())
		return "", false
	}
	if payload.Password == "" {
		writeErrorResponse(ctx, fasthttp.StatusUnprocessableEntity, "password must be a non-empty string")
		return "", false
	}
	return payload.Password, true
}

func writeEngineFailure(ctx *fasthttp.RequestCtx, operation string, err error) {
	switch {
	case errors.Is(err, common.ErrNotReady):
		writeErrorResponse(ctx, fasthttp.StatusServiceUnavailable, notInitializedMessage)
	case errors.Is(err, common.ErrInvalidParameter):
		writeErrorResponse(ctx, fasthttp.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, common.ErrStoreUnavailable):
		metrics.IncrementStoreFailureCount()
		logger.LogWarnEvent("%s failed: %v", operation, err)
		writeErrorResponse(ctx, fasthttp.StatusServiceUnavailable, "Bit store unavailable")
	default:
		metrics.IncrementStoreFailureCount()
		logger.LogErrorEvent("%s failed: %v", operation, err)
		writeErrorResponse(ctx, fasthttp.StatusInternalServerError, "Internal Server Error")
	}
}

func isMethodAllowed(ctx *fasthttp.RequestCtx, methods ...string) bool {
	reqMethod := string(ctx.Method())
	for _, m := range methods {
		if reqMethod == m {
			return true
		}
	}
	writeErrorResponse(ctx, fasthttp.StatusMethodNotAllowed, "Method Not Allowed")
	return false
}

// recoverPanic takes the value recovered by the deferred closure in handleRequest.
func recoverPanic(ctx *fasthttp.RequestCtx, r any) {
	logger.LogErrorEvent("PANIC: %v\n%s", r, debug.Stack())
	writeErrorResponse(ctx, fasthttp.StatusInternalServerError, "Internal Server Error")
}

func writeJSONResponse(ctx *fasthttp.RequestCtx, status int, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		logger.LogErrorEvent("failed to encode response: %v", err)
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func writeErrorResponse(ctx *fasthttp.RequestCtx, status int, detail string) {
	writeJSONResponse(ctx, status, errorResponsePayload{Detail: detail})
}
