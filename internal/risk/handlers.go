package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/riskdesk/internal/logging"
	"github.com/mbd888/riskdesk/internal/metrics"
	"github.com/mbd888/riskdesk/internal/traces"
	"github.com/mbd888/riskdesk/internal/validation"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxBatchSize caps the number of accounts in one batch request.
const DefaultMaxBatchSize = 500

// ClampedFieldsHeader names the response header that lists counters
// clamped to zero under InputPolicyClamp.
const ClampedFieldsHeader = "X-Risk-Clamped-Fields"

// Handler provides HTTP endpoints for risk evaluation.
type Handler struct {
	engine       *Engine
	policy       InputPolicy
	maxBatchSize int
	concurrency  int
}

// NewHandler creates a risk handler that rejects negative counters.
func NewHandler(engine *Engine) *Handler {
	return &Handler{
		engine:       engine,
		policy:       InputPolicyReject,
		maxBatchSize: DefaultMaxBatchSize,
		concurrency:  runtime.GOMAXPROCS(0),
	}
}

// WithInputPolicy overrides how negative counters are handled.
func (h *Handler) WithInputPolicy(p InputPolicy) *Handler {
	h.policy = p
	return h
}

// WithMaxBatchSize overrides the batch size limit.
func (h *Handler) WithMaxBatchSize(n int) *Handler {
	if n > 0 {
		h.maxBatchSize = n
	}
	return h
}

// RegisterRoutes sets up risk routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/risk/evaluate", h.Evaluate)
	r.POST("/risk/evaluate/batch", h.EvaluateBatch)
	r.GET("/risk/rules", h.ListRules)
}

// Evaluate handles POST /v1/risk/evaluate
func (h *Handler) Evaluate(c *gin.Context) {
	var req SignalsRequest
	if err := decodeJSON(c, &req); err != nil && !errors.Is(err, io.EOF) {
		h.rejectInput(c, fmt.Errorf("body must be a single JSON object of numeric counters: %w", err))
		return
	}

	in, clamped, err := ParseRequest(req, h.policy)
	if err != nil {
		h.rejectInput(c, err)
		return
	}
	h.flagClamped(c, clamped)

	c.JSON(http.StatusOK, h.evaluate(c.Request.Context(), in))
}

type batchRequest struct {
	Accounts []json.RawMessage `json:"accounts"`
}

// EvaluateBatch handles POST /v1/risk/evaluate/batch
func (h *Handler) EvaluateBatch(c *gin.Context) {
	var req batchRequest
	if err := decodeJSON(c, &req); err != nil {
		h.rejectInput(c, fmt.Errorf("body must be {\"accounts\": [...]}: %w", err))
		return
	}
	if len(req.Accounts) > h.maxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "batch_too_large",
			"message": fmt.Sprintf("at most %d accounts per batch", h.maxBatchSize),
		})
		return
	}

	inputs := make([]Signals, len(req.Accounts))
	var (
		fieldErrs validation.ValidationErrors
		clamped   []string
	)
	for i, raw := range req.Accounts {
		var account SignalsRequest
		if err := json.Unmarshal(raw, &account); err != nil {
			fieldErrs = append(fieldErrs, validation.ValidationError{
				Field:   fmt.Sprintf("accounts[%d]", i),
				Message: "must be a JSON object",
			})
			continue
		}
		in, cl, err := ParseRequest(account, h.policy)
		var inputErr *InputError
		if errors.As(err, &inputErr) {
			for _, fe := range inputErr.Fields {
				fe.Field = fmt.Sprintf("accounts[%d].%s", i, fe.Field)
				fieldErrs = append(fieldErrs, fe)
			}
			continue
		}
		for _, f := range cl {
			clamped = append(clamped, fmt.Sprintf("accounts[%d].%s", i, f))
		}
		inputs[i] = in
	}
	if len(fieldErrs) > 0 {
		h.rejectInput(c, &InputError{Fields: fieldErrs})
		return
	}
	h.flagClamped(c, clamped)

	verdicts := make([]*Verdict, len(inputs))
	g, ctx := errgroup.WithContext(c.Request.Context())
	g.SetLimit(h.concurrency)
	for i, in := range inputs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			verdicts[i] = h.evaluate(ctx, in)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logging.L(c.Request.Context()).Warn("batch evaluation aborted", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request_cancelled", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"verdicts": verdicts})
}

// ListRules handles GET /v1/risk/rules
func (h *Handler) ListRules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rules": h.engine.Rules()})
}

func (h *Handler) evaluate(ctx context.Context, in Signals) *Verdict {
	ctx, span := traces.StartSpan(ctx, "risk.Evaluate")
	defer span.End()

	start := time.Now()
	v := h.engine.Evaluate(in)
	metrics.EvaluationDuration.Observe(time.Since(start).Seconds())

	metrics.EvaluationsTotal.WithLabelValues(string(v.RiskLevel), string(v.RecommendedAction)).Inc()
	for _, p := range v.TriggeredPolicies {
		metrics.PolicyTriggersTotal.WithLabelValues(p.ID).Inc()
	}
	span.SetAttributes(
		traces.RiskLevel(string(v.RiskLevel)),
		traces.RiskScore(v.RiskScore),
		traces.RequestID(logging.RequestID(ctx)),
	)

	logger := logging.L(ctx)
	if id := traces.TraceID(ctx); id != "" {
		logger = logger.With("trace_id", id)
	}
	logger.Debug("risk evaluated",
		"risk_level", v.RiskLevel,
		"risk_score", v.RiskScore,
		"signals", len(v.RiskSignals),
	)
	return v
}

var errTrailingData = errors.New("unexpected data after JSON value")

// decodeJSON reads exactly one JSON value from the request body.
// Unknown fields are ignored.
func decodeJSON(c *gin.Context, v any) error {
	dec := json.NewDecoder(c.Request.Body)
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errTrailingData
	}
	return nil
}

func (h *Handler) rejectInput(c *gin.Context, err error) {
	metrics.InvalidInputTotal.Inc()

	var inputErr *InputError
	if !errors.As(err, &inputErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_input",
		"message": inputErr.Error(),
		"fields":  inputErr.Fields,
	})
}

// flagClamped reports counters that were clamped to zero.
func (h *Handler) flagClamped(c *gin.Context, fields []string) {
	if len(fields) == 0 {
		return
	}
	metrics.InputClampedTotal.Add(float64(len(fields)))
	c.Header(ClampedFieldsHeader, strings.Join(fields, ","))
	logging.L(c.Request.Context()).Warn("negative counters clamped to zero", "fields", fields)
}
