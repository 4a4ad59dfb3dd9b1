package intent

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/google/uuid"

	"mercator-hq/triton/pkg/policy"
	"mercator-hq/triton/pkg/trace"
)

// defaultHITLMessage is used when the policy document does not configure one.
const defaultHITLMessage = "Ambiguous intent detected. Human review required."

// StepRecorder is the slice of the trace ledger the router writes to.
type StepRecorder interface {
	AppendStep(ctx context.Context, traceID, stepType string, payload map[string]any) (trace.Step, error)
}

// RouterConfig configures the intent router.
type RouterConfig struct {
	// Enabled toggles routing; when off, every call reports
	// intent_router_disabled and the caller falls back to legacy routing.
	Enabled bool

	// Shadow computes decisions without binding them. Shadow decisions are
	// recorded as intent_router_shadow steps for comparison.
	Shadow bool

	// MinConfidence is the tier-2 confidence floor. Default: 0.85
	MinConfidence float64

	// MinGap is the tier-2 ambiguity gap. Default: 0.05
	MinGap float64

	// DefaultTool is bound when the input is empty. Empty disables it.
	DefaultTool string
}

// Router is the four-tier intent pipeline: rule gate, cache, semantic
// matching, HITL.
type Router struct {
	config   RouterConfig
	rules    *RuleRouter
	semantic *SemanticRouter
	cache    *Cache
	hitl     *HITLQueue
	policy   *policy.Engine
	recorder StepRecorder
	logger   *slog.Logger
}

// NewRouter assembles the pipeline. cache, hitl, and semantic may be nil to
// disable the corresponding tier.
func NewRouter(config RouterConfig, rules *RuleRouter, semantic *SemanticRouter, cache *Cache, hitl *HITLQueue, engine *policy.Engine, recorder StepRecorder) *Router {
	if config.MinConfidence <= 0 {
		config.MinConfidence = 0.85
	}
	if config.MinGap <= 0 {
		config.MinGap = 0.05
	}
	return &Router{
		config:   config,
		rules:    rules,
		semantic: semantic,
		cache:    cache,
		hitl:     hitl,
		policy:   engine,
		recorder: recorder,
		logger:   slog.Default().With("component", "intent.router"),
	}
}

// Shadow reports whether the router runs in shadow mode.
func (r *Router) Shadow() bool {
	return r.config.Shadow
}

// Route runs the tier pipeline over one input and records the decision as a
// trace step. In shadow mode the step type marks the decision as non-binding.
func (r *Router) Route(ctx context.Context, userInput, traceID string) Decision {
	if !r.config.Enabled {
		return r.newDecision("", 0, decisionOpts{
			denyReason: ReasonDisabled,
			evidence:   map[string]any{"note": ReasonDisabled},
		})
	}

	snap := r.policy.Snapshot()
	policyHash := snap.Hash()
	normalized := Normalize(userInput)
	signature := Signature(normalized)

	if normalized == "" {
		d := r.emptyInputDecision(policyHash)
		r.record(ctx, traceID, d)
		return d
	}

	if d, ok := r.tier0(ctx, snap, policyHash, userInput); ok {
		r.record(ctx, traceID, d)
		return d
	}

	if d, ok := r.tier1(ctx, policyHash, signature); ok {
		r.record(ctx, traceID, d)
		return d
	}

	d := r.tier2(ctx, snap, policyHash, userInput)
	d = r.maybeEnqueueHITL(ctx, snap, d)
	r.record(ctx, traceID, d)

	if d.Cacheable && !d.RequiresHITL && r.cache != nil {
		if err := r.cache.Set(ctx, policyHash, signature, d); err != nil {
			r.logger.WarnContext(ctx, "failed to cache intent decision", "error", err)
		}
	}
	return d
}

func (r *Router) emptyInputDecision(policyHash string) Decision {
	if r.config.DefaultTool != "" {
		return r.newDecision(policyHash, 0, decisionOpts{
			intentID:   r.config.DefaultTool,
			confidence: 0.5,
			allowed:    []string{r.config.DefaultTool},
			evidence:   map[string]any{"rules_matched": []string{"default_tool"}},
		})
	}
	return r.newDecision(policyHash, 0, decisionOpts{
		evidence: map[string]any{"note": ReasonNoMatch},
	})
}

// tier0 evaluates deny patterns, the rule router, and allow patterns.
func (r *Router) tier0(ctx context.Context, snap *policy.Snapshot, policyHash, userInput string) (Decision, bool) {
	router := snap.Router()

	for _, pattern := range router.DenyPatterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			r.logger.WarnContext(ctx, "invalid deny pattern", "pattern", pattern, "error", err)
			continue
		}
		if re.MatchString(userInput) {
			return r.newDecision(policyHash, 0, decisionOpts{
				confidence: 1.0,
				denyReason: ReasonTier0Deny,
				evidence:   map[string]any{"rules_matched": []string{pattern}},
			}), true
		}
	}

	if r.rules != nil {
		if rd := r.rules.Route(userInput); rd.Tool != "" {
			requiresHITL := false
			denyReason := ""
			if ip, ok := snap.Intent(rd.Tool); ok && ip.Tier3Required {
				requiresHITL = true
				denyReason = ReasonTier3Required
			}
			d := r.newDecision(policyHash, 0, decisionOpts{
				intentID:     rd.Tool,
				confidence:   rd.Confidence,
				allowed:      []string{rd.Tool},
				params:       rd.Params,
				requiresHITL: requiresHITL,
				denyReason:   denyReason,
				evidence:     map[string]any{"rules_matched": []string{rd.Reason}},
			})
			if requiresHITL {
				d = r.maybeEnqueueHITL(ctx, snap, d)
			}
			return d, true
		}
	}

	for _, pattern := range router.AllowPatterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			r.logger.WarnContext(ctx, "invalid allow pattern", "pattern", pattern, "error", err)
			continue
		}
		if re.MatchString(userInput) {
			return r.newDecision(policyHash, 0, decisionOpts{
				intentID:   "allow_pattern",
				confidence: 0.9,
				evidence:   map[string]any{"rules_matched": []string{pattern}},
			}), true
		}
	}

	return Decision{}, false
}

// tier1 serves TTL-valid cached decisions.
func (r *Router) tier1(ctx context.Context, policyHash, signature string) (Decision, bool) {
	if r.cache == nil {
		return Decision{}, false
	}
	d, ok, err := r.cache.Get(ctx, policyHash, signature)
	if err != nil {
		r.logger.WarnContext(ctx, "intent cache lookup failed", "error", err)
		return Decision{}, false
	}
	if !ok {
		return Decision{}, false
	}
	d.TierUsed = 1
	if d.Evidence == nil {
		d.Evidence = map[string]any{}
	}
	d.Evidence["cache_hit"] = true
	return d, true
}

// tier2 embeds the input and applies the confidence and ambiguity gates.
func (r *Router) tier2(ctx context.Context, snap *policy.Snapshot, policyHash, userInput string) Decision {
	var candidates []Candidate
	if r.semantic != nil && r.semantic.Enabled() {
		var err error
		candidates, err = r.semantic.Rank(ctx, userInput)
		if err != nil {
			r.logger.WarnContext(ctx, "semantic ranking failed", "error", err)
			candidates = nil
		}
	}

	if len(candidates) == 0 {
		return r.newDecision(policyHash, 2, decisionOpts{
			evidence: map[string]any{"note": ReasonNoMatch},
		})
	}

	top := candidates[0]
	var gap *float64
	if len(candidates) > 1 {
		g := top.Score - candidates[1].Score
		gap = &g
	}

	minConfidence := r.config.MinConfidence
	minGap := r.config.MinGap
	tier3Required := false
	if ip, ok := snap.Intent(top.Tool); ok {
		if ip.MinConfidenceTier2 > 0 {
			minConfidence = ip.MinConfidenceTier2
		}
		if ip.MinGapTier2 > 0 {
			minGap = ip.MinGapTier2
		}
		tier3Required = ip.Tier3Required
	}

	topK := candidates
	if len(topK) > 3 {
		topK = topK[:3]
	}
	evidence := map[string]any{"semantic_topk": topK}

	// An exact tie is ambiguous no matter how generous the gap setting.
	tie := len(candidates) > 1 && top.Score == candidates[1].Score
	belowFloor := top.Score < minConfidence
	ambiguous := !belowFloor && (tie || (gap != nil && *gap < minGap))

	switch {
	case belowFloor && !tier3Required:
		evidence["note"] = ReasonNoMatch
		return r.newDecision(policyHash, 2, decisionOpts{
			confidence: top.Score,
			gap:        gap,
			evidence:   evidence,
		})
	case ambiguous || (belowFloor && tier3Required):
		reason := ReasonAmbiguous
		if belowFloor {
			reason = ReasonTier3Required
		}
		evidence["guard_triggered"] = true
		return r.newDecision(policyHash, 2, decisionOpts{
			intentID:     top.Tool,
			confidence:   top.Score,
			gap:          gap,
			requiresHITL: true,
			denyReason:   reason,
			evidence:     evidence,
		})
	default:
		return r.newDecision(policyHash, 2, decisionOpts{
			intentID:     top.Tool,
			confidence:   top.Score,
			gap:          gap,
			allowed:      []string{top.Tool},
			requiresHITL: tier3Required,
			denyReason:   denyIf(tier3Required, ReasonTier3Required),
			evidence:     evidence,
			cacheable:    !tier3Required,
		})
	}
}

func denyIf(cond bool, reason string) string {
	if cond {
		return reason
	}
	return ""
}

// maybeEnqueueHITL queues a review request for decisions that need one and
// attaches the request id and operator message to the evidence.
func (r *Router) maybeEnqueueHITL(ctx context.Context, snap *policy.Snapshot, d Decision) Decision {
	if !d.RequiresHITL {
		return d
	}

	message := snap.Router().HITL.Message
	if message == "" {
		message = defaultHITLMessage
	}
	if d.Evidence == nil {
		d.Evidence = map[string]any{}
	}
	d.Evidence["hitl_message"] = message

	if r.hitl != nil {
		req, err := r.hitl.Enqueue(ctx, map[string]any{
			"decision_id": d.DecisionID,
			"intent_id":   d.IntentID,
			"confidence":  d.Confidence,
			"gap":         d.Gap,
			"evidence":    d.Evidence,
		})
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to enqueue hitl request", "error", err)
		} else if req != nil {
			d.Evidence["hitl_request_id"] = req.ID
		}
	}

	if d.DenyReason == "" {
		d.DenyReason = ReasonHITLRequired
	}
	d.Cacheable = false
	return d
}

// record writes the decision to the trace ledger. Shadow decisions use a
// distinct step type so consumers can tell non-binding records apart.
func (r *Router) record(ctx context.Context, traceID string, d Decision) {
	if r.recorder == nil || traceID == "" {
		return
	}
	stepType := trace.StepIntentRouter
	if r.config.Shadow {
		stepType = trace.StepIntentShadow
	}
	payload := map[string]any{
		"decision_id":   d.DecisionID,
		"policy_hash":   d.PolicyHash,
		"tier_used":     d.TierUsed,
		"intent_id":     d.IntentID,
		"allowed_tools": d.AllowedTools,
		"tool_params":   d.ToolParams,
		"requires_hitl": d.RequiresHITL,
		"confidence":    d.Confidence,
		"deny_reason":   d.DenyReason,
		"evidence":      d.Evidence,
		"cacheable":     d.Cacheable,
	}
	if d.Gap != nil {
		payload["gap"] = *d.Gap
	}
	if _, err := r.recorder.AppendStep(ctx, traceID, stepType, payload); err != nil {
		r.logger.ErrorContext(ctx, "failed to record intent step",
			"trace_id", traceID,
			"error", err,
		)
	}
}

type decisionOpts struct {
	intentID     string
	confidence   float64
	gap          *float64
	allowed      []string
	params       map[string]any
	requiresHITL bool
	denyReason   string
	evidence     map[string]any
	cacheable    bool
}

func (r *Router) newDecision(policyHash string, tier int, opts decisionOpts) Decision {
	if opts.allowed == nil {
		opts.allowed = []string{}
	}
	if opts.params == nil {
		opts.params = map[string]any{}
	}
	if opts.evidence == nil {
		opts.evidence = map[string]any{}
	}
	return Decision{
		DecisionID:   uuid.NewString(),
		PolicyHash:   policyHash,
		TierUsed:     tier,
		IntentID:     opts.intentID,
		AllowedTools: opts.allowed,
		ToolParams:   opts.params,
		RequiresHITL: opts.requiresHITL,
		Confidence:   opts.confidence,
		Gap:          opts.gap,
		DenyReason:   opts.denyReason,
		Evidence:     opts.evidence,
		Cacheable:    opts.cacheable,
	}
}
