package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// compiledRule is a Rule with its match pattern compiled.
type compiledRule struct {
	Rule
	pattern *regexp.Regexp
}

// EngineConfig contains configuration for the policy engine.
type EngineConfig struct {
	// Enforce enables policy evaluation. When false every check allows
	// with reason "policy_disabled".
	Enforce bool

	// Path is the policy document path. A missing file loads an empty
	// rule set, which denies everything while enforcing.
	Path string
}

// Engine evaluates tool policy rules against a read-copy-update snapshot.
// Check never blocks on a reload; it reads whatever snapshot is current.
type Engine struct {
	config EngineConfig
	logger *slog.Logger

	mu   sync.RWMutex
	snap *Snapshot

	subMu       sync.Mutex
	subscribers []func(policyHash string)
}

// NewEngine creates a policy engine and performs the initial load. A missing
// policy file is not an error; it produces an empty snapshot.
func NewEngine(config EngineConfig) (*Engine, error) {
	e := &Engine{
		config: config,
		logger: slog.Default().With("component", "policy.engine"),
	}
	if err := e.Reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload reads and parses the policy document and atomically publishes the
// new snapshot. Subscribers are notified when the policy hash changed.
func (e *Engine) Reload() error {
	raw, err := os.ReadFile(e.config.Path)
	if os.IsNotExist(err) {
		e.logger.Warn("policy file missing, loading empty rule set", "path", e.config.Path)
		raw = nil
	} else if err != nil {
		return fmt.Errorf("failed to read policy file %q: %w", e.config.Path, err)
	}

	snap, err := parseDocument(raw)
	if err != nil {
		return fmt.Errorf("failed to parse policy file %q: %w", e.config.Path, err)
	}

	e.mu.Lock()
	prev := e.snap
	e.snap = snap
	e.mu.Unlock()

	changed := prev == nil || prev.hash != snap.hash
	e.logger.Info("policy loaded",
		"path", e.config.Path,
		"rules", len(snap.rules),
		"intents", len(snap.intents),
		"policy_hash", snap.hash,
		"changed", changed,
	)
	if changed {
		e.notify(snap.hash)
	}
	return nil
}

// parseDocument parses raw policy bytes into an immutable snapshot. The
// policy hash covers the raw bytes, so whitespace-only edits still publish a
// new hash and flush dependent caches.
func parseDocument(raw []byte) (*Snapshot, error) {
	sum := sha256.Sum256(raw)

	var doc Document
	if len(raw) > 0 {
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
	}

	rules := make([]compiledRule, 0, len(doc.Rules))
	for i, rule := range doc.Rules {
		if rule.Match == "" {
			continue
		}
		pattern, err := regexp.Compile("(?i)" + rule.Match)
		if err != nil {
			return nil, fmt.Errorf("rule %d: invalid match pattern %q: %w", i, rule.Match, err)
		}
		if rule.Action == "" {
			rule.Action = ActionAllow
		}
		rule.Action = strings.ToLower(rule.Action)
		if rule.Action != ActionAllow && rule.Action != ActionDeny {
			return nil, fmt.Errorf("rule %d: unknown action %q", i, rule.Action)
		}
		if rule.Reason == "" {
			rule.Reason = "policy_rule"
		}
		rules = append(rules, compiledRule{Rule: rule, pattern: pattern})
	}

	intents := make(map[string]IntentPolicy, len(doc.Intents))
	for _, ip := range doc.Intents {
		if ip.Name != "" {
			intents[ip.Name] = ip
		}
	}

	return &Snapshot{
		rules:    rules,
		intents:  intents,
		router:   doc.IntentRouter,
		hash:     hex.EncodeToString(sum[:]),
		loadedAt: time.Now().UTC(),
	}, nil
}

// Snapshot returns the current policy snapshot.
func (e *Engine) Snapshot() *Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap
}

// PolicyHash returns the current policy hash.
func (e *Engine) PolicyHash() string {
	return e.Snapshot().hash
}

// Subscribe registers a callback invoked with the new policy hash after each
// reload that changed the document. Callbacks run synchronously on the
// reloading goroutine and must not block.
func (e *Engine) Subscribe(fn func(policyHash string)) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.subscribers = append(e.subscribers, fn)
}

func (e *Engine) notify(hash string) {
	e.subMu.Lock()
	subs := make([]func(string), len(e.subscribers))
	copy(subs, e.subscribers)
	e.subMu.Unlock()
	for _, fn := range subs {
		fn(hash)
	}
}

// Check evaluates the rules in order against a tool call. The first matching
// rule whose conditions hold decides; a rule whose conditions fail is
// skipped. With no matching rule the default is deny while enforcing.
func (e *Engine) Check(toolName string, args map[string]any, safe bool) Decision {
	snap := e.Snapshot()

	if !e.config.Enforce {
		return Decision{Allowed: true, Reason: ReasonDisabled, RuleIndex: -1, PolicyHash: snap.hash}
	}
	if len(snap.rules) == 0 {
		return Decision{Allowed: false, Reason: ReasonMissing, RuleIndex: -1, PolicyHash: snap.hash}
	}

	for i, rule := range snap.rules {
		if !rule.pattern.MatchString(toolName) {
			continue
		}
		if rule.Conditions != nil && !conditionsHold(rule.Conditions, args) {
			continue
		}
		if rule.RequireSafe && !safe {
			return Decision{
				Allowed:    false,
				Reason:     ReasonRequiresSafe,
				Rule:       rule.Match,
				RuleIndex:  i,
				PolicyHash: snap.hash,
			}
		}
		return Decision{
			Allowed:    rule.Action == ActionAllow,
			Reason:     rule.Reason,
			Rule:       rule.Match,
			RuleIndex:  i,
			PolicyHash: snap.hash,
		}
	}

	return Decision{Allowed: false, Reason: ReasonDefaultDeny, RuleIndex: -1, PolicyHash: snap.hash}
}

// conditionsHold reports whether a rule's conditions are satisfied by args.
func conditionsHold(c *Conditions, args map[string]any) bool {
	if c.InputParam != "" && c.MaxInputLen > 0 {
		value, ok := args[c.InputParam]
		if !ok {
			return false
		}
		s, ok := value.(string)
		if !ok {
			s = fmt.Sprintf("%v", value)
		}
		if len(s) > c.MaxInputLen {
			return false
		}
	}
	for _, flag := range c.RequiredFlags {
		value, ok := args[flag]
		if !ok {
			return false
		}
		if b, isBool := value.(bool); isBool && !b {
			return false
		}
	}
	return true
}
