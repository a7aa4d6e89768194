// Package context keeps the messages sent to the provider inside the model's
// context window by pruning older history in tiers.
package context

import (
	"fmt"
	"sort"

	"github.com/entrhq/loom/pkg/agent/transcript"
	"github.com/entrhq/loom/pkg/config"
	"github.com/entrhq/loom/pkg/logging"
	"github.com/entrhq/loom/pkg/types"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("context")
	if err != nil {
		// Logger fell back to stderr due to initialization failure
		debugLog.Warnf("Failed to initialize context logger, using stderr fallback: %v", err)
	}
}

// Tier keeps KeepRecent non-system messages once usage reaches Threshold
// (a fraction of the context window).
type Tier struct {
	Threshold  float64
	KeepRecent int
}

// NewTier clamps threshold to [0,1] and keeps at least one message.
func NewTier(threshold float64, keepRecent int) Tier {
	if threshold < 0 {
		threshold = 0
	}
	if threshold > 1 {
		threshold = 1
	}
	if keepRecent < 1 {
		keepRecent = 1
	}
	return Tier{Threshold: threshold, KeepRecent: keepRecent}
}

// Name identifies the tier in logs.
func (t Tier) Name() string {
	return fmt.Sprintf("%.0f%%/keep-%d", t.Threshold*100, t.KeepRecent)
}

// TiersFromConfig converts configured tiers.
func TiersFromConfig(cfg []config.BudgetTier) []Tier {
	tiers := make([]Tier, 0, len(cfg))
	for _, c := range cfg {
		tiers = append(tiers, NewTier(c.Threshold, c.KeepRecent))
	}
	return tiers
}

// Selection is the message list chosen for one provider request.
type Selection struct {
	// Tier is the tier applied, nil when nothing was pruned.
	Tier *Tier

	Messages  []*types.Message
	Estimated int
	Limit     int
}

// Manager selects pruned message windows. It is stateless and safe for
// concurrent use.
type Manager struct {
	estimator *Estimator
	tiers     []Tier
	window    int
}

// NewManager creates a manager for a context window of window tokens.
// Tiers are evaluated from the loosest to the tightest threshold.
// A window <= 0 disables pruning.
func NewManager(estimator *Estimator, window int, tiers ...Tier) *Manager {
	sorted := append([]Tier(nil), tiers...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Threshold < sorted[j].Threshold })
	if estimator == nil {
		estimator = NewEstimator(nil)
	}
	return &Manager{estimator: estimator, tiers: sorted, window: window}
}

// Estimator returns the manager's estimator.
func (m *Manager) Estimator() *Estimator {
	return m.estimator
}

// Window returns the configured context window.
func (m *Manager) Window() int {
	return m.window
}

// SelectWindow picks the tightest tier whose threshold the full history
// crosses and prunes to it. If the result still does not fit, tighter tiers
// are tried in turn; when even the tightest does not fit a
// *types.BudgetExceededError is returned.
func (m *Manager) SelectWindow(msgs []*types.Message) (*Selection, error) {
	estimated := m.estimator.EstimateTokens(msgs)
	sel := &Selection{Messages: msgs, Estimated: estimated, Limit: m.window}
	if m.window <= 0 || len(m.tiers) == 0 {
		return sel, nil
	}

	start := -1
	for i, tier := range m.tiers {
		if float64(estimated) >= tier.Threshold*float64(m.window) {
			start = i
		}
	}
	if start < 0 {
		return sel, nil
	}

	for i := start; i < len(m.tiers); i++ {
		tier := m.tiers[i]
		pruned := transcript.KeepRecent(msgs, tier.KeepRecent)
		prunedTokens := m.estimator.EstimateTokens(pruned)
		debugLog.Debugf("tier %s: %d -> %d tokens (%d -> %d messages, window %d)",
			tier.Name(), estimated, prunedTokens, len(msgs), len(pruned), m.window)
		if prunedTokens <= m.window {
			return &Selection{Tier: &m.tiers[i], Messages: pruned, Estimated: prunedTokens, Limit: m.window}, nil
		}
		estimated = prunedTokens
	}

	debugLog.Warnf("no tier fits: %d tokens against window %d", estimated, m.window)
	return nil, &types.BudgetExceededError{Estimated: estimated, Limit: m.window}
}

// MinimalWindow returns the system messages, the last user message and the
// latest assistant invocation with its results, in transcript order.
func MinimalWindow(msgs []*types.Message) []*types.Message {
	keep := make(map[int]bool)
	lastUser, lastCall := -1, -1
	for i, m := range msgs {
		switch {
		case m.Role == types.RoleSystem:
			keep[i] = true
		case m.Role == types.RoleUser:
			lastUser = i
		case m.Role == types.RoleAssistant && m.HasToolCalls():
			lastCall = i
		}
	}
	if lastUser >= 0 {
		keep[lastUser] = true
	}
	if lastCall >= 0 {
		keep[lastCall] = true
		ids := make(map[string]bool, len(msgs[lastCall].ToolCalls))
		for _, tc := range msgs[lastCall].ToolCalls {
			ids[tc.CallID] = true
		}
		for i := lastCall + 1; i < len(msgs); i++ {
			if msgs[i].Role == types.RoleTool && ids[msgs[i].ToolCallID] {
				keep[i] = true
			}
		}
	}

	out := make([]*types.Message, 0, len(keep))
	for i, m := range msgs {
		if keep[i] {
			out = append(out, m)
		}
	}
	return out
}

// FitMinimal checks MinimalWindow against the budget.
func (m *Manager) FitMinimal(msgs []*types.Message) (*Selection, error) {
	minimal := MinimalWindow(msgs)
	estimated := m.estimator.EstimateTokens(minimal)
	if m.window > 0 && estimated > m.window {
		return nil, &types.BudgetExceededError{Estimated: estimated, Limit: m.window}
	}
	return &Selection{Messages: minimal, Estimated: estimated, Limit: m.window}, nil
}
