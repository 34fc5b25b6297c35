// Package ledger holds the currency rules: balances with an Unlimited state, the plan catalog,
// metered action costs, debits and plan upgrades. Everything here is pure; locking and
// persistence live in the service layer.
package ledger

// Ledger is an account's active plan and balances.
type Ledger struct {
	Plan     PlanTier `json:"plan"`
	Diamonds Amount   `json:"diamonds"`
	Rubies   Amount   `json:"rubies"`
}

// New starts a ledger on plan with that plan's grants.
func New(plan PlanTier) Ledger {
	return Ledger{
		Plan:     plan,
		Diamonds: plan.GrantDiamonds,
		Rubies:   plan.GrantRubies,
	}
}

// TryDebit charges cost diamonds. On rejection the ledger is returned unchanged with false.
// Non-positive costs are always rejected.
func TryDebit(l Ledger, cost int64) (Ledger, bool) {
	if cost <= 0 {
		return l, false
	}
	if l.Diamonds.IsUnlimited() {
		return l, true
	}
	if !l.Diamonds.Covers(cost) {
		return l, false
	}
	l.Diamonds = l.Diamonds.Sub(cost)
	return l, true
}

// Action is a metered operation kind.
type Action string

const (
	ActionScript    Action = "script"
	ActionCharacter Action = "character"
	ActionPanel     Action = "panel"
	ActionStory     Action = "story"
)

var actionCosts = map[Action]int64{
	ActionScript:    10,
	ActionCharacter: 20,
	ActionPanel:     30,
	ActionStory:     50,
}

// Cost returns the fixed diamond price of an action, or 0 for an unknown action.
func (a Action) Cost() int64 {
	return actionCosts[a]
}
