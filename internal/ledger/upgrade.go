package ledger

// ResolveUpgrade moves current onto target. Grants are top-ups added to the existing balance;
// an Unlimited balance, once reached, is kept even when target grants a finite amount.
func ResolveUpgrade(current Ledger, target PlanTier) Ledger {
	return Ledger{
		Plan:     target,
		Diamonds: mergeGrant(current.Diamonds, target.GrantDiamonds),
		Rubies:   mergeGrant(current.Rubies, target.GrantRubies),
	}
}

func mergeGrant(balance, grant Amount) Amount {
	if grant.IsUnlimited() || balance.IsUnlimited() {
		return Unlimited
	}
	return balance.Add(grant)
}
