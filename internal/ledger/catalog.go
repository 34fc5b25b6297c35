package ledger

import (
	"sort"
	"strings"
)

// DefaultPlanID identifies the guest tier every new account starts on.
const DefaultPlanID = 0

// AdminPlanID identifies the administrative tier granted by the override secret.
const AdminPlanID = 99

type PlanTier struct {
	ID              int    `json:"id"`
	Code            string `json:"code"`
	Name            string `json:"name"`
	Period          string `json:"period"`
	PriceMinorUnits int64  `json:"price_vnd"`
	PriceUSDCents   int64  `json:"price_usd_cents"`
	GrantDiamonds   Amount `json:"diamonds"`
	GrantRubies     Amount `json:"rubies"`
	Benefits        string `json:"benefits,omitempty"`
}

// Free reports whether the tier can be taken without a checkout.
func (p PlanTier) Free() bool {
	return p.PriceMinorUnits == 0
}

// Catalog is an immutable list of tiers ordered by id.
type Catalog struct {
	tiers []PlanTier
	byID  map[int]int
}

// NewCatalog copies and orders tiers. It panics when ids repeat or the default tier is missing,
// since a broken catalog is a programming error.
func NewCatalog(tiers []PlanTier) *Catalog {
	sorted := append([]PlanTier(nil), tiers...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	byID := make(map[int]int, len(sorted))
	for i, t := range sorted {
		if _, dup := byID[t.ID]; dup {
			panic("ledger: duplicate plan id " + t.Code)
		}
		byID[t.ID] = i
	}
	if _, ok := byID[DefaultPlanID]; !ok {
		panic("ledger: catalog has no default tier")
	}
	return &Catalog{tiers: sorted, byID: byID}
}

// DefaultCatalog returns the built-in tier list.
func DefaultCatalog() *Catalog {
	return NewCatalog(builtinTiers)
}

func (c *Catalog) List() []PlanTier {
	return append([]PlanTier(nil), c.tiers...)
}

func (c *Catalog) Default() PlanTier {
	return c.tiers[c.byID[DefaultPlanID]]
}

func (c *Catalog) ByID(id int) (PlanTier, bool) {
	idx, ok := c.byID[id]
	if !ok {
		return PlanTier{}, false
	}
	return c.tiers[idx], true
}

// ByCode matches codes case-insensitively.
func (c *Catalog) ByCode(code string) (PlanTier, bool) {
	code = strings.TrimSpace(code)
	for _, t := range c.tiers {
		if strings.EqualFold(t.Code, code) {
			return t, true
		}
	}
	return PlanTier{}, false
}

// Purchasable lists tiers offered in the shop: everything except the default and admin tiers.
func (c *Catalog) Purchasable() []PlanTier {
	out := make([]PlanTier, 0, len(c.tiers))
	for _, t := range c.tiers {
		if t.ID == DefaultPlanID || t.ID == AdminPlanID {
			continue
		}
		out = append(out, t)
	}
	return out
}

var builtinTiers = []PlanTier{
	{ID: 0, Code: "GUEST", Name: "Default user", Period: "free", GrantDiamonds: Finite(30), GrantRubies: Finite(0)},
	{ID: 1, Code: "MEMBER", Name: "Basic member", Period: "free", GrantDiamonds: Finite(50), GrantRubies: Finite(0)},
	{ID: 2, Code: "TALENT", Name: "Talented user", Period: "free", GrantDiamonds: Finite(100), GrantRubies: Finite(0), Benefits: "Free drawing unlocked"},
	{ID: 3, Code: "CONGTU", Name: "Noble heir", Period: "month", PriceMinorUnits: 99000, PriceUSDCents: 399, GrantDiamonds: Finite(200), GrantRubies: Finite(10), Benefits: "Starter"},
	{ID: 4, Code: "THIEUGIA", Name: "Family successor", Period: "month", PriceMinorUnits: 199000, PriceUSDCents: 799, GrantDiamonds: Finite(400), GrantRubies: Finite(20)},
	{ID: 5, Code: "DAIGIA", Name: "Rich and powerful", Period: "month", PriceMinorUnits: 499000, PriceUSDCents: 1999, GrantDiamonds: Finite(800), GrantRubies: Finite(50), Benefits: "Frame: Diamond"},
	{ID: 6, Code: "DAINHAN", Name: "High standing", Period: "month", PriceMinorUnits: 699000, PriceUSDCents: 2799, GrantDiamonds: Finite(1500), GrantRubies: Finite(80), Benefits: "Frame: Dragon and Phoenix"},
	{ID: 7, Code: "THAITU", Name: "Crown heir", Period: "month", PriceMinorUnits: 999000, PriceUSDCents: 3999, GrantDiamonds: Finite(2500), GrantRubies: Finite(120), Benefits: "Frame: Phoenix"},
	{ID: 8, Code: "DAITHAITU", Name: "Future king", Period: "month", PriceMinorUnits: 1499000, PriceUSDCents: 5999, GrantDiamonds: Finite(3500), GrantRubies: Finite(180)},
	{ID: 9, Code: "THIENTU", Name: "Child of heaven", Period: "month", PriceMinorUnits: 1999000, PriceUSDCents: 7999, GrantDiamonds: Finite(4500), GrantRubies: Finite(250)},
	{ID: 10, Code: "VUA", Name: "The sovereign", Period: "month", PriceMinorUnits: 2499000, PriceUSDCents: 9999, GrantDiamonds: Finite(5500), GrantRubies: Finite(350), Benefits: "Animated avatar"},
	{ID: 11, Code: "CHUA", Name: "Supreme lord", Period: "month", PriceMinorUnits: 2999000, PriceUSDCents: 11999, GrantDiamonds: Finite(6500), GrantRubies: Finite(450)},
	{ID: 12, Code: "THANTAI", Name: "God of fortune", Period: "month", PriceMinorUnits: 3499000, PriceUSDCents: 13999, GrantDiamonds: Finite(7500), GrantRubies: Finite(600)},
	{ID: 13, Code: "THUONGTIEN", Name: "High immortal", Period: "month", PriceMinorUnits: 3999000, PriceUSDCents: 15999, GrantDiamonds: Finite(8500), GrantRubies: Finite(750)},
	{ID: 14, Code: "THUONGTHAN", Name: "Supreme deity", Period: "month", PriceMinorUnits: 4499000, PriceUSDCents: 17999, GrantDiamonds: Finite(9500), GrantRubies: Finite(900)},
	{ID: 15, Code: "COTHAN", Name: "Primordial deity", Period: "month", PriceMinorUnits: 4999000, PriceUSDCents: 19999, GrantDiamonds: Finite(10500), GrantRubies: Finite(1000), Benefits: "Top monthly tier"},
	{ID: 16, Code: "LIFETIME", Name: "Eternal power", Period: "lifetime", PriceMinorUnits: 9000000, PriceUSDCents: 35999, GrantDiamonds: Unlimited, GrantRubies: Finite(5000), Benefits: "25% off moderator tier"},
	{ID: 17, Code: "MODERATOR", Name: "Community moderator", Period: "lifetime", PriceMinorUnits: 24500000, PriceUSDCents: 99900, GrantDiamonds: Unlimited, GrantRubies: Finite(10000), Benefits: "Full moderator rights"},
	{ID: AdminPlanID, Code: "ADMIN", Name: "Administrator", Period: "-", GrantDiamonds: Unlimited, GrantRubies: Unlimited, Benefits: "Full admin"},
}
