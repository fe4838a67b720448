// Package fees computes seller payouts from marketplace fee schedules. The
// arithmetic core is pure; the Engine adds schedule loading with a short
// cache on top.
package fees

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"solescan/internal/faults"
	"solescan/internal/models"
	"solescan/internal/repository"
)

// TierBand is one band of a tiered fee rule, stored as JSON on the rule.
// UpTo is the inclusive upper sale-price bound; the last band leaves it nil.
// Exactly one of Percentage or Fixed should be set.
type TierBand struct {
	UpTo       *decimal.Decimal `json:"up_to,omitempty"`
	Percentage *decimal.Decimal `json:"percentage,omitempty"`
	Fixed      *decimal.Decimal `json:"fixed,omitempty"`
	Minimum    *decimal.Decimal `json:"minimum,omitempty"`
}

// FeeLine preserves rule identity in the payout breakdown for audit.
type FeeLine struct {
	RuleID         uint64          `json:"rule_id"`
	FeeType        string          `json:"fee_type"`
	Calc           string          `json:"calc"`
	Value          decimal.Decimal `json:"value"`
	MinimumApplied bool            `json:"minimum_applied"`
	Amount         decimal.Decimal `json:"amount"`
}

type Payout struct {
	SalePrice decimal.Decimal `json:"sale_price"`
	Currency  string          `json:"currency"`
	TotalFees decimal.Decimal `json:"total_fees"`
	NetPayout decimal.Decimal `json:"net_payout"`
	Breakdown []FeeLine       `json:"breakdown"`
}

// Compute applies the rules active at `at` to a sale price. Deterministic:
// identical inputs produce identical output. Each fee is rounded to the
// minor currency unit before summing. Two active rules for the same fee
// type are a schedule fault.
func Compute(rules []models.FeeRule, salePrice decimal.Decimal, currency string, at time.Time) (Payout, error) {
	out := Payout{
		SalePrice: salePrice,
		Currency:  strings.ToUpper(strings.TrimSpace(currency)),
		TotalFees: decimal.Zero,
	}
	if salePrice.IsNegative() {
		return out, faults.New(faults.DataIntegrity, "negative sale price %s", salePrice.String())
	}

	active, err := activeRules(rules, at)
	if err != nil {
		return out, err
	}

	for _, rule := range active {
		line, err := applyRule(rule, salePrice)
		if err != nil {
			return out, err
		}
		out.Breakdown = append(out.Breakdown, line)
		out.TotalFees = out.TotalFees.Add(line.Amount)
	}
	out.NetPayout = salePrice.Sub(out.TotalFees)
	return out, nil
}

// activeRules selects the one rule per fee type in effect at `at`, in stable
// fee-type order.
func activeRules(rules []models.FeeRule, at time.Time) ([]models.FeeRule, error) {
	byType := map[string]models.FeeRule{}
	order := make([]string, 0, 4)
	for _, rule := range rules {
		if at.Before(rule.EffectiveFrom) {
			continue
		}
		if rule.EffectiveUntil != nil && !at.Before(*rule.EffectiveUntil) {
			continue
		}
		if prev, ok := byType[rule.FeeType]; ok {
			return nil, faults.New(faults.DataIntegrity,
				"fee schedule has two active %s rules (%d, %d)", rule.FeeType, prev.ID, rule.ID)
		}
		byType[rule.FeeType] = rule
		order = append(order, rule.FeeType)
	}
	out := make([]models.FeeRule, 0, len(order))
	for _, feeType := range order {
		out = append(out, byType[feeType])
	}
	return out, nil
}

func applyRule(rule models.FeeRule, salePrice decimal.Decimal) (FeeLine, error) {
	line := FeeLine{
		RuleID:  rule.ID,
		FeeType: rule.FeeType,
		Calc:    rule.Calc,
		Value:   rule.Value,
	}
	var fee decimal.Decimal
	switch rule.Calc {
	case models.FeeCalcPercentage:
		fee = salePrice.Mul(rule.Value)
		if rule.Minimum != nil && fee.LessThan(*rule.Minimum) {
			fee = *rule.Minimum
			line.MinimumApplied = true
		}
	case models.FeeCalcFixed:
		fee = rule.Value
	case models.FeeCalcTiered:
		band, err := bandFor(rule, salePrice)
		if err != nil {
			return line, err
		}
		switch {
		case band.Percentage != nil:
			fee = salePrice.Mul(*band.Percentage)
		case band.Fixed != nil:
			fee = *band.Fixed
		default:
			return line, faults.New(faults.DataIntegrity,
				"tiered rule %d band has neither percentage nor fixed", rule.ID)
		}
		// Band minima follow the same floor semantics as percentage rules.
		if band.Minimum != nil && fee.LessThan(*band.Minimum) {
			fee = *band.Minimum
			line.MinimumApplied = true
		}
	default:
		return line, faults.New(faults.DataIntegrity, "fee rule %d has unknown calc %q", rule.ID, rule.Calc)
	}
	line.Amount = fee.Round(2)
	return line, nil
}

func bandFor(rule models.FeeRule, salePrice decimal.Decimal) (TierBand, error) {
	var bands []TierBand
	if err := json.Unmarshal(rule.Tiers, &bands); err != nil || len(bands) == 0 {
		return TierBand{}, faults.New(faults.DataIntegrity, "tiered rule %d has no usable bands", rule.ID)
	}
	for _, band := range bands {
		if band.UpTo == nil || salePrice.LessThanOrEqual(*band.UpTo) {
			return band, nil
		}
	}
	// All bands bounded and price above them all; treat the last as open.
	return bands[len(bands)-1], nil
}

// Engine resolves marketplace names to their schedules. Schedules change
// rarely; the whole table is cached for CacheTTL.
type Engine struct {
	Repo     repository.Repository
	Logger   *zap.Logger
	CacheTTL time.Duration

	mu       sync.Mutex
	loadedAt time.Time
	rules    map[string][]models.FeeRule
}

// PayoutFor computes the seller payout on marketplace for a sale at `at`.
func (e *Engine) PayoutFor(ctx context.Context, marketplace string, salePrice decimal.Decimal, currency string, at time.Time) (Payout, error) {
	rules, err := e.rulesFor(ctx, marketplace)
	if err != nil {
		return Payout{}, err
	}
	return Compute(rules, salePrice, currency, at)
}

func (e *Engine) rulesFor(ctx context.Context, marketplace string) ([]models.FeeRule, error) {
	key := strings.ToLower(strings.TrimSpace(marketplace))
	if key == "" {
		return nil, faults.New(faults.ConfigurationInvalid, "empty marketplace name")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ttl := e.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if e.rules == nil || time.Since(e.loadedAt) >= ttl {
		if err := e.refreshLocked(ctx); err != nil {
			return nil, err
		}
	}
	rules, ok := e.rules[key]
	if !ok {
		return nil, faults.New(faults.ConfigurationInvalid, "unknown marketplace %q", marketplace)
	}
	return rules, nil
}

func (e *Engine) refreshLocked(ctx context.Context) error {
	places, err := e.Repo.ListMarketplaces(ctx)
	if err != nil {
		return faults.Wrap(faults.Storage, err, "list marketplaces")
	}
	ids := make([]string, 0, len(places))
	nameByID := make(map[string]string, len(places))
	for _, mp := range places {
		ids = append(ids, mp.ID)
		nameByID[mp.ID] = strings.ToLower(strings.TrimSpace(mp.Name))
	}
	rules, err := e.Repo.ListFeeRulesByMarketplaceIDs(ctx, ids)
	if err != nil {
		return faults.Wrap(faults.Storage, err, "list fee rules")
	}
	next := make(map[string][]models.FeeRule, len(places))
	for _, mp := range places {
		next[nameByID[mp.ID]] = nil
	}
	for _, rule := range rules {
		name := nameByID[rule.MarketplaceID]
		if name == "" {
			continue
		}
		next[name] = append(next[name], rule)
	}
	e.rules = next
	e.loadedAt = time.Now().UTC()
	if e.Logger != nil {
		e.Logger.Debug("fee schedules refreshed", zap.Int("marketplaces", len(next)), zap.Int("rules", len(rules)))
	}
	return nil
}
