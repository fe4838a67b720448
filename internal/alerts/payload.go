package alerts

import (
	"encoding/json"
	"math"
	"time"

	"solescan/internal/enricher"
	"solescan/internal/models"
	"solescan/internal/scoring"
)

// Payload is the webhook notification body, the only wire format the engine
// emits.
type Payload struct {
	Alert              PayloadAlert         `json:"alert"`
	NotificationConfig json.RawMessage      `json:"notification_config,omitempty"`
	Opportunities      []PayloadOpportunity `json:"opportunities"`
	Summary            PayloadSummary       `json:"summary"`
	Timestamp          string               `json:"timestamp"`
}

type PayloadAlert struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	UserID string `json:"user_id"`
}

type PayloadOpportunity struct {
	ProductName string `json:"product_name"`
	ProductSKU  string `json:"product_sku"`
	Brand       string `json:"brand"`

	BuyPrice     float64 `json:"buy_price"`
	SellPrice    float64 `json:"sell_price"`
	GrossProfit  float64 `json:"gross_profit"`
	ProfitMargin float64 `json:"profit_margin"`
	ROI          float64 `json:"roi"`

	BuySource   string `json:"buy_source"`
	BuySupplier string `json:"buy_supplier,omitempty"`
	BuyURL      string `json:"buy_url,omitempty"`
	StockQty    *int   `json:"stock_qty,omitempty"`

	FeasibilityScore    int     `json:"feasibility_score"`
	DemandScore         float64 `json:"demand_score"`
	RiskLevel           string  `json:"risk_level"`
	EstimatedDaysToSell int     `json:"estimated_days_to_sell"`

	DemandBreakdown scoring.DemandBreakdown `json:"demand_breakdown"`
	RiskDetails     scoring.RiskAssessment  `json:"risk_details"`
}

type PayloadSummary struct {
	TotalOpportunities   int     `json:"total_opportunities"`
	AvgProfitMargin      float64 `json:"avg_profit_margin"`
	AvgFeasibility       float64 `json:"avg_feasibility"`
	TotalPotentialProfit float64 `json:"total_potential_profit"`
}

// BuildPayload assembles the notification for one alert scan. The timestamp
// is the scan time in RFC 3339 UTC.
func BuildPayload(alert models.AlertDefinition, opps []enricher.Enhanced, at time.Time) Payload {
	p := Payload{
		Alert: PayloadAlert{
			ID:     alert.ID,
			Name:   alert.Name,
			UserID: alert.UserID,
		},
		Opportunities: make([]PayloadOpportunity, 0, len(opps)),
		Timestamp:     at.UTC().Format(time.RFC3339),
	}
	if len(alert.NotificationConfig) > 0 {
		p.NotificationConfig = json.RawMessage(alert.NotificationConfig)
	}

	var marginSum, feasSum, profitSum float64
	for _, opp := range opps {
		item := PayloadOpportunity{
			ProductName:  opp.ProductName,
			ProductSKU:   opp.ProductSKU,
			Brand:        opp.Brand,
			BuyPrice:     opp.Buy.Price.InexactFloat64(),
			SellPrice:    opp.Sell.Price.InexactFloat64(),
			GrossProfit:  opp.GrossProfit.InexactFloat64(),
			ProfitMargin: opp.ProfitMargin.InexactFloat64(),
			ROI:          opp.ROI.InexactFloat64(),
			BuySource:    opp.Buy.Source,
			StockQty:     opp.Buy.StockQty,

			FeasibilityScore:    int(math.Round(opp.FeasibilityScore)),
			DemandScore:         opp.Demand.Composite,
			RiskLevel:           opp.Risk.Bucket,
			EstimatedDaysToSell: opp.EstimatedDaysToSell,

			DemandBreakdown: opp.Demand,
			RiskDetails:     opp.Risk,
		}
		if opp.Buy.Supplier != nil {
			item.BuySupplier = *opp.Buy.Supplier
		}
		if opp.Buy.ExternalURL != nil {
			item.BuyURL = *opp.Buy.ExternalURL
		}
		p.Opportunities = append(p.Opportunities, item)

		marginSum += item.ProfitMargin
		feasSum += opp.FeasibilityScore
		profitSum += item.GrossProfit
	}

	p.Summary.TotalOpportunities = len(opps)
	if len(opps) > 0 {
		p.Summary.AvgProfitMargin = marginSum / float64(len(opps))
		p.Summary.AvgFeasibility = feasSum / float64(len(opps))
		p.Summary.TotalPotentialProfit = profitSum
	}
	return p
}
