package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"solescan/internal/enricher"
	"solescan/internal/faults"
	"solescan/internal/metrics"
	"solescan/internal/models"
	"solescan/internal/repository"
)

// OpsHandler serves the read-only operator views: the current opportunity
// field and per-alert delivery statistics.
type OpsHandler struct {
	Enricher *enricher.Enricher
	Repo     repository.Repository
	Metrics  *metrics.Metrics
}

func (h *OpsHandler) Register(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.Metrics.Registry, promhttp.HandlerOpts{})))
	r.GET("/v1/opportunities", h.listOpportunities)
	r.GET("/v1/alerts/stats", h.alertStats)
}

type opportunityView struct {
	ProductID   string   `json:"product_id"`
	ProductName string   `json:"product_name"`
	ProductSKU  string   `json:"product_sku"`
	Brand       string   `json:"brand"`
	StdSize     *float64 `json:"std_size,omitempty"`

	BuySource    string  `json:"buy_source"`
	BuyPrice     float64 `json:"buy_price"`
	StockQty     *int    `json:"stock_qty,omitempty"`
	SellSource   string  `json:"sell_source"`
	SellPrice    float64 `json:"sell_price"`
	Marketplace  string  `json:"marketplace"`
	TotalFees    float64 `json:"total_fees"`
	NetSell      float64 `json:"net_sell"`
	GrossProfit  float64 `json:"gross_profit"`
	ProfitMargin float64 `json:"profit_margin"`

	DemandScore         float64 `json:"demand_score"`
	RiskScore           float64 `json:"risk_score"`
	RiskLevel           string  `json:"risk_level"`
	FeasibilityScore    float64 `json:"feasibility_score"`
	EstimatedDaysToSell int     `json:"estimated_days_to_sell"`
}

func (h *OpsHandler) listOpportunities(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}
	minFeasibility := floatQuery(c, "min_feasibility", 0)
	maxRisk := strQuery(c, "max_risk", models.RiskLevelHigh)

	ranked, err := h.Enricher.Top(c.Request.Context(), limit, minFeasibility, maxRisk)
	if err != nil {
		if faults.Is(err, faults.ConfigurationInvalid) {
			Error(c, http.StatusBadRequest, err.Error())
			return
		}
		Error(c, http.StatusBadGateway, err.Error())
		return
	}

	views := make([]opportunityView, 0, len(ranked))
	for _, opp := range ranked {
		views = append(views, opportunityView{
			ProductID:           opp.ProductID,
			ProductName:         opp.ProductName,
			ProductSKU:          opp.ProductSKU,
			Brand:               opp.Brand,
			StdSize:             opp.StdSize,
			BuySource:           opp.Buy.Source,
			BuyPrice:            opp.Buy.Price.InexactFloat64(),
			StockQty:            opp.Buy.StockQty,
			SellSource:          opp.Sell.Source,
			SellPrice:           opp.Sell.Price.InexactFloat64(),
			Marketplace:         opp.Marketplace,
			TotalFees:           opp.TotalFees.InexactFloat64(),
			NetSell:             opp.NetSell.InexactFloat64(),
			GrossProfit:         opp.GrossProfit.InexactFloat64(),
			ProfitMargin:        opp.ProfitMargin.InexactFloat64(),
			DemandScore:         opp.Demand.Composite,
			RiskScore:           opp.Risk.Score,
			RiskLevel:           opp.Risk.Bucket,
			FeasibilityScore:    opp.FeasibilityScore,
			EstimatedDaysToSell: opp.EstimatedDaysToSell,
		})
	}
	Ok(c, views, map[string]any{"count": len(views)})
}

type alertStatsView struct {
	ID                     string  `json:"id"`
	Name                   string  `json:"name"`
	Active                 bool    `json:"active"`
	FrequencyMinutes       int     `json:"frequency_minutes"`
	TotalAlertsSent        uint64  `json:"total_alerts_sent"`
	TotalOpportunitiesSent uint64  `json:"total_opportunities_sent"`
	TotalFailedDeliveries  uint64  `json:"total_failed_deliveries"`
	ConsecutiveFailures    int     `json:"consecutive_failures"`
	LastScannedAt          *string `json:"last_scanned_at,omitempty"`
	LastTriggeredAt        *string `json:"last_triggered_at,omitempty"`
	LastError              *string `json:"last_error,omitempty"`
}

func (h *OpsHandler) alertStats(c *gin.Context) {
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)

	alerts, err := h.Repo.ListAlerts(c.Request.Context(), repository.ListAlertsParams{
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error())
		return
	}
	total, err := h.Repo.CountAlerts(c.Request.Context(), repository.ListAlertsParams{})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error())
		return
	}

	views := make([]alertStatsView, 0, len(alerts))
	for _, a := range alerts {
		view := alertStatsView{
			ID:                     a.ID,
			Name:                   a.Name,
			Active:                 a.Active,
			FrequencyMinutes:       a.FrequencyMinutes,
			TotalAlertsSent:        a.TotalAlertsSent,
			TotalOpportunitiesSent: a.TotalOpportunitiesSent,
			TotalFailedDeliveries:  a.TotalFailedDeliveries,
			ConsecutiveFailures:    a.ConsecutiveFailures,
			LastError:              a.LastError,
		}
		if a.LastScannedAt != nil {
			s := a.LastScannedAt.UTC().Format(time.RFC3339)
			view.LastScannedAt = &s
		}
		if a.LastTriggeredAt != nil {
			s := a.LastTriggeredAt.UTC().Format(time.RFC3339)
			view.LastTriggeredAt = &s
		}
		views = append(views, view)
	}
	Ok(c, views, map[string]any{"limit": limit, "offset": offset, "total": total})
}
