package polymarket

// gamma.go — discovery de mercados Up/Down vía la API Gamma.

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
)

// gammaMarket es la respuesta cruda de GET /markets.
type gammaMarket struct {
	ConditionID   string `json:"conditionId"`
	Question      string `json:"question"`
	Slug          string `json:"slug"`
	Outcomes      string `json:"outcomes"`      // JSON string: `["Up","Down"]`
	ClobTokenIDs  string `json:"clobTokenIds"`  // JSON string: `["123...","456..."]`
	NegRisk       bool   `json:"negRisk"`
	StartDateISO  string `json:"startDateIso"`
	EndDateISO    string `json:"endDateIso"`
	Closed        bool   `json:"closed"`
	AcceptingOrds bool   `json:"acceptingOrders"`
}

// FetchMarket implementa ports.MarketProvider: resuelve un mercado Up/Down
// por slug, con token IDs mapeados a su lado y la ventana temporal resuelta
// desde el título (fallback: fechas ISO de Gamma).
func (c *Client) FetchMarket(ctx context.Context, slug string) (domain.Market, error) {
	u := fmt.Sprintf("%s/markets?slug=%s", c.gammaBase, url.QueryEscape(slug))

	var raw []gammaMarket
	if err := c.get(ctx, c.gammaLimiter, u, &raw); err != nil {
		return domain.Market{}, fmt.Errorf("polymarket.FetchMarket: %w", err)
	}
	if len(raw) == 0 {
		return domain.Market{}, fmt.Errorf("polymarket.FetchMarket: no market for slug %q", slug)
	}
	gm := raw[0]
	if gm.Closed {
		return domain.Market{}, fmt.Errorf("polymarket.FetchMarket: market %q already closed", slug)
	}

	m, err := mapGammaMarket(gm, time.Now())
	if err != nil {
		return domain.Market{}, fmt.Errorf("polymarket.FetchMarket: %w", err)
	}
	return m, nil
}

// mapGammaMarket convierte la respuesta Gamma al dominio. Los arrays vienen
// como strings JSON anidados; outcomes y tokens van en paralelo.
func mapGammaMarket(gm gammaMarket, ref time.Time) (domain.Market, error) {
	var outcomes, tokens []string
	if err := json.Unmarshal([]byte(gm.Outcomes), &outcomes); err != nil {
		return domain.Market{}, fmt.Errorf("parse outcomes: %w", err)
	}
	if err := json.Unmarshal([]byte(gm.ClobTokenIDs), &tokens); err != nil {
		return domain.Market{}, fmt.Errorf("parse clobTokenIds: %w", err)
	}
	if len(outcomes) != 2 || len(tokens) != 2 {
		return domain.Market{}, fmt.Errorf("not a binary market: %d outcomes, %d tokens", len(outcomes), len(tokens))
	}

	m := domain.Market{
		ConditionID: gm.ConditionID,
		Slug:        gm.Slug,
		Question:    gm.Question,
		Asset:       assetFromSlug(gm.Slug),
		NegRisk:     gm.NegRisk,
	}

	for i, o := range outcomes {
		switch strings.ToLower(o) {
		case "up", "yes":
			m.UpTokenID = tokens[i]
		case "down", "no":
			m.DownTokenID = tokens[i]
		}
	}
	if m.UpTokenID == "" || m.DownTokenID == "" {
		return domain.Market{}, fmt.Errorf("outcomes %v don't map to up/down", outcomes)
	}

	start, end, err := domain.ParseWindow(gm.Question, ref)
	if err != nil {
		// El título no siempre lleva la ventana; Gamma la tiene en ISO.
		start, end, err = isoWindow(gm.StartDateISO, gm.EndDateISO)
		if err != nil {
			return domain.Market{}, fmt.Errorf("resolve window: %w", err)
		}
	}
	m.WindowStart = start
	m.WindowEnd = end
	return m, nil
}

func isoWindow(startISO, endISO string) (time.Time, time.Time, error) {
	start, err := parseISO(startISO)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start %q: %w", startISO, err)
	}
	end, err := parseISO(endISO)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end %q: %w", endISO, err)
	}
	return start, end, nil
}

func parseISO(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp")
}

// assetFromSlug extrae el asset del slug ("bitcoin-up-or-down-..." → "btc").
func assetFromSlug(slug string) string {
	low := strings.ToLower(slug)
	switch {
	case strings.Contains(low, "bitcoin") || strings.HasPrefix(low, "btc"):
		return "btc"
	case strings.Contains(low, "ethereum") || strings.HasPrefix(low, "eth"):
		return "eth"
	case strings.Contains(low, "solana") || strings.HasPrefix(low, "sol"):
		return "sol"
	case strings.Contains(low, "xrp"):
		return "xrp"
	}
	return ""
}
