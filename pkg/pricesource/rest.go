package pricesource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// RESTSource fetches baseline prices from a CoinGecko-style simple-price
// endpoint. Requests are rate limited client-side; public price APIs throttle
// aggressively.
type RESTSource struct {
	baseURL    string
	coinIDs    map[string]string // symbol -> provider coin id, e.g. "BTC" -> "bitcoin"
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewRESTSource(baseURL string, coinIDs map[string]string, timeout time.Duration, rps float64) *RESTSource {
	if rps <= 0 {
		rps = 0.5
	}
	return &RESTSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		coinIDs:    coinIDs,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// FetchBaselinePrices requests USD quotes for all symbols in one call.
// Symbols without a configured coin id are skipped.
func (c *RESTSource) FetchBaselinePrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	ids := make([]string, 0, len(symbols))
	idToSymbol := make(map[string]string, len(symbols))
	for _, symbol := range symbols {
		id, ok := c.coinIDs[symbol]
		if !ok {
			continue
		}
		ids = append(ids, id)
		idToSymbol[id] = symbol
	}
	if len(ids) == 0 {
		return map[string]float64{}, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", ErrSourceUnavailable, err)
	}

	endpoint := fmt.Sprintf(
		"%s/api/v3/simple/price?ids=%s&vs_currencies=usd",
		c.baseURL,
		url.QueryEscape(strings.Join(ids, ",")),
	)

	// Construct the GET request with context for timeout/cancel support
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", ErrSourceUnavailable, resp.StatusCode, body)
	}

	// {"bitcoin": {"usd": 60321.0}, ...}
	var raw map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrSourceUnavailable, err)
	}

	out := make(map[string]float64, len(raw))
	for id, quotes := range raw {
		symbol, ok := idToSymbol[id]
		if !ok {
			continue
		}
		if usd, ok := quotes["usd"]; ok && usd > 0 {
			out[symbol] = usd
		}
	}

	return out, nil
}
