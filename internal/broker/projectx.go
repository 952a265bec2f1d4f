package broker

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// Credentials carries the gateway login material, usually sourced from
// PROJECT_X_USERNAME / PROJECT_X_API_KEY.
type Credentials struct {
	Username string
	APIKey   string
}

// ProjectXClient is the REST client for the ProjectX gateway. It logs in with
// an API key, caches the session token, and re-authenticates once on a 401.
type ProjectXClient struct {
	http      *resty.Client
	creds     Credentials
	accountID int
	log       *logrus.Logger

	tokenMu sync.Mutex
	token   string
}

// NewProjectXClient builds a REST client against baseURL for one account.
func NewProjectXClient(baseURL string, creds Credentials, accountID int, log *logrus.Logger) *ProjectXClient {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &ProjectXClient{
		http:      httpClient,
		creds:     creds,
		accountID: accountID,
		log:       log,
	}
}

// AccountID returns the account this client operates on.
func (c *ProjectXClient) AccountID() int { return c.accountID }

// Authenticate logs in with the API key and caches the session token.
func (c *ProjectXClient) Authenticate(ctx context.Context) error {
	var result struct {
		Token        string `json:"token"`
		Success      bool   `json:"success"`
		ErrorMessage string `json:"errorMessage"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"userName": c.creds.Username,
			"apiKey":   c.creds.APIKey,
		}).
		SetResult(&result).
		Post("/api/Auth/loginKey")
	if err != nil {
		return fmt.Errorf("gateway login: %w", err)
	}
	if resp.StatusCode() != http.StatusOK || !result.Success {
		return fmt.Errorf("gateway login: status %d: %s", resp.StatusCode(), result.ErrorMessage)
	}

	c.tokenMu.Lock()
	c.token = result.Token
	c.tokenMu.Unlock()
	return nil
}

// Token returns the cached session token, authenticating if needed. The
// stream client shares it for the hub handshake.
func (c *ProjectXClient) Token(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	tok := c.token
	c.tokenMu.Unlock()
	if tok != "" {
		return tok, nil
	}
	if err := c.Authenticate(ctx); err != nil {
		return "", err
	}
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	return c.token, nil
}

// post issues an authenticated POST, re-authenticating once on a 401.
func (c *ProjectXClient) post(ctx context.Context, path string, body, result any) error {
	for attempt := 0; attempt < 2; attempt++ {
		tok, err := c.Token(ctx)
		if err != nil {
			return err
		}
		resp, err := c.http.R().
			SetContext(ctx).
			SetAuthToken(tok).
			SetBody(body).
			SetResult(result).
			Post(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if resp.StatusCode() == http.StatusUnauthorized && attempt == 0 {
			c.log.WithField("path", path).Debug("session token rejected, re-authenticating")
			c.tokenMu.Lock()
			c.token = ""
			c.tokenMu.Unlock()
			continue
		}
		if resp.StatusCode() != http.StatusOK {
			return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode(), resp.String())
		}
		return nil
	}
	return fmt.Errorf("%s: unauthorized after re-login", path)
}

// GetAllPositions returns the account's open positions.
func (c *ProjectXClient) GetAllPositions(ctx context.Context) ([]Position, error) {
	var result struct {
		Positions    []Position `json:"positions"`
		Success      bool       `json:"success"`
		ErrorMessage string     `json:"errorMessage"`
	}
	err := c.post(ctx, "/api/Position/searchOpen",
		map[string]int{"accountId": c.accountID}, &result)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("position search: %s", result.ErrorMessage)
	}
	return result.Positions, nil
}

// GetPosition returns the open position for one contract, or nil when flat.
func (c *ProjectXClient) GetPosition(ctx context.Context, contractID string) (*Position, error) {
	positions, err := c.GetAllPositions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		if positions[i].ContractID == contractID {
			return &positions[i], nil
		}
	}
	return nil, nil
}

// trade is the gateway's executed-trade record. ProfitAndLoss is null for
// half-turn fills that open or add to a position.
type trade struct {
	ContractID    string   `json:"contractId"`
	ProfitAndLoss *float64 `json:"profitAndLoss"`
	Fees          float64  `json:"fees"`
	Voided        bool     `json:"voided"`
}

func (c *ProjectXClient) searchTrades(ctx context.Context, since time.Time) ([]trade, error) {
	var result struct {
		Trades       []trade `json:"trades"`
		Success      bool    `json:"success"`
		ErrorMessage string  `json:"errorMessage"`
	}
	err := c.post(ctx, "/api/Trade/search", map[string]any{
		"accountId":      c.accountID,
		"startTimestamp": since.UTC().Format(time.RFC3339),
	}, &result)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("trade search: %s", result.ErrorMessage)
	}
	return result.Trades, nil
}

// GetPortfolioPnL sums realized P&L over the gateway's current trading day.
func (c *ProjectXClient) GetPortfolioPnL(ctx context.Context) (*PortfolioPnL, error) {
	trades, err := c.searchTrades(ctx, startOfTradingDay(time.Now()))
	if err != nil {
		return nil, err
	}
	var realized float64
	for _, t := range trades {
		if t.Voided || t.ProfitAndLoss == nil {
			continue
		}
		realized += *t.ProfitAndLoss
	}
	return &PortfolioPnL{DayPnl: realized, RealizedPnl: realized}, nil
}

// GetPerformanceMetrics aggregates closed-trade P&L since the given time.
func (c *ProjectXClient) GetPerformanceMetrics(ctx context.Context, since time.Time) (*PerformanceMetrics, error) {
	trades, err := c.searchTrades(ctx, since)
	if err != nil {
		return nil, err
	}
	m := &PerformanceMetrics{}
	for _, t := range trades {
		if t.Voided {
			continue
		}
		m.TradeCount++
		if t.ProfitAndLoss != nil {
			m.DailyPnl += *t.ProfitAndLoss
		}
	}
	return m, nil
}

// ClosePosition submits a market close for the whole position on a contract.
func (c *ProjectXClient) ClosePosition(ctx context.Context, contractID string) (*CloseResponse, error) {
	var result CloseResponse
	err := c.post(ctx, "/api/Position/closeContract", map[string]any{
		"accountId":  c.accountID,
		"contractId": contractID,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetCurrentPrice returns the close of the most recent 1-minute bar.
func (c *ProjectXClient) GetCurrentPrice(ctx context.Context, contractID string) (float64, error) {
	var result struct {
		Bars []struct {
			Close float64 `json:"c"`
		} `json:"bars"`
		Success      bool   `json:"success"`
		ErrorMessage string `json:"errorMessage"`
	}
	now := time.Now().UTC()
	err := c.post(ctx, "/api/History/retrieveBars", map[string]any{
		"contractId":        contractID,
		"live":              true,
		"startTime":         now.Add(-10 * time.Minute).Format(time.RFC3339),
		"endTime":           now.Format(time.RFC3339),
		"unit":              2, // minute
		"unitNumber":        1,
		"limit":             1,
		"includePartialBar": true,
	}, &result)
	if err != nil {
		return 0, err
	}
	if !result.Success {
		return 0, fmt.Errorf("retrieve bars: %s", result.ErrorMessage)
	}
	if len(result.Bars) == 0 {
		return 0, fmt.Errorf("retrieve bars: no data for %s", contractID)
	}
	return result.Bars[len(result.Bars)-1].Close, nil
}

// startOfTradingDay is the most recent 17:00 America/Chicago boundary, the
// futures session open the gateway keys its day on.
func startOfTradingDay(now time.Time) time.Time {
	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		return now.Add(-24 * time.Hour)
	}
	ct := now.In(loc)
	open := time.Date(ct.Year(), ct.Month(), ct.Day(), 17, 0, 0, 0, loc)
	if ct.Before(open) {
		open = open.AddDate(0, 0, -1)
	}
	return open
}
