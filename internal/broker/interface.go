// Package broker talks to the ProjectX gateway: a REST client for position
// queries and closes, a realtime event stream over the gateway's user hub,
// and a circuit-breaker wrapper that sheds load when the gateway degrades.
package broker

import (
	"context"
	"time"
)

// Position is an open position as reported by the gateway.
type Position struct {
	ContractID    string  `json:"contractId"`
	SymbolID      string  `json:"symbolId"`
	Size          int     `json:"size"`
	AveragePrice  float64 `json:"averagePrice"`
	UnrealizedPnl float64 `json:"unrealizedPnl"`
	// Type is the gateway's position side encoding: 1 long, 2 short.
	Type int `json:"type"`
}

// PortfolioPnL summarizes the account's session P&L.
type PortfolioPnL struct {
	DayPnl      float64 `json:"dayPnl"`
	RealizedPnl float64 `json:"realizedPnl"`
}

// PerformanceMetrics aggregates trade outcomes over a query window.
type PerformanceMetrics struct {
	DailyPnl   float64 `json:"dailyPnl"`
	TradeCount int     `json:"tradeCount"`
}

// CloseResponse is the gateway's acknowledgement of a close request.
type CloseResponse struct {
	Success      bool   `json:"success"`
	ErrorCode    int    `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// Client is the broker query/command surface the daemon depends on. The REST
// implementation is ProjectXClient; tests use MockClient.
type Client interface {
	// GetPosition returns the open position for a contract, or nil when flat.
	GetPosition(ctx context.Context, contractID string) (*Position, error)
	// GetAllPositions returns every open position on the account.
	GetAllPositions(ctx context.Context) ([]Position, error)
	// GetPortfolioPnL returns the account's session P&L summary.
	GetPortfolioPnL(ctx context.Context) (*PortfolioPnL, error)
	// GetPerformanceMetrics aggregates trades executed since the given time.
	GetPerformanceMetrics(ctx context.Context, since time.Time) (*PerformanceMetrics, error)
	// ClosePosition submits a market close for the whole position.
	ClosePosition(ctx context.Context, contractID string) (*CloseResponse, error)
	// GetCurrentPrice returns the last traded price for a contract.
	GetCurrentPrice(ctx context.Context, contractID string) (float64, error)
}
