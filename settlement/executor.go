package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/satnamapp/federation-guardian-backend/interfaces"
)

// SpendingPayload is the type-specific payload of a spending request.
type SpendingPayload struct {
	AmountSats uint64 `json:"amount_sats"`
	Recipient  string `json:"recipient"`
	Memo       string `json:"memo,omitempty"`
}

// SpendingExecutor settles approved spending requests over the payment
// rail. Implements interfaces.ActionExecutor.
type SpendingExecutor struct {
	client *Client
	log    *slog.Logger
}

// NewSpendingExecutor creates a spending executor over the rail client.
func NewSpendingExecutor(client *Client, log *slog.Logger) *SpendingExecutor {
	if log == nil {
		log = slog.Default()
	}
	return &SpendingExecutor{client: client, log: log}
}

// Execute checks the available balance and submits the payment. Any rail
// failure leaves the request approved and retryable.
func (e *SpendingExecutor) Execute(ctx context.Context, req *interfaces.ConsensusRequest) error {
	var payload SpendingPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return fmt.Errorf("malformed spending payload: %w", err)
	}
	if payload.AmountSats == 0 || payload.Recipient == "" {
		return fmt.Errorf("spending payload missing amount or recipient")
	}

	balance, err := e.client.Balance(ctx)
	if err != nil {
		return err
	}
	if balance.AvailableSats < payload.AmountSats {
		return fmt.Errorf("insufficient balance: have %d sats, need %d", balance.AvailableSats, payload.AmountSats)
	}

	result, err := e.client.Pay(ctx, &PaymentParams{
		AmountSats: payload.AmountSats,
		Recipient:  payload.Recipient,
		Memo:       payload.Memo,
	})
	if err != nil {
		return err
	}

	e.log.Info("Spending request settled",
		slog.String("request_id", string(req.ID)),
		slog.String("payment_id", result.PaymentID),
		slog.Uint64("amount_sats", payload.AmountSats),
		slog.Uint64("fee_sats", result.FeeSats))
	return nil
}

// ReleasePayload is the type-specific payload of a liquidity-release
// request.
type ReleasePayload struct {
	AmountSats uint64 `json:"amount_sats"`
	ChannelID  string `json:"channel_id"`
}

// LiquidityExecutor carries out approved liquidity releases. Implements
// interfaces.ActionExecutor.
type LiquidityExecutor struct {
	client *Client
	log    *slog.Logger
}

// NewLiquidityExecutor creates a liquidity executor over the rail client.
func NewLiquidityExecutor(client *Client, log *slog.Logger) *LiquidityExecutor {
	if log == nil {
		log = slog.Default()
	}
	return &LiquidityExecutor{client: client, log: log}
}

// Execute asks the rail to release the channel liquidity named by the
// payload.
func (e *LiquidityExecutor) Execute(ctx context.Context, req *interfaces.ConsensusRequest) error {
	var payload ReleasePayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return fmt.Errorf("malformed release payload: %w", err)
	}
	if payload.AmountSats == 0 || payload.ChannelID == "" {
		return fmt.Errorf("release payload missing amount or channel")
	}

	if err := e.client.ReleaseLiquidity(ctx, &ReleaseParams{
		AmountSats: payload.AmountSats,
		ChannelID:  payload.ChannelID,
	}); err != nil {
		return err
	}

	e.log.Info("Liquidity released",
		slog.String("request_id", string(req.ID)),
		slog.String("channel_id", payload.ChannelID),
		slog.Uint64("amount_sats", payload.AmountSats))
	return nil
}
