package dex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/aeither/AptosDeFiHub/internal/config"
	"github.com/aeither/AptosDeFiHub/internal/logger"
	"github.com/aeither/AptosDeFiHub/internal/types"
	"github.com/aeither/AptosDeFiHub/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrViewCallFailed    = errors.New("view function call failed")
	ErrBadStatus         = errors.New("fullnode returned non-OK status")
	ErrMalformedPayload  = errors.New("provider payload is malformed")
	ErrUnknownTokenShape = errors.New("token field has no recognizable shape")
	ErrQuoteFailed       = errors.New("swap quote request failed")
)

// FullnodeClient implements PositionSource, LiquidityOracle and PayloadBuilder
// over a REST fullnode plus a swap-routing aggregator. All provider-specific
// defensive decoding lives here; everything past this boundary sees only the
// canonical Pool/Position types.
type FullnodeClient struct {
	baseURL       string
	aggregatorURL string
	contract      string
	params        config.Parameters
	httpClient    *http.Client
	logger        zerolog.Logger
}

// NewFullnodeClient creates a client for the given fullnode and aggregator
// endpoints. contract is the CLMM package address.
func NewFullnodeClient(baseURL, aggregatorURL, contract string, params config.Parameters) *FullnodeClient {
	return &FullnodeClient{
		baseURL:       baseURL,
		aggregatorURL: aggregatorURL,
		contract:      contract,
		params:        params,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		logger:        logger.GetForComponent("fullnode_client"),
	}
}

// ---- raw provider payload shapes ----
//
// The fullnode returns amounts as decimal strings and signed ticks as
// {"bits": "<u64>"} unions depending on the SDK version that produced the
// resource. Every field is decoded permissively and normalized here.

type rawTick struct {
	value   int64
	present bool
}

func (t *rawTick) UnmarshalJSON(data []byte) error {
	// Plain number or numeric string first.
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		v, err := strconv.ParseInt(asString, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: tick string %q", ErrMalformedPayload, asString)
		}
		*t = rawTick{value: v, present: true}
		return nil
	}
	var asNumber int64
	if err := json.Unmarshal(data, &asNumber); err == nil {
		*t = rawTick{value: asNumber, present: true}
		return nil
	}
	// I32 wrapped as {"bits": "<u64>"} with two's-complement semantics.
	var wrapped struct {
		Bits string `json:"bits"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Bits != "" {
		bits, err := strconv.ParseUint(wrapped.Bits, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: tick bits %q", ErrMalformedPayload, wrapped.Bits)
		}
		*t = rawTick{value: int64(int32(uint32(bits))), present: true}
		return nil
	}
	return fmt.Errorf("%w: tick %s", ErrMalformedPayload, string(data))
}

type rawToken struct {
	Inner    string `json:"inner"` // object-model coin handle
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

func (rt rawToken) normalize(nativeAddress string) (types.Token, error) {
	addr := rt.Address
	if addr == "" {
		addr = rt.Inner
	}
	if addr == "" {
		return types.Token{}, ErrUnknownTokenShape
	}
	return types.Token{
		Address:   addr,
		Symbol:    rt.Symbol,
		Precision: rt.Decimals,
		IsNative:  addr == nativeAddress,
	}, nil
}

type rawPool struct {
	PoolID      string   `json:"pool_id"`
	CurrentTick rawTick  `json:"current_tick"`
	SqrtPrice   string   `json:"sqrt_price"`
	FeeTier     int      `json:"fee_tier"`
	TokenA      rawToken `json:"token_a"`
	TokenB      rawToken `json:"token_b"`
}

type rawPosition struct {
	PositionID string  `json:"position_id"`
	PoolID     string  `json:"pool_id"`
	TickLower  rawTick `json:"tick_lower"`
	TickUpper  rawTick `json:"tick_upper"`
	CreatedAt  string  `json:"created_at"` // unix seconds, decimal string
	AmountA    string  `json:"amount_a"`   // raw units
	AmountB    string  `json:"amount_b"`
	FeeOwedA   string  `json:"fee_owed_a"`
	FeeOwedB   string  `json:"fee_owed_b"`
	RewardUSD  string  `json:"reward_usd"` // optional, already USD-denominated
}

// ---- view plumbing ----

type viewRequest struct {
	Function string   `json:"function"`
	TypeArgs []string `json:"type_arguments"`
	Args     []string `json:"arguments"`
}

// view invokes a read-only function with bounded retry. The retry policy is
// the uniform one from the parameter table, not a per-call-site loop.
func (c *FullnodeClient) view(ctx context.Context, function string, typeArgs, args []string, out any) error {
	body, err := json.Marshal(viewRequest{Function: function, TypeArgs: typeArgs, Args: args})
	if err != nil {
		return fmt.Errorf("failed to encode view request: %w", err)
	}

	attempt := 0
	op := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/view", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn().Err(err).Str("function", function).Int("attempt", attempt).
				Msg("View request failed, will retry if attempts remain")
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			err := fmt.Errorf("%w: %d on %s: %s", ErrBadStatus, resp.StatusCode, function, string(data))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("View returned retryable status")
			return err
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: decoding %s response: %w", ErrMalformedPayload, function, err))
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.params.ReadRetryBackoff), uint64(c.params.ReadRetryAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("%w: %s after %d attempts: %w", ErrViewCallFailed, function, attempt, err)
	}
	return nil
}

func (c *FullnodeClient) fn(name string) string {
	return c.contract + "::" + name
}

// ---- PositionSource ----

// FetchPool returns a fresh snapshot of the pool. No caching: price moves
// between orchestration steps.
func (c *FullnodeClient) FetchPool(ctx context.Context, poolID types.PoolID) (types.Pool, error) {
	var payload []rawPool
	if err := c.view(ctx, c.fn("pool::pool_info"), nil, []string{string(poolID)}, &payload); err != nil {
		return types.Pool{}, err
	}
	if len(payload) == 0 {
		return types.Pool{}, fmt.Errorf("%w: empty pool_info response for %s", ErrMalformedPayload, poolID)
	}
	return c.normalizePool(payload[0])
}

func (c *FullnodeClient) normalizePool(rp rawPool) (types.Pool, error) {
	if !rp.CurrentTick.present {
		return types.Pool{}, fmt.Errorf("%w: pool %s missing current tick", ErrMalformedPayload, rp.PoolID)
	}
	sqrtPrice, ok := sdkmath.NewIntFromString(rp.SqrtPrice)
	if !ok {
		return types.Pool{}, fmt.Errorf("%w: pool %s sqrt_price %q", ErrMalformedPayload, rp.PoolID, rp.SqrtPrice)
	}
	tokenA, err := rp.TokenA.normalize(nativeCoinType)
	if err != nil {
		return types.Pool{}, fmt.Errorf("pool %s token_a: %w", rp.PoolID, err)
	}
	tokenB, err := rp.TokenB.normalize(nativeCoinType)
	if err != nil {
		return types.Pool{}, fmt.Errorf("pool %s token_b: %w", rp.PoolID, err)
	}
	return types.Pool{
		ID:          types.PoolID(rp.PoolID),
		CurrentTick: int(rp.CurrentTick.value),
		SqrtPrice:   sqrtPrice,
		FeeTier:     types.FeeTier(rp.FeeTier),
		TokenA:      tokenA,
		TokenB:      tokenB,
	}, nil
}

// nativeCoinType identifies the network's gas token in provider payloads.
const nativeCoinType = "0x1::aptos_coin::AptosCoin"

// FetchPositions returns all positions owned by the address. Individual
// malformed entries are skipped with a warning rather than failing the list.
func (c *FullnodeClient) FetchPositions(ctx context.Context, address string) ([]types.Position, error) {
	var payload [][]rawPosition
	if err := c.view(ctx, c.fn("position::positions_of"), nil, []string{address}, &payload); err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return []types.Position{}, nil
	}

	positions := make([]types.Position, 0, len(payload[0]))
	for _, rp := range payload[0] {
		pos, err := c.normalizePosition(ctx, rp)
		if err != nil {
			c.logger.Warn().Err(err).Str("positionID", rp.PositionID).Msg("Skipping malformed position entry")
			continue
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

func (c *FullnodeClient) normalizePosition(ctx context.Context, rp rawPosition) (types.Position, error) {
	if !rp.TickLower.present || !rp.TickUpper.present {
		return types.Position{}, fmt.Errorf("%w: position %s missing tick bounds", ErrMalformedPayload, rp.PositionID)
	}

	pool, err := c.FetchPool(ctx, types.PoolID(rp.PoolID))
	if err != nil {
		return types.Position{}, fmt.Errorf("resolving pool for position %s: %w", rp.PositionID, err)
	}

	rawA := parseRawAmount(rp.AmountA)
	rawB := parseRawAmount(rp.AmountB)
	amountA, err := utils.RawToFloat(rawA, pool.TokenA.Precision)
	if err != nil {
		return types.Position{}, fmt.Errorf("position %s amount_a: %w", rp.PositionID, err)
	}
	amountB, err := utils.RawToFloat(rawB, pool.TokenB.Precision)
	if err != nil {
		return types.Position{}, fmt.Errorf("position %s amount_b: %w", rp.PositionID, err)
	}

	feeA, _ := utils.RawToFloat(parseRawAmount(rp.FeeOwedA), pool.TokenA.Precision)
	feeB, _ := utils.RawToFloat(parseRawAmount(rp.FeeOwedB), pool.TokenB.Precision)
	rewardUSD, _ := strconv.ParseFloat(rp.RewardUSD, 64)

	var createdAt time.Time
	if secs, err := strconv.ParseInt(rp.CreatedAt, 10, 64); err == nil {
		createdAt = time.Unix(secs, 0).UTC()
	}

	price := pool.Price()
	return types.Position{
		ID:                 rp.PositionID,
		PoolID:             pool.ID,
		TickLower:          int(rp.TickLower.value),
		TickUpper:          int(rp.TickUpper.value),
		CreatedAt:          createdAt,
		AmountA:            amountA,
		AmountB:            amountB,
		RawAmountA:         rawA,
		RawAmountB:         rawB,
		UnclaimedFeeA:      feeA,
		UnclaimedFeeB:      feeB,
		UnclaimedFeesUSD:   feeA*price + feeB,
		UnclaimedRewardUSD: rewardUSD,
	}, nil
}

// parseRawAmount decodes a decimal-string amount, treating anything
// unparseable as zero so one bad field cannot poison a whole read.
func parseRawAmount(s string) sdkmath.Int {
	if s == "" {
		return sdkmath.ZeroInt()
	}
	v, ok := sdkmath.NewIntFromString(s)
	if !ok || v.IsNegative() {
		return sdkmath.ZeroInt()
	}
	return v
}

// FetchTokenAmounts returns the live token amounts of one position.
func (c *FullnodeClient) FetchTokenAmounts(ctx context.Context, positionID string) (float64, float64, error) {
	var payload []struct {
		AmountA   string `json:"amount_a"`
		AmountB   string `json:"amount_b"`
		DecimalsA int    `json:"decimals_a"`
		DecimalsB int    `json:"decimals_b"`
	}
	if err := c.view(ctx, c.fn("position::token_amounts"), nil, []string{positionID}, &payload); err != nil {
		return 0, 0, err
	}
	if len(payload) == 0 {
		return 0, 0, fmt.Errorf("%w: empty token_amounts response for %s", ErrMalformedPayload, positionID)
	}
	amountA, err := utils.RawToFloat(parseRawAmount(payload[0].AmountA), payload[0].DecimalsA)
	if err != nil {
		return 0, 0, err
	}
	amountB, err := utils.RawToFloat(parseRawAmount(payload[0].AmountB), payload[0].DecimalsB)
	if err != nil {
		return 0, 0, err
	}
	return amountA, amountB, nil
}

// FetchBalance returns the wallet balance of one token in display units. On
// read failure after retries it degrades to zero: the decision layer treats a
// missing balance as "nothing to deploy", which is the conservative direction.
func (c *FullnodeClient) FetchBalance(ctx context.Context, address string, token types.Token) (float64, error) {
	var payload []string
	err := c.view(ctx, "0x1::coin::balance", []string{token.Address}, []string{address}, &payload)
	if err != nil {
		c.logger.Error().Err(err).Str("token", token.Symbol).Str("address", address).
			Msg("Balance read failed after retries, degrading to zero")
		return 0, nil
	}
	if len(payload) == 0 {
		return 0, nil
	}
	return utils.RawToFloat(parseRawAmount(payload[0]), token.Precision)
}

// ---- LiquidityOracle ----

// EstimatePairedAmount asks the pool's liquidity math how much TokenB pairs
// with amountA over [tickLower, tickUpper] at the current price.
func (c *FullnodeClient) EstimatePairedAmount(ctx context.Context, pool types.Pool, amountA float64, tickLower, tickUpper int) (float64, error) {
	rawA, err := utils.FloatToRaw(amountA, pool.TokenA.Precision)
	if err != nil {
		return 0, fmt.Errorf("encoding probe amount: %w", err)
	}

	args := []string{
		string(pool.ID),
		rawA.String(),
		strconv.Itoa(tickLower),
		strconv.Itoa(tickUpper),
		strconv.Itoa(pool.CurrentTick),
	}
	var payload []string
	if err := c.view(ctx, c.fn("pool::liquidity_amounts"), nil, args, &payload); err != nil {
		return 0, err
	}
	if len(payload) == 0 {
		return 0, fmt.Errorf("%w: empty liquidity_amounts response", ErrMalformedPayload)
	}
	return utils.RawToFloat(parseRawAmount(payload[0]), pool.TokenB.Precision)
}

// ---- PayloadBuilder ----

// BuildSwapPayload asks the aggregator for a routed swap payload.
func (c *FullnodeClient) BuildSwapPayload(ctx context.Context, from, to types.Token, amountRaw sdkmath.Int, recipient string) (TxPayload, error) {
	q := url.Values{}
	q.Set("from", from.Address)
	q.Set("to", to.Address)
	q.Set("amount", amountRaw.String())
	q.Set("recipient", recipient)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.aggregatorURL+"/v1/quote?"+q.Encode(), nil)
	if err != nil {
		return TxPayload{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return TxPayload{}, fmt.Errorf("%w: %w", ErrQuoteFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return TxPayload{}, fmt.Errorf("%w: status %d: %s", ErrQuoteFailed, resp.StatusCode, string(data))
	}

	var payload TxPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return TxPayload{}, fmt.Errorf("%w: decoding quote: %w", ErrQuoteFailed, err)
	}
	payload.Sender = recipient
	return payload, nil
}

// BuildRemovePayload removes 100% of the position's liquidity and collects
// accrued fees in the same call.
func (c *FullnodeClient) BuildRemovePayload(ctx context.Context, pool types.Pool, positionID string) (TxPayload, error) {
	return TxPayload{
		Function: c.fn("router::remove_liquidity_all"),
		TypeArgs: []string{pool.TokenA.Address, pool.TokenB.Address},
		Args:     []string{positionID},
	}, nil
}

// BuildOpenPayload opens a new position over the tick range.
func (c *FullnodeClient) BuildOpenPayload(ctx context.Context, pool types.Pool, tickLower, tickUpper int, rawA, rawB sdkmath.Int) (TxPayload, error) {
	if tickLower >= tickUpper {
		return TxPayload{}, fmt.Errorf("invalid tick range [%d, %d)", tickLower, tickUpper)
	}
	return TxPayload{
		Function: c.fn("router::open_position_with_liquidity"),
		TypeArgs: []string{pool.TokenA.Address, pool.TokenB.Address},
		Args: []string{
			string(pool.ID),
			strconv.Itoa(tickLower),
			strconv.Itoa(tickUpper),
			rawA.String(),
			rawB.String(),
		},
	}, nil
}

// BuildAddPayload adds liquidity to an existing position.
func (c *FullnodeClient) BuildAddPayload(ctx context.Context, pool types.Pool, positionID string, rawA, rawB sdkmath.Int) (TxPayload, error) {
	return TxPayload{
		Function: c.fn("router::add_liquidity"),
		TypeArgs: []string{pool.TokenA.Address, pool.TokenB.Address},
		Args:     []string{positionID, rawA.String(), rawB.String()},
	}, nil
}
