// Package executor implements the LiquidationExecutor driver: calldata
// templating keyed by (user, debtAsset, collateralAsset, mode) and rebuilt
// when the debt index moves, and submission via public broadcast, a private
// relay, or shadow
// (log-only) mode, per spec.md §4.M.
package executor

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/onyxlabs/liqsentinel/internal/config"
)

// Mode selects how a built transaction is submitted.
type Mode string

const (
	ModePublic  Mode = "public"
	ModePrivate Mode = "private"
	ModeShadow  Mode = "shadow"
)

// ErrorCode classifies a submission failure (spec.md §4.M retry
// classification).
type ErrorCode string

const (
	ErrNone     ErrorCode = ""
	ErrRPC      ErrorCode = "RPC_ERROR"
	ErrTimeout  ErrorCode = "TIMEOUT"
	ErrDisabled ErrorCode = "DISABLED"
	ErrReverted ErrorCode = "REVERTED"
	ErrUnknown  ErrorCode = "UNKNOWN"
)

// Classify maps a raw submission error to one of the retry-classification
// buckets. httpStatus is 0 when no HTTP round trip occurred.
func Classify(err error, httpStatus int) ErrorCode {
	if err == nil {
		return ErrNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	if httpStatus >= 400 {
		return ErrRPC
	}
	var rpcErr rpcError
	if errors.As(err, &rpcErr) {
		return ErrRPC
	}
	return ErrUnknown
}

type rpcError struct{ Message string }

func (e rpcError) Error() string { return e.Message }

// Result is the outcome of one submission attempt.
type Result struct {
	Success     bool
	SentPrivate bool
	Reverted    bool
	TxHash      string
	ErrorCode   ErrorCode
	LatencyMs   int64
}

// --- Calldata templating ---------------------------------------------------

// TemplateKey identifies one cached calldata template.
type TemplateKey struct {
	User            string
	DebtAsset       string
	CollateralAsset string
	Mode            Mode
}

type cachedTemplate struct {
	calldata  []byte
	debtIndex *big.Int
}

// BuildFunc constructs fresh calldata for a template key.
type BuildFunc func() ([]byte, error)

// TemplateCache caches built calldata per (user, debtAsset, collAsset, mode),
// refreshing only when the backing reserve's debt index has moved more than
// refreshIndexBps since the template was built (default 10 bps per
// spec.md §4.M).
type TemplateCache struct {
	refreshIndexBps int64

	mu    sync.Mutex
	items map[TemplateKey]*cachedTemplate
}

// NewTemplateCache builds a TemplateCache with the given refresh threshold.
func NewTemplateCache(refreshIndexBps int64) *TemplateCache {
	if refreshIndexBps <= 0 {
		refreshIndexBps = 10
	}
	return &TemplateCache{refreshIndexBps: refreshIndexBps, items: make(map[TemplateKey]*cachedTemplate)}
}

// Get returns the cached calldata for key if the debt index has not moved
// more than refreshIndexBps since it was built; otherwise it rebuilds via
// build and caches the result keyed to currentDebtIndex.
func (c *TemplateCache) Get(key TemplateKey, currentDebtIndex *big.Int, build BuildFunc) ([]byte, error) {
	c.mu.Lock()
	existing, ok := c.items[key]
	c.mu.Unlock()

	if ok && indexDeltaBps(existing.debtIndex, currentDebtIndex) <= c.refreshIndexBps {
		return existing.calldata, nil
	}

	calldata, err := build()
	if err != nil {
		return nil, fmt.Errorf("executor: build calldata: %w", err)
	}

	c.mu.Lock()
	c.items[key] = &cachedTemplate{calldata: calldata, debtIndex: currentDebtIndex}
	c.mu.Unlock()
	return calldata, nil
}

// InvalidateUser drops every cached template for user.
func (c *TemplateCache) InvalidateUser(user string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.items {
		if k.User == user {
			delete(c.items, k)
		}
	}
}

// InvalidateAsset drops every cached template referencing asset as either
// the debt or collateral leg.
func (c *TemplateCache) InvalidateAsset(asset string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.items {
		if k.DebtAsset == asset || k.CollateralAsset == asset {
			delete(c.items, k)
		}
	}
}

// Size reports the number of cached templates (tests/metrics).
func (c *TemplateCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func indexDeltaBps(old, updated *big.Int) int64 {
	if old == nil || old.Sign() == 0 || updated == nil {
		return 1 << 40 // force rebuild when either side is unknown
	}
	diff := new(big.Int).Sub(updated, old)
	diff.Abs(diff)
	diff.Mul(diff, big.NewInt(10000))
	diff.Quo(diff, old)
	return diff.Int64()
}

// --- Submission --------------------------------------------------------

// PublicSender broadcasts a raw signed transaction via the standard
// provider.
type PublicSender interface {
	SendRawTransaction(ctx context.Context, rawTx []byte) (txHash string, err error)
}

// RelayConfig holds the private-relay submission parameters from spec.md
// §4.M/§6.
type RelayConfig struct {
	RPCURL        string
	SignerAddress string
	SignerKey     *ecdsa.PrivateKey
	MaxRetries    int
	FallbackMode  config.FallbackMode
}

// HTTPDoer is the subset of *http.Client the relay needs; narrowed for
// tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type jsonrpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type jsonrpcResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ReceiptWaiter awaits a submitted transaction's mined receipt. It is the
// interface pkg/txlistener.TxListener satisfies; a Driver with no waiter
// wired returns as soon as the node accepts the transaction, same as before.
type ReceiptWaiter interface {
	WaitForTransaction(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Driver is the LiquidationExecutor submission path: it never calculates
// profit or gates risk (that's internal/profit); it only templates
// calldata and submits.
type Driver struct {
	templates    *TemplateCache
	publicSender PublicSender
	relay        HTTPDoer
	relayCfg     RelayConfig
	receipts     ReceiptWaiter
}

// DriverOption configures optional Driver collaborators.
type DriverOption func(*Driver)

// WithReceiptWaiter wires a ReceiptWaiter (pkg/txlistener.TxListener in
// production) into the public submission path: Submit blocks on it after a
// successful broadcast, turning a reverted receipt into a failed Result
// rather than reporting the broadcast alone as success.
func WithReceiptWaiter(w ReceiptWaiter) DriverOption {
	return func(d *Driver) { d.receipts = w }
}

// NewDriver wires a Driver's collaborators.
func NewDriver(templates *TemplateCache, publicSender PublicSender, relay HTTPDoer, relayCfg RelayConfig, opts ...DriverOption) *Driver {
	d := &Driver{templates: templates, publicSender: publicSender, relay: relay, relayCfg: relayCfg}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Submit dispatches rawTx according to mode, retrying a private submission
// up to relayCfg.MaxRetries before falling back per relayCfg.FallbackMode.
func (d *Driver) Submit(ctx context.Context, mode Mode, rawTx []byte) Result {
	start := time.Now()

	switch mode {
	case ModeShadow:
		return Result{Success: true, SentPrivate: false, LatencyMs: time.Since(start).Milliseconds()}

	case ModePublic:
		txHash, status, reverted, err := d.sendPublic(ctx, rawTx)
		if err == nil && reverted {
			return Result{Success: false, Reverted: true, TxHash: txHash, ErrorCode: ErrReverted, LatencyMs: time.Since(start).Milliseconds()}
		}
		return Result{
			Success:   err == nil,
			TxHash:    txHash,
			ErrorCode: Classify(err, status),
			LatencyMs: time.Since(start).Milliseconds(),
		}

	case ModePrivate:
		if d.relayCfg.RPCURL == "" {
			return Result{Success: false, ErrorCode: ErrDisabled, LatencyMs: time.Since(start).Milliseconds()}
		}
		return d.submitPrivateWithFallback(ctx, rawTx, start)

	default:
		return Result{Success: false, ErrorCode: ErrUnknown, LatencyMs: time.Since(start).Milliseconds()}
	}
}

// BuildAndSubmit is the driver's full spec.md §4.M flow: it resolves (or
// rebuilds, on a >refreshIndexBps debt-index move) the cached calldata
// template for key via TemplateCache.Get, then submits the result exactly
// as Submit would. This is the entrypoint callers should use; Submit stays
// available for callers that already hold built calldata (tests, shadow
// replays of a prior attempt).
func (d *Driver) BuildAndSubmit(ctx context.Context, mode Mode, key TemplateKey, currentDebtIndex *big.Int, build BuildFunc) Result {
	start := time.Now()
	rawTx, err := d.templates.Get(key, currentDebtIndex, build)
	if err != nil {
		return Result{Success: false, ErrorCode: ErrUnknown, LatencyMs: time.Since(start).Milliseconds()}
	}
	res := d.Submit(ctx, mode, rawTx)
	res.LatencyMs = time.Since(start).Milliseconds()
	return res
}

// sendPublic broadcasts rawTx and, when a ReceiptWaiter is wired, blocks
// until it is mined, reporting a revert rather than letting a reverted
// transaction masquerade as a successful submission.
func (d *Driver) sendPublic(ctx context.Context, rawTx []byte) (txHash string, status int, reverted bool, err error) {
	txHash, err = d.publicSender.SendRawTransaction(ctx, rawTx)
	if err != nil || d.receipts == nil || txHash == "" {
		return txHash, 0, false, err
	}
	receipt, err := d.receipts.WaitForTransaction(ctx, common.HexToHash(txHash))
	if err != nil {
		return txHash, 0, false, fmt.Errorf("executor: await receipt: %w", err)
	}
	return txHash, 0, receipt.Status == types.ReceiptStatusFailed, nil
}

func (d *Driver) submitPrivateWithFallback(ctx context.Context, rawTx []byte, start time.Time) Result {
	maxRetries := d.relayCfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	var lastStatus int
	for attempt := 0; attempt < maxRetries; attempt++ {
		txHash, status, err := d.sendPrivate(ctx, rawTx)
		if err == nil {
			return Result{Success: true, SentPrivate: true, TxHash: txHash, LatencyMs: time.Since(start).Milliseconds()}
		}
		lastErr, lastStatus = err, status
	}

	switch d.relayCfg.FallbackMode {
	case config.FallbackDirect:
		txHash, status, reverted, err := d.sendPublic(ctx, rawTx)
		if err == nil && reverted {
			return Result{Success: false, Reverted: true, TxHash: txHash, ErrorCode: ErrReverted, LatencyMs: time.Since(start).Milliseconds()}
		}
		return Result{
			Success:   err == nil,
			SentPrivate: false,
			TxHash:    txHash,
			ErrorCode: Classify(err, status),
			LatencyMs: time.Since(start).Milliseconds(),
		}
	case config.FallbackRace:
		return d.raceFallback(ctx, rawTx, start)
	default:
		return Result{Success: false, SentPrivate: true, ErrorCode: Classify(lastErr, lastStatus), LatencyMs: time.Since(start).Milliseconds()}
	}
}

type raceResult struct {
	hash        string
	status      int
	err         error
	sentPrivate bool
}

// raceFallback submits both public and a final private attempt concurrently
// and returns the first success.
func (d *Driver) raceFallback(ctx context.Context, rawTx []byte, start time.Time) Result {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan raceResult, 2)
	go func() {
		hash, status, reverted, err := d.sendPublic(ctx, rawTx)
		if err == nil && reverted {
			err = fmt.Errorf("executor: public tx reverted")
		}
		results <- raceResult{hash: hash, status: status, err: err}
	}()
	go func() {
		hash, status, err := d.sendPrivate(ctx, rawTx)
		results <- raceResult{hash: hash, status: status, err: err, sentPrivate: true}
	}()

	var firstErr error
	var firstStatus int
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err == nil {
			return Result{Success: true, SentPrivate: r.sentPrivate, TxHash: r.hash, LatencyMs: time.Since(start).Milliseconds()}
		}
		if firstErr == nil {
			firstErr, firstStatus = r.err, r.status
		}
	}
	return Result{Success: false, ErrorCode: Classify(firstErr, firstStatus), LatencyMs: time.Since(start).Milliseconds()}
}

// sendPrivate posts eth_sendPrivateTransaction to the relay endpoint with
// an "<signerAddress>:<sig>" signature header over the request body, the
// style spec.md §4.M/§6 calls "x-flashbots-signature-style".
func (d *Driver) sendPrivate(ctx context.Context, rawTx []byte) (string, int, error) {
	body, err := json.Marshal(jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_sendPrivateTransaction",
		Params:  []interface{}{map[string]string{"tx": "0x" + hexEncode(rawTx)}},
	})
	if err != nil {
		return "", 0, fmt.Errorf("executor: marshal relay body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.relayCfg.RPCURL, bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("executor: build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.relayCfg.SignerKey != nil {
		digest := crypto.Keccak256Hash(body)
		sig, err := crypto.Sign(digest.Bytes(), d.relayCfg.SignerKey)
		if err != nil {
			return "", 0, fmt.Errorf("executor: sign relay body: %w", err)
		}
		req.Header.Set("X-Flashbots-Signature", fmt.Sprintf("%s:0x%s", d.relayCfg.SignerAddress, hexEncode(sig)))
	}

	resp, err := d.relay.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("executor: relay request: %w", err)
	}
	defer resp.Body.Close()

	var rpcResp jsonrpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return "", resp.StatusCode, fmt.Errorf("executor: decode relay response: %w", err)
	}
	if rpcResp.Error != nil {
		return "", resp.StatusCode, rpcError{Message: rpcResp.Error.Message}
	}
	return rpcResp.Result, resp.StatusCode, nil
}

func hexEncode(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexdigits[v>>4]
		out[i*2+1] = hexdigits[v&0x0f]
	}
	return string(out)
}
