// Package neo implements the live anchor backend on a Neo N3 contract exposing
// storeHash, verifyHash and getHashTimestamp.
package neo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient/actor"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient/invoker"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient/unwrap"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/nspcc-dev/neo-go/pkg/wallet"

	"aidtrace/internal/verification/anchor"
)

const (
	methodStore     = "storeHash"
	methodVerify    = "verifyHash"
	methodTimestamp = "getHashTimestamp"
)

// Config holds the anchor contract connection settings.
type Config struct {
	RPCURL         string
	ContractHash   string
	PrivateKeyHex  string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
}

// Backend is an anchor.Backend over neo-go. The RPC connection is opened
// lazily on first use and reopened after a failed initialisation.
type Backend struct {
	cfg      Config
	contract util.Uint160
	account  *wallet.Account
	logger   *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	client  *rpcclient.Client
	actor   *actor.Actor
	invoker *invoker.Invoker
}

var _ anchor.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New validates cfg and prepares the signing account. It does not dial.
func New(cfg Config, opts ...Option) (*Backend, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("anchor RPC URL is required")
	}
	contract, err := util.Uint160DecodeStringLE(strings.TrimPrefix(cfg.ContractHash, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode anchor contract hash: %w", err)
	}
	if cfg.PrivateKeyHex == "" {
		return nil, errors.New("anchor signing key is required")
	}
	priv, err := keys.NewPrivateKeyFromHex(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode anchor signing key: %w", err)
	}

	b := &Backend{
		cfg:      cfg,
		contract: contract,
		account:  wallet.NewAccountFromPrivateKey(priv),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Address returns the signing account address.
func (b *Backend) Address() string {
	return b.account.Address
}

func (b *Backend) connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	clientCtx, cancel := context.WithCancel(context.Background())
	client, err := rpcclient.New(clientCtx, b.cfg.RPCURL, rpcclient.Options{
		DialTimeout:    b.cfg.DialTimeout,
		RequestTimeout: b.cfg.RequestTimeout,
	})
	if err != nil {
		cancel()
		return fmt.Errorf("create rpc client: %w", err)
	}
	if err := client.Init(); err != nil {
		client.Close()
		cancel()
		return fmt.Errorf("init rpc client: %w", err)
	}
	act, err := actor.NewSimple(client, b.account)
	if err != nil {
		client.Close()
		cancel()
		return fmt.Errorf("create actor: %w", err)
	}

	b.ctx = clientCtx
	b.cancel = cancel
	b.client = client
	b.actor = act
	b.invoker = invoker.New(client, nil)
	b.logger.InfoContext(ctx, "anchor rpc connected",
		"endpoint", b.cfg.RPCURL,
		"contract", b.contract.StringLE(),
		"account", b.account.Address,
	)
	return nil
}

// StoreHash sends a signed storeHash transaction and returns its hash.
func (b *Backend) StoreHash(ctx context.Context, hash string) (string, error) {
	if err := b.connect(ctx); err != nil {
		return "", classify(methodStore, err)
	}
	txHash, vub, err := b.actor.SendCall(b.contract, methodStore, hash)
	if err != nil {
		return "", classify(methodStore, err)
	}
	b.logger.DebugContext(ctx, "anchor transaction sent",
		"tx", txHash.StringLE(),
		"valid_until_block", vub,
	)
	return "0x" + txHash.StringLE(), nil
}

// VerifyHash runs a read-only verifyHash invocation.
func (b *Backend) VerifyHash(ctx context.Context, hash string) (bool, error) {
	if err := b.connect(ctx); err != nil {
		return false, classify(methodVerify, err)
	}
	ok, err := unwrap.Bool(b.invoker.Call(b.contract, methodVerify, hash))
	if err != nil {
		return false, classify(methodVerify, err)
	}
	return ok, nil
}

// HashTimestamp runs a read-only getHashTimestamp invocation. The contract
// stores Unix seconds and returns 0 for unknown hashes.
func (b *Backend) HashTimestamp(ctx context.Context, hash string) (time.Time, error) {
	if err := b.connect(ctx); err != nil {
		return time.Time{}, classify(methodTimestamp, err)
	}
	v, err := unwrap.BigInt(b.invoker.Call(b.contract, methodTimestamp, hash))
	if err != nil {
		return time.Time{}, classify(methodTimestamp, err)
	}
	if v.Sign() == 0 {
		return time.Time{}, anchor.ErrNotAnchored
	}
	if !v.IsInt64() {
		return time.Time{}, anchor.NewProviderError(anchor.ErrorBadData, methodTimestamp, "timestamp out of range", nil)
	}
	return time.Unix(v.Int64(), 0).UTC(), nil
}

// Close releases the RPC connection.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return
	}
	b.client.Close()
	b.cancel()
	b.client = nil
	b.actor = nil
	b.invoker = nil
}

func classify(method string, err error) error {
	if err == nil {
		return nil
	}
	var pe *anchor.ProviderError
	if errors.As(err, &pe) {
		return err
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return anchor.NewProviderError(anchor.ErrorTimeout, method, "rpc deadline exceeded", err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return anchor.NewProviderError(anchor.ErrorTimeout, method, "rpc timeout", err)
	case errors.As(err, &netErr):
		return anchor.NewProviderError(anchor.ErrorProviderOutage, method, "rpc unreachable", err)
	case strings.Contains(err.Error(), "FAULT"), strings.Contains(err.Error(), "not a"):
		return anchor.NewProviderError(anchor.ErrorBadData, method, "invocation faulted", err)
	case strings.Contains(err.Error(), "insufficient funds"), strings.Contains(err.Error(), "signature"):
		return anchor.NewProviderError(anchor.ErrorAuthentication, method, "transaction rejected", err)
	case strings.Contains(err.Error(), "init rpc client"), strings.Contains(err.Error(), "create rpc client"):
		return anchor.NewProviderError(anchor.ErrorProviderOutage, method, "rpc unavailable", err)
	default:
		return anchor.NewProviderError(anchor.ErrorInternal, method, "unexpected rpc error", err)
	}
}
