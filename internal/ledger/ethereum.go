package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errordefs "github.com/vidverse/vidverse-go/internal/errors"
	"github.com/vidverse/vidverse-go/internal/model"
	"github.com/vidverse/vidverse-go/internal/telemetry"
)

// Backend is the JSON-RPC surface the contract binding needs. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

// Ethereum talks to the deployed registry contract.
type Ethereum struct {
	backend  Backend
	contract *bind.BoundContract
	abi      abi.ABI
	address  common.Address
	chainID  *big.Int // configured network
	remoteID *big.Int // network the backend is connected to
	keys     Keyring
	logger   *slog.Logger
	tracer   trace.Tracer
	closer   func()
}

// DialEthereum connects to rpcURL and binds the registry contract at contract.
func DialEthereum(ctx context.Context, rpcURL, contract string, chainID int64, privateKeys []string, logger *slog.Logger) (*Ethereum, error) {
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("invalid contract address %q", contract)
	}
	keys, err := NewKeyring(privateKeys)
	if err != nil {
		return nil, err
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ledger rpc: %w", err)
	}
	e, err := NewEthereum(ctx, client, common.HexToAddress(contract), chainID, keys, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	e.closer = client.Close
	return e, nil
}

// NewEthereum binds the registry contract on an existing backend.
func NewEthereum(ctx context.Context, backend Backend, contract common.Address, chainID int64, keys Keyring, logger *slog.Logger) (*Ethereum, error) {
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse registry abi: %w", err)
	}
	remote, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Ethereum{
		backend:  backend,
		contract: bind.NewBoundContract(contract, parsed, backend, backend, backend),
		abi:      parsed,
		address:  contract,
		chainID:  big.NewInt(chainID),
		remoteID: remote,
		keys:     keys,
		logger:   logger.With("component", "ledger.ethereum"),
		tracer:   telemetry.Tracer("ledger"),
	}
	if remote.Cmp(e.chainID) != 0 {
		e.logger.Warn("connected to unexpected network; writes will be rejected",
			"expected_chain_id", e.chainID, "chain_id", remote)
	}
	return e, nil
}

// Close releases the RPC connection when the ledger dialed it.
func (e *Ethereum) Close() {
	if e.closer != nil {
		e.closer()
	}
}

func (e *Ethereum) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, errordefs.Wrap(errordefs.VV_UNAVAILABLE, "ledger read "+method+" failed", err)
	}
	return out, nil
}

// Video implements Reader. An unset owner means the id was never assigned.
func (e *Ethereum) Video(ctx context.Context, id uint64) (model.VideoRecord, error) {
	out, err := e.call(ctx, "videos", new(big.Int).SetUint64(id))
	if err != nil {
		return model.VideoRecord{}, err
	}
	rec, err := decodeVideo(out)
	if err != nil {
		return model.VideoRecord{}, errordefs.Wrap(errordefs.VV_INTERNAL, "decode video", err)
	}
	if rec.Owner == (common.Address{}) {
		return model.VideoRecord{}, errordefs.NotFound("video %d not found", id)
	}
	return rec, nil
}

// Comments implements Reader.
func (e *Ethereum) Comments(ctx context.Context, id uint64) ([]model.Comment, error) {
	out, err := e.call(ctx, "getVideoComments", new(big.Int).SetUint64(id))
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, errordefs.New(errordefs.VV_INTERNAL, "unexpected getVideoComments output", "")
	}
	raw := *abi.ConvertType(out[0], new([]commentTuple)).(*[]commentTuple)
	comments := make([]model.Comment, 0, len(raw))
	for _, c := range raw {
		comments = append(comments, model.Comment{
			ID:        c.Id.Uint64(),
			VideoID:   c.VideoId.Uint64(),
			Author:    c.Author,
			Text:      c.Comment,
			CreatedAt: c.CreatedAt.Int64(),
		})
	}
	return comments, nil
}

// NextVideoID implements Reader.
func (e *Ethereum) NextVideoID(ctx context.Context) (uint64, error) {
	out, err := e.call(ctx, "nextVideoId")
	if err != nil {
		return 0, err
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int).Uint64(), nil
}

// IsLikedBy implements Reader.
func (e *Ethereum) IsLikedBy(ctx context.Context, id uint64, account common.Address) (bool, error) {
	out, err := e.call(ctx, "isLikedBy", new(big.Int).SetUint64(id), account)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// Writer implements Ledger.
func (e *Ethereum) Writer(account common.Address) (Writer, error) {
	if e.remoteID.Cmp(e.chainID) != 0 {
		return nil, errordefs.TxSubmission(
			fmt.Sprintf("wrong network: connected to chain %s, expected %s", e.remoteID, e.chainID), nil)
	}
	key, ok := e.keys[account]
	if !ok {
		return nil, errordefs.TxSubmission("no signer for account "+account.Hex(), nil)
	}
	return &ethWriter{ledger: e, account: account, key: key}, nil
}

// commentTuple mirrors the contract's comment struct.
type commentTuple struct {
	Id        *big.Int
	VideoId   *big.Int
	Author    common.Address
	Comment   string
	CreatedAt *big.Int
}

// videoAdded mirrors the VideoAdded event.
type videoAdded struct {
	VideoId     *big.Int
	Owner       common.Address
	CoinAddress common.Address
}

func decodeVideo(out []interface{}) (model.VideoRecord, error) {
	if len(out) != 12 {
		return model.VideoRecord{}, fmt.Errorf("videos returned %d values, want 12", len(out))
	}
	u := func(i int) uint64 { return abi.ConvertType(out[i], new(big.Int)).(*big.Int).Uint64() }
	s := func(i int) string { return *abi.ConvertType(out[i], new(string)).(*string) }
	a := func(i int) common.Address { return *abi.ConvertType(out[i], new(common.Address)).(*common.Address) }

	return model.VideoRecord{
		ID:            u(0),
		Title:         s(1),
		Description:   s(2),
		Category:      s(3),
		Location:      s(4),
		ThumbnailCID:  s(5),
		VideoCID:      s(6),
		Owner:         a(7),
		CoinAddress:   a(8),
		CreatedAt:     int64(u(9)),
		LikesCount:    u(10),
		CommentsCount: u(11),
	}, nil
}

type ethWriter struct {
	ledger  *Ethereum
	account common.Address
	key     *ecdsa.PrivateKey
}

func (w *ethWriter) Account() common.Address { return w.account }

func (w *ethWriter) CreateVideo(ctx context.Context, in CreateVideoInput) (TxHandle, error) {
	return w.transact(ctx, model.TxKindCreate, "addVideo",
		in.Title, in.Description, in.Category, in.Location, in.ThumbnailCID, in.VideoCID, in.MetadataCID)
}

func (w *ethWriter) UpdateVideo(ctx context.Context, in UpdateVideoInput) (TxHandle, error) {
	return w.transact(ctx, model.TxKindUpdate, "updateVideoInfo", new(big.Int).SetUint64(in.ID),
		in.Title, in.Description, in.Category, in.Location, in.ThumbnailCID, in.MetadataCID)
}

func (w *ethWriter) ToggleLike(ctx context.Context, id uint64) (TxHandle, error) {
	return w.transact(ctx, model.TxKindLike, "toggleLike", new(big.Int).SetUint64(id))
}

func (w *ethWriter) Comment(ctx context.Context, id uint64, text string) (TxHandle, error) {
	return w.transact(ctx, model.TxKindComment, "commentVideo", new(big.Int).SetUint64(id), text)
}

// transact signs and sends one contract call. A call that reverts during gas
// estimation is reported as VV_TX_REVERT since it would revert if included.
func (w *ethWriter) transact(ctx context.Context, kind model.TxKind, method string, args ...interface{}) (TxHandle, error) {
	e := w.ledger
	ctx, span := e.tracer.Start(ctx, "ledger."+method, trace.WithAttributes(
		attribute.String("ledger.account", w.account.Hex()),
		attribute.String("ledger.kind", string(kind)),
	))
	defer span.End()

	opts, err := bind.NewKeyedTransactorWithChainID(w.key, e.chainID)
	if err != nil {
		return nil, errordefs.TxSubmission("build transactor", err)
	}
	opts.Context = ctx

	tx, err := e.contract.Transact(opts, method, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if reason, ok := revertReason(err); ok {
			e.logger.Info("transaction would revert", "method", method, "account", w.account.Hex(), "reason", reason)
			return nil, errordefs.TxRevert(reason)
		}
		return nil, errordefs.TxSubmission(method+" submission failed", err)
	}

	span.SetAttributes(attribute.String("ledger.tx_hash", tx.Hash().Hex()))
	e.logger.Info("transaction submitted", "method", method, "account", w.account.Hex(), "tx_hash", tx.Hash().Hex())
	return &ethTx{ledger: e, tx: tx, kind: kind, from: w.account}, nil
}

type ethTx struct {
	ledger *Ethereum
	tx     *types.Transaction
	kind   model.TxKind
	from   common.Address
}

func (t *ethTx) Hash() common.Hash  { return t.tx.Hash() }
func (t *ethTx) Kind() model.TxKind { return t.kind }

func (t *ethTx) Submitted() TxResult {
	return TxResult{Status: TxSubmitted, TxHash: t.tx.Hash()}
}

func (t *ethTx) AwaitConfirmation(ctx context.Context) (TxResult, error) {
	e := t.ledger
	receipt, err := bind.WaitMined(ctx, e.backend, t.tx)
	if err != nil {
		return t.Submitted(), errordefs.Wrap(errordefs.VV_UNAVAILABLE, "confirmation wait aborted", err)
	}

	if receipt.Status == types.ReceiptStatusFailed {
		reason := t.replay(ctx, receipt.BlockNumber)
		e.logger.Info("transaction reverted", "tx_hash", t.tx.Hash().Hex(), "reason", reason)
		return reverted(t.tx.Hash(), reason)
	}

	r := &Receipt{
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}
	if t.kind == model.TxKindCreate {
		r.VideoID = e.videoAddedID(receipt.Logs)
	}
	return TxResult{Status: TxConfirmed, TxHash: t.tx.Hash(), Receipt: r}, nil
}

// replay re-executes the reverted transaction as a call at its block to recover the reason.
func (t *ethTx) replay(ctx context.Context, block *big.Int) string {
	msg := ethereum.CallMsg{
		From:  t.from,
		To:    t.tx.To(),
		Gas:   t.tx.Gas(),
		Value: t.tx.Value(),
		Data:  t.tx.Data(),
	}
	_, err := t.ledger.backend.CallContract(ctx, msg, block)
	if err == nil {
		return "execution reverted"
	}
	if reason, ok := revertReason(err); ok {
		return reason
	}
	return err.Error()
}

// videoAddedID extracts the assigned id from a VideoAdded log.
func (e *Ethereum) videoAddedID(logs []*types.Log) *uint64 {
	event := e.abi.Events["VideoAdded"]
	for _, lg := range logs {
		if lg == nil || len(lg.Topics) == 0 || lg.Topics[0] != event.ID || lg.Address != e.address {
			continue
		}
		var ev videoAdded
		if err := e.contract.UnpackLog(&ev, "VideoAdded", *lg); err != nil {
			e.logger.Warn("failed to unpack VideoAdded", "error", err)
			continue
		}
		id := ev.VideoId.Uint64()
		return &id
	}
	return nil
}

// revertReason extracts a revert reason from an RPC error, if the error is a revert.
func revertReason(err error) (string, bool) {
	var de rpc.DataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			if data, derr := hexutil.Decode(s); derr == nil {
				if reason, uerr := abi.UnpackRevert(data); uerr == nil {
					return reason, true
				}
			}
		}
	}
	msg := err.Error()
	if i := strings.Index(msg, "execution reverted"); i >= 0 {
		reason := strings.TrimPrefix(msg[i:], "execution reverted")
		reason = strings.TrimSpace(strings.TrimPrefix(reason, ":"))
		if reason == "" {
			reason = "execution reverted"
		}
		return reason, true
	}
	return "", false
}
