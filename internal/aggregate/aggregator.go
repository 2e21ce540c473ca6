// Package aggregate combines canonical ledger state with best-effort market data
// into display-ready views.
package aggregate

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vidverse/vidverse-go/internal/contentstore"
	errordefs "github.com/vidverse/vidverse-go/internal/errors"
	"github.com/vidverse/vidverse-go/internal/ledger"
	"github.com/vidverse/vidverse-go/internal/market"
	"github.com/vidverse/vidverse-go/internal/model"
)

// Aggregator serves the read side.
type Aggregator struct {
	ledger ledger.Reader
	market market.Lookup
	logger *slog.Logger
}

// New creates an aggregator. A nil lookup behaves as market.Unavailable.
func New(reader ledger.Reader, lookup market.Lookup, logger *slog.Logger) *Aggregator {
	if lookup == nil {
		lookup = market.Unavailable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{ledger: reader, market: lookup, logger: logger.With("component", "aggregate")}
}

// Load returns the canonical record for id.
func (a *Aggregator) Load(ctx context.Context, id uint64) (model.VideoRecord, error) {
	return a.ledger.Video(ctx, id)
}

// Enrich adds market data to rec. It never fails: when lookup errors the view is
// returned with zeroed market fields and MarketAvailable false.
func (a *Aggregator) Enrich(ctx context.Context, rec model.VideoRecord, lookup market.Lookup) model.AggregateView {
	view := model.AggregateView{
		Video:        rec,
		ThumbnailURI: refURI(rec.ThumbnailCID),
		VideoURI:     refURI(rec.VideoCID),
	}
	if lookup == nil {
		return view
	}
	stats, err := lookup.Coin(ctx, rec.CoinAddress)
	if err != nil {
		a.logger.Debug("market data unavailable",
			"video_id", rec.ID,
			"coin", rec.CoinAddress.Hex(),
			"code", errordefs.CodeOf(err),
		)
		return view
	}
	view.Market = stats
	view.MarketAvailable = true
	return view
}

// View loads id and enriches it with the configured market lookup. A non-zero viewer
// also gets its like flag; failing to read it leaves LikedByViewer nil.
func (a *Aggregator) View(ctx context.Context, id uint64, viewer common.Address) (model.AggregateView, error) {
	rec, err := a.Load(ctx, id)
	if err != nil {
		return model.AggregateView{}, err
	}
	view := a.Enrich(ctx, rec, a.market)
	if viewer != (common.Address{}) {
		liked, err := a.ledger.IsLikedBy(ctx, id, viewer)
		if err != nil {
			a.logger.Warn("like lookup failed", "video_id", id, "viewer", viewer.Hex(), "error", err)
		} else {
			view.LikedByViewer = &liked
		}
	}
	return view, nil
}

// Comments lists the comments of id most recent first.
func (a *Aggregator) Comments(ctx context.Context, id uint64) ([]model.Comment, error) {
	comments, err := a.ledger.Comments(ctx, id)
	if err != nil {
		return nil, err
	}
	return Reverse(comments), nil
}

// List returns every video newest first. Market data is not fetched for listings.
func (a *Aggregator) List(ctx context.Context) ([]model.AggregateView, error) {
	next, err := a.ledger.NextVideoID(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]model.AggregateView, 0, next)
	for id := next; id > 0; id-- {
		rec, err := a.ledger.Video(ctx, id-1)
		if errordefs.Is(err, errordefs.VV_NOT_FOUND) {
			continue
		}
		if err != nil {
			return nil, err
		}
		views = append(views, a.Enrich(ctx, rec, nil))
	}
	return views, nil
}

// Reverse returns comments in reverse append order without modifying the input.
func Reverse(comments []model.Comment) []model.Comment {
	out := make([]model.Comment, len(comments))
	for i, c := range comments {
		out[len(comments)-1-i] = c
	}
	return out
}

func refURI(ref string) string {
	if ref == "" {
		return ""
	}
	return contentstore.URI(contentstore.TrimScheme(ref), "")
}
