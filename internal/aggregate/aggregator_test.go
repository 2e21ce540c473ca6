package aggregate

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errordefs "github.com/vidverse/vidverse-go/internal/errors"
	"github.com/vidverse/vidverse-go/internal/ledger"
	"github.com/vidverse/vidverse-go/internal/market"
	"github.com/vidverse/vidverse-go/internal/model"
)

var (
	owner  = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	viewer = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func seed(t *testing.T, l *ledger.Memory, n int) {
	t.Helper()
	w, err := l.Writer(owner)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		h, err := w.CreateVideo(context.Background(), ledger.CreateVideoInput{
			Title: "T", Description: "D", Category: "Music", Location: "NYC",
			ThumbnailCID: "Qmf/thumb.png", VideoCID: "Qmf/video.mp4", MetadataCID: "Qmmeta",
		})
		require.NoError(t, err)
		_, err = h.AwaitConfirmation(context.Background())
		require.NoError(t, err)
	}
}

func failingLookup() market.Lookup {
	return market.LookupFunc(func(ctx context.Context, coin common.Address) (model.MarketStats, error) {
		return model.MarketStats{}, errordefs.MarketUnavailable("down", errors.New("503"))
	})
}

func TestEnrichDegradesWhenMarketFails(t *testing.T) {
	l := ledger.NewMemory()
	seed(t, l, 1)
	a := New(l, failingLookup(), nil)

	rec, err := a.Load(context.Background(), 0)
	require.NoError(t, err)

	view := a.Enrich(context.Background(), rec, failingLookup())
	assert.Equal(t, rec, view.Video)
	assert.False(t, view.MarketAvailable)
	assert.Equal(t, model.MarketStats{}, view.Market)
	assert.Equal(t, "ipfs://Qmf/thumb.png", view.ThumbnailURI)
	assert.Equal(t, "ipfs://Qmf/video.mp4", view.VideoURI)
}

func TestEnrichUsesMarketStats(t *testing.T) {
	l := ledger.NewMemory()
	seed(t, l, 1)
	var asked common.Address
	lookup := market.LookupFunc(func(ctx context.Context, coin common.Address) (model.MarketStats, error) {
		asked = coin
		return model.MarketStats{MarketCap: 10, Symbol: "T"}, nil
	})
	a := New(l, lookup, nil)

	view, err := a.View(context.Background(), 0, common.Address{})
	require.NoError(t, err)
	assert.True(t, view.MarketAvailable)
	assert.Equal(t, 10.0, view.Market.MarketCap)
	assert.Equal(t, view.Video.CoinAddress, asked)
	assert.Nil(t, view.LikedByViewer)
	assert.True(t, view.IsOwner(owner.Hex()))
	assert.False(t, view.IsOwner(viewer.Hex()))
}

func TestViewReportsViewerLike(t *testing.T) {
	l := ledger.NewMemory()
	seed(t, l, 1)
	w, _ := l.Writer(viewer)
	h, err := w.ToggleLike(context.Background(), 0)
	require.NoError(t, err)
	_, err = h.AwaitConfirmation(context.Background())
	require.NoError(t, err)

	view, err := New(l, nil, nil).View(context.Background(), 0, viewer)
	require.NoError(t, err)
	require.NotNil(t, view.LikedByViewer)
	assert.True(t, *view.LikedByViewer)
	assert.Equal(t, uint64(1), view.Video.LikesCount)
}

func TestViewMissingVideo(t *testing.T) {
	_, err := New(ledger.NewMemory(), nil, nil).View(context.Background(), 3, viewer)
	assert.True(t, errordefs.Is(err, errordefs.VV_NOT_FOUND))
}

func TestCommentsAreMostRecentFirst(t *testing.T) {
	l := ledger.NewMemory()
	seed(t, l, 1)
	w, _ := l.Writer(viewer)
	for _, text := range []string{"c1", "c2", "c3"} {
		h, err := w.Comment(context.Background(), 0, text)
		require.NoError(t, err)
		_, err = h.AwaitConfirmation(context.Background())
		require.NoError(t, err)
	}

	comments, err := New(l, nil, nil).Comments(context.Background(), 0)
	require.NoError(t, err)
	texts := make([]string, 0, len(comments))
	for _, c := range comments {
		texts = append(texts, c.Text)
	}
	assert.Equal(t, []string{"c3", "c2", "c1"}, texts)
}

func TestReverseLeavesInputUntouched(t *testing.T) {
	in := []model.Comment{{Text: "a"}, {Text: "b"}}
	out := Reverse(in)
	assert.Equal(t, "b", out[0].Text)
	assert.Equal(t, "a", in[0].Text)
	assert.Empty(t, Reverse(nil))
}

func TestListIsNewestFirst(t *testing.T) {
	l := ledger.NewMemory()
	seed(t, l, 3)

	views, err := New(l, failingLookup(), nil).List(context.Background())
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Equal(t, uint64(2), views[0].Video.ID)
	assert.Equal(t, uint64(0), views[2].Video.ID)
}
