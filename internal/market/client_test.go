package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errordefs "github.com/vidverse/vidverse-go/internal/errors"
)

var coin = common.HexToAddress("0x000000000000000000000000000000000000c011")

const coinJSON = `{"zora20Token":{
  "name":"T","symbol":"TCOIN","address":"0x000000000000000000000000000000000000c011",
  "createdAt":"2025-04-01T10:00:00Z","totalSupply":"1000000000","totalVolume":"12.5",
  "volume24h":"1.25","marketCap":"3400.75","uniqueHolders":17,
  "creatorEarnings":[{"amountUsd":"2.5"},{"amountUsd":"9"}]}}`

func TestCoinDecodesStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coin", r.URL.Path)
		assert.Equal(t, coin.Hex(), r.URL.Query().Get("address"))
		assert.Equal(t, "84532", r.URL.Query().Get("chain"))
		assert.Equal(t, "k", r.Header.Get("api-key"))
		_, _ = w.Write([]byte(coinJSON))
	}))
	defer srv.Close()

	stats, err := New(srv.URL, "k", 84532, 0, nil, nil).Coin(context.Background(), coin)
	require.NoError(t, err)
	assert.Equal(t, 3400.75, stats.MarketCap)
	assert.Equal(t, 1.25, stats.Volume24h)
	assert.Equal(t, 12.5, stats.TotalVolume)
	assert.Equal(t, 2.5, stats.CreatorEarnings)
	assert.Equal(t, int64(17), stats.UniqueHolders)
	assert.Equal(t, 1e9, stats.TotalSupply)
	assert.Equal(t, "TCOIN", stats.Symbol)
	assert.Equal(t, "T", stats.Name)
}

func TestCoinFailuresAreUnavailable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"rate limited", func(w http.ResponseWriter, r *http.Request) { http.Error(w, "slow down", http.StatusTooManyRequests) }},
		{"not indexed", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"zora20Token":null}`)) }},
		{"garbage", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`<html>`)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := New(srv.URL, "", 84532, time.Minute, nil, nil).Coin(context.Background(), coin)
			require.Error(t, err)
			assert.True(t, errordefs.Is(err, errordefs.VV_MARKET_UNAVAILABLE))
		})
	}
}

func TestCoinZeroAddressSkipsNetwork(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "", 84532, 0, nil, nil).Coin(context.Background(), common.Address{})
	assert.True(t, errordefs.Is(err, errordefs.VV_MARKET_UNAVAILABLE))
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestCoinCachesWithinTTL(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(coinJSON))
	}))
	defer srv.Close()

	now := time.Unix(1700000000, 0)
	c := New(srv.URL, "", 84532, time.Minute, nil, nil)
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, err := c.Coin(context.Background(), coin)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	now = now.Add(2 * time.Minute)
	_, err := c.Coin(context.Background(), coin)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestUnavailableLookup(t *testing.T) {
	_, err := Unavailable.Coin(context.Background(), coin)
	assert.True(t, errordefs.Is(err, errordefs.VV_MARKET_UNAVAILABLE))
}
