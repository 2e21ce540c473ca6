package contentstore

import (
	"context"
	"time"

	"github.com/vidverse/vidverse-go/internal/metrics"
	"github.com/vidverse/vidverse-go/internal/model"
)

// instrumented records call counts and durations for a wrapped Client.
type instrumented struct {
	next    Client
	metrics *metrics.Metrics
}

// Instrument wraps c so every call is observed by m. A nil m returns c unchanged.
func Instrument(c Client, m *metrics.Metrics) Client {
	if m == nil {
		return c
	}
	return &instrumented{next: c, metrics: m}
}

func (i *instrumented) Store(ctx context.Context, assets []model.MediaAsset) (BatchResult, error) {
	start := time.Now()
	res, err := i.next.Store(ctx, assets)
	i.metrics.ObserveContentStore("store", metrics.Status(err), time.Since(start))
	return res, err
}

func (i *instrumented) StoreJSON(ctx context.Context, doc interface{}) (string, error) {
	start := time.Now()
	c, err := i.next.StoreJSON(ctx, doc)
	i.metrics.ObserveContentStore("store_json", metrics.Status(err), time.Since(start))
	return c, err
}
