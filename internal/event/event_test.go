package event

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidverse/vidverse-go/internal/model"
)

func TestNewPublisherWithoutURLIsNoop(t *testing.T) {
	p := NewPublisher("", nil, nil)
	_, ok := p.(*noop)
	assert.True(t, ok)
	assert.NoError(t, p.PublishTransaction(context.Background(), model.Transaction{Hash: "0x1", Status: "submitted"}))
	assert.NoError(t, p.Close())
}

func TestNewPublisherUnreachableFallsBackToNoop(t *testing.T) {
	p := NewPublisher("nats://127.0.0.1:1", nil, nil)
	_, ok := p.(*noop)
	assert.True(t, ok)
}

func TestCorrelationIDFlowsIntoEnvelope(t *testing.T) {
	r := NewRecorder()
	ctx := WithCorrelationID(context.Background(), "corr-1")

	require.NoError(t, r.PublishAssetsStored(ctx, "0xabc", model.UploadResult{MetadataCID: "Qmmeta"}))
	require.NoError(t, r.PublishTransaction(ctx, model.Transaction{Hash: "0x1", Status: "confirmed"}))

	assert.Equal(t, []string{"vv.assets.stored", "vv.ledger.confirmed"}, r.Subjects())
	events := r.Events()
	assert.Equal(t, "corr-1", events[0].Envelope.CorrelationID)
	assert.Equal(t, "1.0.0", events[0].Envelope.Version)

	b, err := json.Marshal(events[0].Envelope)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"metadataCid":"Qmmeta"`)
}

func TestAssetsDedupIsPerAccount(t *testing.T) {
	p := &natsPub{dedup: make(map[string]time.Time)}
	upload := model.UploadResult{MetadataCID: "Qmmeta"}

	assert.False(t, p.seen(assetsKey("0xAAA", upload)))
	assert.True(t, p.seen(assetsKey("0xaaa", upload)))
	assert.False(t, p.seen(assetsKey("0xbbb", upload)))
}

func TestCorrelationIDGeneratesWhenAbsent(t *testing.T) {
	a := CorrelationID(context.Background())
	b := CorrelationID(context.Background())
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
