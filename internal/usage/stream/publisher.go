// Package stream ships usage records to a redis stream for downstream
// analytics.
package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/pointledger/internal/config"
	usagedomain "github.com/smallbiznis/pointledger/internal/usage/domain"
	"github.com/smallbiznis/pointledger/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	publishTimeout = 2 * time.Second
	streamMaxLen   = 100000
)

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	Redis  *redis.Client `optional:"true"`
}

// Publisher is fire-and-forget: Publish returns at once and failures are
// only logged.
type Publisher struct {
	client  *redis.Client
	stream  string
	timeout time.Duration
	log     *zap.Logger
	wg      sync.WaitGroup
}

func NewPublisher(p Params) *Publisher {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{
		client:  p.Redis,
		stream:  p.Config.Ledger.UsageStream,
		timeout: publishTimeout,
		log:     log.Named("usage.stream"),
	}
}

func (p *Publisher) Enabled() bool {
	return p != nil && p.client != nil && p.stream != ""
}

// Publish stamps rec with the correlation and trace ids of ctx and appends it
// to the stream in the background.
func (p *Publisher) Publish(ctx context.Context, rec usagedomain.UsageRecord) {
	if !p.Enabled() {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		p.log.Warn("encode usage record failed", zap.Error(err))
		return
	}
	fields := correlation.InjectIntoFields(ctx, map[string]any{
		"entry_id":   rec.EntryID,
		"kind":       string(rec.Kind),
		"account_id": rec.AccountID,
		"payload":    string(payload),
	})

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		pubCtx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		err := p.client.XAdd(pubCtx, &redis.XAddArgs{
			Stream: p.stream,
			MaxLen: streamMaxLen,
			Approx: true,
			Values: fields,
		}).Err()
		if err != nil {
			p.log.Warn("publish usage record failed",
				zap.String("entry_id", rec.EntryID),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until in-flight publishes finish.
func (p *Publisher) Wait() {
	if p == nil {
		return
	}
	p.wg.Wait()
}
