package liveevents

import (
	"errors"
	"strings"
	"sync"

	usagedomain "github.com/smallbiznis/pointledger/internal/usage/domain"
)

const (
	DefaultBufferSize       = 50
	DefaultSubscriberBuffer = 16
)

var (
	ErrHubUnavailable = errors.New("hub_unavailable")
	ErrInvalidKey     = errors.New("invalid_stream_key")
)

// AccountKey is the stream of one wallet-owning account.
func AccountKey(accountID string) string {
	return "account:" + strings.TrimSpace(accountID)
}

// OrganizationKey is the stream of every entry written under an organization.
func OrganizationKey(orgID string) string {
	return "organization:" + strings.TrimSpace(orgID)
}

// Hub fans usage records out to in-process subscribers. Each key keeps a
// short backlog so a new subscriber sees recent activity immediately.
type Hub struct {
	mu               sync.RWMutex
	streams          map[string]*stream
	bufferSize       int
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	buffer []usagedomain.UsageRecord
	subs   map[uint64]chan usagedomain.UsageRecord
	nextID uint64
}

type Subscription struct {
	hub  *Hub
	key  string
	id   uint64
	ch   chan usagedomain.UsageRecord
	once sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[string]*stream),
		bufferSize:       DefaultBufferSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

// Broadcast publishes rec to its account stream and, when set, its
// organization stream.
func (h *Hub) Broadcast(rec usagedomain.UsageRecord) {
	if h == nil {
		return
	}
	if rec.AccountID != "" {
		h.Publish(AccountKey(rec.AccountID), rec)
	}
	if rec.OrganizationID != "" {
		h.Publish(OrganizationKey(rec.OrganizationID), rec)
	}
}

// Publish never blocks; slow subscribers drop records.
func (h *Hub) Publish(key string, rec usagedomain.UsageRecord) {
	if h == nil {
		return
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	h.mu.RLock()
	stream := h.streams[key]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	stream.buffer = append(stream.buffer, rec)
	if len(stream.buffer) > h.bufferSize {
		stream.buffer = stream.buffer[len(stream.buffer)-h.bufferSize:]
	}
	subs := make([]chan usagedomain.UsageRecord, 0, len(stream.subs))
	for _, ch := range stream.subs {
		subs = append(subs, ch)
	}
	stream.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- rec:
		default:
		}
	}
}

func (h *Hub) Subscribe(key string) (*Subscription, []usagedomain.UsageRecord, error) {
	if h == nil {
		return nil, nil, ErrHubUnavailable
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil, ErrInvalidKey
	}

	stream := h.ensureStream(key)
	stream.mu.Lock()
	id := stream.nextID
	stream.nextID++
	ch := make(chan usagedomain.UsageRecord, h.subscriberBuffer)
	stream.subs[id] = ch
	backlog := append([]usagedomain.UsageRecord(nil), stream.buffer...)
	stream.mu.Unlock()

	return &Subscription{hub: h, key: key, id: id, ch: ch}, backlog, nil
}

func (h *Hub) ensureStream(key string) *stream {
	h.mu.RLock()
	current := h.streams[key]
	h.mu.RUnlock()
	if current != nil {
		return current
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	current = h.streams[key]
	if current == nil {
		current = &stream{subs: make(map[uint64]chan usagedomain.UsageRecord)}
		h.streams[key] = current
	}
	return current
}

// unsubscribe drops the stream with its last subscriber, backlog included.
func (h *Hub) unsubscribe(key string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	stream := h.streams[key]
	if stream == nil {
		return
	}
	stream.mu.Lock()
	delete(stream.subs, id)
	empty := len(stream.subs) == 0
	stream.mu.Unlock()
	if empty {
		delete(h.streams, key)
	}
}

func (s *Subscription) Events() <-chan usagedomain.UsageRecord {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.key, s.id)
	})
}
