package logger

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"sync"
	"time"
)

// Publisher ships a batch of digest entries, typically to a Kafka topic.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type DigestConfig struct {
	FlushInterval time.Duration
	MaxEntries    int
	Topic         string
	Publisher     Publisher
}

// DigestEntry groups identical error events seen within one flush window.
type DigestEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// Digest aggregates repeated log events and publishes them periodically
// or when MaxEntries distinct events have accumulated.
type Digest struct {
	cfg     DigestConfig
	mu      sync.Mutex
	entries map[uint64]*DigestEntry
	stop    chan struct{}
	wg      sync.WaitGroup
	now     func() time.Time
}

func NewDigest(cfg *DigestConfig) *Digest {
	c := *cfg
	if c.FlushInterval <= 0 {
		c.FlushInterval = 30 * time.Second
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 100
	}
	d := &Digest{
		cfg:     c,
		entries: make(map[uint64]*DigestEntry),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	d.wg.Add(1)
	go d.loop()
	return d
}

func (d *Digest) Add(level, message string, fields map[string]interface{}, caller string) {
	now := d.now()
	key := digestKey(level, message, caller)

	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.entries[key]; ok {
		e.Count++
		e.LastSeen = now
		e.Fields = fields
	} else {
		d.entries[key] = &DigestEntry{
			Level:     level,
			Message:   message,
			Fields:    fields,
			Caller:    caller,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}

	if len(d.entries) >= d.cfg.MaxEntries {
		d.flushLocked()
	}
}

// Fields are excluded from the key so that the same failure with varying
// symbols or ids collapses into one entry.
func digestKey(level, message, caller string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(level))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(message))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(caller))
	return h.Sum64()
}

func (d *Digest) loop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.mu.Lock()
			d.flushLocked()
			d.mu.Unlock()
		case <-d.stop:
			d.mu.Lock()
			d.flushLocked()
			d.mu.Unlock()
			return
		}
	}
}

func (d *Digest) flushLocked() {
	if len(d.entries) == 0 || d.cfg.Publisher == nil {
		return
	}

	batch := make([]DigestEntry, 0, len(d.entries))
	for _, e := range d.entries {
		batch = append(batch, *e)
	}
	sort.Slice(batch, func(i, j int) bool {
		if !batch[i].FirstSeen.Equal(batch[j].FirstSeen) {
			return batch[i].FirstSeen.Before(batch[j].FirstSeen)
		}
		return batch[i].Message < batch[j].Message
	})
	d.entries = make(map[uint64]*DigestEntry)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := d.cfg.Publisher.PublishMessage(ctx, d.cfg.Topic, batch); err != nil {
			fmt.Fprintf(os.Stderr, "log digest publish failed: %v\n", err)
		}
	}()
}

func (d *Digest) Close() {
	close(d.stop)
	d.wg.Wait()
}
