package vk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	longPollWaitSeconds = 25
	longPollRetryDelay  = 3 * time.Second
)

// LongPoller subscribes to the Bots Long Poll API and emits inbound message
// and error events on a channel. One consumer reads the channel; per-peer
// event order is whatever the platform delivered, never reordered here.
type LongPoller struct {
	client     *Client
	pollClient *http.Client
	logger     *slog.Logger
	groupID    int64
	events     chan Event
}

// NewLongPoller creates a poller for the given group.
func NewLongPoller(log *slog.Logger, client *Client, groupID int64) *LongPoller {
	if log == nil {
		log = slog.Default()
	}
	return &LongPoller{
		client: client,
		// The poll request blocks server-side for up to longPollWaitSeconds,
		// so it needs a client with a larger timeout than API calls.
		pollClient: &http.Client{Timeout: (longPollWaitSeconds + 15) * time.Second},
		logger:     log.With(slog.String("component", "longpoll")),
		groupID:    groupID,
		events:     make(chan Event),
	}
}

// Events returns the subscription channel. It is closed when Run returns.
func (p *LongPoller) Events() <-chan Event {
	return p.events
}

// Run polls until ctx is cancelled. Transient failures are reported as error
// events and retried after a short delay; the subscription itself lives for
// the duration of the process.
func (p *LongPoller) Run(ctx context.Context) error {
	defer close(p.events)

	server, err := p.client.GetLongPollServer(ctx, p.groupID)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}
	p.logger.Info("long polling started", slog.Int64("group_id", p.groupID))

	ts := server.TS
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		result, err := p.check(ctx, server, ts)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.emit(ctx, Event{Err: err})
			if !p.sleep(ctx, longPollRetryDelay) {
				return ctx.Err()
			}
			continue
		}

		switch result.Failed {
		case 0:
			ts = result.TS
			for _, update := range result.Updates {
				p.handleUpdate(ctx, update)
			}
		case 1:
			// Event history is partially outdated; resume from the returned ts.
			ts = result.TS
		default:
			// failed 2: only the key expired, the cursor is still valid.
			// failed 3: event information was lost and only the fresh
			// cursor is usable.
			server, err = p.client.GetLongPollServer(ctx, p.groupID)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.emit(ctx, Event{Err: fmt.Errorf("renew long poll server: %w", err)})
				if !p.sleep(ctx, longPollRetryDelay) {
					return ctx.Err()
				}
				continue
			}
			if result.Failed != 2 {
				ts = server.TS
			}
		}
	}
}

type longPollResult struct {
	TS      string           `json:"ts"`
	Failed  int              `json:"failed"`
	Updates []longPollUpdate `json:"updates"`
}

type longPollUpdate struct {
	Type   string          `json:"type"`
	Object json.RawMessage `json:"object"`
}

func (p *LongPoller) check(ctx context.Context, server LongPollServer, ts string) (longPollResult, error) {
	params := url.Values{}
	params.Set("act", "a_check")
	params.Set("key", server.Key)
	params.Set("ts", ts)
	params.Set("wait", strconv.Itoa(longPollWaitSeconds))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.Server+"?"+params.Encode(), nil)
	if err != nil {
		return longPollResult{}, fmt.Errorf("build poll request: %w", err)
	}
	resp, err := p.pollClient.Do(req)
	if err != nil {
		return longPollResult{}, fmt.Errorf("poll: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return longPollResult{}, fmt.Errorf("read poll response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return longPollResult{}, fmt.Errorf("poll: unexpected status %d", resp.StatusCode)
	}
	var result longPollResult
	if err := json.Unmarshal(body, &result); err != nil {
		return longPollResult{}, fmt.Errorf("decode poll response: %w", err)
	}
	return result, nil
}

func (p *LongPoller) handleUpdate(ctx context.Context, update longPollUpdate) {
	if update.Type != "message_new" {
		return
	}
	var object struct {
		Message MessageEvent `json:"message"`
	}
	if err := json.Unmarshal(update.Object, &object); err != nil {
		p.emit(ctx, Event{Err: fmt.Errorf("decode message_new: %w", err)})
		return
	}
	msg := object.Message
	p.emit(ctx, Event{Message: &msg})
}

// emit blocks until the consumer takes the event, so the consumer finishes
// one event before the next is delivered.
func (p *LongPoller) emit(ctx context.Context, event Event) {
	select {
	case p.events <- event:
	case <-ctx.Done():
	}
}

func (p *LongPoller) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
