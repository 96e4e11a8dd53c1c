// Package delivery serializes outbound announcements through a single
// consumer with a send throttle and a rate-limit cooldown, so a burst
// of simultaneously-ready targets can never become a burst of sends.
package delivery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ErrRateLimited is wrapped by senders when the platform pushed back;
// it is what flips the queue into cooldown.
var ErrRateLimited = errors.New("rate limited")

// ErrQueueSaturated is returned by Enqueue when the queue is full or
// in cooldown; callers treat it as "not sent".
var ErrQueueSaturated = errors.New("delivery queue saturated")

// Sender is the outbound capability contract. MentionUsers and
// MentionRoles scope which mention classes the message may ping.
type Sender interface {
	Send(ctx context.Context, channelID, content string, mentionUsers, mentionRoles bool) (messageID string, err error)
}

// Request is one queued send. Done is invoked exactly once with
// whether the send completed; Sent fires before Done on success with
// the posted message id.
type Request struct {
	ChannelID    string
	Content      string
	VideoID      string
	MentionUsers bool
	MentionRoles bool
	Sent         func(messageID string)
	Done         func(sent bool)
}

// Options tune the pipeline.
type Options struct {
	// Throttle is the minimum delay between consecutive sends.
	Throttle time.Duration
	// Cooldown is how long sends are refused after a rate-limit signal.
	Cooldown time.Duration
	// Capacity bounds the queue.
	Capacity int
}

// Queue is the single-consumer outbound pipeline.
type Queue struct {
	sender  Sender
	limiter *rate.Limiter
	opts    Options
	ch      chan Request

	mu            sync.Mutex
	cooldownUntil time.Time
}

// NewQueue builds the pipeline; call Run to start the consumer.
func NewQueue(sender Sender, opts Options) *Queue {
	if opts.Capacity <= 0 {
		opts.Capacity = 16
	}
	if opts.Throttle <= 0 {
		opts.Throttle = time.Second
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 5 * time.Minute
	}
	return &Queue{
		sender:  sender,
		limiter: rate.NewLimiter(rate.Every(opts.Throttle), 1),
		opts:    opts,
		ch:      make(chan Request, opts.Capacity),
	}
}

// Enqueue accepts a send request, failing fast during cooldown or when
// the queue is full.
func (q *Queue) Enqueue(req Request) error {
	if q.inCooldown(time.Now()) {
		q.finish(req, false)
		return ErrQueueSaturated
	}
	select {
	case q.ch <- req:
		return nil
	default:
		q.finish(req, false)
		return ErrQueueSaturated
	}
}

// Run consumes the queue until ctx is cancelled. One request at a
// time, throttled; a rate-limit signal drains everything queued and
// engages the cooldown window.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-q.ch:
			q.handle(ctx, req)
		}
	}
}

func (q *Queue) handle(ctx context.Context, req Request) {
	now := time.Now()
	if q.inCooldown(now) {
		q.finish(req, false)
		return
	}

	if err := q.limiter.Wait(ctx); err != nil {
		q.finish(req, false)
		return
	}

	msgID, err := q.sender.Send(ctx, req.ChannelID, req.Content, req.MentionUsers, req.MentionRoles)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			q.engageCooldown()
			q.drain()
		} else {
			log.Error().Err(err).Str("video_id", req.VideoID).Msg("send failed")
		}
		q.finish(req, false)
		return
	}

	log.Info().Str("video_id", req.VideoID).Str("message_id", msgID).Msg("announcement sent")
	if req.Sent != nil {
		req.Sent(msgID)
	}
	q.finish(req, true)
}

func (q *Queue) finish(req Request, sent bool) {
	if req.Done != nil {
		req.Done(sent)
	}
}

func (q *Queue) inCooldown(now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return now.Before(q.cooldownUntil)
}

func (q *Queue) engageCooldown() {
	q.mu.Lock()
	q.cooldownUntil = time.Now().Add(q.opts.Cooldown)
	until := q.cooldownUntil
	q.mu.Unlock()
	log.Warn().Time("until", until).Msg("rate limit detected, delivery cooldown engaged")
}

// drain empties the queue, failing every waiting request.
func (q *Queue) drain() {
	for {
		select {
		case req := <-q.ch:
			q.finish(req, false)
		default:
			return
		}
	}
}
