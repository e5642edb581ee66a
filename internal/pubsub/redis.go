// Package pubsub fans notifications out to Redis. Each event is published on
// the per-user channel user_{id} and kept in a capped per-user history list.
package pubsub

import (
	"context"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/redis/go-redis/v9"

	"github.com/campeche/checkout/internal/domain/notify"
)

var _ notify.Sink = (*RedisSink)(nil)

// DefaultHistory is the number of events kept per user.
const DefaultHistory = 50

// Channel returns the pub/sub channel of a user.
func Channel(userID int64) string {
	return "user_" + strconv.FormatInt(userID, 10)
}

// HistoryKey returns the list key holding a user's recent events.
func HistoryKey(userID int64) string {
	return "notifications:" + Channel(userID)
}

// RedisSink delivers notifications through Redis.
type RedisSink struct {
	client  redis.UniversalClient
	history int64
}

// NewRedisSink creates a RedisSink keeping up to history events per user.
// A non-positive history uses DefaultHistory.
func NewRedisSink(client redis.UniversalClient, history int) *RedisSink {
	if history <= 0 {
		history = DefaultHistory
	}
	return &RedisSink{client: client, history: int64(history)}
}

// Deliver publishes e and appends it to the user's history atomically.
func (s *RedisSink) Deliver(ctx context.Context, e notify.Event) error {
	payload := Encode(e)
	key := HistoryKey(e.UserID)

	if _, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, payload)
		pipe.LTrim(ctx, key, 0, s.history-1)
		pipe.Publish(ctx, Channel(e.UserID), payload)
		return nil
	}); err != nil {
		return errors.Wrapf(err, "publish %s to user %d", e.Type, e.UserID)
	}
	return nil
}

// Ping checks the connection.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Encode renders e as a JSON object. Data keys are written in sorted order.
func Encode(e notify.Event) []byte {
	enc := jx.GetEncoder()
	defer jx.PutEncoder(enc)

	enc.ObjStart()
	enc.FieldStart("type")
	enc.Str(string(e.Type))
	enc.FieldStart("user_id")
	enc.Int64(e.UserID)
	enc.FieldStart("title")
	enc.Str(e.Title)
	enc.FieldStart("message")
	enc.Str(e.Message)
	enc.FieldStart("data")
	enc.ObjStart()
	for _, k := range slices.Sorted(maps.Keys(e.Data)) {
		enc.FieldStart(k)
		enc.Str(e.Data[k])
	}
	enc.ObjEnd()
	enc.FieldStart("created_at")
	enc.Str(e.CreatedAt.UTC().Format(time.RFC3339Nano))
	enc.ObjEnd()

	return slices.Clone(enc.Bytes())
}

// decode parses a payload produced by Encode.
func decode(payload []byte) (notify.Event, error) {
	var e notify.Event
	err := jx.DecodeBytes(payload).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "type":
			v, err := d.Str()
			e.Type = notify.Type(v)
			return err
		case "user_id":
			v, err := d.Int64()
			e.UserID = v
			return err
		case "title":
			v, err := d.Str()
			e.Title = v
			return err
		case "message":
			v, err := d.Str()
			e.Message = v
			return err
		case "data":
			e.Data = map[string]string{}
			return d.Obj(func(d *jx.Decoder, k string) error {
				v, err := d.Str()
				e.Data[k] = v
				return err
			})
		case "created_at":
			v, err := d.Str()
			if err != nil {
				return err
			}
			e.CreatedAt, err = time.Parse(time.RFC3339Nano, v)
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return notify.Event{}, errors.Wrap(err, "decode notification")
	}
	return e, nil
}
