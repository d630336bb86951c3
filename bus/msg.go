// Package bus implements an in-process, typed publish/subscribe message
// router with wildcard routing, per-key state retention, bounded
// subscription queues with overflow policies, and observability.
package bus

import "time"

// MsgType identifies the kind of payload carried by a Msg.
type MsgType uint8

const (
	ChannelUpdate MsgType = iota
	ChannelDelete
	ChannelReset
	Trace
	ChannelDisconnected
)

func (t MsgType) String() string {
	switch t {
	case ChannelUpdate:
		return "ChannelUpdate"
	case ChannelDelete:
		return "ChannelDelete"
	case ChannelReset:
		return "ChannelReset"
	case Trace:
		return "Trace"
	case ChannelDisconnected:
		return "ChannelDisconnected"
	default:
		return "Unknown"
	}
}

// Msg is the value record carried between publishers and subscribers.
// B is the payload type; one Channel carries exactly one B for its
// lifetime (see TypeMismatch).
type Msg[B any] struct {
	ID             int64
	Timestamp      int64
	Type           MsgType
	CorrelationID  int64
	Key            string
	HasKey         bool
	InceptionTicks int64
	From           string
	Body           B
	TagA           int64
}

// envelope is the type-erased form of Msg used internally so one Router
// can host channels of differing body types without reflection-heavy
// dispatch on the hot path; body identity is checked once at
// publish/subscribe time against the owning channel's bodyType.
type envelope struct {
	id             int64
	timestamp      int64
	msgType        MsgType
	correlationID  int64
	key            string
	hasKey         bool
	inceptionTicks int64
	from           string
	body           any
	tagA           int64
}

func toEnvelope[B any](m Msg[B]) envelope {
	return envelope{
		id:             m.ID,
		timestamp:      m.Timestamp,
		msgType:        m.Type,
		correlationID:  m.CorrelationID,
		key:            m.Key,
		hasKey:         m.HasKey,
		inceptionTicks: m.InceptionTicks,
		from:           m.From,
		body:           m.Body,
		tagA:           m.TagA,
	}
}

func fromEnvelope[B any](e envelope) (Msg[B], error) {
	var body B
	if e.body != nil {
		b, ok := e.body.(B)
		if !ok {
			var zero Msg[B]
			return zero, ErrTypeMismatch
		}
		body = b
	}
	return Msg[B]{
		ID:             e.id,
		Timestamp:      e.timestamp,
		Type:           e.msgType,
		CorrelationID:  e.correlationID,
		Key:            e.key,
		HasKey:         e.hasKey,
		InceptionTicks: e.inceptionTicks,
		From:           e.from,
		Body:           body,
		TagA:           e.tagA,
	}, nil
}

func nowTicks() int64 { return time.Now().UnixNano() }
