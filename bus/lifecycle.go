package bus

// LifecycleKind enumerates the events published on the $lifecycle
// system channel when lifecycle tracking is enabled.
type LifecycleKind uint8

const (
	ChannelCreated LifecycleKind = iota
	ChannelDeleted
	SubscriptionCreated
	SubscriptionDisposed
)

func (k LifecycleKind) String() string {
	switch k {
	case ChannelCreated:
		return "ChannelCreated"
	case ChannelDeleted:
		return "ChannelDeleted"
	case SubscriptionCreated:
		return "SubscriptionCreated"
	case SubscriptionDisposed:
		return "SubscriptionDisposed"
	default:
		return "Unknown"
	}
}

// LifecycleEvent is the body published on "$lifecycle" and optionally
// mirrored to the router's logger for operators who don't subscribe,
// adapted from the teacher's Alerter/AuditLogger shape in
// internal/shared/monitoring/alerting.go.
type LifecycleEvent struct {
	Kind           LifecycleKind
	Channel        string
	SubscriptionID int64
	SubscriptionNm string
}

func (r *Router) lifecycleChannelName() string {
	return r.opts.SystemPrefix + "lifecycle"
}

func (r *Router) emitLifecycle(ev LifecycleEvent) {
	if !r.lifecycleTrackingEnabled.Load() {
		return
	}
	r.opts.Logger.Info().
		Str("kind", ev.Kind.String()).
		Str("channel", ev.Channel).
		Int64("subscription_id", ev.SubscriptionID).
		Msg("lifecycle event")

	_ = publishInternal(r, r.lifecycleChannelName(), ev, publishParams{msgType: Trace})
}
