package collab

import "encoding/json"

// route keys a handler by topic and, for typed topics, the payload "type".
type route struct {
	topic string
	kind  string
}

// typedTopics carry a "type" discriminator in their payload.
var typedTopics = map[string]bool{
	TopicCode:  true,
	TopicUsers: true,
}

// Dispatcher routes inbound envelopes to the handler registered for their
// topic and type. Unknown topics, unknown types and malformed payloads are
// dropped without error.
type Dispatcher struct {
	routes  map[route]func(json.RawMessage) error
	logger  Logger
	metrics *Metrics
}

func NewDispatcher(logger Logger, metrics *Metrics) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{
		routes:  make(map[route]func(json.RawMessage) error),
		logger:  logger,
		metrics: metrics,
	}
}

// checker is implemented by payloads that can decode cleanly yet still be
// unusable, such as {} or null.
type checker interface {
	complete() bool
}

// On registers fn for topic/kind, decoding the payload into T. kind is
// empty for topics without a type discriminator.
func On[T any](d *Dispatcher, topic, kind string, fn func(T)) {
	d.routes[route{topic: topic, kind: kind}] = func(raw json.RawMessage) error {
		var v T
		if err := UnmarshalData(raw, &v); err != nil {
			return WrapError(ErrorSerialization, "decode "+topic, err)
		}
		if c, ok := any(v).(checker); ok && !c.complete() {
			return NewError(ErrorSerialization, "incomplete "+topic+" payload")
		}
		fn(v)
		return nil
	}
}

func (d *Dispatcher) Dispatch(env Envelope) {
	d.metrics.incInbound(env.Topic)

	key := route{topic: env.Topic}
	if typedTopics[env.Topic] {
		var head struct {
			Type string `json:"type"`
		}
		if err := UnmarshalData(env.Data, &head); err != nil {
			d.ignore("malformed", env, err)
			return
		}
		key.kind = head.Type
	}

	fn, ok := d.routes[key]
	if !ok {
		d.ignore("unknown_route", env, nil)
		return
	}
	if err := fn(env.Data); err != nil {
		d.ignore("malformed", env, err)
	}
}

func (d *Dispatcher) ignore(reason string, env Envelope, err error) {
	d.metrics.incIgnored(reason)
	fields := map[string]any{"topic": env.Topic, "reason": reason}
	if err != nil {
		fields["error"] = err.Error()
	}
	d.logger.Debug("inbound message ignored", fields)
}
