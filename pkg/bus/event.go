package bus

// Event is a bridge event. The set of implementations is closed: Publish,
// Cursor and Stop.
type Event interface {
	isEvent()
}

// Publish carries one change ready for delivery to the broker.
type Publish struct {
	// Table is the source table, used as the routing key.
	Table string
	// Payload is the JSON encoded {"key": ..., "value": ...} document.
	Payload []byte
}

// Cursor carries a checkpoint ready to be persisted.
type Cursor struct {
	Table  string
	Cursor string
}

// Stop asks the consumer of the bus to exit after draining what came before.
type Stop struct{}

func (Publish) isEvent() {}
func (Cursor) isEvent()  {}
func (Stop) isEvent()    {}

// Kind returns a short name for the event, used as a metrics label.
func Kind(e Event) string {
	switch e.(type) {
	case Publish:
		return "publish"
	case Cursor:
		return "cursor"
	case Stop:
		return "stop"
	default:
		return "unknown"
	}
}
