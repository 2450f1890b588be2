package door

// EventSink receives every broadcast in addition to the subscribed clients.
// Publish is called from the reactor and must not block.
type EventSink interface {
	Publish(cat Category, line string)
}

// DeliveryError records a broadcast write that failed for one recipient.
type DeliveryError struct {
	ID  ConnID
	Err error
}

// Broadcast writes text to every connection subscribed to cat, except the
// connection exclude. A failed write does not stop delivery to the others
// and does not remove the recipient; the reactor notices dead peers on read.
func (r *Registry) Broadcast(cat Category, text string, exclude ConnID) (delivered int, failed []DeliveryError) {
	for _, c := range r.conns {
		if !c.Subscribed(cat) || c.id == exclude {
			continue
		}
		if err := c.WriteLine(text); err != nil {
			failed = append(failed, DeliveryError{ID: c.id, Err: err})
			continue
		}
		delivered++
	}
	return delivered, failed
}
