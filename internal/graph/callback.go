package graph

// Names of the nodes generated inside a callback composite.
const (
	EmbeddedStartName = "EmbeddedStart"
	EmbeddedEndName   = "EmbeddedEnd"
)

// CallbackState adds a callback composite to b and returns its id.
//
// The embedded body is EmbeddedStart -> [action] -> event -> EmbeddedEnd.
// When action is empty the start connects directly to the event node. The
// embedded end terminates only the body; the parent continues from the
// composite's outgoing connection as soon as the body ends.
func CallbackState(b *Builder, name, action string, event EventSpec) int64 {
	id, body := b.Composite(name)

	prev := body.Start(EmbeddedStartName)
	if action != "" {
		act := body.Action(action, action)
		body.Connect(prev, act)
		prev = act
	}

	ev := body.Event(event.Ref, event)
	body.Connect(prev, ev)

	end := body.End(EmbeddedEndName, true)
	body.Connect(ev, end)
	return id
}
