package hub

import "github.com/signalk/signalk-server-go/internal/model"

// DropEmptyUpdates is a built-in interception handler that drops deltas
// whose every Update carries no PathValues, a cheap no-I/O filter
// collaborators can include at the front of their chain.
func DropEmptyUpdates() InputHandler {
	return func(d model.Delta) (model.Delta, Action) {
		for _, u := range d.Updates {
			if len(u.Values) > 0 {
				return d, ActionPass
			}
		}
		return d, ActionDrop
	}
}
