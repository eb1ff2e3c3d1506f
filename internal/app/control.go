// ABOUTME: Control commands received from TCP clients
// ABOUTME: Maps start, stop, pause, resume and set-volume onto the mixer
package app

import (
	"log"

	"github.com/Resonate-Protocol/soundcast/pkg/mixer"
	"github.com/Resonate-Protocol/soundcast/pkg/protocol"
)

// handleControl applies a client command to every mixer source. Pause and
// stop mute the mix without dropping sources; start and resume unmute it.
func (n *Node) handleControl(clientID string, ctrl protocol.Control) {
	if n.config.Debug {
		log.Printf("[DEBUG] Control from %s: %s %v", clientID, ctrl.Command, ctrl.Parameter)
	}
	applyControl(n.engine, ctrl)
}

func applyControl(engine *mixer.Engine, ctrl protocol.Control) {
	sources := engine.Sources()

	switch ctrl.Command {
	case protocol.CommandStart, protocol.CommandResume:
		for _, s := range sources {
			engine.SetEnabled(s.ID, true)
		}
	case protocol.CommandStop, protocol.CommandPause:
		for _, s := range sources {
			engine.SetEnabled(s.ID, false)
		}
	case protocol.CommandSetVolume:
		for _, s := range sources {
			engine.SetGain(s.ID, ctrl.Parameter)
		}
	default:
		log.Printf("Ignoring control command %s", ctrl.Command)
		return
	}
	log.Printf("Applied %s to %d sources", ctrl.Command, len(sources))
}
