// ABOUTME: UDP broadcast package
// ABOUTME: Fire-and-forget audio fan-out with heartbeat presence
// Package broadcast runs a UDP node that sends mixed audio to every endpoint
// that has recently sent it a heartbeat.
//
// A relay injects audio it receives into its mixer; a listener plays it on a
// local output. Both send heartbeats to their static targets and send whatever
// the mixer wrote to Writer to the endpoints in the presence registry.
//
//	session, _ := broadcast.New(broadcast.Config{Name: "relay", Listen: ":5000"}, nil, nil)
//	engine, _ := mixer.New(mixer.Config{Format: audio.VoiceFormat(), Sink: session.Writer()})
//	session.AttachMixer(engine)
//	session.Start(ctx)
package broadcast
