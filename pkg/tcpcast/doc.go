// ABOUTME: TCP broadcast package
// ABOUTME: Length-prefixed frame server and client
// Package tcpcast streams audio, metadata and control frames over TCP.
//
// The server sends metadata on connect, a heartbeat every HeartbeatInterval and
// drops clients idle longer than IdleTimeout. Each client has its own bounded
// queue, so a slow client loses frames without holding up the others.
//
//	server := tcpcast.NewServer(tcpcast.Config{Listen: ":5001"})
//	server.HandleControl(func(id string, c protocol.Control) { ... })
//	server.Start(ctx)
//	server.BroadcastAudio(pcm)
//
//	client, err := tcpcast.Dial(ctx, tcpcast.ClientConfig{Addr: "host:5001", OnAudio: play})
package tcpcast
