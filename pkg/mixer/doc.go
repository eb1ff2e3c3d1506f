// Package mixer combines any number of PCM sources into a single output stream.
//
// Each tick reads one block from every enabled source, converts it to the output
// sample rate and channel layout, scales it by the source gain and sums it. Silent
// mixes are not written so the sink can drain.
//
//	engine, _ := mixer.New(mixer.Config{Format: audio.VoiceFormat(), Sink: ring})
//	id := engine.AddSource(source.NewTone(audio.VoiceFormat(), 440, 0.5), "tone", 1.0)
//	engine.Start(ctx)
//	defer engine.Stop()
package mixer
