package monitor

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Resonate-Protocol/soundcast/pkg/audio"
	"github.com/Resonate-Protocol/soundcast/pkg/audio/source"
	"github.com/Resonate-Protocol/soundcast/pkg/mixer"
	"github.com/gorilla/websocket"
)

func newEngine(t *testing.T) *mixer.Engine {
	t.Helper()
	engine, err := mixer.New(mixer.Config{Format: audio.VoiceFormat(), Sink: io.Discard})
	if err != nil {
		t.Fatalf("mixer.New failed: %v", err)
	}
	return engine
}

func mixerStatus(engine *mixer.Engine) func() Status {
	return func() Status {
		return Status{
			Name:  "test-node",
			Mixer: &MixerStatus{Stats: engine.Stats(), Sources: engine.Sources()},
		}
	}
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readReply skips status pushes until a command reply arrives
func readReply(t *testing.T, conn *websocket.Conn) Reply {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			t.Fatalf("bad json %q: %v", data, err)
		}
		if _, ok := fields["ok"]; !ok {
			continue
		}
		var reply Reply
		if err := json.Unmarshal(data, &reply); err != nil {
			t.Fatal(err)
		}
		return reply
	}
}

func TestStatusEndpoint(t *testing.T) {
	engine := newEngine(t)
	engine.AddSource(source.NewSilence(audio.VoiceFormat()), "silence", 1)

	mon := New(Config{Status: mixerStatus(engine)})
	srv := httptest.NewServer(mon.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if st.Name != "test-node" {
		t.Errorf("expected name test-node, got %q", st.Name)
	}
	if st.Mixer == nil || len(st.Mixer.Sources) != 1 {
		t.Fatalf("expected one mixer source, got %+v", st.Mixer)
	}
	if st.Time.IsZero() {
		t.Error("expected snapshot time to be filled in")
	}
	if st.UDP != nil || st.TCP != nil {
		t.Error("expected absent sections to stay nil")
	}
}

func TestStatusRejectsPost(t *testing.T) {
	mon := New(Config{})
	srv := httptest.NewServer(mon.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/status", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}
}

func TestWebSocketPushesStatus(t *testing.T) {
	mon := New(Config{Interval: 20 * time.Millisecond, Status: func() Status {
		return Status{Name: "pushed"}
	}})
	srv := httptest.NewServer(mon.Handler())
	defer srv.Close()

	conn := dialWS(t, srv)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	for i := 0; i < 3; i++ {
		var st Status
		if err := conn.ReadJSON(&st); err != nil {
			t.Fatalf("read %d failed: %v", i, err)
		}
		if st.Name != "pushed" {
			t.Errorf("expected name pushed, got %q", st.Name)
		}
	}
}

func TestWebSocketCommands(t *testing.T) {
	engine := newEngine(t)
	id := engine.AddSource(source.NewSilence(audio.VoiceFormat()), "silence", 1)

	mon := New(Config{
		Interval: time.Hour,
		Status:   mixerStatus(engine),
		Command:  MixerCommands(engine),
	})
	srv := httptest.NewServer(mon.Handler())
	defer srv.Close()

	conn := dialWS(t, srv)

	tests := []struct {
		name   string
		cmd    Command
		wantOK bool
	}{
		{"set gain", Command{Action: "set-gain", Source: id, Value: 0.5}, true},
		{"disable", Command{Action: "disable", Source: id}, true},
		{"unknown source", Command{Action: "set-gain", Source: "nope", Value: 1}, false},
		{"unknown action", Command{Action: "explode", Source: id}, false},
		{"remove", Command{Action: "remove", Source: id}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteJSON(tt.cmd); err != nil {
				t.Fatalf("write failed: %v", err)
			}
			reply := readReply(t, conn)
			if reply.OK != tt.wantOK {
				t.Errorf("expected ok=%v, got %+v", tt.wantOK, reply)
			}
			if !tt.wantOK && reply.Error == "" {
				t.Error("expected error text on failure")
			}
		})
	}

	if engine.Len() != 0 {
		t.Errorf("expected source removed, %d remain", engine.Len())
	}
}

func TestWebSocketInvalidCommand(t *testing.T) {
	mon := New(Config{Interval: time.Hour})
	srv := httptest.NewServer(mon.Handler())
	defer srv.Close()

	conn := dialWS(t, srv)
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	reply := readReply(t, conn)
	if reply.OK || reply.Error != "invalid command" {
		t.Errorf("expected invalid command reply, got %+v", reply)
	}

	// Without a handler every command is refused
	if err := conn.WriteJSON(Command{Action: "remove", Source: "x"}); err != nil {
		t.Fatal(err)
	}
	if reply := readReply(t, conn); reply.OK {
		t.Errorf("expected refusal, got %+v", reply)
	}
}

func TestStartStop(t *testing.T) {
	mon := New(Config{Listen: "127.0.0.1:0"})
	if err := mon.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	addr := mon.Addr().String()

	resp, err := http.Get("http://" + addr + "/status")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()

	mon.Stop()
	mon.Stop()

	if _, err := http.Get("http://" + addr + "/status"); err == nil {
		t.Error("expected request to fail after Stop")
	}
}
