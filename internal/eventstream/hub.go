// Package eventstream relays engine events to websocket clients and feeds
// client utterances back to the engine.
package eventstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"chant/internal/engine"
	"chant/internal/intent"
)

const (
	clientBuffer = 64
	writeTimeout = 5 * time.Second
)

// Sink receives what clients say, and their verdict on the last completed
// action.
type Sink interface {
	Submit(u intent.Utterance) bool
	SpeechStarted()

	ConfirmSuccess(ctx context.Context) (bool, error)
	ReportFailure() (actionID string, triggers []string, err error)
	Retry(ctx context.Context, trigger string) error
	Dismiss()
}

// inbound is a client frame. Frames that are not JSON objects are taken as
// plain transcripts.
type inbound struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Audio    string `json:"audio,omitempty"` // base64
	MimeType string `json:"mimeType,omitempty"`
}

// feedback answers a confirm, reject, retry or dismiss frame to the client
// that sent it.
type feedback struct {
	Type     string   `json:"type"`
	Frame    string   `json:"frame"`
	Stored   bool     `json:"stored,omitempty"`
	ActionID string   `json:"actionId,omitempty"`
	Triggers []string `json:"triggers,omitempty"`
	Error    string   `json:"error,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

type Hub struct {
	sink Sink
	log  *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewHub(sink Sink, log *slog.Logger) *Hub {
	return &Hub{sink: sink, log: log, clients: make(map[*client]struct{})}
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish queues ev for every connected client. It never blocks; a client
// whose buffer is full misses the event.
func (h *Hub) Publish(ev engine.Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.log.Warn("Could not encode event.", "type", ev.Type, "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.log.Warn("Event stream client is lagging; event dropped.", "type", ev.Type)
		}
	}
}

func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	go h.writeLoop(ctx, c)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			h.submitAudio(data, "audio/wav")
			continue
		}
		h.handleFrame(ctx, c, data)
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) handleFrame(ctx context.Context, c *client, data []byte) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil || in.Type == "" {
		h.submitText(string(data))
		return
	}
	switch in.Type {
	case "speech-start":
		h.sink.SpeechStarted()
	case "transcript":
		h.submitText(in.Text)
	case "audio":
		audio, err := base64.StdEncoding.DecodeString(in.Audio)
		if err != nil {
			h.log.Warn("Invalid audio frame.", "error", err)
			return
		}
		mime := in.MimeType
		if mime == "" {
			mime = "audio/wav"
		}
		h.submitAudio(audio, mime)
	case "confirm", "reject", "retry", "dismiss":
		h.reply(c, h.review(ctx, in))
	default:
		h.log.Warn("Unknown client frame.", "type", in.Type)
	}
}

func (h *Hub) review(ctx context.Context, in inbound) feedback {
	fb := feedback{Type: "feedback", Frame: in.Type}
	var err error
	switch in.Type {
	case "confirm":
		fb.Stored, err = h.sink.ConfirmSuccess(ctx)
	case "reject":
		fb.ActionID, fb.Triggers, err = h.sink.ReportFailure()
	case "retry":
		trigger := strings.TrimSpace(in.Text)
		if trigger == "" {
			fb.Error = "retry needs a trigger phrase"
			return fb
		}
		err = h.sink.Retry(ctx, trigger)
	case "dismiss":
		h.sink.Dismiss()
	}
	if err != nil {
		h.log.Warn("Feedback frame failed.", "frame", in.Type, "error", err)
		fb.Error = err.Error()
	}
	return fb
}

func (h *Hub) reply(c *client, fb feedback) {
	msg, err := json.Marshal(fb)
	if err != nil {
		h.log.Warn("Could not encode feedback.", "frame", fb.Frame, "error", err)
		return
	}
	select {
	case c.send <- msg:
	default:
		h.log.Warn("Event stream client is lagging; feedback dropped.", "frame", fb.Frame)
	}
}

func (h *Hub) submitText(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if !h.sink.Submit(intent.Utterance{ID: uuid.NewString(), Transcript: text}) {
		h.log.Info("Utterance not accepted.", "transcript", text)
	}
}

func (h *Hub) submitAudio(audio []byte, mime string) {
	if len(audio) == 0 {
		return
	}
	if !h.sink.Submit(intent.Utterance{ID: uuid.NewString(), Audio: audio, MimeType: mime}) {
		h.log.Info("Audio utterance not accepted.", "bytes", len(audio))
	}
}

// Handler serves the event stream at /ws.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.HandleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
