package progress

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

var heartbeatInterval = 30 * time.Second

type logPayload struct {
	Log  string    `json:"log"`
	Time time.Time `json:"time"`
}

type screenshotPayload struct {
	Image string    `json:"image"`
	Time  time.Time `json:"time"`
}

func writeSSE(w http.ResponseWriter, event string, data []byte) error {
	var err error
	if event != "" {
		_, err = fmt.Fprintf(w, "event: %s\n", event)
		if err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func writeEventSSE(w http.ResponseWriter, ev Event) error {
	if ev.Log != "" {
		data, err := json.Marshal(logPayload{Log: ev.Log, Time: ev.Time})
		if err != nil {
			return err
		}
		err = writeSSE(w, "", data)
		if err != nil {
			return err
		}
	}
	if len(ev.Image) > 0 {
		err := writeSSE(w, "screenshot", []byte(base64.StdEncoding.EncodeToString(ev.Image)))
		if err != nil {
			return err
		}
	}
	return nil
}

// ServeSSE streams `ch` as server-sent events until the channel is closed or
// the consumer goes away. Plain log events are `data: {"log", "time"}` lines,
// snapshots are `screenshot` events carrying a base64 png and the end of the
// session is an `end` event.
func ServeSSE(w http.ResponseWriter, r *http.Request, ch *Channel) {
	defer ch.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_, err := fmt.Fprint(w, ": heartbeat\n\n")
			if err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-ch.Events():
			if !ok {
				writeSSE(w, "end", []byte("{}"))
				flusher.Flush()
				return
			}
			err := writeEventSSE(w, ev)
			if err != nil {
				ch.registry.tel.ReportDebug("sse write", ch.id, err)
				return
			}
			flusher.Flush()
		}
	}
}

type wsMessage struct {
	Type  string    `json:"type"`
	Log   string    `json:"log,omitempty"`
	Image string    `json:"image,omitempty"`
	Time  time.Time `json:"time"`
}

// ServeWebSocket is ServeSSE for consumers that prefer a websocket, every
// event is a json message of type "log", "screenshot" or "end".
func ServeWebSocket(w http.ResponseWriter, r *http.Request, ch *Channel) {
	defer ch.Close()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		ch.registry.tel.ReportWarning("websocket accept", ch.id, err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "session ended")

	// the consumer never sends anything, CloseRead notices when it leaves
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch.Events():
			if !ok {
				wsjson.Write(ctx, conn, wsMessage{Type: "end"})
				return
			}
			err := writeEventWebSocket(ctx, conn, ev)
			if err != nil {
				return
			}
		}
	}
}

func writeEventWebSocket(ctx context.Context, conn *websocket.Conn, ev Event) error {
	if ev.Log != "" {
		err := wsjson.Write(ctx, conn, wsMessage{Type: "log", Log: ev.Log, Time: ev.Time})
		if err != nil {
			return err
		}
	}
	if len(ev.Image) > 0 {
		err := wsjson.Write(ctx, conn, wsMessage{
			Type:  "screenshot",
			Image: base64.StdEncoding.EncodeToString(ev.Image),
			Time:  ev.Time,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
