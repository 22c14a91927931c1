// livepeek: terminal viewer for the ledlink live feed.
// Subscribes over WebSocket and draws every frame as true-color blocks.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	flag "github.com/spf13/pflag"

	"github.com/teslashibe/go-ledlink/internal/httpc"
	"github.com/teslashibe/go-ledlink/internal/log"
	"github.com/teslashibe/go-ledlink/pkg/protocol"
)

var (
	flagURL      string
	flagCols     int
	flagPing     time.Duration
	flagLogLevel string
	flagBri      int
	flagHelp     bool
)

func init() {
	flag.StringVarP(&flagURL, "url", "u", "ws://localhost:8080/ws", "Controller WebSocket URL")
	flag.IntVarP(&flagCols, "cols", "w", 64, "Pixels per row for linear strips")
	flag.DurationVar(&flagPing, "ping", 10*time.Second, "Heartbeat interval (0 disables)")
	flag.StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.IntVarP(&flagBri, "bri", "b", -1, "Set brightness (0-255) before watching")
	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
}

// conn serializes writes; the websocket allows one writer at a time.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.ws.Close()
}

// render draws f into w. Matrix frames use their own width; linear frames
// wrap every cols pixels.
func render(w io.Writer, f *protocol.LiveFrame, cols int) {
	if f.Version == protocol.LiveVersionMatrix && f.Width > 0 {
		cols = int(f.Width)
	}
	if cols < 1 {
		cols = 1
	}

	var b strings.Builder
	b.WriteString("\x1b[H")
	for i, px := range f.Pixels {
		b.WriteString(color.BgRGB(int(px.R), int(px.G), int(px.B)).Sprint("  "))
		if (i+1)%cols == 0 || i == len(f.Pixels)-1 {
			b.WriteString("\x1b[K\n")
		}
	}
	fmt.Fprintf(&b, "\x1b[K%d px  v%d", len(f.Pixels), f.Version)
	if f.Version == protocol.LiveVersionMatrix {
		fmt.Fprintf(&b, "  %dx%d", f.Width, f.Height)
	}
	b.WriteString("\x1b[K\n")
	io.WriteString(w, b.String())
}

// describe prints what is on the other end and applies --bri. The live
// feed works without the JSON API, so failures are only logged.
func describe(ctx context.Context) {
	base, err := httpc.BaseURL(flagURL)
	if err != nil {
		log.Warn("no JSON API", "error", err)
		return
	}
	api := httpc.New(base)

	if flagBri >= 0 {
		if err := api.SetState(ctx, map[string]any{"bri": flagBri}); err != nil {
			log.Warn("set brightness failed", "error", err)
		}
	}

	info, err := api.Info(ctx)
	if err != nil {
		log.Warn("device info unavailable", "error", err)
		return
	}
	var count any
	if leds, ok := info["leds"].(map[string]any); ok {
		count = leds["count"]
	}
	log.Info("device", "name", info["name"], "ver", info["ver"], "leds", count, "clients", info["ws"])
}

func main() {
	flag.Parse()
	if flagHelp {
		fmt.Println("Usage: livepeek [OPTION]...")
		flag.PrintDefaults()
		return
	}

	log.Init(log.Options{Level: flagLogLevel, Output: os.Stderr})

	describe(context.Background())

	ws, _, err := websocket.DefaultDialer.Dial(flagURL, nil)
	if err != nil {
		log.Error("dial failed", "url", flagURL, "error", err)
		os.Exit(1)
	}
	c := &conn{ws: ws}
	defer c.close()

	if err := c.send(protocol.LiveRequest(true)); err != nil {
		log.Error("subscribe failed", "error", err)
		os.Exit(1)
	}
	log.Info("subscribed", "url", flagURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if flagPing > 0 {
		go func() {
			ticker := time.NewTicker(flagPing)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := c.send(protocol.PingRequest()); err != nil {
						log.Debug("heartbeat failed", "error", err)
						return
					}
				}
			}
		}()
	}

	go func() {
		<-ctx.Done()
		c.send(protocol.LiveRequest(false))
		c.close()
	}()

	fmt.Print("\x1b[2J")
	frames := 0
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("connection closed", "error", err, "frames", frames)
			}
			return
		}
		switch mt {
		case websocket.BinaryMessage:
			f, err := protocol.ParseLiveFrame(data)
			if err != nil {
				log.Debug("bad frame", "error", err)
				continue
			}
			frames++
			render(os.Stdout, f, flagCols)
		case websocket.TextMessage:
			log.Debug("message", "data", string(data))
		}
	}
}
