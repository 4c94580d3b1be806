package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/brandguard/am"
	"github.com/teranos/brandguard/errors"
)

// AuditCmd streams one audit from a running server
var AuditCmd = &cobra.Command{
	Use:   "audit <video-url>",
	Short: "Audit a video against a running server",
	Long: `Connect to a brandguard server, request an audit of one video and print
the pipeline events as they arrive. Exits non-zero when the audit fails
compliance, faults or is rejected.

Examples:
  brandguard audit https://www.youtube.com/watch?v=dQw4w9WgXcQ
  brandguard audit ./ads/spot.mp4 --server ws://audit.internal:8000
  brandguard audit https://vimeo.com/42 --raw | jq .`,
	Args: cobra.ExactArgs(1),
	RunE: runAudit,
}

var (
	auditServer string
	auditRaw    bool
)

func init() {
	AuditCmd.Flags().StringVar(&auditServer, "server", "", "Server base URL (default ws://localhost:<server.port>)")
	AuditCmd.Flags().BoolVar(&auditRaw, "raw", false, "Print every message as received, one JSON object per line")
}

// auditMessage is the union of every message the server sends
type auditMessage struct {
	Type      string          `json:"type"`
	Name      string          `json:"name"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
	Message   string          `json:"message"`
	Status    string          `json:"status"`
	SessionID string          `json:"session_id"`
	Error     string          `json:"error"`
}

// auditSummary is what the client learned from one stream
type auditSummary struct {
	SessionID   string
	Events      int
	Findings    int
	FinalStatus string
	Report      string
	Completed   bool
	Fault       string
	Rejected    string
}

// streamRenderer prints server messages and accumulates the summary
type streamRenderer struct {
	w       io.Writer
	raw     bool
	graph   string
	summary auditSummary
}

func (r *streamRenderer) handle(data []byte) error {
	var msg auditMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return errors.Wrap(err, "decode server message")
	}
	if r.raw {
		fmt.Fprintln(r.w, string(data))
	}

	switch {
	case msg.Error != "":
		r.summary.Rejected = msg.Error
		r.printf(pterm.FgRed, "rejected: %s", msg.Error)
	case msg.Type == "system" && msg.SessionID != "":
		r.summary.SessionID = msg.SessionID
		r.printf(pterm.FgCyan, "%s (session %s)", msg.Message, msg.SessionID)
	case msg.Type == "system":
		r.summary.Completed = msg.Status == "done"
		r.printf(pterm.FgCyan, "%s", msg.Message)
	case msg.Type == "error":
		r.summary.Fault = msg.Message
		r.printf(pterm.FgRed, "error: %s", msg.Message)
	default:
		r.summary.Events++
		r.event(msg)
	}
	return nil
}

func (r *streamRenderer) event(msg auditMessage) {
	var payload struct {
		Output map[string]any `json:"output"`
		Chunk  map[string]any `json:"chunk"`
	}
	_ = json.Unmarshal(msg.Data, &payload)

	switch msg.Type {
	case "on_chain_start":
		if r.graph == "" {
			r.graph = msg.Name
			return
		}
		r.printf(pterm.FgGray, "> %s", msg.Name)
	case "on_chain_end":
		if s, ok := payload.Output["final_status"].(string); ok && s != "" {
			r.summary.FinalStatus = s
		}
		if rep, ok := payload.Output["final_report"].(string); ok && rep != "" {
			r.summary.Report = rep
		}
		if msg.Name != r.graph {
			r.printf(pterm.FgGreen, "ok %s", msg.Name)
		}
	case "on_chain_stream":
		if f, ok := payload.Chunk["finding"].(map[string]any); ok {
			r.summary.Findings++
			color := pterm.FgYellow
			if f["severity"] == "critical" {
				color = pterm.FgRed
			}
			r.printf(color, "  [%v] %v: %v", f["severity"], f["category"], f["description"])
			return
		}
		if status, ok := payload.Chunk["status"].(string); ok {
			r.printf(pterm.FgGray, "  %s: %s", msg.Name, status)
		}
	}
}

func (r *streamRenderer) printf(color pterm.Color, format string, args ...any) {
	if r.raw {
		return
	}
	fmt.Fprintln(r.w, color.Sprintf(format, args...))
}

// err turns the summary into the command's exit status
func (s auditSummary) err() error {
	switch {
	case s.Rejected != "":
		return errors.Newf("audit rejected: %s", s.Rejected)
	case s.Fault != "":
		return errors.Newf("audit faulted: %s", s.Fault)
	case !s.Completed:
		return errors.New("connection closed before the audit completed")
	case s.FinalStatus == "fail":
		return errors.Newf("video failed compliance with %d findings", s.Findings)
	}
	return nil
}

// auditEndpoint resolves the WebSocket URL from --server or server.port
func auditEndpoint(base string, port int) (string, error) {
	if base == "" {
		base = fmt.Sprintf("ws://localhost:%d", port)
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", errors.Wrapf(err, "parse server URL %q", base)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", errors.Newf("unsupported server scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/audit"
	return u.String(), nil
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	endpoint, err := auditEndpoint(auditServer, cfg.Server.Port)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return errors.Wrapf(err, "connect to %s: HTTP %d", endpoint, resp.StatusCode)
		}
		return errors.Wrapf(err, "connect to %s", endpoint)
	}
	defer conn.Close()

	// Ctrl+C ends the session from our side; the server stops the run
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	if err := conn.WriteJSON(map[string]string{"video_url": args[0]}); err != nil {
		return errors.Wrap(err, "send audit request")
	}

	r := &streamRenderer{w: cmd.OutOrStdout(), raw: auditRaw}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return errors.New("interrupted")
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return errors.Wrap(err, "read from server")
			}
			break
		}
		if err := r.handle(data); err != nil {
			return err
		}
	}

	if !auditRaw && r.summary.Report != "" {
		fmt.Fprintln(cmd.OutOrStdout())
		fmt.Fprintln(cmd.OutOrStdout(), r.summary.Report)
	}
	return r.summary.err()
}
