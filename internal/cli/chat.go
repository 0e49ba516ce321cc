package cli

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/bufbuild/connect-go"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"

	"github.com/animus-coder/codevet/internal/agent"
	"github.com/animus-coder/codevet/internal/rpc"
	"github.com/animus-coder/codevet/internal/rpc/chat"
	"github.com/animus-coder/codevet/internal/rpc/connectjson"
)

const maxEventBytes = 4 << 20

// NewChatCmd wires the chat command to stream events from the daemon.
func NewChatCmd(opts *Options) *cobra.Command {
	var modelOverride, mode, attachPath, sessionID, daemonAddr string
	var chunkIndex int
	var analyze bool

	cmd := &cobra.Command{
		Use:   "chat \"<prompt>\"",
		Short: "Send a prompt to the daemon and stream the reply with its verdicts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			prompt := args[0]
			if strings.TrimSpace(prompt) == "" {
				return fmt.Errorf("prompt cannot be empty")
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if sessionID == "" {
				sessionID = "cli-" + uuid.NewString()
			}
			reqBody := rpc.ChatRequest{
				SessionID: sessionID,
				Model:     modelOverride,
				Mode:      mode,
				Prompt:    prompt,
			}
			if attachPath != "" {
				data, err := os.ReadFile(attachPath)
				if err != nil {
					return fmt.Errorf("read attachment: %w", err)
				}
				reqBody.Attachment = &agent.Attachment{Name: filepath.Base(attachPath), Content: string(data)}
			}
			if cmd.Flags().Changed("chunk") {
				reqBody.ChunkIndex = &chunkIndex
			}
			if cmd.Flags().Changed("analyze") {
				reqBody.Analyze = &analyze
			}

			addr := daemonAddr
			if addr == "" {
				addr = cfg.Server.Addr
			}
			baseURL := daemonURL(addr)
			switch strings.ToLower(strings.TrimSpace(cfg.Server.Transport)) {
			case "ndjson":
				return runNDJSON(ctx, cmd, baseURL+"/chat", reqBody)
			default:
				return runConnect(ctx, cmd, baseURL+chat.ConnectChatProcedure, reqBody)
			}
		},
	}

	cmd.Flags().StringVar(&modelOverride, "model", "", "Override the configured model for this turn")
	cmd.Flags().StringVar(&mode, "mode", "", "Assistant mode: architect, coder, security, database, refactor")
	cmd.Flags().StringVar(&attachPath, "attach", "", "Attach a file; the most relevant chunk is sent as context")
	cmd.Flags().IntVar(&chunkIndex, "chunk", 0, "Send this chunk of the attachment instead of the most relevant one")
	cmd.Flags().BoolVar(&analyze, "analyze", true, "Run the configured tools on every fragment of the reply")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id (default: random)")
	cmd.Flags().StringVar(&daemonAddr, "daemon", "", "Daemon address (default: server.addr)")
	return cmd
}

func daemonURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func runNDJSON(ctx context.Context, cmd *cobra.Command, url string, reqBody rpc.ChatRequest) error {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("daemon returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventBytes)
	r := &eventRenderer{out: cmd.OutOrStdout()}
	for scanner.Scan() {
		var evt rpc.ChatEvent
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := r.render(evt); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func runConnect(ctx context.Context, cmd *cobra.Command, url string, reqBody rpc.ChatRequest) error {
	client := connect.NewClient[rpc.ChatStreamRequest, rpc.ChatEvent](buildH2CClient(), url, connect.WithCodec(connectjson.Codec{}))
	stream := client.CallBidiStream(ctx)

	if err := stream.Send(&rpc.ChatStreamRequest{Chat: &reqBody}); err != nil {
		return err
	}

	// propagate cancellation to the daemon.
	go func() {
		<-ctx.Done()
		_ = stream.Send(&rpc.ChatStreamRequest{Cancel: true, SessionID: reqBody.SessionID})
		_ = stream.CloseRequest()
	}()

	r := &eventRenderer{out: cmd.OutOrStdout()}
	for {
		evt, err := stream.Receive()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := r.render(*evt); err != nil {
			return err
		}
	}
	return stream.CloseResponse()
}

// eventRenderer prints streamed tokens as they arrive and skips the duplicate full message.
type eventRenderer struct {
	out      io.Writer
	streamed bool
}

func (r *eventRenderer) render(evt rpc.ChatEvent) error {
	switch evt.Type {
	case rpc.EventToken:
		r.streamed = true
		fmt.Fprint(r.out, evt.Token)
	case rpc.EventMessage:
		if r.streamed {
			fmt.Fprintln(r.out)
		} else {
			fmt.Fprintln(r.out, evt.Message)
		}
	case rpc.EventBudget:
		if evt.Budget != nil && (evt.Budget.Dropped > 0 || evt.Budget.Overflow) {
			fmt.Fprintf(r.out, "[budget] dropped %d messages, %d chars sent\n", evt.Budget.Dropped, evt.Budget.TotalChars)
		}
		if evt.Excerpt != nil {
			fmt.Fprintf(r.out, "[context] %s part %d of %d\n", evt.Excerpt.Name, evt.Excerpt.ChunkIndex+1, evt.Excerpt.ChunkCount)
		}
	case rpc.EventVerdict:
		if evt.Report != nil {
			renderReport(r.out, *evt.Report, 0)
		}
	case rpc.EventProposal:
		if evt.Proposal != nil {
			fmt.Fprintf(r.out, "[proposal %s] %s %s (%s)\n", evt.Proposal.ID, evt.Proposal.Operation, evt.Proposal.TargetPath, evt.Proposal.State)
		}
	case rpc.EventDone:
		fmt.Fprintln(r.out, "[done]")
	case rpc.EventError:
		return fmt.Errorf("daemon error: %s", evt.Error)
	}
	return nil
}

func buildH2CClient() *http.Client {
	return &http.Client{
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	}
}
