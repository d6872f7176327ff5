package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/spf13/cobra"

	"github.com/projectx/agentx/pkg/protocol"
)

func chatCmd() *cobra.Command {
	var url string
	var conversationID int64

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat against a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), url, conversationID)
		},
	}
	cmd.Flags().StringVar(&url, "url", "ws://127.0.0.1:8000/messaging/ws", "websocket endpoint")
	cmd.Flags().Int64Var(&conversationID, "conversation", 0, "resume an existing conversation")
	return cmd
}

func runChat(ctx context.Context, url string, conversationID int64) error {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", url, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(1 << 22)

	fmt.Fprintln(os.Stderr, "Connected. Type \"exit\" to quit.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "You: ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return nil
		}

		frame := protocol.Frame{Content: input, ConversationID: conversationID}
		if err := wsjson.Write(ctx, conn, frame); err != nil {
			return fmt.Errorf("send frame: %w", err)
		}

		id, err := readTurn(ctx, conn, conversationID)
		if err != nil {
			return err
		}
		conversationID = id
	}
}

// readTurn prints envelopes until the turn completes or fails. Returns the
// conversation id, which may have been created by this turn.
func readTurn(ctx context.Context, conn *websocket.Conn, conversationID int64) (int64, error) {
	for {
		var env map[string]any
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return conversationID, fmt.Errorf("connection lost: %w", err)
		}

		switch env["type"] {
		case protocol.EventConversationCreated:
			if id, ok := env["conversation_id"].(float64); ok {
				conversationID = int64(id)
				fmt.Fprintf(os.Stderr, "[conversation %d]\n", conversationID)
			}
		case protocol.EventNodeAdded:
			printNode(env)
		case protocol.EventToolStart:
			fmt.Fprintf(os.Stderr, "  [tool] %v\n", env["tool_name"])
		case protocol.EventToolComplete:
			if env["status"] != protocol.ToolStatusSuccess {
				fmt.Fprintf(os.Stderr, "  [tool] %v failed: %v\n", env["tool_name"], env["error_message"])
			}
		case protocol.EventMessageComplete:
			fmt.Println()
			return conversationID, nil
		case protocol.EventError:
			fmt.Fprintf(os.Stderr, "Error: %v\n", env["error"])
			return conversationID, nil
		}
	}
}

func printNode(env map[string]any) {
	node, ok := env["node"].(map[string]any)
	if !ok {
		return
	}
	parts, _ := node["parts"].([]any)
	for _, p := range parts {
		raw, err := json.Marshal(p)
		if err != nil {
			continue
		}
		var part struct {
			Kind    string `json:"part_kind"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(raw, &part); err != nil {
			continue
		}
		if part.Kind == "text" && part.Content != "" {
			fmt.Println(part.Content)
		}
	}
}
