package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sonilabs/soni/internal/runtime"
	"github.com/sonilabs/soni/internal/state"
)

var (
	flagChatSession  string
	flagChatLanguage string
	flagChatStream   bool
)

var (
	styleBot     = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	styleHandoff = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Italic(true)
	stylePrompt  = lipgloss.NewStyle().Bold(true)
	styleFaint   = lipgloss.NewStyle().Faint(true)
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the configured flows in the terminal",
	Long: `Start an interactive conversation against the configured flow
documents. Sessions are checkpointed with the configured backend, so a chat
against a bolt store can be resumed with --session after a restart.

Type "exit" or press Ctrl-D to leave.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := buildHost(nil)
		if err != nil {
			return err
		}
		defer h.Close()

		sessionID := flagChatSession
		resume := sessionID != ""
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		return runChat(cmd.Context(), h.Runtime, os.Stdin, cmd.OutOrStdout(), chatOptions{
			SessionID: sessionID,
			Language:  flagChatLanguage,
			Stream:    flagChatStream,
			Resume:    resume,
		})
	},
}

// chatOptions carries the per-invocation REPL settings.
type chatOptions struct {
	SessionID string
	Language  string
	Stream    bool
	Resume    bool
}

func init() {
	chatCmd.Flags().StringVar(&flagChatSession, "session", "", "Session id to start or resume (default: random)")
	chatCmd.Flags().StringVar(&flagChatLanguage, "language", "", "Session language (default: document default)")
	chatCmd.Flags().BoolVar(&flagChatStream, "stream", false, "Render responses from the event stream")
	rootCmd.AddCommand(chatCmd)
}

// runChat drives the REPL until EOF or an exit command.
func runChat(ctx context.Context, rt *runtime.Runtime, in io.Reader, out io.Writer, opts chatOptions) error {
	fmt.Fprintln(out, styleFaint.Render("session "+opts.SessionID))

	if !opts.Resume {
		res, err := rt.StartSession(ctx, opts.SessionID, opts.Language)
		if err != nil {
			return err
		}
		printMessages(out, res)
	}

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, stylePrompt.Render("you> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		if opts.Stream {
			if err := streamOnce(ctx, rt, opts.SessionID, line, out); err != nil {
				return err
			}
			continue
		}

		res, err := rt.ProcessTurn(ctx, opts.SessionID, line)
		if err != nil {
			fmt.Fprintln(out, styleError.Render("error:"), err)
			continue
		}
		printMessages(out, res)
	}
}

// streamOnce renders a single streamed turn.
func streamOnce(ctx context.Context, rt *runtime.Runtime, sessionID, line string, out io.Writer) error {
	for ev := range rt.StreamTurn(ctx, sessionID, line) {
		switch ev.Kind {
		case runtime.EventMessage:
			fmt.Fprintln(out, styleBot.Render("soni> "+ev.Text))
		case runtime.EventHandoff:
			fmt.Fprintln(out, styleHandoff.Render(fmt.Sprintf("[handoff -> %s]", ev.Queue)))
		case runtime.EventError:
			fmt.Fprintln(out, styleError.Render("error:"), ev.Err)
		case runtime.EventDone:
			fmt.Fprintln(out, styleFaint.Render("state: "+string(ev.State)))
		}
	}
	return ctx.Err()
}

func printMessages(out io.Writer, res *runtime.TurnResult) {
	for _, m := range res.Messages {
		switch m.Kind {
		case state.OutHandoff:
			fmt.Fprintln(out, styleHandoff.Render(fmt.Sprintf("[handoff -> %s]", m.Queue)))
		default:
			fmt.Fprintln(out, styleBot.Render("soni> "+m.Text))
		}
	}
}
