package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and manage checkpointed sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List checkpointed session ids",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := buildHost(nil)
		if err != nil {
			return err
		}
		defer h.Close()

		ids, err := h.Runtime.Sessions(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(ids) == 0 {
			fmt.Fprintln(out, styleFaint.Render("no sessions"))
			return nil
		}
		for _, id := range ids {
			d, err := h.Runtime.Dialogue(cmd.Context(), id)
			if err != nil {
				fmt.Fprintln(out, id)
				continue
			}
			fmt.Fprintf(out, "%s\t%s\tturns=%d\tupdated=%s\n",
				id, d.Conversation, d.TurnCount, d.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var sessionsEndCmd = &cobra.Command{
	Use:   "end <session-id>",
	Short: "End a session and delete its checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := buildHost(nil)
		if err != nil {
			return err
		}
		defer h.Close()

		if err := h.Runtime.EndSession(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), styleOK.Render("ended:"), args[0])
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsEndCmd)
	rootCmd.AddCommand(sessionsCmd)
}
