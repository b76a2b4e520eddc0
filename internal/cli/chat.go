package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/campus-companion/internal/chat"
	"github.com/sakif/campus-companion/internal/navigation"
)

func (c *client) chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Your batch's chat room",
	}

	// room applies the gate and opens the caller's batch room.
	room := func(opts ...chat.Option) (*chat.Room, error) {
		me, err := c.gate(navigation.ScreenChat)
		if err != nil {
			return nil, err
		}
		return chat.NewRoom(c.app.Service, *me, c.app.Logger, opts...), nil
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the room once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := room()
			if err != nil {
				return err
			}
			if err := r.Refresh(cmd.Context()); err != nil {
				return err
			}
			printEntries(cmd.OutOrStdout(), r.Batch(), r.Entries())
			return nil
		},
	}

	send := &cobra.Command{
		Use:   "send <message...>",
		Short: "Send a message to your batch",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := room()
			if err != nil {
				return err
			}
			e, err := r.Send(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent to %s at %s\n", e.BatchID, e.Timestamp.Local().Format("15:04"))
			return nil
		},
	}

	var interval time.Duration
	watch := &cobra.Command{
		Use:   "watch",
		Short: "Follow the room until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := room(chat.WithInterval(interval))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			seen := map[string]bool{}
			r.Run(ctx, func(entries []chat.Entry) {
				for _, e := range entries {
					if seen[e.ID] {
						continue
					}
					seen[e.ID] = true
					printEntry(cmd.OutOrStdout(), e)
				}
			})
			return nil
		},
	}
	watch.Flags().DurationVar(&interval, "interval", chat.DefaultPollInterval, "poll interval")

	cmd.AddCommand(show, send, watch)
	return cmd
}

func printEntries(out io.Writer, batch string, entries []chat.Entry) {
	fmt.Fprintf(out, "== %s ==\n", batch)
	if len(entries) == 0 {
		fmt.Fprintln(out, "No messages yet.")
		return
	}
	for _, e := range entries {
		printEntry(out, e)
	}
}

func printEntry(out io.Writer, e chat.Entry) {
	suffix := ""
	if e.Status != chat.StatusSent {
		suffix = " [" + string(e.Status) + "]"
	}
	fmt.Fprintf(out, "[%s] %s: %s%s\n", e.Timestamp.Local().Format("Jan 2 15:04"), e.SenderName, e.Content, suffix)
}

func (c *client) openCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "open <screen>",
		Short:     "Check where the app would take you",
		Long:      "Resolve a screen (home, chat, resources, notes, profile, auth) through the navigation rules.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"home", "chat", "resources", "notes", "profile", "auth"},
		RunE: func(cmd *cobra.Command, args []string) error {
			screen, err := navigation.ParseScreen(args[0])
			if err != nil {
				return err
			}

			d := navigation.Resolve(c.app.Session.Identity(), screen)
			if !d.Redirected {
				fmt.Fprintf(cmd.OutOrStdout(), "-> %s\n", d.Screen)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "-> %s (redirected from %s)\n", d.Screen, screen)
			if msg := d.Message(); msg != "" {
				fmt.Fprintln(cmd.OutOrStdout(), msg)
			}
			return nil
		},
	}
}
