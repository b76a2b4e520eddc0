package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sakif/campus-companion/internal/apperror"
	"github.com/sakif/campus-companion/internal/model"
	"github.com/sakif/campus-companion/internal/navigation"
)

// client carries the App between the root's pre-run hook and the
// subcommands.
type client struct {
	open Opener
	opts Options
	app  *App
}

// NewRootCommand builds the companion command tree. open is called once
// per invocation, before the subcommand runs. The returned release func
// closes whatever App was opened and must run after Execute, failed or not.
func NewRootCommand(open Opener) (*cobra.Command, func()) {
	c := &client{open: open}

	root := &cobra.Command{
		Use:   "companion",
		Short: "Campus companion for textile engineering students",
		Long: `companion is the terminal client for the campus companion.

Sign in with your university roll number, then browse resources, keep
notes and chat with your batch. The session is remembered between runs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.open(cmd.Context(), c.opts)
			if err != nil {
				return err
			}
			c.app = app
			return nil
		},
	}

	root.PersistentFlags().StringVar(&c.opts.DBPath, "db", "", "local database file (default from DB_PATH)")
	root.PersistentFlags().StringVar(&c.opts.EnvFile, "env-file", "", "load configuration from this .env file")
	root.PersistentFlags().BoolVarP(&c.opts.Verbose, "verbose", "v", false, "log debug output to stderr")

	root.AddCommand(
		c.loginCmd(),
		c.registerCmd(),
		c.logoutCmd(),
		c.whoamiCmd(),
		c.profileCmd(),
		c.membersCmd(),
		c.notesCmd(),
		c.resourcesCmd(),
		c.chatCmd(),
		c.openCmd(),
	)
	return root, c.release
}

func (c *client) release() {
	if c.app != nil {
		c.app.Close()
		c.app = nil
	}
}

// gate applies the navigation rules before a command touches its screen
// and returns the signed-in identity (nil on the auth screen).
func (c *client) gate(screen navigation.Screen) (*model.Identity, error) {
	id := c.app.Session.Identity()
	d := navigation.Resolve(id, screen)
	if !d.Redirected {
		return id, nil
	}

	switch {
	case d.Reason != navigation.ReasonNone:
		return nil, fmt.Errorf("%s (run: companion open %s)", d.Message(), d.Screen)
	case screen == navigation.ScreenAuth:
		return nil, fmt.Errorf("already signed in as %s; run: companion logout", id.RollNumber)
	}
	return nil, fmt.Errorf("screen %s is not available", screen)
}

// readSecret returns flagValue, or reads one line from in when the flag
// was not given.
func readSecret(cmd *cobra.Command, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Describe turns an error into the line shown to the user.
func Describe(err error) string {
	return apperror.Message(err, err.Error())
}
