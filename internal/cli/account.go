package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sakif/campus-companion/internal/model"
	"github.com/sakif/campus-companion/internal/navigation"
	"github.com/sakif/campus-companion/internal/service"
)

func (c *client) loginCmd() *cobra.Command {
	var roll, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with your roll number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := c.gate(navigation.ScreenAuth); err != nil {
				return err
			}
			secret, err := readSecret(cmd, password)
			if err != nil {
				return err
			}

			id, err := c.app.Session.Login(cmd.Context(), roll, secret)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Welcome, %s (%s)\n", id.FullName, id.RollNumber)
			return nil
		},
	}
	cmd.Flags().StringVarP(&roll, "roll", "r", "", "university roll number")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("roll")
	return cmd
}

func (c *client) registerCmd() *cobra.Command {
	var roll, password, batch string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account for your roll number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := c.gate(navigation.ScreenAuth); err != nil {
				return err
			}
			secret, err := readSecret(cmd, password)
			if err != nil {
				return err
			}

			id, err := c.app.Session.Register(cmd.Context(), roll, secret, batch)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s in %s\n", id.RollNumber, id.Batch)
			return nil
		},
	}
	cmd.Flags().StringVarP(&roll, "roll", "r", "", "university roll number")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (prompted when omitted)")
	cmd.Flags().StringVarP(&batch, "batch", "b", "", `batch, e.g. "16th Batch"`)
	_ = cmd.MarkFlagRequired("roll")
	return cmd
}

func (c *client) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the signed-in account on this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.Session.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

func (c *client) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := c.gate(navigation.ScreenProfile)
			if err != nil {
				return err
			}
			printIdentity(cmd.OutOrStdout(), *id)
			if !id.IsProfileComplete() {
				fmt.Fprintln(cmd.OutOrStdout(), "\nSet your roll number to join batch chat: companion profile update --roll <roll>")
			}
			return nil
		},
	}
}

func printIdentity(out io.Writer, id model.Identity) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "Roll\t%s\n", id.RollNumber)
	fmt.Fprintf(tw, "Name\t%s\n", id.FullName)
	fmt.Fprintf(tw, "Department\t%s\n", id.Department)
	fmt.Fprintf(tw, "Batch\t%s\n", id.Batch)
	fmt.Fprintf(tw, "Level/Term\t%d/%d\n", id.Level, id.Term)
	fmt.Fprintf(tw, "Role\t%s\n", id.Role)
	fmt.Fprintf(tw, "CGPA\t%.2f\n", id.CGPA)
	fmt.Fprintf(tw, "Attendance\t%.0f%%\n", id.AttendancePercent)
	if len(id.FailedSubjects) > 0 {
		fmt.Fprintf(tw, "Failed\t%s\n", strings.Join(id.FailedSubjects, ", "))
	}
	if id.PhoneNumber != "" {
		fmt.Fprintf(tw, "Phone\t%s\n", id.PhoneNumber)
	}
}

func (c *client) profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage your profile",
	}

	var p struct {
		roll, name, dept, batch, phone, avatar, role string
		level, term                                  int
		cgpa, attendance                             float64
		failed                                       []string
	}
	update := &cobra.Command{
		Use:   "update",
		Short: "Change profile fields; only the flags you pass are changed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			me, err := c.gate(navigation.ScreenProfile)
			if err != nil {
				return err
			}

			var patch model.ProfilePatch
			f := cmd.Flags()
			setIf(f.Changed("roll"), &patch.RollNumber, p.roll)
			setIf(f.Changed("name"), &patch.FullName, p.name)
			setIf(f.Changed("department"), &patch.Department, p.dept)
			setIf(f.Changed("batch"), &patch.Batch, p.batch)
			setIf(f.Changed("phone"), &patch.PhoneNumber, p.phone)
			setIf(f.Changed("avatar"), &patch.ProfileImageURL, p.avatar)
			setIf(f.Changed("level"), &patch.Level, p.level)
			setIf(f.Changed("term"), &patch.Term, p.term)
			setIf(f.Changed("cgpa"), &patch.CGPA, p.cgpa)
			setIf(f.Changed("attendance"), &patch.AttendancePercent, p.attendance)
			setIf(f.Changed("failed"), &patch.FailedSubjects, p.failed)
			setIf(f.Changed("role"), &patch.Role, model.Role(p.role))
			if err := service.AuthorizeSelfUpdate(*me, patch); err != nil {
				return err
			}

			id, err := c.app.Session.UpdateProfile(cmd.Context(), patch)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Profile updated.")
			printIdentity(cmd.OutOrStdout(), id)
			return nil
		},
	}

	f := update.Flags()
	f.StringVar(&p.roll, "roll", "", "university roll number")
	f.StringVar(&p.name, "name", "", "full name")
	f.StringVar(&p.dept, "department", "", "department code (YE, FE, AE, WPE)")
	f.StringVar(&p.batch, "batch", "", "batch name")
	f.StringVar(&p.phone, "phone", "", "phone number")
	f.StringVar(&p.avatar, "avatar", "", "image URL or data URI")
	f.StringVar(&p.role, "role", "", "role (admins only)")
	f.IntVar(&p.level, "level", 0, "level (1-4)")
	f.IntVar(&p.term, "term", 0, "term (1-2)")
	f.Float64Var(&p.cgpa, "cgpa", 0, "CGPA (0-4)")
	f.Float64Var(&p.attendance, "attendance", 0, "attendance percent")
	f.StringSliceVar(&p.failed, "failed", nil, "failed subjects, comma separated")

	cmd.AddCommand(update)
	return cmd
}

func setIf[T any](changed bool, dst **T, v T) {
	if changed {
		*dst = &v
	}
}

func (c *client) membersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "members [batch]",
		Short: "List the active members of a batch (default: yours)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			me, err := c.gate(navigation.ScreenHome)
			if err != nil {
				return err
			}
			batch := me.Batch
			if len(args) == 1 {
				batch = args[0]
			}

			members, err := c.app.Service.ListBatchMembers(cmd.Context(), batch)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer tw.Flush()
			fmt.Fprintf(tw, "ROLL\tNAME\tDEPT\tROLE\n")
			for _, m := range members {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.RollNumber, m.FullName, m.Department, m.Role)
			}
			return nil
		},
	}
}
