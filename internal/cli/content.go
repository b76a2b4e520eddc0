package cli

import (
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sakif/campus-companion/internal/apperror"
	"github.com/sakif/campus-companion/internal/model"
	"github.com/sakif/campus-companion/internal/navigation"
)

// =========================================================================
// NOTES
// =========================================================================

func (c *client) notesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notes",
		Short: "Your personal notes",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List your notes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			me, err := c.gate(navigation.ScreenNotes)
			if err != nil {
				return err
			}
			notes, err := c.app.Service.ListNotes(cmd.Context(), me.RollNumber)
			if err != nil {
				return err
			}
			if len(notes) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No notes yet.")
				return nil
			}
			for _, n := range notes {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", n.ID, n.UpdatedAt.Local().Format("2006-01-02 15:04"), n.Title)
				if n.Content != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "    %s\n", n.Content)
				}
			}
			return nil
		},
	}

	var id, title, content string
	save := &cobra.Command{
		Use:   "save",
		Short: "Create a note, or update one with --id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			me, err := c.gate(navigation.ScreenNotes)
			if err != nil {
				return err
			}
			if id != "" {
				if err := c.ensureOwned(cmd, me.RollNumber, id); err != nil {
					return err
				}
			}

			n, err := c.app.Service.SaveNote(cmd.Context(), model.Note{
				ID:        id,
				OwnerRoll: me.RollNumber,
				Title:     title,
				Content:   content,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved note %s\n", n.ID)
			return nil
		},
	}
	save.Flags().StringVar(&id, "id", "", "note to update")
	save.Flags().StringVarP(&title, "title", "t", "", "note title")
	save.Flags().StringVarP(&content, "content", "c", "", "note body")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one of your notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			me, err := c.gate(navigation.ScreenNotes)
			if err != nil {
				return err
			}
			if err := c.ensureOwned(cmd, me.RollNumber, args[0]); err != nil {
				return err
			}
			if err := c.app.Service.DeleteNote(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted note %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, save, del)
	return cmd
}

func (c *client) ensureOwned(cmd *cobra.Command, roll, id string) error {
	notes, err := c.app.Service.ListNotes(cmd.Context(), roll)
	if err != nil {
		return err
	}
	if !slices.ContainsFunc(notes, func(n model.Note) bool { return n.ID == id }) {
		return apperror.NotFound("note", id)
	}
	return nil
}

// =========================================================================
// RESOURCES
// =========================================================================

func (c *client) resourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resources",
		Short: "Course documents by level, term and department",
	}

	var f model.ResourceFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List resources; omitted filters match everything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := c.gate(navigation.ScreenResources); err != nil {
				return err
			}
			res, err := c.app.Service.ListResources(cmd.Context(), f)
			if err != nil {
				return err
			}
			if len(res) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No resources match.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer tw.Flush()
			fmt.Fprintf(tw, "L-T\tDEPT\tSUBJECT\tLINK\n")
			for _, r := range res {
				fmt.Fprintf(tw, "%d-%d\t%s\t%s\t%s\n", r.Level, r.Term, r.Department, r.SubjectName, r.Link)
			}
			return nil
		},
	}
	list.Flags().IntVar(&f.Level, "level", 0, "level (1-4)")
	list.Flags().IntVar(&f.Term, "term", 0, "term (1-2)")
	list.Flags().StringVar(&f.Department, "department", "", "department code")

	var r model.Resource
	add := &cobra.Command{
		Use:   "add",
		Short: "Share a course document link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			me, err := c.gate(navigation.ScreenResources)
			if err != nil {
				return err
			}
			r.AddedBy = me.RollNumber

			res, err := c.app.Service.AddResource(cmd.Context(), r)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", res.SubjectName, res.ID)
			return nil
		},
	}
	add.Flags().IntVar(&r.Level, "level", 0, "level (1-4)")
	add.Flags().IntVar(&r.Term, "term", 0, "term (1-2)")
	add.Flags().StringVar(&r.Department, "department", "", "department code")
	add.Flags().StringVar(&r.SubjectName, "subject", "", "subject name")
	add.Flags().StringVar(&r.Link, "link", "", "document link")

	cmd.AddCommand(list, add)
	return cmd
}
