package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/rolodex/internal/contact"
	"github.com/roach88/rolodex/internal/store"
)

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one contact with its details and links",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(rootOpts.formatter(cmd), args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session) error {
				c, err := s.mgr.Contact(ctx, id)
				if err != nil {
					return s.out.Fail("failed to load contact", err)
				}
				rels, err := s.mgr.Relationships(ctx, store.RelationshipQuery{Type: contact.Aggregates, Either: id})
				if err != nil {
					return s.out.Fail("failed to load relationships", err)
				}
				return s.out.Success(newContactView(c).withLinks(rels))
			})
		},
	}
}

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Origins     []string
	Deactivated bool
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contacts",
		Long: `List contacts ordered by id.

Without --origin every constituent and aggregate is listed. Use
--origin aggregate to list the merged address book.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session) error {
				cs, err := s.mgr.Contacts(ctx, store.Filter{
					Origins:            opts.Origins,
					IncludeDeactivated: opts.Deactivated,
				})
				if err != nil {
					return s.out.Fail("failed to list contacts", err)
				}
				list := make(contactList, len(cs))
				for i, c := range cs {
					list[i] = newContactView(c)
				}
				return s.out.Success(list)
			})
		},
	}

	cmd.Flags().StringSliceVar(&opts.Origins, "origin", nil, "only list contacts with these origins")
	cmd.Flags().BoolVar(&opts.Deactivated, "deactivated", false, "include deactivated constituents")

	return cmd
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>...",
		Short: "Remove contacts",
		Long: `Remove constituents or aggregates in one batch.

Removing an aggregate removes all of its constituents.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(rootOpts.formatter(cmd), args)
			if err != nil {
				return err
			}
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session) error {
				cs, err := s.mgr.RemoveContacts(ctx, ids)
				if err != nil {
					return s.out.Fail("failed to remove contacts", err)
				}
				return s.out.Success(changeView{cs})
			})
		},
	}
}

// NewDeactivateCommand creates the deactivate command.
func NewDeactivateCommand(rootOpts *RootOptions) *cobra.Command {
	return newActivationCommand(rootOpts, "deactivate", true)
}

// NewReactivateCommand creates the reactivate command.
func NewReactivateCommand(rootOpts *RootOptions) *cobra.Command {
	return newActivationCommand(rootOpts, "reactivate", false)
}

func newActivationCommand(rootOpts *RootOptions, use string, deactivated bool) *cobra.Command {
	short := "Hide a sync-source constituent from aggregation"
	if !deactivated {
		short = "Return a deactivated constituent to aggregation"
	}
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(rootOpts.formatter(cmd), args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session) error {
				c, err := s.mgr.Contact(ctx, id)
				if err != nil {
					return s.out.Fail("failed to load contact", err)
				}
				c.Deactivated = deactivated
				cs, err := s.mgr.SaveContacts(ctx, []*contact.Contact{c})
				if err != nil {
					return s.out.Fail("failed to "+use+" contact", err)
				}
				return s.out.Success(changeView{cs})
			})
		},
	}
}

func parseID(out *OutputFormatter, arg string) (contact.ID, error) {
	n, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || n <= 0 {
		msg := fmt.Sprintf("invalid contact id %q", arg)
		_ = out.Error(ErrCodeInput, msg, nil)
		return 0, NewExitError(ExitCommandError, msg)
	}
	return contact.ID(n), nil
}

func parseIDs(out *OutputFormatter, args []string) ([]contact.ID, error) {
	ids := make([]contact.ID, 0, len(args))
	for _, a := range args {
		id, err := parseID(out, a)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
