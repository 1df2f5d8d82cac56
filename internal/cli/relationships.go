package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/rolodex/internal/contact"
)

// NewLinkCommand creates the link command.
func NewLinkCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "link <constituent> <aggregate>",
		Short: "Attach a constituent to an aggregate",
		Long: `Attach a constituent to an aggregate by hand.

The constituent leaves its previous aggregate, which is removed if it has
no constituents left, and the target aggregate is regenerated.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelationship(cmd, rootOpts, args, contact.Aggregates, false)
		},
	}
}

// NewUnlinkCommand creates the unlink command.
func NewUnlinkCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unlink <constituent> <aggregate>",
		Short: "Detach a constituent from its aggregate",
		Long: `Detach a constituent from its aggregate.

The constituent is matched again and may rejoin the same aggregate. Record
an isnot relationship first to keep the two apart.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelationship(cmd, rootOpts, args, contact.Aggregates, true)
		},
	}
}

// IsNotOptions holds flags for the isnot command.
type IsNotOptions struct {
	*RootOptions
	Remove bool
}

// NewIsNotCommand creates the isnot command.
func NewIsNotCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IsNotOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "isnot <first> <second>",
		Short: "Record that two contacts must never be matched",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelationship(cmd, rootOpts, args, contact.IsNot, opts.Remove)
		},
	}

	cmd.Flags().BoolVar(&opts.Remove, "remove", false, "remove the relationship instead")

	return cmd
}

func runRelationship(cmd *cobra.Command, opts *RootOptions, args []string, typ contact.RelationshipType, remove bool) error {
	ids, err := parseIDs(opts.formatter(cmd), args)
	if err != nil {
		return err
	}
	rel := contact.Relationship{
		Type:   typ,
		First:  ids[0],
		Second: ids[1],
		Manual: typ == contact.Aggregates,
	}

	return withSession(cmd, opts, func(ctx context.Context, s *session) error {
		var cs contact.ChangeSet
		if remove {
			cs, err = s.mgr.RemoveRelationships(ctx, []contact.Relationship{rel})
		} else {
			cs, err = s.mgr.SaveRelationships(ctx, []contact.Relationship{rel})
		}
		if err != nil {
			return s.out.Fail("failed to update relationship "+rel.String(), err)
		}
		s.logger.Debug("relationship updated", "relationship", rel.String(), "removed", remove)
		return s.out.Success(changeView{cs})
	})
}
