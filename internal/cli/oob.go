package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewOOBCommand creates the oob command group. The out-of-band store holds
// opaque per-scope values such as sync state.
func NewOOBCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oob",
		Short: "Read and write the out-of-band key/value store",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <scope> [key]...",
		Short: "Print values of a scope; no keys prints all",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session) error {
				vals, err := s.mgr.FetchOOB(ctx, args[0], args[1:]...)
				if err != nil {
					return s.out.Fail("failed to read "+args[0], err)
				}
				view := oobView{Scope: args[0], Values: make(map[string]string, len(vals))}
				for k, v := range vals {
					view.Values[k] = string(v)
				}
				return s.out.Success(view)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <scope> <key> <value>",
		Short: "Store one value",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session) error {
				if err := s.mgr.StoreOOB(ctx, args[0], map[string][]byte{args[1]: []byte(args[2])}); err != nil {
					return s.out.Fail("failed to write "+args[0], err)
				}
				return s.out.Success(fmt.Sprintf("stored %s/%s", args[0], args[1]))
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "keys <scope>",
		Short: "List the keys of a scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session) error {
				keys, err := s.mgr.OOBKeys(ctx, args[0])
				if err != nil {
					return s.out.Fail("failed to list "+args[0], err)
				}
				return s.out.Success(keyList(orEmpty(keys)))
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "purge <scope> [key]...",
		Short: "Remove keys of a scope; no keys removes the scope",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session) error {
				if err := s.mgr.RemoveOOB(ctx, args[0], args[1:]...); err != nil {
					return s.out.Fail("failed to purge "+args[0], err)
				}
				return s.out.Success("purged " + args[0])
			})
		},
	})

	return cmd
}
