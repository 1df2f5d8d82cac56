package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/rolodex/internal/contact"
)

// NewSyncCommand creates the sync command group.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Inspect what sync sources see",
	}

	cmd.AddCommand(newSyncFetchCommand(rootOpts))
	cmd.AddCommand(newSyncPurgeCommand(rootOpts))
	cmd.AddCommand(newSyncRemoveCommand(rootOpts))

	return cmd
}

// SyncFetchOptions holds flags for sync fetch.
type SyncFetchOptions struct {
	*RootOptions
	Since    string
	Exported []int64
}

func newSyncFetchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncFetchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fetch <source>",
		Short: "Show partial aggregates changed for a source",
		Long: `Show the partial aggregates of a sync source that changed since a point
in time.

Use the source name "export" for whole aggregates. Pass the printed max
timestamp as --since on the next fetch.

Example:
  rolodex sync fetch carddav
  rolodex sync fetch export --since 2024-01-01T00:00:00Z --exported 4,9`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSyncFetch(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Since, "since", "", "RFC 3339 timestamp; empty fetches everything")
	cmd.Flags().Int64SliceVar(&opts.Exported, "exported", nil, "ids of local-only aggregates already given to the source")

	return cmd
}

func runSyncFetch(opts *SyncFetchOptions, source string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	var since time.Time
	if opts.Since != "" {
		t, err := time.Parse(time.RFC3339Nano, opts.Since)
		if err != nil {
			_ = out.Error(ErrCodeInput, fmt.Sprintf("invalid --since %q", opts.Since), nil)
			return WrapExitError(ExitCommandError, "invalid --since", err)
		}
		since = t
	}
	exported := make([]contact.ID, len(opts.Exported))
	for i, id := range opts.Exported {
		exported[i] = contact.ID(id)
	}

	return withSession(cmd, opts.RootOptions, func(ctx context.Context, s *session) error {
		res, err := s.mgr.Fetch(ctx, source, since, exported)
		if err != nil {
			return s.out.Fail("failed to fetch "+source, err)
		}
		return s.out.Success(newFetchView(res))
	})
}

// SyncPurgeOptions holds flags for sync purge.
type SyncPurgeOptions struct {
	*RootOptions
	Partial bool
}

func newSyncPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncPurgeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "purge <source> <account>",
		Short: "Forget the stored two-way sync state of an account",
		Long: `Forget the stored two-way sync state of an account.

With --partial only the sync timestamps are dropped, so the next session
fetches everything again but still recognises known contacts.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session) error {
				w := s.mgr.TwoWay(args[0])
				if err := w.Init(ctx, args[1]); err != nil {
					return s.out.Fail("failed to start sync session", err)
				}
				if err := w.PurgeSyncState(ctx, opts.Partial); err != nil {
					return s.out.Fail("failed to purge sync state", err)
				}
				return s.out.Success(fmt.Sprintf("purged sync state of %s/%s", args[0], args[1]))
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Partial, "partial", false, "keep snapshots and exported ids")

	return cmd
}

func newSyncRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <source> <account>",
		Short: "Remove every contact of a source and forget the account's sync state",
		Long: `Remove every contact the source contributed and forget the stored
two-way sync state of the account. The next session is a full sync.

Contacts belong to the source, so every account of the source loses them.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(ctx context.Context, s *session) error {
				w := s.mgr.TwoWay(args[0])
				if err := w.Init(ctx, args[1]); err != nil {
					return s.out.Fail("failed to start sync session", err)
				}
				if err := w.RemoveAllContacts(ctx); err != nil {
					return s.out.Fail("failed to remove contacts of "+args[0], err)
				}
				return s.out.Success(fmt.Sprintf("removed contacts of %s/%s", args[0], args[1]))
			})
		},
	}
}
