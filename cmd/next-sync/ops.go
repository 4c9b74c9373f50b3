package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ashwinyue/next-sync/internal/model"
	"github.com/ashwinyue/next-sync/internal/service/event"
	"github.com/ashwinyue/next-sync/internal/service/orchestrator"
)

var syncCmd = &cobra.Command{
	Use:   "sync [source-type]",
	Short: "Sync one source type for an owner",
	Long: `Runs the orchestrator for one source type in the foreground and prints the summary.
Progress events are written to stderr.`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

var auditCmd = &cobra.Command{
	Use:   "audit [store-id]",
	Short: "Compare local documents with the remote index",
	Args:  cobra.ExactArgs(1),
	RunE:  runAudit,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup [remote|source] [store-id]",
	Short: "Remove orphaned documents",
	Long: `remote: delete remote documents that have no local record.
source: delete documents whose source row no longer exists.`,
	Args: cobra.ExactArgs(2),
	RunE: runCleanup,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [store-id]",
	Short: "Delete documents of a source type that are not in the valid id list",
	Args:  cobra.ExactArgs(1),
	RunE:  runReconcile,
}

var (
	syncOwner      string
	syncTenant     string
	cleanupTenant  string
	reconcileType  string
	reconcileIDs   []string
	reconcileTenant string
)

func init() {
	syncCmd.Flags().StringVar(&syncOwner, "owner", "", "owner id (consultant, client or agent config)")
	syncCmd.Flags().StringVar(&syncTenant, "tenant", "", "tenant used for credential resolution (defaults to owner)")
	_ = syncCmd.MarkFlagRequired("owner")

	cleanupCmd.Flags().StringVar(&cleanupTenant, "tenant", "", "tenant used for credential resolution")

	reconcileCmd.Flags().StringVar(&reconcileType, "type", "", "source type")
	reconcileCmd.Flags().StringSliceVar(&reconcileIDs, "ids", nil, "valid source ids (comma separated)")
	reconcileCmd.Flags().StringVar(&reconcileTenant, "tenant", "", "tenant used for credential resolution")
	_ = reconcileCmd.MarkFlagRequired("type")

	rootCmd.AddCommand(syncCmd, auditCmd, cleanupCmd, reconcileCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	tenantID := syncTenant
	if tenantID == "" {
		tenantID = syncOwner
	}
	runID := uuid.New().String()

	cancel, err := a.services.Events.Subscribe(event.SyncChannel(event.SystemScope, runID), event.HandlerFunc(func(_ context.Context, evt *event.Event) error {
		fmt.Fprintf(os.Stderr, "[%3d%%] %-10s %s\n", evt.Percent, evt.Phase, evt.Message)
		return nil
	}))
	if err != nil {
		return err
	}
	defer cancel()

	res, err := a.services.Orchestrator.Sync(ctx, orchestrator.Request{
		SourceType: model.SourceType(args[0]),
		OwnerID:    syncOwner,
		TenantID:   tenantID,
		RunID:      runID,
	})
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runAudit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.services.Sync.AuditStoreVsRemote(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	mode, storeID := args[0], args[1]
	if mode != "remote" && mode != "source" {
		return fmt.Errorf("mode must be remote or source, got %q", mode)
	}

	ctx := cmd.Context()
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if mode == "remote" {
		res, err := a.services.Sync.CleanupOrphansOnRemote(ctx, storeID)
		if err != nil {
			return err
		}
		return printJSON(res)
	}
	res, err := a.services.Sync.CleanupSourceOrphans(ctx, storeID, cleanupTenant)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	ids := make([]string, 0, len(reconcileIDs))
	for _, id := range reconcileIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	res, err := a.services.Sync.ReconcileBySourceType(ctx, args[0], model.SourceType(reconcileType), ids, reconcileTenant)
	if err != nil {
		return err
	}
	return printJSON(res)
}
