package commands

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/evermem/evermem/pkg/cli"
	"github.com/evermem/evermem/pkg/queue"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Queue administration",
	Long: `Inspect and administer the partitioned work queue.

Deliveries hash group ids onto 50 fixed partitions; consumers register as
owners and split the partitions among themselves. These commands read and
repair that state.`,
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show a queue snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openQueue()
		if err != nil {
			return err
		}
		defer env.close()

		stats, err := env.q.Stats(cmd.Context())
		if err != nil {
			return err
		}
		return output(stats)
	},
}

var (
	monitorInterval time.Duration
	monitorWidth    int
)

var queueMonitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch the queue live",
	Long:  `Redraw a queue snapshot every interval until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openQueue()
		if err != nil {
			return err
		}
		defer env.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		styles := cli.NewStyles(cli.DefaultTheme)
		ticker := time.NewTicker(monitorInterval)
		defer ticker.Stop()

		for {
			stats, err := env.q.Stats(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			frame := buildMonitorFrame(styles, stats)
			// Clear and home before each redraw.
			fmt.Print("\033[2J\033[H")
			fmt.Println(frame.Render(monitorWidth))

			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	},
}

// buildMonitorFrame lays a stats snapshot into panels: backlog totals, the
// busiest partitions and the registered owners.
func buildMonitorFrame(styles cli.Styles, stats *queue.Stats) cli.Frame {
	now := time.Now()

	parts := make([]queue.PartitionStat, 0, len(stats.Partitions))
	for _, p := range stats.Partitions {
		if p.Size > 0 {
			parts = append(parts, p)
		}
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Size > parts[j].Size })

	partRows := make([]string, 0, len(parts))
	for _, p := range parts {
		age := "-"
		if p.OldestScore > 0 {
			age = cli.FormatDuration(now.Sub(time.UnixMilli(p.OldestScore)))
		}
		partRows = append(partRows, fmt.Sprintf("%s  %8s msg  oldest %8s  ttl %s",
			p.Name, cli.FormatCount(p.Size), age, cli.FormatDuration(p.TTL)))
	}
	if len(partRows) == 0 {
		partRows = []string{"all partitions empty"}
	}

	ownerRows := make([]string, 0, len(stats.Owners))
	for _, o := range stats.Owners {
		ownerRows = append(ownerRows, fmt.Sprintf("%s  %d partition(s)  active %s ago",
			o.ID, len(o.Partitions), cli.FormatDuration(now.Sub(o.LastActive))))
	}
	if len(ownerRows) == 0 {
		ownerRows = []string{"no owners registered"}
	}

	return cli.Frame{
		Styles: styles,
		Title:  "evermem queue",
		Status: now.Format("15:04:05"),
		Panels: []cli.Panel{
			{Label: "Backlog", Rows: []string{
				fmt.Sprintf("messages %s  (counter %s)",
					cli.FormatCount(stats.Messages), cli.FormatCount(stats.Counter)),
			}},
			{Label: "Partitions", Rows: partRows, MaxRows: 12},
			{Label: "Owners", Rows: ownerRows, MaxRows: 8},
		},
		Help: "ctrl-c to quit",
	}
}

var cleanupPurge bool

var queueCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Evict dead owners, or wipe the namespace",
	Long: `Without flags, evict owners whose activity fell behind the horizon
and rebalance their partitions. With --purge, wipe all ownership state and
delete the partitions themselves.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openQueue()
		if err != nil {
			return err
		}
		defer env.close()

		if cleanupPurge {
			counter, err := env.q.ForceCleanup(cmd.Context(), true)
			if err != nil {
				return err
			}
			cli.PrintSuccess("Queue purged (counter now %d).", counter)
			return nil
		}
		n, err := env.q.CleanupInactiveOwners(cmd.Context())
		if err != nil {
			return err
		}
		cli.PrintSuccess("Evicted %d inactive owner(s).", n)
		return nil
	},
}

func init() {
	queueMonitorCmd.Flags().DurationVar(&monitorInterval, "interval", 2*time.Second, "refresh interval")
	queueMonitorCmd.Flags().IntVar(&monitorWidth, "width", 100, "frame width in columns")
	queueCleanupCmd.Flags().BoolVar(&cleanupPurge, "purge", false, "also delete the partitions")
	queueCmd.AddCommand(queueStatsCmd, queueMonitorCmd, queueCleanupCmd)
	rootCmd.AddCommand(queueCmd)
}
