// katoctl is the operator CLI: it opens the same pattern store katod
// would (memory or Postgres, selected the same way), and lets an operator
// inspect nodes and dump pattern statistics without going through a
// running daemon.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/katoml/kato/internal/database"
	"github.com/katoml/kato/internal/patternstore"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// openStore connects to whichever backend katod would use, selected the
// same way (KATO_STORE=postgres, or in-memory otherwise). An in-memory
// store opened by katoctl is always empty — useful only for dry runs of
// the CLI itself, not for inspecting a running daemon's state.
func openStore(ctx context.Context) (patternstore.Store, func(), error) {
	if getEnv("KATO_STORE", "memory") != "postgres" {
		return patternstore.NewMemory(), func() {}, nil
	}

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("load database config: %w", err)
	}
	client, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	closeFn := func() { _ = client.Close() }
	return patternstore.NewPostgres(client.DB()), closeFn, nil
}

func main() {
	root := &cobra.Command{
		Use:   "katoctl",
		Short: "katoctl — inspect a KATO pattern store",
		Long:  "Operator CLI for inspecting node state and pattern statistics, without going through a running daemon's API.",
	}

	root.AddCommand(nodesCmd(), patternsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func nodesCmd() *cobra.Command {
	nd := &cobra.Command{
		Use:   "nodes",
		Short: "Inspect node_id partitions",
	}
	nd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every node_id with at least one learned pattern",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, closeFn, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			nodeIDs, err := store.Nodes(ctx)
			if err != nil {
				return fmt.Errorf("list nodes: %w", err)
			}
			if len(nodeIDs) == 0 {
				fmt.Println("no nodes with learned patterns")
				return nil
			}
			for _, id := range nodeIDs {
				count, err := store.Count(ctx, id)
				if err != nil {
					return fmt.Errorf("count patterns for %s: %w", id, err)
				}
				fmt.Printf("%s\t%d patterns\n", id, count)
			}
			return nil
		},
	})
	return nd
}

func patternsCmd() *cobra.Command {
	pc := &cobra.Command{
		Use:   "patterns",
		Short: "Inspect patterns within a node",
	}

	statsCmd := &cobra.Command{
		Use:   "stats [node-id]",
		Short: "Dump aggregate pattern statistics for a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			nodeID := args[0]

			store, closeFn, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			count, err := store.Count(ctx, nodeID)
			if err != nil {
				return fmt.Errorf("count: %w", err)
			}
			total, err := store.TotalFrequency(ctx, nodeID)
			if err != nil {
				return fmt.Errorf("total frequency: %w", err)
			}
			fmt.Printf("node_id:         %s\n", nodeID)
			fmt.Printf("pattern_count:   %d\n", count)
			fmt.Printf("total_frequency: %d\n", total)
			return nil
		},
	}

	dumpCmd := &cobra.Command{
		Use:   "dump [node-id]",
		Short: "Dump every learned pattern for a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			nodeID := args[0]

			store, closeFn, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			patterns, err := store.All(ctx, nodeID)
			if err != nil {
				return fmt.Errorf("dump patterns: %w", err)
			}
			n := 0
			for p := range patterns {
				fmt.Printf("%s\tlen=%d\tfreq=%d\tco_occur=%d\ttokens=%d\n",
					p.Name, p.Length, p.Frequency, p.CoOccur, p.TokenCount)
				n++
			}
			if n == 0 {
				fmt.Println("no patterns learned for this node")
			}
			return nil
		},
	}

	pc.AddCommand(statsCmd, dumpCmd)
	return pc
}
