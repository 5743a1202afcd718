// Command duocachectl is a small demonstration CLI over the duocache
// facade: it opens a string-valued cache at a given path and exposes
// set/get/remove/stats/clear as subcommands, the way a host application would
// exercise the library end to end.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/arjunsai/duocache"
)

type stringCodec struct{}

func (stringCodec) Marshal(v string) ([]byte, error)   { return []byte(v), nil }
func (stringCodec) Unmarshal(b []byte) (string, error) { return string(b), nil }

var (
	cachePath string
	verbose   bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "duocachectl",
		Short: "Inspect and exercise a duocache two-tier cache from the command line",
	}
	root.PersistentFlags().StringVar(&cachePath, "path", "", "cache root directory (required)")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	_ = root.MarkPersistentFlagRequired("path")

	root.AddCommand(newSetCmd(), newGetCmd(), newRemoveCmd(), newStatsCmd(), newClearCmd())
	return root
}

func openCache() (*duocache.Cache[string], error) {
	log := zerolog.Nop()
	if verbose {
		log = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return duocache.OpenPath(cachePath, stringCodec{}, duocache.WithLogger[string](log))
}

func newSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Write a key through both tiers",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache()
			if err != nil {
				return err
			}
			defer c.Close()

			if !c.Set(args[0], args[1]) {
				return fmt.Errorf("set %q failed", args[0])
			}
			return nil
		},
	}
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Read a key, consulting memory before disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache()
			if err != nil {
				return err
			}
			defer c.Close()

			val, ok := c.Get(args[0])
			if !ok {
				return fmt.Errorf("key %q not found", args[0])
			}
			fmt.Println(val)
			return nil
		},
	}
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <key>",
		Short: "Remove a key from both tiers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache()
			if err != nil {
				return err
			}
			defer c.Close()

			if !c.Remove(args[0]) {
				return fmt.Errorf("remove %q failed", args[0])
			}
			return nil
		},
	}
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove everything from both tiers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache()
			if err != nil {
				return err
			}
			defer c.Close()

			if !c.RemoveAll() {
				return fmt.Errorf("clear failed")
			}
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print memory-tier hit/miss/eviction counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache()
			if err != nil {
				return err
			}
			defer c.Close()

			fmt.Printf("memory count: %d\n", c.MemoryCount())
			stats := c.MemoryStats()
			fmt.Printf("hits: %d misses: %d evictions: %d\n", stats.Hits, stats.Misses, stats.Evictions)
			return nil
		},
	}
}
