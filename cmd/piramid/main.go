// Command piramid is a CLI for creating collections, loading vectors, and
// running ad-hoc searches against an on-disk Piramid store.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	piramid "github.com/gbchill/piramid"
)

var (
	dataDir string
	verbose bool
	reg     *piramid.Registry
)

var rootCmd = &cobra.Command{
	Use:   "piramid",
	Short: "CLI for the Piramid embedded vector store",
	Long:  `A command-line interface for creating collections and managing documents in a Piramid data directory.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := piramid.DefaultConfig()
		cfg.DataDir = dataDir
		reg = piramid.NewRegistry(cfg, piramid.DefaultCollectionConfig())
		return nil
	},
}

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		metricName, _ := cmd.Flags().GetString("metric")
		dim, _ := cmd.Flags().GetInt("dim")

		m, ok := piramid.ParseMetric(metricName)
		if !ok {
			return fmt.Errorf("unknown metric %q", metricName)
		}

		desc, err := reg.Create(name, piramid.CreateOptions{Metric: m, Dim: dim})
		if err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
		fmt.Printf("collection %q created (metric=%s, dim=%d)\n", desc.Name, desc.Metric, desc.Dim)
		return nil
	},
}

var dropCmd = &cobra.Command{
	Use:   "drop <name>",
	Short: "Drop a collection and its on-disk files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := reg.Drop(args[0]); err != nil {
			return fmt.Errorf("drop collection: %w", err)
		}
		fmt.Printf("collection %q dropped\n", args[0])
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded collections",
	RunE: func(cmd *cobra.Command, args []string) error {
		infos := reg.List()
		outputJSON, _ := cmd.Flags().GetBool("json")
		if outputJSON {
			data, _ := json.MarshalIndent(infos, "", "  ")
			fmt.Println(string(data))
			return nil
		}
		fmt.Printf("collections (%d):\n", len(infos))
		for _, info := range infos {
			fmt.Printf("  %s  count=%d dim=%d metric=%s bytes=%d\n", info.Name, info.Count, info.Dim, info.Metric, info.BytesOnDisk)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats <name>",
	Short: "Show a collection's counters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := reg.Stats(args[0])
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}
		outputJSON, _ := cmd.Flags().GetBool("json")
		if outputJSON {
			data, _ := json.MarshalIndent(st, "", "  ")
			fmt.Println(string(data))
			return nil
		}
		fmt.Printf("name: %s\ncount: %d\ndim: %d\nmetric: %s\nindex: %s\nbytes on disk: %d\nlast checkpoint: %s\n",
			st.Name, st.Count, st.Dim, st.Metric, st.IndexPolicy, st.BytesOnDisk, st.LastCheckpoint)
		return nil
	},
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint <name>",
	Short: "Force a checkpoint on a loaded collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := reg.Checkpoint(args[0]); err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
		fmt.Println("checkpoint complete")
		return nil
	},
}

var insertCmd = &cobra.Command{
	Use:   "insert <collection>",
	Short: "Insert one document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		vectorStr, _ := cmd.Flags().GetString("vector")
		text, _ := cmd.Flags().GetString("text")
		metadataStr, _ := cmd.Flags().GetString("metadata")

		vector, err := parseVector(vectorStr)
		if err != nil {
			return err
		}
		meta, err := parseMetadata(metadataStr)
		if err != nil {
			return err
		}

		col, err := reg.Collection(name)
		if err != nil {
			return fmt.Errorf("open collection: %w", err)
		}
		id, err := col.Insert(vector, text, meta)
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		fmt.Println(id)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <collection> <id>",
	Short: "Fetch one document by id",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[1])
		if err != nil {
			return fmt.Errorf("invalid id: %w", err)
		}
		col, err := reg.Collection(args[0])
		if err != nil {
			return fmt.Errorf("open collection: %w", err)
		}
		doc, err := col.Get(id)
		if err != nil {
			return fmt.Errorf("get: %w", err)
		}
		data, _ := json.MarshalIndent(doc, "", "  ")
		fmt.Println(string(data))
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <collection> <id>",
	Short: "Delete one document by id",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[1])
		if err != nil {
			return fmt.Errorf("invalid id: %w", err)
		}
		col, err := reg.Collection(args[0])
		if err != nil {
			return fmt.Errorf("open collection: %w", err)
		}
		ok, err := col.Delete(id)
		if err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		fmt.Println(ok)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <collection>",
	Short: "Run a nearest-neighbor search",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vectorStr, _ := cmd.Flags().GetString("vector")
		k, _ := cmd.Flags().GetInt("k")
		filterStr, _ := cmd.Flags().GetString("filter")

		vector, err := parseVector(vectorStr)
		if err != nil {
			return err
		}

		var filter *piramid.Filter
		if filterStr != "" {
			filter = piramid.NewFilter()
			for _, pair := range strings.Split(filterStr, ",") {
				kv := strings.SplitN(pair, "=", 2)
				if len(kv) != 2 {
					continue
				}
				filter.Eq(strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1]))
			}
		}

		col, err := reg.Collection(args[0])
		if err != nil {
			return fmt.Errorf("open collection: %w", err)
		}
		results, err := col.Search(vector, k, filter, piramid.SearchOverrides{})
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}

		outputJSON, _ := cmd.Flags().GetBool("json")
		if outputJSON {
			data, _ := json.MarshalIndent(results, "", "  ")
			fmt.Println(string(data))
			return nil
		}
		for i, r := range results {
			fmt.Printf("%d. %s (score: %.4f)\n", i+1, r.ID, r.Score)
			if verbose && r.Text != "" {
				fmt.Printf("   text: %s\n", r.Text)
			}
		}
		return nil
	},
}

func parseVector(s string) ([]float32, error) {
	if s == "" {
		return nil, fmt.Errorf("vector is required")
	}
	parts := strings.Split(s, ",")
	vector := make([]float32, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", p, err)
		}
		vector = append(vector, float32(v))
	}
	return vector, nil
}

func parseMetadata(s string) (piramid.Metadata, error) {
	if s == "" {
		return nil, nil
	}
	var meta piramid.Metadata
	if err := json.Unmarshal([]byte(s), &meta); err != nil {
		return nil, fmt.Errorf("invalid metadata JSON: %w", err)
	}
	return meta, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "./data", "Registry data directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	createCmd.Flags().String("metric", "cosine", "Distance metric (cosine/euclidean/dot)")
	createCmd.Flags().Int("dim", 0, "Vector dimension (0 to fix on first insert)")

	listCmd.Flags().Bool("json", false, "Output as JSON")
	statsCmd.Flags().Bool("json", false, "Output as JSON")

	insertCmd.Flags().String("vector", "", "Vector values (comma-separated)")
	insertCmd.Flags().String("text", "", "Document text")
	insertCmd.Flags().String("metadata", "", "Metadata as JSON object")
	insertCmd.MarkFlagRequired("vector")

	searchCmd.Flags().String("vector", "", "Query vector (comma-separated)")
	searchCmd.Flags().Int("k", 10, "Number of results")
	searchCmd.Flags().String("filter", "", "Metadata equality filters (key=value,key2=value2)")
	searchCmd.Flags().Bool("json", false, "Output as JSON")
	searchCmd.MarkFlagRequired("vector")

	rootCmd.AddCommand(createCmd, dropCmd, listCmd, statsCmd, checkpointCmd, insertCmd, getCmd, deleteCmd, searchCmd)
}

func main() {
	defer func() {
		if reg != nil {
			_ = reg.Shutdown()
		}
	}()
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
	os.Exit(0)
}
