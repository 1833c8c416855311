package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	tiled "github.com/qri-io/tiled-go"
)

// app carries state shared by subcommands once flags are parsed
type app struct {
	configPath string
	baseURL    string
	cfg        *tiled.Config
}

func newRootCommand() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   "tiled",
		Short: "Browse a remote data catalog and read its arrays",
		Long: `tiled is a read-only client for a catalog server. It lists catalog
entries page by page, describes array structures and fetches array
blocks in parallel.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := tiled.LoadConfig(a.configPath)
			if err != nil {
				return err
			}
			if a.baseURL != "" {
				cfg.BaseURL = a.baseURL
			}
			a.cfg = cfg
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ./tiled.yaml)")
	rootCmd.PersistentFlags().StringVar(&a.baseURL, "url", "", "catalog server base url")

	rootCmd.AddCommand(newVersionCommand())
	rootCmd.AddCommand(newLsCommand(a))
	rootCmd.AddCommand(newDescribeCommand(a))
	rootCmd.AddCommand(newFetchCommand(a))
	rootCmd.AddCommand(newInspectCommand())
	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tiled %s (%s), library %s\n", Version, GitCommit, tiled.Version)
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {},
	}
}

func (a *app) resolve(ctx context.Context, path string) (tiled.Entry, error) {
	root, err := tiled.Open(ctx, a.cfg.BaseURL, a.cfg.Options()...)
	if err != nil {
		return nil, err
	}
	return root.Resolve(ctx, tiled.NewPath(path))
}

func (a *app) array(ctx context.Context, path string) (*tiled.ArraySource, error) {
	e, err := a.resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	src, ok := e.(*tiled.ArraySource)
	if !ok {
		return nil, fmt.Errorf("/%s is not an array", tiled.NewPath(path))
	}
	return src, nil
}

func newLsCommand(a *app) *cobra.Command {
	var (
		items  bool
		offset int
		limit  int
		key    string
		text   string
	)
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List the entries of a catalog",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			e, err := a.resolve(ctx, path)
			if err != nil {
				return err
			}
			cat, ok := e.(*tiled.Catalog)
			if !ok {
				return fmt.Errorf("/%s is not a catalog", tiled.NewPath(path))
			}
			if key != "" {
				cat = cat.Search(tiled.KeyLookup{Key: key})
			}
			if text != "" {
				cat = cat.Search(tiled.FullText{Text: text})
			}

			stop := tiled.End
			if limit >= 0 {
				stop = offset + limit
				// a negative offset counts from the end; don't wrap past it
				if offset < 0 && stop >= 0 {
					stop = tiled.End
				}
			}
			out := cmd.OutOrStdout()
			if !items {
				keys, err := cat.KeysSlice(ctx, offset, stop)
				if err != nil {
					return err
				}
				for _, k := range keys {
					fmt.Fprintln(out, k)
				}
				return nil
			}
			its, err := cat.ItemsSlice(ctx, offset, stop)
			if err != nil {
				return err
			}
			for _, it := range its {
				fmt.Fprintf(out, "%s\t%s\n", it.Key, kind(it.Value))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&items, "items", false, "show entry kinds")
	cmd.Flags().IntVar(&offset, "offset", 0, "first position to list; negative counts from the end")
	cmd.Flags().IntVar(&limit, "limit", -1, "maximum number of entries (-1 for all)")
	cmd.Flags().StringVar(&key, "key", "", "only the entry with this key")
	cmd.Flags().StringVar(&text, "text", "", "full text filter")
	return cmd
}

func kind(e tiled.Entry) string {
	switch e.(type) {
	case *tiled.Catalog:
		return "catalog"
	case *tiled.ArraySource:
		return "array"
	default:
		return fmt.Sprintf("%T", e)
	}
}

func newDescribeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <path>",
		Short: "Show the structure of an array",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := a.array(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			st, err := src.Describe(cmd.Context())
			if err != nil {
				return err
			}
			printStructure(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func printStructure(w io.Writer, st *tiled.Structure) {
	fmt.Fprintf(w, "shape:  %v\n", st.Shape)
	fmt.Fprintf(w, "dtype:  %s (%s)\n", st.Dtype, st.Dtype.Kind.Human())
	chunks := make([]string, len(st.Chunks))
	for i, ch := range st.Chunks {
		chunks[i] = fmt.Sprint(ch)
	}
	fmt.Fprintf(w, "chunks: %s\n", strings.Join(chunks, " "))
	fmt.Fprintf(w, "blocks: %d\n", st.NumBlocks())
}

func newFetchCommand(a *app) *cobra.Command {
	var (
		workers int
		export  string
	)
	cmd := &cobra.Command{
		Use:   "fetch <path>",
		Short: "Fetch every block of an array",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			src, err := a.array(ctx, args[0])
			if err != nil {
				return err
			}
			arr, err := src.Read(ctx)
			if err != nil {
				return err
			}
			if workers == 0 {
				workers = a.cfg.Workers
			}

			out := cmd.OutOrStdout()
			if export != "" {
				store, err := tiled.NewLocalStore(export)
				if err != nil {
					return err
				}
				if err := arr.Export(ctx, store, workers); err != nil {
					return err
				}
				fmt.Fprintf(out, "exported %d blocks to %s %s\n", arr.NumBlocks(), store.Type(), export)
				return nil
			}

			return printBlocks(ctx, out, arr, workers)
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "blocks fetched concurrently (default from config, then GOMAXPROCS)")
	cmd.Flags().StringVar(&export, "export", "", "write blocks into this directory instead of printing a summary")
	return cmd
}

func printBlocks(ctx context.Context, w io.Writer, arr *tiled.LazyArray, workers int) error {
	chunks, err := arr.Compute(ctx, workers)
	if err != nil {
		return err
	}
	for _, ch := range chunks {
		fmt.Fprintf(w, "%s\t%v\t%d bytes\n", tiled.BlockKey(ch.Block), ch.Shape, len(ch.Raw))
	}
	return nil
}

func newInspectCommand() *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "inspect <dir>",
		Short: "Read back an array written by fetch --export",
		Args:  cobra.ExactArgs(1),
		// works offline: no server config needed
		PersistentPreRun: func(cmd *cobra.Command, args []string) {},
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := tiled.NewLocalStore(args[0])
			if err != nil {
				return err
			}
			arr, err := tiled.OpenExport(store)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printStructure(out, &tiled.Structure{Shape: arr.Shape(), Dtype: arr.Dtype(), Chunks: arr.Chunks()})
			return printBlocks(cmd.Context(), out, arr, workers)
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "blocks read concurrently (default GOMAXPROCS)")
	return cmd
}
