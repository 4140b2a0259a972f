package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nassdata/quickstats/pkg/catalog"
	"github.com/nassdata/quickstats/pkg/config"
	"github.com/nassdata/quickstats/pkg/errors"
	"github.com/nassdata/quickstats/pkg/json"
	"github.com/nassdata/quickstats/pkg/quickstats"
	"github.com/nassdata/quickstats/pkg/sink"
)

// parseParams turns repeated k=v flags into a query. Later values win.
func parseParams(pairs []string) (quickstats.Query, error) {
	q := quickstats.Query{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, errors.Newf(errors.ErrorTypeValidation, "parameter %q is not key=value", p)
		}
		q[strings.TrimSpace(k)] = v
	}
	return q, nil
}

func addQueryFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayP("param", "p", nil, "query filter as key=value, repeatable (e.g. -p commodity=CORN -p year__GE=2000)")
	cmd.Flags().String("dataset", "", "start from a catalog dataset's query; --param values are added on top")
}

// queryFromFlags builds the query from --dataset and --param.
func queryFromFlags(cmd *cobra.Command, a *app) (quickstats.Query, error) {
	pairs, err := cmd.Flags().GetStringArray("param")
	if err != nil {
		return nil, err
	}
	params, err := parseParams(pairs)
	if err != nil {
		return nil, err
	}

	key := a.v.GetString("dataset")
	if key == "" {
		if len(params) == 0 {
			return nil, errors.New(errors.ErrorTypeValidation, "at least one --param or a --dataset is required")
		}
		return params, nil
	}

	cat, err := catalog.Load(a.cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	d, ok := cat.Get(key)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeValidation, "unknown dataset %q", key)
	}
	base, err := d.Query()
	if err != nil {
		return nil, err
	}
	params, err = params.Normalize()
	if err != nil {
		return nil, err
	}
	return base.Merge(params), nil
}

func newFetchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Run one query and write the records",
		Example: `  quickstats fetch -p commodity_desc=CORN -p year=2020 -p state_alpha=IA -p statisticcat_desc=YIELD
  quickstats fetch --dataset hogs_inventory -p year__GE=2020 --format csv --out hogs.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := queryFromFlags(cmd, a)
			if err != nil {
				return err
			}
			format, err := sink.ParseFormat(a.v.GetString("format"))
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if path := a.v.GetString("out"); path != "" {
				f, err := os.Create(path) //nolint:gosec // G304: path is supplied by the operator
				if err != nil {
					return errors.Wrap(err, errors.ErrorTypeFile, "creating output file")
				}
				defer f.Close()
				w = f
			}

			fetcher := quickstats.NewFetcher(a.cfg, a.logger)
			defer fetcher.Close()
			return writeRecords(w, format, fetcher.Fetch(cmd.Context(), q))
		},
	}
	addQueryFlags(cmd)
	cmd.Flags().StringP("out", "o", "", "output file (default stdout)")
	cmd.Flags().StringP("format", "f", "jsonl", "output format: jsonl, json or csv")
	return cmd
}

// writeRecords streams JSON lines as pages arrive. JSON and CSV need the full result
// first: the array is written only when complete and CSV needs every column.
func writeRecords(w io.Writer, format sink.Format, it *quickstats.Iterator) error {
	if format == sink.FormatJSONL {
		enc := json.NewStreamingEncoder(w, false)
		for rec, err := range it.All() {
			if err != nil {
				return err
			}
			if err := enc.Encode(rec); err != nil {
				return errors.Wrap(err, errors.ErrorTypeData, "encoding record")
			}
		}
		return enc.Close()
	}

	var records []quickstats.Record
	for rec, err := range it.All() {
		if err != nil {
			return err
		}
		records = append(records, rec)
	}
	return sink.EncodeRecords(w, format, records)
}

func newCountCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "count",
		Short:   "Print the number of records a query matches",
		Example: `  quickstats count -p commodity_desc=CATTLE -p year__GE=2000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := queryFromFlags(cmd, a)
			if err != nil {
				return err
			}
			fetcher := quickstats.NewFetcher(a.cfg, a.logger)
			defer fetcher.Close()

			n, err := fetcher.Count(cmd.Context(), q)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			if n > config.MaxPageSize {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d records exceed the per-query limit of %d; narrow the query\n", n, config.MaxPageSize)
			}
			return nil
		},
	}
	addQueryFlags(cmd)
	return cmd
}

func newValuesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "values PARAM",
		Short:   "List the values a parameter takes, optionally under filters",
		Example: `  quickstats values commodity_desc -p sector_desc=ANIMALS\ \&\ PRODUCTS`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs, err := cmd.Flags().GetStringArray("param")
			if err != nil {
				return err
			}
			q, err := parseParams(pairs)
			if err != nil {
				return err
			}
			fetcher := quickstats.NewFetcher(a.cfg, a.logger)
			defer fetcher.Close()

			values, err := fetcher.ParamValues(cmd.Context(), args[0], q)
			if err != nil {
				return err
			}
			for _, v := range values {
				fmt.Fprintln(cmd.OutOrStdout(), v)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayP("param", "p", nil, "filter as key=value, repeatable")
	return cmd
}

func newDatasetsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datasets",
		Short: "List catalog datasets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.Load(a.cfg.Catalog.Path)
			if err != nil {
				return err
			}
			datasets, err := cat.Select(nil, a.v.GetString("category"))
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tCATEGORY\tYEARS\tDESCRIPTION")
			for _, d := range datasets {
				ranges := make([]string, len(d.YearRanges))
				for i, r := range d.YearRanges {
					ranges[i] = r.String()
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Key, d.Category, strings.Join(ranges, ","), d.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().String("category", "", "only datasets in this category")
	return cmd
}

func newSinksCmd() *cobra.Command {
	return &cobra.Command{
		Use:                "sinks",
		Short:              "List available output types",
		PersistentPreRunE:  func(cmd *cobra.Command, args []string) error { return nil },
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			for _, info := range sink.Available() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s\n", info.Name, info.Description)
			}
		},
	}
}
