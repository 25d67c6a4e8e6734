package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"askarc/internal/domain"
	"askarc/internal/httpapi"
	"askarc/internal/service"
	"askarc/internal/tui"
)

func newBuildCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Rebuild the corpus from its source and write the snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService(a.cfg, a.logger)
			if err != nil {
				return err
			}
			start := time.Now()
			if err := svc.Rebuild(cmd.Context()); err != nil {
				return err
			}
			st := svc.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "built %d entries (%d skipped) with %s in %s\n",
				st.Entries, st.Skipped, st.Model, time.Since(start).Round(time.Millisecond))
			if st.Snapshot != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "snapshot: %s\n", st.Snapshot)
			}
			return nil
		},
	}
}

// queryFlags are shared by ask and chat.
type queryFlags struct {
	topK      int
	threshold float64
}

func (f *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.topK, "top-k", "k", 0, "number of matches to return (default retrieval.top_k)")
	cmd.Flags().Float64VarP(&f.threshold, "threshold", "t", 0, "minimum cosine score (default retrieval.threshold)")
}

func (f *queryFlags) options(cmd *cobra.Command) domain.QueryOptions {
	opts := domain.QueryOptions{TopK: f.topK}
	if cmd.Flags().Changed("threshold") {
		t := f.threshold
		opts.Threshold = &t
	}
	return opts
}

func openService(ctx context.Context, a *app) (*service.Service, error) {
	svc, err := newService(a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	if err := svc.Open(ctx); err != nil {
		return nil, err
	}
	return svc, nil
}

func newAskCmd(a *app) *cobra.Command {
	var (
		flags   queryFlags
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(cmd.Context(), a)
			if err != nil {
				return err
			}
			ans, err := svc.Ask(cmd.Context(), strings.Join(args, " "), flags.options(cmd))
			if err != nil {
				return err
			}
			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(ans)
			}
			printAnswer(cmd.OutOrStdout(), ans)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the full answer as JSON")
	return cmd
}

func printAnswer(w io.Writer, ans domain.Answer) {
	if !ans.Found() {
		fmt.Fprintf(w, "%s (best score %.3f, threshold %.2f)\n", httpapi.NoAnswer, ans.BestScore, ans.Threshold)
		return
	}
	for i, m := range ans.Matches {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "[%.3f] %s\n%s\n", m.Score, m.Question, m.Answer)
	}
}

func newChatCmd(a *app) *cobra.Command {
	var flags queryFlags
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive question loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(cmd.Context(), a)
			if err != nil {
				return err
			}
			st := svc.Stats()
			summary := fmt.Sprintf("%d entries · %s · %s matcher · threshold %.2f", st.Entries, st.Model, st.Matcher, svc.Threshold())
			return tui.Run(svc, flags.options(cmd), summary)
		},
	}
	flags.register(cmd)
	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the /answer_query HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(cmd.Context(), a)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			srv := httpapi.New(svc, httpapi.Config{
				Addr:           addr,
				AllowedOrigins: a.cfg.Server.AllowedOrigins,
				ReadTimeout:    time.Duration(a.cfg.Server.ReadTimeoutSecs) * time.Second,
				WriteTimeout:   time.Duration(a.cfg.Server.WriteTimeoutSecs) * time.Second,
			}, a.logger)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()
			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Stop(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	return cmd
}

func newNormalizeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "normalize [text...]",
		Short: "Print the canonical form of text (arguments, or stdin line by line)",
		RunE: func(cmd *cobra.Command, args []string) error {
			norm, err := newNormalizer(a.cfg.Normalizer)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) > 0 {
				fmt.Fprintln(out, norm.Normalize(strings.Join(args, " ")))
				return nil
			}
			sc := bufio.NewScanner(cmd.InOrStdin())
			for sc.Scan() {
				fmt.Fprintln(out, norm.Normalize(sc.Text()))
			}
			if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			return nil
		},
	}
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", a.cfgPath)
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(a.cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
