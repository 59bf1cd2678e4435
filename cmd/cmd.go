// Package cmd holds the songshare command line.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"songshare/internal/api"
	"songshare/internal/app"
	"songshare/internal/archive"
	"songshare/internal/catalog"
	"songshare/internal/config"
	"songshare/internal/logger"
	"songshare/internal/store"
)

const version = "0.2.0"

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "songshare",
		Short:         "Share song folders with a peer",
		Long:          "songshare compares song catalogs with a peer and downloads the songs you are missing.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := root.PersistentFlags()
	f.String("config", "", "config file (default ~/.songshare/config.yaml)")
	f.String("songs-dir", "", "directory holding the song folders")
	f.String("download-dir", "", "default directory for downloaded bundles")
	f.String("listen", "", "address to accept peers on")
	f.String("transport", "", "peer transport: tcp or quic")
	f.String("log-level", "", "debug, info, warn or error")
	f.Int("workers", 0, "parallel workers for scanning and packing")

	root.AddCommand(newRunCmd(), newScanCmd(), newPackCmd())
	return root
}

// loadConfig merges the config file, SONGSHARE_* variables and flags, in
// that order of precedence.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	for name, dst := range map[string]*string{
		"songs-dir":    &cfg.SongsDir,
		"download-dir": &cfg.DownloadDir,
		"listen":       &cfg.ListenAddr,
		"transport":    &cfg.Transport,
		"log-level":    &cfg.Log.Level,
	} {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	if flags.Changed("workers") {
		cfg.Workers, _ = flags.GetInt("workers")
	}
	if flags.Lookup("api") != nil && flags.Changed("api") {
		cfg.API.Enabled, _ = flags.GetBool("api")
	}
	if flags.Lookup("api-addr") != nil && flags.Changed("api-addr") {
		cfg.API.Addr, _ = flags.GetString("api-addr")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.Init(cfg.Logger())
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func newRunCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "run",
		Short: "Listen for peers and open the interactive prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			peer, _ := cmd.Flags().GetString("connect")
			return run(cmd.Context(), cfg, log, peer, os.Stdin, cmd.OutOrStdout())
		},
	}
	c.Flags().Bool("api", false, "serve the HTTP control API")
	c.Flags().String("api-addr", "", "address of the HTTP control API")
	c.Flags().String("connect", "", "peer to connect to on startup")
	return c
}

func run(parent context.Context, cfg *config.Config, log *slog.Logger, peer string, in io.Reader, out io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	term := NewTerminal(in, out)
	a, err := app.New(cfg, term, log)
	if err != nil {
		return err
	}
	defer a.Disconnect()

	if entries, err := a.Rescan(ctx); err != nil {
		log.Warn("initial scan failed", "dir", cfg.SongsDir, "err", err)
		term.Printf("Could not scan %s: %v\n", cfg.SongsDir, err)
	} else {
		term.Printf("Found %d song(s) in %s\n", len(entries), cfg.SongsDir)
	}

	ln, err := a.Listen(ctx)
	if err != nil {
		return err
	}
	term.Printf("songshare %s listening on %s (%s)\n\n", version, ln.Addr(), cfg.Transport)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.ServeListener(ctx, ln) })
	if cfg.API.Enabled {
		gin.SetMode(gin.ReleaseMode)
		g.Go(func() error { return api.Serve(ctx, cfg.API.Addr, a, log) })
	}
	g.Go(func() error {
		defer stop()
		if peer != "" {
			processCommand(ctx, a, term.out, "connect "+peer)
		}
		if quit := prompt(ctx, a, term); !quit && cfg.API.Enabled {
			// stdin is gone but the API still drives the app.
			<-ctx.Done()
		}
		return nil
	})
	return g.Wait()
}

// prompt runs commands until quit, end of input or cancellation. It
// reports whether the user quit.
func prompt(ctx context.Context, ctrl controller, term *Terminal) bool {
	for {
		term.Printf("songshare > ")
		select {
		case <-ctx.Done():
			return false
		case line, ok := <-term.Commands():
			if !ok {
				return false
			}
			if processCommand(ctx, ctrl, term.out, line) {
				return true
			}
		}
	}
}

func newScanCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "scan [dir]",
		Short: "Print the catalog of a songs directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			dir := cfg.SongsDir
			if len(args) == 1 {
				dir = args[0]
			}
			entries, err := catalog.NewScanner(cfg.Workers, log).Scan(cmd.Context(), dir)
			if err != nil {
				return err
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			printEntries(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	c.Flags().Bool("json", false, "print the catalog as JSON")
	return c
}

func newPackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pack <out.zip> <id>...",
		Short: "Build a bundle of local songs without a peer",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			return pack(cmd.Context(), cfg, log, args[0], args[1:], cmd.OutOrStdout())
		},
	}
}

func pack(ctx context.Context, cfg *config.Config, log *slog.Logger, out string, ids []string, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	entries, err := catalog.NewScanner(cfg.Workers, log).Scan(ctx, cfg.SongsDir)
	if err != nil {
		return err
	}
	local := store.NewSnapshot()
	local.Replace(entries)

	var selected []catalog.Entry
	for _, raw := range ids {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid song id %q", raw)
		}
		found := local.ByID(id)
		if len(found) == 0 {
			return fmt.Errorf("song %d not found in %s", id, cfg.SongsDir)
		}
		selected = append(selected, found...)
	}

	bundle, err := archive.NewBuilder(cfg.Workers, "", log).Build(ctx, selected)
	if err != nil {
		return err
	}
	defer bundle.Close()

	dst, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, bundle); err != nil {
		dst.Close()
		return errors.Join(err, os.Remove(out))
	}
	if err := dst.Close(); err != nil {
		return err
	}
	fmt.Fprintf(w, "Wrote %d song(s), %d bytes, to %s\n", len(selected), bundle.Size, out)
	return nil
}
