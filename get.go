package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	gosync "sync"

	"github.com/cheggaaa/pb/v3"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/ssofetch/internal/config"
	"github.com/tonimelisma/ssofetch/internal/resource"
)

// defaultGetParallel bounds concurrent fetches for multi-identifier gets.
const defaultGetParallel = 4

// outputFilePerms is used for fetched files.
const outputFilePerms = 0o644

// errStdoutIsTerminal is returned when binary output would go to a terminal.
var errStdoutIsTerminal = errors.New("refusing to write binary data to a terminal; use -o <file> or redirect stdout")

// fetcher is what get needs from *fetch.Fetcher.
type fetcher interface {
	Fetch(ctx context.Context, id resource.Identifier) (io.ReadCloser, error)
}

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <identifier>...",
		Short: "Fetch resources and write them to stdout or files",
		Long: `Fetch one or more resources as the active account.

An identifier is an absolute URL on the account's server, or a path that
starts with "/". File links (/f/<id>) are fetched as previews sized to
--width x --height; share links (/s/<token>) download the shared file.

With a single identifier the bytes go to stdout, or to the file named by -o.
With several identifiers -o names a directory.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runGet,
	}

	cmd.Flags().StringP("output", "o", "", "output file (one identifier) or directory (several)")
	cmd.Flags().Int("width", 0, "preview width in pixels for file links")
	cmd.Flags().Int("height", 0, "preview height in pixels for file links")
	cmd.Flags().Int("parallel", defaultGetParallel, "maximum concurrent fetches")

	return cmd
}

// getResult is one entry of `get --json` output.
type getResult struct {
	ID    string `json:"id"`
	Path  string `json:"path,omitempty"`
	Bytes int64  `json:"bytes"`
	Error string `json:"error,omitempty"`
}

func runGet(cmd *cobra.Command, args []string) error {
	logger := buildLogger()
	ctx := shutdownContext(cmd.Context(), logger)

	output, _ := cmd.Flags().GetString("output")
	parallel, _ := cmd.Flags().GetInt("parallel")

	holder := config.NewHolder(resolvedCfg, resolvedPath)
	f, _ := newFetcher(holder, logger)
	defer f.Reset()

	if len(args) == 1 && output == "" {
		if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
			return errStdoutIsTerminal
		}

		_, err := fetchTo(ctx, f, args[0], os.Stdout, showProgress())

		return err
	}

	if len(args) == 1 {
		n, err := fetchToFile(ctx, f, args[0], output, showProgress())
		if err != nil {
			return err
		}

		if flagJSON {
			return printJSON([]getResult{{ID: args[0], Path: output, Bytes: n}})
		}

		statusf(flagQuiet, "Fetched %s (%s) to %s\n", args[0], formatSize(n), output)

		return nil
	}

	if output == "" {
		return fmt.Errorf("-o <directory> is required when fetching %d identifiers", len(args))
	}

	return getMany(ctx, f, args, output, parallel, logger)
}

// getMany fetches ids into dir with bounded concurrency. Every identifier is
// attempted; failures are reported together.
func getMany(ctx context.Context, f fetcher, ids []string, dir string, parallel int, logger *slog.Logger) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	names := outputNames(ids)
	results := make([]getResult, len(ids))

	var bar *pb.ProgressBar
	if showProgress() {
		bar = pb.StartNew(len(ids))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(parallel, 1))

	var mu gosync.Mutex

	var errs []error

	for i, id := range ids {
		g.Go(func() error {
			target := filepath.Join(dir, names[i])
			n, err := fetchToFile(gctx, f, id, target, false)

			results[i] = getResult{ID: id, Path: target, Bytes: n}

			if err != nil {
				logger.Warn("fetch failed", slog.String("id", id), slog.String("error", err.Error()))
				results[i] = getResult{ID: id, Error: err.Error()}

				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", id, err))
				mu.Unlock()
			}

			if bar != nil {
				bar.Increment()
			}

			// Keep going: one bad identifier must not cancel the rest.
			return nil
		})
	}

	_ = g.Wait()

	if bar != nil {
		bar.Finish()
	}

	if flagJSON {
		if err := printJSON(results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			if r.Error == "" {
				statusf(flagQuiet, "%s -> %s (%s)\n", r.ID, r.Path, formatSize(r.Bytes))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%d of %d fetches failed: %w", len(errs), len(ids), errors.Join(errs...))
	}

	return nil
}

// fetchToFile writes id to target via a temp file in the same directory, so
// a failed fetch never leaves a truncated file behind.
func fetchToFile(ctx context.Context, f fetcher, id, target string, progress bool) (int64, error) {
	dir := filepath.Dir(target)

	tmp, err := os.CreateTemp(dir, ".ssofetch-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	n, err := fetchTo(ctx, f, id, tmp, progress)

	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}

	if err == nil {
		err = os.Chmod(tmpPath, outputFilePerms)
	}

	if err == nil {
		err = os.Rename(tmpPath, target)
	}

	if err != nil {
		os.Remove(tmpPath)
		return n, err
	}

	return n, nil
}

// fetchTo streams id into w, with a byte progress bar on stderr if asked.
func fetchTo(ctx context.Context, f fetcher, id string, w io.Writer, progress bool) (int64, error) {
	body, err := f.Fetch(ctx, resource.Raw(id))
	if err != nil {
		return 0, err
	}
	defer body.Close()

	var r io.Reader = body

	if progress {
		total := int64(-1)
		if cl, ok := body.(interface{ ContentLength() int64 }); ok {
			total = cl.ContentLength()
		}

		bar := pb.Full.Start64(total)
		bar.Set(pb.Bytes, true)
		bar.Set(pb.SIBytesPrefix, true)

		defer bar.Finish()

		r = bar.NewProxyReader(body)
	}

	n, err := io.Copy(w, r)
	if err != nil {
		return n, fmt.Errorf("writing %s: %w", id, err)
	}

	return n, nil
}

// outputNames derives a file name per identifier: the file id for file
// links, the token for share links, otherwise the last path segment.
// Collisions get a numeric suffix.
func outputNames(ids []string) []string {
	names := make([]string, len(ids))
	seen := make(map[string]int, len(ids))

	for i, id := range ids {
		name := baseName(id)
		if name == "" {
			name = "resource-" + strconv.Itoa(i+1)
		}

		if n := seen[name]; n > 0 {
			seen[name] = n + 1
			name = fmt.Sprintf("%s-%d", name, n+1)
		} else {
			seen[name] = 1
		}

		names[i] = name
	}

	return names
}

func baseName(id string) string {
	p := id
	if u, err := url.Parse(id); err == nil {
		p = u.Path
	}

	p = path.Clean("/" + p)

	dir, file := path.Split(p)
	if file == "download" {
		_, file = path.Split(path.Clean(dir))
	}

	if file == "." || file == "/" {
		return ""
	}

	return file
}

// showProgress reports whether progress bars should be drawn on stderr.
func showProgress() bool {
	if flagQuiet || flagJSON {
		return false
	}

	return isatty.IsTerminal(os.Stderr.Fd())
}
