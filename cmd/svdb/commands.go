package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/wolfeidau/svdb"
	"github.com/wolfeidau/svdb/store"
	"golang.org/x/sync/errgroup"
)

// AlgorithmFlag is the --algorithm flag shared by hashing commands.
type AlgorithmFlag struct {
	Algorithm string `short:"a" help:"Hash algorithm (blake3, blake2b, keccak256)." default:"blake3"`
}

func (f AlgorithmFlag) algorithm() (svdb.Algorithm, error) {
	return svdb.ParseAlgorithm(f.Algorithm)
}

// HashCmd prints the digest of a file.
type HashCmd struct {
	AlgorithmFlag

	File string `arg:"" help:"File to hash, or - for stdin."`
}

func (c *HashCmd) Run(g *Globals) error {
	alg, err := c.algorithm()
	if err != nil {
		return err
	}

	r, closeFn, err := openInput(c.File)
	if err != nil {
		return err
	}
	defer closeFn()

	d, _, err := svdb.HashReader(alg, r)
	if err != nil {
		return fmt.Errorf("hashing %s: %w", c.File, err)
	}
	_, err = fmt.Fprintln(g.out, d)
	return err
}

// StoreCmd stores one file.
type StoreCmd struct {
	DBFlags
	AlgorithmFlag

	ChunkSize int    `short:"c" help:"Chunk files larger than this many bytes. 0 stores without chunking." default:"0"`
	File      string `arg:"" help:"File to store, or - for stdin."`
}

func (c *StoreCmd) Run(g *Globals) error {
	alg, err := c.algorithm()
	if err != nil {
		return err
	}
	if c.ChunkSize < 0 {
		return fmt.Errorf("chunk size must not be negative")
	}

	e, logger, err := g.engine(c.DBFlags)
	if err != nil {
		return err
	}
	defer closeEngine(e)

	data, err := readInput(c.File)
	if err != nil {
		return err
	}

	d, err := e.StoreWithOptions(context.Background(), data, alg, c.ChunkSize)
	if err != nil {
		return err
	}
	logger.Debug("stored file", "file", c.File, "digest", d.Short(), "size", len(data))

	_, err = fmt.Fprintln(g.out, d)
	return err
}

// RetrieveCmd writes a stored object out.
type RetrieveCmd struct {
	DBFlags

	Digest string `arg:"" help:"Digest of the object."`
	Output string `short:"o" help:"Output file, or - for stdout." default:"-"`
}

func (c *RetrieveCmd) Run(g *Globals) error {
	e, _, err := g.engine(c.DBFlags)
	if err != nil {
		return err
	}
	defer closeEngine(e)

	data, err := e.Retrieve(context.Background(), svdb.Digest(c.Digest))
	if err != nil {
		return err
	}

	if c.Output == "-" || c.Output == "" {
		_, err = g.out.Write(data)
		return err
	}
	if err := os.WriteFile(c.Output, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", c.Output, err)
	}
	return nil
}

// VerifyCmd checks a stored object against its digest.
type VerifyCmd struct {
	DBFlags

	Digest string `arg:"" help:"Digest of the object."`
	JSON   bool   `help:"Print the full result as JSON."`
}

// errVerifyFailed is returned so the process exits non-zero.
var errVerifyFailed = errors.New("verification failed")

func (c *VerifyCmd) Run(g *Globals) error {
	e, _, err := g.engine(c.DBFlags)
	if err != nil {
		return err
	}
	defer closeEngine(e)

	res, err := e.Verify(context.Background(), svdb.Digest(c.Digest))
	if err != nil {
		return err
	}

	if c.JSON {
		if err := printJSON(g.out, res); err != nil {
			return err
		}
	} else {
		printVerify(g.out, res)
	}

	if !res.Valid {
		return errVerifyFailed
	}
	return nil
}

func printVerify(w io.Writer, res *store.VerifyResult) {
	status := "OK"
	if !res.Valid {
		status = "FAILED"
	}
	fmt.Fprintf(w, "%s %s kind=%s size=%d", status, res.Digest, res.Kind, res.Size)
	if res.Algorithm != "" {
		fmt.Fprintf(w, " algorithm=%s", res.Algorithm)
	}
	if res.Kind == store.KindChunked {
		fmt.Fprintf(w, " chunks=%d missing=%v corrupt=%v", res.Chunks, res.MissingChunks, res.CorruptChunks)
	}
	fmt.Fprintln(w)
}

// BatchCmd stores many files with a bounded worker pool.
type BatchCmd struct {
	DBFlags
	AlgorithmFlag

	ChunkSize int      `short:"c" help:"Chunk files larger than this many bytes. 0 stores without chunking." default:"0"`
	Workers   int      `short:"j" help:"Number of files stored concurrently." default:"4"`
	Files     []string `arg:"" help:"Files to store."`
}

type batchResult struct {
	File   string
	Digest svdb.Digest
	Size   int
	Err    error
}

func (c *BatchCmd) Run(g *Globals) error {
	alg, err := c.algorithm()
	if err != nil {
		return err
	}
	if c.ChunkSize < 0 {
		return fmt.Errorf("chunk size must not be negative")
	}

	e, logger, err := g.engine(c.DBFlags)
	if err != nil {
		return err
	}
	defer closeEngine(e)

	start := time.Now()
	results := storeFiles(context.Background(), e, c.Files, alg, c.ChunkSize, c.Workers)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(g.out, "FAILED %s: %v\n", r.File, r.Err)
			continue
		}
		fmt.Fprintf(g.out, "%s  %s\n", r.Digest, r.File)
	}

	logger.Info("batch complete", "files", len(results), "failed", failed, "duration", time.Since(start))
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(results))
	}
	return nil
}

// storeFiles stores each file with at most workers in flight. A failing
// file is recorded in its result and does not stop the others. Results are
// in the order of files.
func storeFiles(ctx context.Context, e *store.Engine, files []string, alg svdb.Algorithm, chunkSize, workers int) []batchResult {
	if workers < 1 {
		workers = 1
	}

	results := make([]batchResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, file := range files {
		g.Go(func() error {
			results[i] = storeFile(ctx, e, file, alg, chunkSize)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func storeFile(ctx context.Context, e *store.Engine, file string, alg svdb.Algorithm, chunkSize int) batchResult {
	res := batchResult{File: file}

	data, err := os.ReadFile(file)
	if err != nil {
		res.Err = err
		return res
	}
	res.Size = len(data)
	res.Digest, res.Err = e.StoreWithOptions(ctx, data, alg, chunkSize)
	return res
}

// StatCmd prints an object's description as JSON.
type StatCmd struct {
	DBFlags

	Digest string `arg:"" help:"Digest of the object."`
}

func (c *StatCmd) Run(g *Globals) error {
	e, _, err := g.engine(c.DBFlags)
	if err != nil {
		return err
	}
	defer closeEngine(e)

	info, err := e.Stat(context.Background(), svdb.Digest(c.Digest))
	if err != nil {
		return err
	}
	return printJSON(g.out, info)
}

// ListCmd prints every stored digest, one per line.
type ListCmd struct {
	DBFlags
}

func (c *ListCmd) Run(g *Globals) error {
	e, _, err := g.engine(c.DBFlags)
	if err != nil {
		return err
	}
	defer closeEngine(e)

	digests, err := e.List(context.Background())
	if err != nil {
		return err
	}
	for _, d := range digests {
		if _, err := fmt.Fprintln(g.out, d); err != nil {
			return err
		}
	}
	return nil
}

// engine sets up logging and opens the configured store.
func (g *Globals) engine(f DBFlags) (*store.Engine, *slog.Logger, error) {
	cfg, logger, err := g.setup()
	if err != nil {
		return nil, nil, err
	}
	f.apply(cfg)

	e, err := openEngine(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return e, logger, nil
}

func closeEngine(e *store.Engine) {
	if err := e.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "closing store: %v\n", err)
	}
}

func openInput(name string) (io.Reader, func(), error) {
	if name == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(filepath.Clean(name))
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func readInput(name string) ([]byte, error) {
	r, closeFn, err := openInput(name)
	if err != nil {
		return nil, err
	}
	defer closeFn()
	return io.ReadAll(r)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
