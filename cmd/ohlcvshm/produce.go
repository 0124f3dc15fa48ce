package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/spf13/cobra"

	"github.com/srediag/ohlcv-shm/internal/admin"
	"github.com/srediag/ohlcv-shm/pkg/candle"
	"github.com/srediag/ohlcv-shm/pkg/ohlcv"
	"github.com/srediag/ohlcv-shm/pkg/shm"
)

// =============================================================================
// PRODUCE COMMAND
// =============================================================================

type produceFlags struct {
	input        string
	demoSymbols  int
	demoBars     int
	from, to     int64
	timeColumn   string
	symbolColumn string
	columns      []string
	readers      int
	adminAddr    string
	handleFile   string
	hold         time.Duration
}

func newProduceCmd(c *cli) *cobra.Command {
	f := &produceFlags{}
	cmd := &cobra.Command{
		Use:   "produce",
		Short: "Build a table in shared memory and serve its handle until released",
		Long: `produce loads candles from a parquet file (or generates demo candles),
builds the shared table and publishes its handle through --handle-file and the
admin server. With --readers it spawns that many "read" processes and releases
the table once they exit; otherwise it holds the table until --hold elapses or
the process is interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.produce(cmd.Context(), cmd.OutOrStdout(), cmd, f)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.input, "input", "", "parquet file of candles")
	flags.IntVar(&f.demoSymbols, "demo-symbols", 0, "generate this many demo symbols instead of reading --input")
	flags.IntVar(&f.demoBars, "demo-bars", 100, "bars per demo symbol")
	flags.Int64Var(&f.from, "from", 0, "first time key to keep (inclusive)")
	flags.Int64Var(&f.to, "to", 0, "last time key to keep (inclusive)")
	flags.StringVar(&f.timeColumn, "time-column", "date", "time key column of --input")
	flags.StringVar(&f.symbolColumn, "symbol-column", "symbol", "symbol column of --input")
	flags.StringSliceVar(&f.columns, "columns", nil, "value columns of --input (default all numeric)")
	flags.IntVar(&f.readers, "readers", 0, "reader processes to spawn (default from config)")
	flags.StringVar(&f.adminAddr, "admin-addr", "", "admin server address, \"off\" to disable (default from config)")
	flags.StringVar(&f.handleFile, "handle-file", "", "write the handle to this file (default from config)")
	flags.DurationVar(&f.hold, "hold", 0, "release after this long when no readers are spawned (0 waits for a signal)")
	return cmd
}

func (c *cli) loadFrame(ctx context.Context, f *produceFlags) (*candle.Frame, error) {
	var frame *candle.Frame
	switch {
	case f.input != "":
		var err error
		frame, err = candle.LoadParquet(ctx, f.input, candle.LoadOptions{
			TimeColumn:   f.timeColumn,
			SymbolColumn: f.symbolColumn,
			Columns:      f.columns,
		})
		if err != nil {
			return nil, err
		}
	case f.demoSymbols > 0:
		frame = candle.Demo(f.demoSymbols, f.demoBars)
	default:
		return nil, errors.New("need --input or --demo-symbols")
	}
	if f.from != 0 || f.to != 0 {
		frame = frame.FilterDates(f.from, f.to)
	}
	return frame, nil
}

func (c *cli) produce(parent context.Context, out io.Writer, cmd *cobra.Command, f *produceFlags) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	// Covers early returns after Build.
	defer func() {
		if err := shm.ReleaseAll(); err != nil {
			logger.Errorf("release leftover segments: %v", err)
		}
	}()

	readers := c.cfg.Readers
	if cmd.Flags().Changed("readers") {
		readers = f.readers
	}
	adminAddr := c.cfg.AdminAddr
	if f.adminAddr != "" {
		adminAddr = f.adminAddr
	}
	handleFile := c.cfg.HandleFile
	if f.handleFile != "" {
		handleFile = f.handleFile
	}

	frame, err := c.loadFrame(ctx, f)
	if err != nil {
		return err
	}
	values, rowIndex, ptr, rng, err := frame.Arrays()
	if err != nil {
		return err
	}
	opts := []ohlcv.Option{ohlcv.WithDir(c.cfg.SegmentDir), ohlcv.WithPrefix(c.cfg.SegmentPrefix)}
	if c.cfg.Validate {
		opts = append(opts, ohlcv.WithValidation())
	}
	table, err := ohlcv.Build(ctx, values, rowIndex, ptr, rng, frame.Columns, opts...)
	if err != nil {
		return err
	}
	h := table.Handle()
	fmt.Fprintf(out, "built table %s: %d rows, %d symbols, columns %v\n",
		h.Values.Segment, rowsOf(h.Values.Shape), len(ptr.Data)-1, frame.Columns)

	var srv *admin.Server
	if adminAddr != "" && adminAddr != "off" {
		srv = admin.New()
		go func() {
			if err := srv.Start(adminAddr); err != nil {
				logger.Errorf("admin server: %v", err)
			}
		}()
		if err := srv.Publish(h); err != nil {
			return errors.Join(err, table.Release())
		}
	}
	if handleFile != "" {
		if err := ohlcv.WriteHandleFile(handleFile, h); err != nil {
			return errors.Join(err, table.Release())
		}
		defer os.Remove(handleFile)
	}

	var runErr error
	if readers > 0 {
		runErr = spawnReaders(ctx, h, readers, c.readerArgs())
	} else {
		wait(ctx, f.hold)
	}

	if srv != nil {
		srv.Withdraw()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("admin server shutdown: %v", err)
		}
		cancel()
	}
	if err := table.Release(); err != nil {
		return errors.Join(runErr, err)
	}
	fmt.Fprintf(out, "released table %s\n", h.Values.Segment)
	return runErr
}

func rowsOf(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	return shape[0]
}

func wait(ctx context.Context, hold time.Duration) {
	if hold <= 0 {
		<-ctx.Done()
		return
	}
	t := time.NewTimer(hold)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// readerArgs are the persistent flags a spawned reader needs to see the same
// segments and config as this process.
func (c *cli) readerArgs() []string {
	args := []string{
		"--dir", c.cfg.SegmentDir,
		"--prefix", c.cfg.SegmentPrefix,
		fmt.Sprintf("--log-level=%d", c.cfg.LogLevel),
	}
	if c.cfg.Validate {
		args = append(args, "--validate")
	}
	return args
}

// spawnReaders runs n "read" processes of this binary on a worker pool,
// handing each the encoded handle as an argument, and waits for all of them.
func spawnReaders(ctx context.Context, h ohlcv.Handle, n int, extra []string) error {
	data, err := ohlcv.EncodeHandle(h)
	if err != nil {
		return err
	}
	self, err := os.Executable()
	if err != nil {
		return err
	}
	pool, err := ants.NewPool(n)
	if err != nil {
		return err
	}
	defer pool.Release()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	handle := strings.TrimSpace(string(data))
	for i := 0; i < n; i++ {
		id := i
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			args := append([]string{"read", "--handle", handle}, extra...)
			cmd := exec.CommandContext(ctx, self, args...)
			cmd.Stdout = &prefixWriter{prefix: fmt.Sprintf("[reader %d] ", id), w: os.Stdout}
			cmd.Stderr = os.Stderr
			if err := cmd.Run(); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("reader %d: %w", id, err))
				mu.Unlock()
			}
		}); err != nil {
			wg.Done()
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
	}
	wg.Wait()
	return errors.Join(errs...)
}

// prefixWriter tags each write of a child's output.
type prefixWriter struct {
	mu     sync.Mutex
	prefix string
	w      io.Writer
}

func (p *prefixWriter) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, line := range strings.SplitAfter(string(b), "\n") {
		if line == "" {
			continue
		}
		if _, err := io.WriteString(p.w, p.prefix+line); err != nil {
			return 0, err
		}
	}
	return len(b), nil
}
