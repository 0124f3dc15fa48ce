package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/srediag/ohlcv-shm/pkg/candle"
	"github.com/srediag/ohlcv-shm/pkg/ohlcv"
	"github.com/srediag/ohlcv-shm/pkg/shm"
)

// =============================================================================
// READ COMMAND
// =============================================================================

func newReadCmd(c *cli) *cobra.Command {
	src := &handleSource{}
	var workers int
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Attach to a shared table and summarize it per symbol",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("scan-workers") {
				c.cfg.ScanWorkers = workers
			}
			return c.read(cmd.Context(), cmd.OutOrStdout(), src)
		},
	}
	src.register(cmd.Flags())
	cmd.Flags().IntVar(&workers, "scan-workers", 0, "goroutines scanning symbols (default from config)")
	return cmd
}

func (c *cli) attach(ctx context.Context, src *handleSource) (*ohlcv.Reader, ohlcv.Handle, error) {
	h, err := c.resolve(ctx, src)
	if err != nil {
		return nil, ohlcv.Handle{}, err
	}
	var opts []ohlcv.Option
	if c.cfg.Validate {
		opts = append(opts, ohlcv.WithValidation())
	}
	if h.Dir == "" {
		opts = append(opts, ohlcv.WithDir(c.cfg.SegmentDir))
	}
	r, err := ohlcv.Attach(ctx, h, opts...)
	if err != nil {
		return nil, ohlcv.Handle{}, err
	}
	return r, h, nil
}

func (c *cli) read(ctx context.Context, out io.Writer, src *handleSource) error {
	r, h, err := c.attach(ctx, src)
	if err != nil {
		return err
	}
	defer func() {
		if err := r.Close(); err != nil {
			logger.Warnf("close reader: %v", err)
		}
	}()

	snap, err := r.Read()
	if err != nil {
		return err
	}
	var active, maxRows atomic.Int64
	err = candle.ScanSymbols(ctx, snap, c.cfg.ScanWorkers, func(_ int, rows shm.View[float64]) error {
		n := int64(rows.Shape()[0])
		active.Add(n)
		for {
			cur := maxRows.Load()
			if n <= cur || maxRows.CompareAndSwap(cur, n) {
				return nil
			}
		}
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "pid %d attached %s: %d rows, %d symbols, %d active rows, longest symbol %d rows, columns %v\n",
		os.Getpid(), h.Values.Segment, snap.NumRows(), snap.NumSymbols(), active.Load(), maxRows.Load(), r.Columns())
	return nil
}
