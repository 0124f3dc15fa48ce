package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/srediag/ohlcv-shm/pkg/ohlcv"
	"github.com/srediag/ohlcv-shm/pkg/shm"
)

// =============================================================================
// INSPECT COMMAND
// =============================================================================

func newInspectCmd(c *cli) *cobra.Command {
	src := &handleSource{}
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the segments of a table and check its symbol index",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.inspect(cmd.Context(), cmd.OutOrStdout(), src)
		},
	}
	src.register(cmd.Flags())
	return cmd
}

func (c *cli) inspect(ctx context.Context, out io.Writer, src *handleSource) error {
	h, err := c.resolve(ctx, src)
	if err != nil {
		return err
	}
	dir := h.Dir
	if dir == "" {
		dir = c.cfg.SegmentDir
	}
	for _, desc := range []shm.Descriptor{h.Values, h.RowIndex, h.SymbolPointer, h.SymbolRange} {
		if err := shm.DebugSegmentDetail(out, dir, desc); err != nil {
			fmt.Fprintf(out, "segment %s: %v\n", desc.Segment, err)
		}
	}

	r, err := ohlcv.Attach(ctx, h, ohlcv.WithDir(dir))
	if err != nil {
		return err
	}
	defer r.Close()
	snap, err := r.Read()
	if err != nil {
		return err
	}
	var ie *ohlcv.InvariantError
	switch err := ohlcv.Validate(snap); {
	case err == nil:
		fmt.Fprintf(out, "index ok: %d rows, %d symbols\n", snap.NumRows(), snap.NumSymbols())
	case errors.As(err, &ie):
		fmt.Fprintf(out, "index broken: %v\n", ie)
		return err
	default:
		return err
	}
	return nil
}
