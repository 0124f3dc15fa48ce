package main

import (
	"context"
	"errors"
	"strings"

	"github.com/spf13/pflag"

	"github.com/srediag/ohlcv-shm/internal/admin"
	"github.com/srediag/ohlcv-shm/pkg/ohlcv"
)

// handleSource is where a reader gets the table handle from.
type handleSource struct {
	handle   string
	adminURL string
}

func (h *handleSource) register(flags *pflag.FlagSet) {
	flags.StringVar(&h.handle, "handle", "", "table handle as JSON, or @path of a handle file")
	flags.StringVar(&h.adminURL, "admin-url", "", "base URL of the producer admin server")
}

// resolve returns the handle from the flags, falling back to the configured
// handle file. File and admin sources are retried until the producer
// publishes or the configured retry budget is spent.
func (c *cli) resolve(ctx context.Context, h *handleSource) (ohlcv.Handle, error) {
	switch {
	case h.adminURL != "":
		return admin.FetchHandle(ctx, nil, h.adminURL, c.cfg.AttachRetry.BackOff())
	case strings.HasPrefix(h.handle, "@"):
		return admin.WaitHandleFile(ctx, strings.TrimPrefix(h.handle, "@"), c.cfg.AttachRetry.BackOff())
	case h.handle != "":
		return ohlcv.DecodeHandle([]byte(h.handle))
	case c.cfg.HandleFile != "":
		return admin.WaitHandleFile(ctx, c.cfg.HandleFile, c.cfg.AttachRetry.BackOff())
	}
	return ohlcv.Handle{}, errors.New("no handle: use --handle, --admin-url or handle_file in the config")
}
