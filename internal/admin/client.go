package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/srediag/ohlcv-shm/pkg/ohlcv"
)

// FetchHandle gets the handle served by the admin server at baseURL. It
// retries with b while the producer has not published yet (503) or cannot be
// reached; any other failure is returned at once.
func FetchHandle(ctx context.Context, client *http.Client, baseURL string, b backoff.BackOff) (ohlcv.Handle, error) {
	if client == nil {
		client = http.DefaultClient
	}
	url := strings.TrimRight(baseURL, "/") + HandlePath
	var h ohlcv.Handle
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		switch resp.StatusCode {
		case http.StatusOK:
		case http.StatusServiceUnavailable:
			return fmt.Errorf("fetch %s: %s", url, resp.Status)
		default:
			return backoff.Permanent(fmt.Errorf("fetch %s: %s", url, resp.Status))
		}
		h, err = ohlcv.DecodeHandle(body)
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}
	notify := func(err error, next time.Duration) {
		logger.Debugf("handle not available yet, retrying in %s: %v", next, err)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return ohlcv.Handle{}, err
	}
	return h, nil
}

// WaitHandleFile reads the handle file at path, retrying with b while the
// file does not exist yet.
func WaitHandleFile(ctx context.Context, path string, b backoff.BackOff) (ohlcv.Handle, error) {
	var h ohlcv.Handle
	op := func() error {
		var err error
		h, err = ohlcv.ReadHandleFile(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return ohlcv.Handle{}, err
	}
	return h, nil
}
