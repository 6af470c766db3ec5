// Package etcd creates etcd v3 clients from options.
package etcd

import (
	"context"

	clientv3 "go.etcd.io/etcd/client/v3"

	options "github.com/kart-io/policy-watcher/pkg/options/etcd"
	"github.com/kart-io/policy-watcher/pkg/utils/errors"
)

// New creates an etcd client and checks that the first endpoint answers a
// status request within the request timeout.
func New(ctx context.Context, opts *options.Options) (*clientv3.Client, error) {
	if opts == nil || len(opts.Endpoints) == 0 {
		return nil, errors.ErrInvalidParam.WithMessage("etcd endpoints are required")
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   opts.Endpoints,
		Username:    opts.Username,
		Password:    opts.Password,
		DialTimeout: opts.DialTimeout,
		Context:     ctx,
	})
	if err != nil {
		return nil, errors.ErrNetwork.WithMessage("failed to create etcd client").WithCause(err)
	}

	statusCtx, cancel := context.WithTimeout(ctx, opts.RequestTimeout)
	defer cancel()
	if _, err := cli.Status(statusCtx, opts.Endpoints[0]); err != nil {
		_ = cli.Close()
		return nil, errors.ErrNetwork.WithMessagef("etcd endpoint %s is not reachable", opts.Endpoints[0]).WithCause(err)
	}

	return cli, nil
}
