/*
Copyright 2025 The Confsync Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package remote

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"github.com/confsync/confsync/pkg/document"
)

// DefaultBackoff retries four times starting at 100ms.
var DefaultBackoff = wait.Backoff{
	Steps:    4,
	Duration: 100 * time.Millisecond,
	Factor:   2.0,
	Jitter:   0.1,
	Cap:      5 * time.Second,
}

// RetryingClient decorates a Client, retrying calls that fail with a
// transient error.
type RetryingClient struct {
	delegate Client
	backoff  wait.Backoff
	// RetryCondition decides whether a failed call is retried.
	RetryCondition func(error) bool
}

var _ Client = &RetryingClient{}

// NewRetryingClient wraps delegate.
func NewRetryingClient(delegate Client, backoff wait.Backoff) *RetryingClient {
	return &RetryingClient{
		delegate:       delegate,
		backoff:        backoff,
		RetryCondition: IsTransient,
	}
}

func (c *RetryingClient) execute(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	logger := klog.FromContext(ctx)

	var lastErr error
	attempts := 0
	err := wait.ExponentialBackoffWithContext(ctx, c.backoff, func(ctx context.Context) (bool, error) {
		attempts++
		lastErr = fn(ctx)
		switch {
		case lastErr == nil:
			return true, nil
		case c.RetryCondition(lastErr):
			logger.V(4).Info("Remote call failed, retrying", "op", op, "attempt", attempts, "err", lastErr)
			return false, nil
		default:
			return false, lastErr
		}
	})
	if err == nil {
		if attempts > 1 {
			logger.V(4).Info("Remote call succeeded after retries", "op", op, "attempts", attempts)
		}
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if wait.Interrupted(err) && lastErr != nil {
		return lastErr
	}
	return err
}

func (c *RetryingClient) ListContainers(ctx context.Context, scope Scope) ([]*document.Container, error) {
	var out []*document.Container
	err := c.execute(ctx, "list-containers", func(ctx context.Context) error {
		var err error
		out, err = c.delegate.ListContainers(ctx, scope)
		return err
	})
	return out, err
}

func (c *RetryingClient) ListItems(ctx context.Context, container string, t document.ItemType) ([]*document.Item, error) {
	var out []*document.Item
	err := c.execute(ctx, "list-items", func(ctx context.Context) error {
		var err error
		out, err = c.delegate.ListItems(ctx, container, t)
		return err
	})
	return out, err
}

func (c *RetryingClient) CreateItem(ctx context.Context, item *document.Item) (*Result, error) {
	var out *Result
	err := c.execute(ctx, "create-item", func(ctx context.Context) error {
		var err error
		out, err = c.delegate.CreateItem(ctx, item)
		return err
	})
	return out, err
}

func (c *RetryingClient) UpdateItem(ctx context.Context, item *document.Item) (*Result, error) {
	var out *Result
	err := c.execute(ctx, "update-item", func(ctx context.Context) error {
		var err error
		out, err = c.delegate.UpdateItem(ctx, item)
		return err
	})
	return out, err
}
