package omnicube

import (
	"context"
	"fmt"
	"time"
)

// Runner executes one appliance command line and returns its output with
// the command echo already stripped.
type Runner interface {
	Run(ctx context.Context, command string) (string, error)
}

// Client issues the OmniCube queries over a Runner and decodes the replies.
type Client struct {
	runner     Runner
	maxResults int
	timeout    time.Duration
}

// NewClient returns a Client. maxResults and timeout are passed through to the
// appliance commands.
func NewClient(runner Runner, maxResults int, timeout time.Duration) *Client {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &Client{runner: runner, maxResults: maxResults, timeout: timeout}
}

// Backups lists the backup records of window.
func (c *Client) Backups(ctx context.Context, window Window) ([]BackupRecord, error) {
	raw, err := c.runner.Run(ctx, BackupQuery(window, c.maxResults, c.timeout))
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	return DecodeBackups(raw)
}

// Inventory lists all VMs with their backup policy.
func (c *Client) Inventory(ctx context.Context) ([]VMRecord, error) {
	raw, err := c.runner.Run(ctx, InventoryQuery(c.timeout))
	if err != nil {
		return nil, fmt.Errorf("list VMs: %w", err)
	}
	return DecodeVMs(raw)
}
