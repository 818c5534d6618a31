package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	nats_bus "tgnms.poller/internal/adapters/bus/nats"
	"tgnms.poller/internal/adapters/ipc"
	redis_adapter "tgnms.poller/internal/adapters/queue/redis"
	"tgnms.poller/internal/config"
	"tgnms.poller/internal/core/domain"
	"tgnms.poller/internal/core/logger"
	"tgnms.poller/internal/core/ports"
	"tgnms.poller/internal/poller"
)

func main() {
	logger.InitWithWriter(slog.LevelWarn, "text", os.Stderr)
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "pollerctl",
		Short:         "Query Terragraph controllers and drive the state poller",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newPollCommand())
	cmd.AddCommand(newCallCommand())
	cmd.AddCommand(newEnqueueCommand())
	return cmd
}

// topologyFlags are shared by every command that names a single network.
type topologyFlags struct {
	name    string
	active  string
	passive string
	baseURL string
	scan    bool
}

func (f *topologyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "Network name")
	cmd.Flags().StringVar(&f.active, "active", "", "Active controller address")
	cmd.Flags().StringVar(&f.passive, "passive", "", "Passive controller address")
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "API service base URL overriding the active address")
	cmd.Flags().BoolVar(&f.scan, "scan", false, "Issue scan_poll instead of poll")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("active")
}

func (f *topologyFlags) command() (domain.Command, error) {
	topo := domain.TopologyDescriptor{
		Name:                f.name,
		ControllerIPActive:  f.active,
		ControllerIPPassive: f.passive,
		APIServiceBaseURL:   f.baseURL,
	}
	if err := topo.Validate(); err != nil {
		return domain.Command{}, err
	}
	t := domain.CommandPoll
	if f.scan {
		t = domain.CommandScanPoll
	}
	return domain.Command{
		ID:         "cli-" + uuid.New().String(),
		Type:       t,
		Topologies: []domain.TopologyDescriptor{topo},
	}, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newPollCommand() *cobra.Command {
	var (
		flags   topologyFlags
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run one poll or scan_poll in-process and print each result as a JSON line",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			pollCmd, err := flags.command()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(commandContext(cmd), timeout)
			defer cancel()
			return runPoll(ctx, cfg.PollerSettings(nil).Worker(), pollCmd, cmd.OutOrStdout())
		},
	}

	flags.register(cmd)
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Give up waiting for results after this long")
	return cmd
}

type drainer interface {
	Drain(ctx context.Context) error
}

// runPoll sends cmd to worker and writes results until every expected
// message has arrived. Follow-up calls such as the scan reset finish before
// it returns.
func runPoll(ctx context.Context, worker ports.Worker, cmd domain.Command, w io.Writer) error {
	if err := worker.Start(ctx); err != nil {
		return err
	}
	defer worker.Stop()

	if err := worker.Send(ctx, cmd); err != nil {
		return err
	}

	enc := ipc.NewEncoder(w)
	expected := cmd.ExpectedResults()
	for received := 0; received < expected; {
		select {
		case <-ctx.Done():
			return fmt.Errorf("received %d of %d results: %w", received, expected, ctx.Err())
		case msg, ok := <-worker.Results():
			if !ok {
				return errors.New("worker stopped before all results arrived")
			}
			if err := enc.Encode(msg); err != nil {
				return err
			}
			received++
		}
	}

	if d, ok := worker.(drainer); ok {
		if err := d.Drain(ctx); err != nil {
			return fmt.Errorf("wait for follow-up calls: %w", err)
		}
	}
	return nil
}

// callOutput is the printed form of one transport call.
type callOutput struct {
	Success      bool            `json:"success"`
	StatusCode   int             `json:"status_code,omitempty"`
	Attempts     int             `json:"attempts"`
	ResponseTime int64           `json:"response_time"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Error        string          `json:"error,omitempty"`
}

func newCallCommand() *cobra.Command {
	var (
		address string
		baseURL string
		method  string
		body    string
	)

	cmd := &cobra.Command{
		Use:   "call",
		Short: "Call one controller API method with the configured retry policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			if address == "" && baseURL == "" {
				return errors.New("one of --address or --base-url is required")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			req := poller.Request{Address: address, BaseURL: baseURL, Method: method}
			if body != "" {
				if !json.Valid([]byte(body)) {
					return fmt.Errorf("--body is not valid JSON")
				}
				req.Body = json.RawMessage(body)
			}

			return printCall(commandContext(cmd), newCallClient(cfg.PollerSettings(nil)), req, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "Controller address")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "API service base URL")
	cmd.Flags().StringVar(&method, "method", "", "API method, e.g. getTopology")
	cmd.Flags().StringVar(&body, "body", "", "JSON request body (default {})")
	_ = cmd.MarkFlagRequired("method")
	return cmd
}

// newCallClient applies the same retry policy the worker uses: an empty status
// list keeps the default retryable codes.
func newCallClient(s poller.Settings) poller.Client {
	var opts []poller.RetryOption
	if len(s.RetryStatusCodes) > 0 {
		opts = append(opts, poller.RetryOnStatus(s.RetryStatusCodes...))
	}
	return poller.WithRetry(s.RetryDelays, s.Client(), opts...)
}

func printCall(ctx context.Context, client poller.Client, req poller.Request, w io.Writer) error {
	outcome := client.Call(ctx, req)
	out := callOutput{
		Success:      outcome.Success,
		StatusCode:   outcome.StatusCode,
		Attempts:     outcome.Attempts,
		ResponseTime: outcome.ResponseTimeMs(),
		Payload:      outcome.Payload,
	}
	if outcome.Err != nil {
		out.Error = outcome.Err.Error()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	if !outcome.Success {
		return fmt.Errorf("%s failed", req.Method)
	}
	return nil
}

func newEnqueueCommand() *cobra.Command {
	var (
		flags    topologyFlags
		redisURL string
		natsURL  string
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Hand a command to a running poller through Redis or NATS",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (redisURL == "") == (natsURL == "") {
				return errors.New("exactly one of --redis-url or --nats-url is required")
			}
			pollCmd, err := flags.command()
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)

			if redisURL != "" {
				adapter, client, err := redis_adapter.NewRedisAdapter(redisURL)
				if err != nil {
					return fmt.Errorf("redis: %w", err)
				}
				defer client.Close()
				if err := adapter.Enqueue(ctx, pollCmd); err != nil {
					return err
				}
			} else {
				bus, err := nats_bus.New(natsURL)
				if err != nil {
					return fmt.Errorf("nats: %w", err)
				}
				defer bus.Close()
				if err := bus.PublishCommand(ctx, pollCmd); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), pollCmd.ID)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&redisURL, "redis-url", "", "Redis URL of the poller's command queue")
	cmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS URL of the poller's command subject")
	return cmd
}
