// cmd/athenactl/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"athena/internal/client"
	"athena/internal/infra/etcd"

	"github.com/alexflint/go-arg"
	"go.uber.org/zap"
)

type modelCmd struct {
	Name    string `arg:"positional,required" help:"model name"`
	Version string `arg:"positional" help:"model version"`
}

type statusCmd struct {
	Name string `arg:"positional,required" help:"model name"`
}

type inferCmd struct {
	Payload   string        `arg:"positional,required" help:"request payload"`
	RequestID string        `arg:"--id" help:"request id, generated by the core when empty"`
	Deadline  time.Duration `arg:"--deadline" help:"advisory deadline sent with the request"`
}

type queueCmd struct{}

type args struct {
	Load   *modelCmd  `arg:"subcommand:load" help:"load a model"`
	Unload *modelCmd  `arg:"subcommand:unload" help:"unload a model"`
	Status *statusCmd `arg:"subcommand:status" help:"show a model's status"`
	Infer  *inferCmd  `arg:"subcommand:infer" help:"run one inference request"`
	Queue  *queueCmd  `arg:"subcommand:queue" help:"show batching queue stats"`

	Target  string        `arg:"-t,--target,env:ATHENA_TARGET" help:"core gRPC address; discovered through etcd when empty"`
	Etcd    string        `arg:"--etcd,env:ATHENA_ETCD_ENDPOINTS" help:"comma separated etcd endpoints for discovery"`
	Timeout time.Duration `arg:"--timeout" default:"10s" help:"per-call timeout"`
}

func (args) Description() string {
	return "athenactl talks to an athena core node over gRPC"
}

func main() {
	var a args
	p := arg.MustParse(&a)
	if p.Subcommand() == nil {
		p.Fail("missing subcommand")
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.Timeout)
	defer cancel()

	target, err := resolveTarget(ctx, a)
	if err != nil {
		fail(err)
	}

	c, err := client.NewCoreClient(target, a.Timeout)
	if err != nil {
		fail(err)
	}
	defer c.Close()

	var out any
	switch {
	case a.Load != nil:
		out, err = c.LoadModel(ctx, a.Load.Name, a.Load.Version)
	case a.Unload != nil:
		out, err = c.UnloadModel(ctx, a.Unload.Name, a.Unload.Version)
	case a.Status != nil:
		out, err = c.GetModelStatus(ctx, a.Status.Name)
	case a.Infer != nil:
		out, err = c.RunInference(ctx, a.Infer.RequestID, a.Infer.Payload, a.Infer.Deadline)
	case a.Queue != nil:
		out, err = c.QueueStats(ctx)
	}
	if err != nil {
		fail(err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}

// resolveTarget uses --target, or picks a registered core from etcd.
func resolveTarget(ctx context.Context, a args) (string, error) {
	if a.Target != "" {
		return a.Target, nil
	}
	if a.Etcd == "" {
		return "localhost:50051", nil
	}

	cli, err := etcd.NewClient(strings.Split(a.Etcd, ","), a.Timeout)
	if err != nil {
		return "", err
	}
	defer cli.Close()

	d := client.NewDiscovery(cli, zap.NewNop())
	if err := d.Load(ctx); err != nil {
		return "", fmt.Errorf("failed to discover cores: %w", err)
	}
	return d.Pick()
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "athenactl:", err)
	os.Exit(1)
}
