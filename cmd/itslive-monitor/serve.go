package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/example/go-itslive/internal/config"
	"github.com/example/go-itslive/pkg/notify"
)

func newServeCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Consume scene notifications from the configured transport",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Log selected pairs instead of submitting them to HyP3",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := a.cfg.ValidateTransport(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			gate, err := a.buildGate(ctx, !cmd.Bool("dry-run"))
			if err != nil {
				return err
			}
			source, closeSource, err := a.buildSource(ctx)
			if err != nil {
				return err
			}
			defer closeSource()

			runner, err := notify.NewRunner(source, gate,
				notify.WithConcurrency(a.cfg.Transport.Concurrency),
				notify.WithMaxAttempts(a.cfg.Transport.MaxAttempts),
				notify.WithRunnerLogger(a.logger),
				notify.WithObserver(a.metrics),
			)
			if err != nil {
				return err
			}
			return a.serve(ctx, runner)
		},
	}
}

// serve runs the notification loop next to the metrics endpoint until ctx
// is cancelled or either of them fails.
func (a *app) serve(ctx context.Context, runner *notify.Runner) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.InfoContext(ctx, "metrics listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.logger.InfoContext(ctx, "consuming notifications",
			"transport", a.cfg.Transport.Kind, "concurrency", a.cfg.Transport.Concurrency)
		return runner.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (a *app) buildSource(ctx context.Context) (notify.Source, func(), error) {
	t := a.cfg.Transport
	switch t.Kind {
	case config.TransportSQS:
		awsCfg, err := loadAWSConfig(ctx, a.cfg.AWS)
		if err != nil {
			return nil, nil, err
		}
		source, err := notify.NewSQSSource(sqs.NewFromConfig(awsCfg), notify.SQSConfig{
			QueueURL:   t.SQS.QueueURL,
			DLQURL:     t.SQS.DLQURL,
			RetryDelay: t.SQS.RetryDelay,
		})
		if err != nil {
			return nil, nil, err
		}
		return source, func() {}, nil
	case config.TransportRedis:
		client := newRedisClient(t.Redis)
		source, err := notify.NewRedisSource(ctx, client, notify.RedisConfig{
			Stream:     t.Redis.Stream,
			Group:      t.Redis.Group,
			Consumer:   t.Redis.Consumer,
			DLQStream:  t.Redis.DLQStream,
			RetryDelay: t.Redis.RetryDelay,
		})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return source, func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", t.Kind)
	}
}

func newRedisClient(cfg config.RedisConfig) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    strings.Split(cfg.Addr, ","),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func newEnqueueCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:      "enqueue",
		Usage:     "Publish scene notifications to the configured transport for reprocessing",
		ArgsUsage: "SCENE [SCENE...]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			scenes := trimStrings(cmd.Args().Slice())
			if len(scenes) == 0 {
				return fmt.Errorf("%s: at least one scene id is required", cmd.Name)
			}
			if err := a.cfg.ValidateTransport(); err != nil {
				return err
			}
			publish, closePublisher, err := a.buildPublisher(ctx)
			if err != nil {
				return err
			}
			defer closePublisher()

			for _, sceneID := range scenes {
				body, err := json.Marshal(map[string]string{"name": sceneID})
				if err != nil {
					return err
				}
				if err := publish(ctx, body); err != nil {
					return fmt.Errorf("enqueue %s: %w", sceneID, err)
				}
				a.logger.InfoContext(ctx, "scene enqueued", "scene", sceneID, "transport", a.cfg.Transport.Kind)
			}
			return nil
		},
	}
}

type publishFunc func(ctx context.Context, body []byte) error

func (a *app) buildPublisher(ctx context.Context) (publishFunc, func(), error) {
	t := a.cfg.Transport
	switch t.Kind {
	case config.TransportSQS:
		awsCfg, err := loadAWSConfig(ctx, a.cfg.AWS)
		if err != nil {
			return nil, nil, err
		}
		client := sqs.NewFromConfig(awsCfg)
		return func(ctx context.Context, body []byte) error {
			_, err := client.SendMessage(ctx, &sqs.SendMessageInput{
				QueueUrl:    aws.String(t.SQS.QueueURL),
				MessageBody: aws.String(string(body)),
			})
			return err
		}, func() {}, nil
	case config.TransportRedis:
		client := newRedisClient(t.Redis)
		return func(ctx context.Context, body []byte) error {
			return client.XAdd(ctx, &redis.XAddArgs{
				Stream: t.Redis.Stream,
				Values: notify.StreamValues(body, 1),
			}).Err()
		}, func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", t.Kind)
	}
}

func trimStrings(values []string) []string {
	var result []string
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
