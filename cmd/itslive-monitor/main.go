package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/example/go-itslive/internal/config"
	"github.com/example/go-itslive/internal/logging"
	"github.com/example/go-itslive/internal/metrics"
	"github.com/example/go-itslive/internal/telemetry"
	"github.com/example/go-itslive/monitor"
	"github.com/example/go-itslive/monitor/pairing"
	"github.com/example/go-itslive/monitor/scene"
)

var version = "0.1.0"

var userAgent = "itslive-monitor/" + version

// Exit codes for terminal outcomes. 75 is EX_TEMPFAIL.
const (
	exitFailed   = 1
	exitDeferred = 75
)

func main() {
	a := &app{}
	var tel *telemetry.Telemetry

	root := &cli.Command{
		Name:    "itslive-monitor",
		Usage:   "Qualify newly published scenes, pick a pair partner and submit it to HyP3",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "YAML configuration file",
				Aliases: []string{"c"},
				Sources: cli.EnvVars(config.EnvConfigPath),
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Load environment variables from this file when it exists",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override the configured log level (debug, info, warn, error)",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Shorthand for --log-level debug",
				Aliases: []string{"v"},
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if path := cmd.String("env-file"); path != "" {
				if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
					return ctx, fmt.Errorf("load %s: %w", path, err)
				}
			}
			cfg, err := config.Load(ctx, cmd.String("config"))
			if err != nil {
				return ctx, err
			}
			if level := cmd.String("log-level"); level != "" {
				cfg.Log.Level = level
			}
			if cmd.Bool("verbose") {
				cfg.Log.Level = "debug"
			}

			tel, err = telemetry.Setup(ctx, cfg.Telemetry, version)
			if err != nil {
				return ctx, fmt.Errorf("telemetry: %w", err)
			}
			logger, err := logging.Setup(logging.Options{
				Level:       cfg.Log.Level,
				Format:      cfg.Log.Format,
				ServiceName: cfg.Telemetry.ServiceName,
				OTel:        tel.LogsEnabled(),
			})
			if err != nil {
				return ctx, err
			}
			a.cfg = cfg
			a.logger = logger
			a.metrics = metrics.NewManager(metrics.WithConstLabels(map[string]string{"environment": cfg.Environment}))
			return ctx, nil
		},
		After: func(ctx context.Context, cmd *cli.Command) error {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return tel.Shutdown(shutdownCtx)
		},
		Commands: []*cli.Command{
			newProcessCommand(a),
			newPairsCommand(a),
			newServeCommand(a),
			newEnqueueCommand(a),
		},
	}

	if err := root.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func newProcessCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:      "process",
		Usage:     "Run the full pipeline for one reference scene",
		ArgsUsage: "SCENE",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "submit",
				Usage: "Submit the selected pair to HyP3 instead of logging it",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			sceneID, err := sceneArg(cmd)
			if err != nil {
				return err
			}
			gate, err := a.buildGate(ctx, cmd.Bool("submit"))
			if err != nil {
				return err
			}
			out := gate.ProcessScene(ctx, sceneID)
			fmt.Fprintln(os.Stdout, out.String())
			return exitFor(out)
		},
	}
}

func newPairsCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:      "pairs",
		Usage:     "List the ranked candidate pairs for a scene without deduplicating or submitting",
		ArgsUsage: "SCENE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "output",
				Usage: "Output format (text or json)",
				Value: "text",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			sceneID, err := sceneArg(cmd)
			if err != nil {
				return err
			}
			gate, err := a.buildGate(ctx, false)
			if err != nil {
				return err
			}
			pairs, out := gate.Candidates(ctx, sceneID)
			if out.Kind != "" {
				fmt.Fprintln(os.Stdout, out.String())
				return exitFor(out)
			}

			switch output := strings.ToLower(strings.TrimSpace(cmd.String("output"))); output {
			case "json":
				return writeJSON(os.Stdout, pairRows(pairs))
			case "text":
				printPairsTable(os.Stdout, pairs)
				return nil
			default:
				return fmt.Errorf("unsupported output format %q", output)
			}
		},
	}
}

func sceneArg(cmd *cli.Command) (string, error) {
	sceneID := strings.TrimSpace(cmd.Args().First())
	if sceneID == "" {
		return "", fmt.Errorf("%s: a scene id is required", cmd.Name)
	}
	return sceneID, nil
}

// exitFor maps non-final outcomes onto process exit codes.
func exitFor(out monitor.Outcome) error {
	switch out.Kind {
	case monitor.KindFailed:
		return cli.Exit("", exitFailed)
	case monitor.KindDeferred:
		return cli.Exit("", exitDeferred)
	default:
		return nil
	}
}

type pairRow struct {
	Key               string    `json:"key"`
	Reference         string    `json:"reference"`
	Secondary         string    `json:"secondary"`
	SecondaryAcquired time.Time `json:"secondary_acquired"`
	SeparationDays    float64   `json:"separation_days"`
	SecondaryTile     string    `json:"secondary_tile"`
	SecondaryOffNadir bool      `json:"secondary_off_nadir"`
}

func pairRows(pairs []pairing.Pair) []pairRow {
	rows := make([]pairRow, 0, len(pairs))
	for _, p := range pairs {
		sep := p.Reference.Acquired().Sub(p.Secondary.Acquired())
		rows = append(rows, pairRow{
			Key:               p.Key,
			Reference:         p.Reference.ID(),
			Secondary:         p.Secondary.ID(),
			SecondaryAcquired: p.Secondary.Acquired(),
			SeparationDays:    math.Round(math.Abs(sep.Hours()/24)*10) / 10,
			SecondaryTile:     p.Secondary.Tile(),
			SecondaryOffNadir: p.Secondary.Orientation() == scene.OffNadir,
		})
	}
	return rows
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func printPairsTable(w io.Writer, pairs []pairing.Pair) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tSECONDARY\tACQUIRED\tDAYS\tKEY")
	for i, row := range pairRows(pairs) {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.1f\t%s\n",
			i+1,
			row.Secondary,
			row.SecondaryAcquired.UTC().Format(time.RFC3339),
			row.SeparationDays,
			row.Key,
		)
	}
	tw.Flush()
}
