// Command reviewtune fine-tunes a BERT-style encoder on IMDB reviews and
// serves sentiment predictions from the saved model.
//
//	reviewtune train   [-config reviewtune.yml]
//	reviewtune report  [-config reviewtune.yml]
//	reviewtune predict [-config reviewtune.yml] [-model dir] [text ...]
//
// predict without texts reads one review per line from stdin.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/djeday123/reviewtune/backend"
	"github.com/djeday123/reviewtune/pkg/config"
	"github.com/djeday123/reviewtune/pkg/inference"
	"github.com/djeday123/reviewtune/pkg/logging"
	"github.com/djeday123/reviewtune/pkg/pipeline"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	cfgPath := fs.String("config", "reviewtune.yml", "path to the YAML configuration")
	modelDir := fs.String("model", "", "model directory for predict (default: artifact.dir)")
	fs.Parse(args)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "train":
		err = runTrain(ctx, cfg, log)
	case "report":
		err = runReport(ctx, cfg, log)
	case "predict":
		dir := *modelDir
		if dir == "" {
			dir = cfg.Artifact.Dir
		}
		err = runPredict(cfg, dir, fs.Args(), log)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Error(cmd+" failed", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: reviewtune <train|report|predict> [-config file] [-model dir] [text ...]")
}

func runTrain(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	p, err := pipeline.New(cfg, log)
	if err != nil {
		return err
	}
	defer p.Close()

	sum, err := p.Train(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("run %s\n", sum.RunID)
	fmt.Printf("best epoch %d by %s = %.4f\n", sum.Training.Best.Epoch(), sum.Training.Best.Metric, sum.Training.Best.Score)
	fmt.Printf("test: %s (loss %.4f, %d examples)\n", sum.Holdout.Scores, sum.Holdout.Loss, sum.Holdout.Examples)
	fmt.Printf("model saved to %s\n", sum.ArtifactDir)
	for _, pr := range sum.Probes {
		fmt.Printf("  %-10s %.3f  %s\n", pr.Label, pr.Score, pr.Text)
	}
	return nil
}

func runReport(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	p, err := pipeline.New(cfg, log)
	if err != nil {
		return err
	}
	defer p.Close()

	sum, err := p.Report(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}

func runPredict(cfg *config.Config, dir string, texts []string, log *zap.Logger) error {
	device, err := backend.Resolve(cfg.Device)
	if err != nil {
		return err
	}
	pred, err := inference.Load(dir, inference.Options{
		Device:    device,
		MaxLength: cfg.Tokenizer.MaxLength,
		BatchSize: cfg.Inference.BatchSize,
		Log:       log,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	if len(texts) > 0 {
		out, err := pred.Predict(texts)
		if err != nil {
			return err
		}
		return enc.Encode(out)
	}

	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		out, err := pred.PredictText(line)
		if err != nil {
			return err
		}
		if err := enc.Encode(out[0]); err != nil {
			return err
		}
	}
	return sc.Err()
}
