package main

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/Notborntodie/mlc-llm/internal/rng"
	"github.com/Notborntodie/mlc-llm/internal/sampler"
	"github.com/Notborntodie/mlc-llm/internal/tensor"
)

func benchCmd() *cli.Command {
	var (
		rows       int64
		vocab      int64
		topP       float64
		warmupRuns int64
		benchRuns  int64
		seed       int64
	)

	return &cli.Command{
		Name:  "bench",
		Usage: "Benchmark batch sampling throughput on synthetic distributions",
		Flags: append(commonLogFlags(),
			&cli.Int64Flag{
				Name:        "rows",
				Usage:       "batch size",
				Value:       64,
				Destination: &rows,
			},
			&cli.Int64Flag{
				Name:        "vocab",
				Usage:       "vocabulary size",
				Value:       32000,
				Destination: &vocab,
			},
			&cli.Float64Flag{
				Name:        "top-p",
				Usage:       "nucleus threshold",
				Value:       0.95,
				Destination: &topP,
			},
			&cli.Int64Flag{
				Name:        "warmup",
				Usage:       "number of warmup runs",
				Value:       1,
				Destination: &warmupRuns,
			},
			&cli.Int64Flag{
				Name:        "runs",
				Usage:       "number of benchmark runs",
				Value:       5,
				Destination: &benchRuns,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "base RNG seed",
				Value:       0,
				Destination: &seed,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := rootLogger()

			n, v := int(rows), int(vocab)
			r := rand.New(rand.NewSource(seed))
			data := make([]float32, n*v)
			for i := 0; i < n; i++ {
				row := data[i*v : (i+1)*v]
				sum := float32(0)
				for j := range row {
					row[j] = r.Float32()
					sum += row[j]
				}
				for j := range row {
					row[j] /= sum
				}
			}
			batch := tensor.NewHostMatrix(n, v, data)

			requests := make([]sampler.Request, n)
			for i := range requests {
				requests[i] = sampler.Request{
					ID:          fmt.Sprintf("bench-%d", i),
					Temperature: 1,
					TopP:        topP,
				}
			}

			s, err := sampler.New(sampler.KindCPU, nil, log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			run := func() (time.Duration, error) {
				start := time.Now()
				_, err := s.SampleBatch(batch, requests, rng.Split(seed, n), sampler.Options{})
				return time.Since(start), err
			}

			for i := int64(0); i < warmupRuns; i++ {
				if _, err := run(); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
			}

			var total time.Duration
			for i := int64(0); i < benchRuns; i++ {
				d, err := run()
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				total += d
				log.Debug("bench run", "run", i, "duration", d)
			}
			avg := total / time.Duration(benchRuns)
			rowsPerSec := float64(n) / avg.Seconds()
			fmt.Printf("batch=%d vocab=%d top_p=%.2f workers=%d avg=%s rows/s=%.0f\n",
				n, v, topP, runtime.GOMAXPROCS(0), avg, rowsPerSec)
			return nil
		},
	}
}
