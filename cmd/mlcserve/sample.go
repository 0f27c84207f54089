package main

import (
	"context"
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/Notborntodie/mlc-llm/internal/rng"
	"github.com/Notborntodie/mlc-llm/internal/sampler"
	"github.com/Notborntodie/mlc-llm/internal/tensor"
)

// sampleInput is the JSON file format accepted by the sample command: a
// batch of probability rows plus optional per-row sampling parameters.
type sampleInput struct {
	Probs       [][]float32 `json:"probs"`
	Temperature float64     `json:"temperature"`
	TopP        float64     `json:"top_p"`
}

func sampleCmd() *cli.Command {
	var (
		inputPath string
		seed      int64
		wantProbs bool
	)

	return &cli.Command{
		Name:  "sample",
		Usage: "Sample one token per distribution from a JSON batch file",
		Flags: append(commonLogFlags(),
			&cli.StringFlag{
				Name:        "input",
				Aliases:     []string{"i"},
				Usage:       "path to the JSON probability batch",
				Required:    true,
				Destination: &inputPath,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "base RNG seed",
				Value:       0,
				Destination: &seed,
			},
			&cli.BoolFlag{
				Name:        "probs",
				Usage:       "print the achieved probability of each token",
				Destination: &wantProbs,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := rootLogger()

			data, err := os.ReadFile(inputPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			var in sampleInput
			if err := json.Unmarshal(data, &in); err != nil {
				return cli.Exit(fmt.Sprintf("error: parse input: %v", err), 1)
			}
			if len(in.Probs) == 0 || len(in.Probs[0]) == 0 {
				return cli.Exit("error: input has no distributions", 1)
			}
			vocab := len(in.Probs[0])
			flat := make([]float32, 0, len(in.Probs)*vocab)
			for i, row := range in.Probs {
				if len(row) != vocab {
					return cli.Exit(fmt.Sprintf("error: row %d has %d entries, expected %d", i, len(row), vocab), 1)
				}
				flat = append(flat, row...)
			}
			batch := tensor.NewHostMatrix(len(in.Probs), vocab, flat)

			s, err := sampler.New(sampler.KindCPU, nil, log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			requests := make([]sampler.Request, batch.R)
			for i := range requests {
				requests[i] = sampler.Request{
					ID:          fmt.Sprintf("row-%d", i),
					Temperature: in.Temperature,
					TopP:        in.TopP,
				}
			}
			res, err := s.SampleBatch(batch, requests, rng.Split(seed, batch.R), sampler.Options{WantProbs: wantProbs})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			for i, token := range res.Tokens {
				if wantProbs {
					fmt.Printf("%d\t%d\t%.6f\n", i, token, res.Probs[i])
				} else {
					fmt.Printf("%d\t%d\n", i, token)
				}
			}
			return nil
		},
	}
}
