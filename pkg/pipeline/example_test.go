package pipeline_test

import (
	"context"
	"fmt"
	"log"

	"github.com/legout/flowerpower/pkg/config"
	"github.com/legout/flowerpower/pkg/engine"
	"github.com/legout/flowerpower/pkg/pipeline"
)

// demoModule is a stand-in for a real pipeline module.
type demoModule struct{}

func (demoModule) Name() string { return "sales_report" }

// demoEngine is a stand-in for a real dataflow engine.
type demoEngine struct{}

func (demoEngine) Execute(ctx context.Context, req engine.Request) (engine.Result, error) {
	return engine.Result{"revenue": 42.0}, nil
}

func Example() {
	m, err := pipeline.New(
		pipeline.WithEngine(demoEngine{}),
		pipeline.WithBaseDir("."),
		pipeline.WithModule("sales_report", func() (engine.Module, error) {
			return demoModule{}, nil
		}),
	)
	if err != nil {
		log.Fatal(err)
	}

	result, err := m.Run(context.Background(), "sales_report", nil,
		pipeline.WithInputs(map[string]any{"quarter": "Q3"}),
		pipeline.WithFinalVars("revenue"),
		pipeline.WithRetry(config.RetryPolicy{MaxRetries: 2, RetryDelay: 0.5}),
	)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(result["revenue"])
}
