package stately_test

import (
	"context"
	"fmt"
	"log"

	"github.com/petrijr/stately"
)

// Example_counter demonstrates building and running a small counting
// machine: one action loops until the count reaches three, then a result
// action surfaces the total.
func Example_counter() {
	ctx := context.Background()

	counter := stately.ActionFunc(
		stately.ActionOptions{Reads: []string{"count"}, Writes: []string{"count"}},
		func(ctx context.Context, s stately.State, in stately.Inputs) (stately.Result, error) {
			return stately.Result{"count": s.GetOrDefault("count", 0).(int) + 1}, nil
		}, nil)

	app, err := stately.NewApplicationBuilder().
		WithState(map[string]any{"count": 0}).
		WithAction("counter", counter).
		WithAction("done", stately.ResultAction("count")).
		WithTransition("counter", "counter", stately.MustExpr("count < 3")).
		WithTransition("counter", "done", stately.Default()).
		WithEntrypoint("counter").
		Build(ctx)
	if err != nil {
		log.Fatal(err)
	}

	res, err := app.Run(ctx, stately.RunOptions{HaltAfter: []string{"done"}})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("finished at %q with count %v\n", res.Action, res.Result["count"])
	// Output: finished at "done" with count 3
}

// Example_streaming demonstrates consuming a streaming action's
// intermediate results before its final commit.
func Example_streaming() {
	ctx := context.Background()

	speak := stately.StreamingFunc(
		stately.ActionOptions{Writes: []string{"text"}},
		func(ctx context.Context, s stately.State, in stately.Inputs) (stately.Stream, error) {
			chunks := []stately.Result{{"delta": "hello"}, {"delta": "world"}}
			return stately.SliceStream(chunks, stately.Result{"text": "hello world"}, nil), nil
		}, nil)

	app, err := stately.NewApplicationBuilder().
		WithState(nil).
		WithAction("speak", speak).
		WithEntrypoint("speak").
		Build(ctx)
	if err != nil {
		log.Fatal(err)
	}

	container, err := app.StreamResult(ctx, stately.RunOptions{HaltAfter: []string{"speak"}})
	if err != nil {
		log.Fatal(err)
	}

	for {
		item, ok, err := container.Next(ctx)
		if err != nil {
			log.Fatal(err)
		}
		if !ok {
			break
		}
		fmt.Printf("chunk: %v\n", item["delta"])
	}

	final, _, err := container.Get(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("final: %v\n", final["text"])
	// Output:
	// chunk: hello
	// chunk: world
	// final: hello world
}
