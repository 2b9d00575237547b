/*
The parsnip command demonstrates how to use the dispatch framework. It can run a
standalone task service for benchmarking variable length tasks, or drive a complete
in-process demo that queues tasks and prints the callbacks as they are delivered on
the main loop.
*/
package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kansaslabs/dispatch"
	"github.com/urfave/cli"
)

// Initialize the package and random numbers, etc.
func init() {
	// Set the random seed to something different each time.
	rand.Seed(time.Now().UnixNano())
}

func main() {
	// Load the .env file if it exists
	godotenv.Load()

	// Instantiate the CLI application
	app := cli.NewApp()
	app.Name = "parsnip"
	app.Version = dispatch.PackageVersion
	app.Usage = "benchmarking and testing the dispatch service"

	// Define commands available to the application
	app.Commands = []cli.Command{
		{
			Name:     "serve",
			Usage:    "run the parsnip task service",
			Action:   serve,
			Category: "server",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:   "m, metrics-addr",
					Usage:  "the address to serve prometheus metrics on",
					Value:  ":9090",
					EnvVar: "PARSNIP_METRICS_ADDR",
				},
				cli.IntFlag{
					Name:   "w, workers",
					Usage:  "number of workers to start with (default is num cpus)",
					EnvVar: "PARSNIP_WORKERS",
				},
				cli.IntFlag{
					Name:   "q, queue-size",
					Usage:  "size of the submission channel",
					Value:  5000,
					EnvVar: "PARSNIP_QUEUE_SIZE",
				},
				cli.StringFlag{
					Name:   "l, log-level",
					Usage:  "specify verbosity of logging (trace, debug, info, status, warn, silent)",
					Value:  "info",
					EnvVar: "PARSNIP_LOG_LEVEL",
				},
				cli.UintFlag{
					Name:   "c, caution-threshold",
					Usage:  "threshold before reissuing a caution message",
					Value:  50,
					EnvVar: "PARSNIP_CAUTION_THRESHOLD",
				},
				cli.BoolFlag{
					Name:   "S, no-metrics",
					Usage:  "do not run the prometheus metrics server",
					EnvVar: "PARSNIP_SUPPRESS_METRICS",
				},
			},
		},
		{
			Name:     "demo",
			Usage:    "queue tasks against an in-process service and print their callbacks",
			Action:   demo,
			Category: "client",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "n, tasks",
					Usage: "number of tasks to queue",
					Value: 8,
				},
				cli.IntFlag{
					Name:  "w, workers",
					Usage: "number of workers handling tasks",
					Value: 2,
				},
				cli.StringFlag{
					Name:  "l, log-level",
					Usage: "specify verbosity of logging (trace, debug, info, status, warn, silent)",
					Value: "status",
				},
			},
		},
	}

	// Run the program
	app.Run(os.Args)
}

func serve(c *cli.Context) (err error) {
	conf := &dispatch.Config{
		Workers:          c.Int("workers"),
		QueueSize:        c.Int("queue-size"),
		MetricsAddr:      c.String("metrics-addr"),
		SuppressMetrics:  c.Bool("no-metrics"),
		LogLevel:         c.String("log-level"),
		CautionThreshold: c.Uint("caution-threshold"),
	}

	// Create variable length parsnip tasks
	short := &Parsnip{name: "short", minDelay: 50 * time.Millisecond, maxDelay: 1500 * time.Millisecond, errProb: 0.125}
	medium := &Parsnip{name: "medium", minDelay: 750 * time.Millisecond, maxDelay: 5 * time.Second, errProb: 0.183}
	long := &Parsnip{name: "long", minDelay: 10 * time.Second, maxDelay: 2 * time.Minute, errProb: 0.213}
	chance := &Parsnip{name: "chance", minDelay: 750 * time.Millisecond, maxDelay: 2 * time.Second, errProb: 0.523}

	var svc *dispatch.Service
	if svc, err = dispatch.NewService(conf, short, medium, long, chance); err != nil {
		return cli.NewExitError(err, 1)
	}

	if err = svc.Listen(); err != nil {
		return cli.NewExitError(err, 1)
	}

	return nil
}

func demo(c *cli.Context) (err error) {
	conf := &dispatch.Config{
		Workers:         c.Int("workers"),
		LogLevel:        c.String("log-level"),
		SuppressMetrics: true,
	}

	task := &Parsnip{name: "parsnip", minDelay: 100 * time.Millisecond, maxDelay: 1200 * time.Millisecond, errProb: 0.2, steps: 4}

	var svc *dispatch.Service
	if svc, err = dispatch.NewService(conf, task); err != nil {
		return cli.NewExitError(err, 1)
	}
	defer svc.Shutdown()

	host := dispatch.NewHost(svc)

	// The demo goroutine acts as the primary thread: callbacks are bound and
	// delivered on the loop it runs.
	loop := dispatch.NewMainLoop()
	dispatch.SetMainLoop(loop)
	defer dispatch.SetMainLoop(nil)

	count := c.Int("tasks")
	printer := &printer{remaining: count, loop: loop}
	manager := dispatch.NewCallbacksManager()
	defer manager.Detach()

	loop.Post(func() {
		for i := 0; i < count; i++ {
			req, err := dispatch.New(task.Name())
			if err != nil {
				fmt.Println(err)
				printer.skip()
				continue
			}

			args := dispatch.NewBundle()
			args.PutInt("index", i)
			req.Args(args)
			req.Group(1)
			req.Manager(manager)

			if err = req.Callback(printer); err != nil {
				fmt.Println(err)
				printer.skip()
				continue
			}
			if _, err = req.Queue(host); err != nil {
				fmt.Println(err)
				printer.skip()
			}
		}
	})

	loop.Run()
	return nil
}
