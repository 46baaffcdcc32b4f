package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/msvignesh01/eduflow/internal/errors"
	"github.com/msvignesh01/eduflow/internal/ops"
	"github.com/msvignesh01/eduflow/internal/remote"
)

// maxStdinBytes caps prompts and documents read from stdin.
const maxStdinBytes = 1 << 20

// newCLIApp creates the CLI application with all commands. app may be nil
// when only help or version output is needed.
func newCLIApp(app *ops.App) *cli.App {
	c := &cli.App{
		Name:    "eduflow",
		Usage:   "Offline-first AI tutor backend",
		Version: Version,
		Commands: []*cli.Command{
			invokeCmd(app),
			healthCmd(app),
			storeCmd(app),
			syncCmd(app),
			dataCmd(app),
			serveCmd(app),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	c.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return c
}

// invokeCmd creates the invoke command.
func invokeCmd(app *ops.App) *cli.Command {
	return &cli.Command{
		Name:      "invoke",
		Usage:     "Answer a prompt (from arguments or stdin) with the best available backend",
		ArgsUsage: "[prompt...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "backend", Aliases: []string{"b"}, Usage: "Pin a backend: primary-cloud|secondary-cloud|local-daemon"},
			&cli.BoolFlag{Name: "force", Usage: "Try the backend even when marked down"},
			&cli.BoolFlag{Name: "no-fallback", Usage: "Stop after the first failed backend"},
			&cli.BoolFlag{Name: "no-cache", Usage: "Skip the response cache"},
			&cli.BoolFlag{Name: "stream", Aliases: []string{"s"}, Usage: "Print text as it arrives instead of JSON"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: ops.FormatMarkdown, Usage: "Response format: markdown|html|sections"},
			&cli.Float64Flag{Name: "temperature", Usage: "Sampling temperature"},
			&cli.IntFlag{Name: "max-tokens", Usage: "Maximum tokens to generate"},
		},
		Action: func(c *cli.Context) error {
			prompt := strings.Join(c.Args().Slice(), " ")
			if prompt == "" && stdinHasData() {
				text, err := readStdin(maxStdinBytes)
				if err != nil {
					return outputError(err)
				}
				prompt = text
			}

			input := ops.InvokeInput{
				Prompt:     prompt,
				Backend:    c.String("backend"),
				Force:      c.Bool("force"),
				NoFallback: c.Bool("no-fallback"),
				NoCache:    c.Bool("no-cache"),
				MaxTokens:  c.Int("max-tokens"),
				Format:     c.String("format"),
			}
			if c.IsSet("temperature") {
				temp := c.Float64("temperature")
				input.Temperature = &temp
			}

			if !c.Bool("stream") {
				output, err := ops.Invoke(c.Context, app, input)
				if err != nil {
					return outputError(err)
				}
				return outputJSON(output)
			}

			w := c.App.Writer
			output, err := ops.InvokeStream(c.Context, app, input, func(delta string) error {
				_, err := io.WriteString(w, delta)
				return err
			})
			if err != nil {
				return outputError(err)
			}
			fmt.Fprintln(w)
			app.Log.Debug().
				Str("backend", string(output.Backend)).
				Dur("latency", output.Latency).
				Bool("cached", output.Cached).
				Msg("stream complete")
			return nil
		},
	}
}

// healthCmd creates the health command.
func healthCmd(app *ops.App) *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Show backend health and routing state",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "refresh", Aliases: []string{"r"}, Usage: "Probe every backend first"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Health(c.Context, app, ops.HealthInput{Refresh: c.Bool("refresh")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// storeCmd creates the store command group.
func storeCmd(app *ops.App) *cli.Command {
	return &cli.Command{
		Name:  "store",
		Usage: "Read and write the local key-value store",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Print a stored value",
				ArgsUsage: "<key>",
				Action: func(c *cli.Context) error {
					output, err := ops.StoreGet(app, ops.StoreGetInput{Key: c.Args().First()})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "set",
				Usage:     "Store a JSON value (argument or stdin)",
				ArgsUsage: "<key> [json]",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "ttl", Usage: "Lifetime in seconds; -1 for no expiry"},
					&cli.StringFlag{Name: "collection", Aliases: []string{"c"}, Usage: "Collection tag"},
					&cli.BoolFlag{Name: "pinned", Usage: "Exempt from eviction"},
				},
				Action: func(c *cli.Context) error {
					value := c.Args().Get(1)
					if value == "" && stdinHasData() {
						text, err := readStdin(maxStdinBytes)
						if err != nil {
							return outputError(err)
						}
						value = text
					}
					output, err := ops.StoreSet(app, ops.StoreSetInput{
						Key:        c.Args().First(),
						Value:      json.RawMessage(value),
						TTLSeconds: c.Int("ttl"),
						Collection: c.String("collection"),
						Pinned:     c.Bool("pinned"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "rm",
				Usage:     "Remove a key",
				ArgsUsage: "<key>",
				Action: func(c *cli.Context) error {
					output, err := ops.StoreRemove(app, ops.StoreRemoveInput{Key: c.Args().First()})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:  "stats",
				Usage: "Summarize store usage",
				Action: func(c *cli.Context) error {
					return outputJSON(ops.StoreStats(app))
				},
			},
			{
				Name:  "sweep",
				Usage: "Remove expired values",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "purge-cache", Usage: "Also drop every cached AI response"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.StoreSweep(app, c.Bool("purge-cache"))
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// syncItemFlags address one queued mutation by key or by collection and id.
var syncItemFlags = []cli.Flag{
	&cli.StringFlag{Name: "collection", Aliases: []string{"c"}, Usage: "Document collection"},
	&cli.StringFlag{Name: "id", Usage: "Document id"},
}

func syncItemInput(c *cli.Context) ops.SyncItemInput {
	return ops.SyncItemInput{
		Key:        c.Args().First(),
		Collection: c.String("collection"),
		DocID:      c.String("id"),
	}
}

// syncCmd creates the sync command group.
func syncCmd(app *ops.App) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Inspect and drive the sync queue",
		Subcommands: []*cli.Command{
			{
				Name:  "status",
				Usage: "Show pending mutations and recent errors",
				Action: func(c *cli.Context) error {
					return outputJSON(ops.SyncStatus(app))
				},
			},
			{
				Name:  "drain",
				Usage: "Deliver pending mutations now",
				Action: func(c *cli.Context) error {
					app.CheckConnectivity(c.Context)
					output, err := ops.SyncDrain(c.Context, app)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:  "clear",
				Usage: "Drop every queued mutation",
				Action: func(c *cli.Context) error {
					output, err := ops.SyncClear(app)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "requeue",
				Usage:     "Retry a failed or dead-lettered mutation",
				ArgsUsage: "[key]",
				Flags:     syncItemFlags,
				Action: func(c *cli.Context) error {
					output, err := ops.SyncRequeue(app, syncItemInput(c))
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "discard",
				Usage:     "Drop one queued mutation",
				ArgsUsage: "[key]",
				Flags:     syncItemFlags,
				Action: func(c *cli.Context) error {
					output, err := ops.SyncDiscard(app, syncItemInput(c))
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

func dataRef(c *cli.Context) ops.DataRefInput {
	return ops.DataRefInput{Collection: c.Args().Get(0), ID: c.Args().Get(1)}
}

// dataCmd creates the data command group.
func dataCmd(app *ops.App) *cli.Command {
	return &cli.Command{
		Name:  "data",
		Usage: "Offline-first documents synced to the remote store",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Print a document",
				ArgsUsage: "<collection> <id>",
				Action: func(c *cli.Context) error {
					output, err := ops.DataGet(c.Context, app, dataRef(c))
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "save",
				Usage:     "Save a document (JSON object from --data or stdin)",
				ArgsUsage: "<collection> <id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "data", Aliases: []string{"d"}, Usage: "Document as a JSON object"},
					&cli.StringFlag{Name: "action", Aliases: []string{"a"}, Value: "create", Usage: "create|update"},
				},
				Action: func(c *cli.Context) error {
					raw := c.String("data")
					if raw == "" && stdinHasData() {
						text, err := readStdin(maxStdinBytes)
						if err != nil {
							return outputError(err)
						}
						raw = text
					}
					if raw == "" {
						return outputError(errors.NewInvalidRequest("document data is required (--data or stdin)"))
					}
					var doc remote.Document
					if err := json.Unmarshal([]byte(raw), &doc); err != nil {
						return outputError(errors.NewInvalidRequest("document must be a JSON object: " + err.Error()))
					}

					ref := dataRef(c)
					output, err := ops.DataSave(c.Context, app, ops.DataSaveInput{
						Collection: ref.Collection,
						ID:         ref.ID,
						Data:       doc,
						Action:     c.String("action"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "rm",
				Usage:     "Delete a document",
				ArgsUsage: "<collection> <id>",
				Action: func(c *cli.Context) error {
					output, err := ops.DataDelete(c.Context, app, dataRef(c))
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "list",
				Usage:     "List document ids in a collection",
				ArgsUsage: "<collection>",
				Action: func(c *cli.Context) error {
					output, err := ops.DataList(app, c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:  "export",
				Usage: "Export local documents to a JSON file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Target file inside the exports directory"},
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "File name stem for the default path"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.DataExport(app, ops.ExportInput{
						Path: c.String("path"),
						Name: c.String("name"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "import",
				Usage:     "Restore an export file and queue its documents",
				ArgsUsage: "<path>",
				Action: func(c *cli.Context) error {
					output, err := ops.DataImport(c.Context, app, ops.ImportInput{Path: c.Args().First()})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(app *ops.App) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the MCP server on stdio with background sync",
		Action: func(c *cli.Context) error {
			if err := serve(app); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var appErr *errors.Error
	if stderrors.As(err, &appErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", appErr.Code, appErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads at most limit bytes from stdin.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if int64(len(data)) > limit {
		return "", errors.NewInvalidRequest(fmt.Sprintf("stdin exceeds %d bytes", limit))
	}
	return strings.TrimSpace(string(data)), nil
}
