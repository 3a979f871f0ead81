package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"khatma/internal/app"
	"khatma/internal/config"
	"khatma/internal/domain"
	"khatma/internal/engine"
	"khatma/internal/server"
	"khatma/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type cli struct {
	v      *viper.Viper
	out    io.Writer
	errOut io.Writer
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}
	root := &cobra.Command{
		Use:   "khatma",
		Short: "Khatma group reading coordinator",
		Long: `Khatma coordinates volunteers who split a reading into 30 parts.
- Group: a named board of 30 parts with a mission counter.
- Part: available -> reserved -> done -> available, moved only by its holder once taken.
- Mission: when all 30 parts are done the counter goes up and the board starts over.
- User: a self-declared 5-digit id with a display name and a history of completed parts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			c.out = cmd.OutOrStdout()
			c.errOut = cmd.ErrOrStderr()
		},
	}
	c.v.SetEnvPrefix("KHATMA")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	pf := root.PersistentFlags()
	pf.StringP("workspace", "w", ".", "workspace directory")
	pf.Bool("json", false, "output JSON")
	pf.String("locale", "", "message locale (ar, en)")
	pf.String("policy", "", "task policy (cycle, done-only)")
	pf.String("storage-driver", "", "storage driver (json, sqlite, memory)")
	pf.String("storage-path", "", "storage file, relative to the workspace")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("log-format", "", "log format (text, json)")
	for _, name := range []string{"workspace", "json", "locale", "policy", "storage-driver", "storage-path", "log-level", "log-format"} {
		_ = c.v.BindPFlag(name, pf.Lookup(name))
	}

	root.AddCommand(c.serveCmd())
	root.AddCommand(c.registerCmd())
	root.AddCommand(c.taskCmd())
	root.AddCommand(c.groupCmd())
	root.AddCommand(c.userCmd())
	root.AddCommand(c.configCmd())
	root.AddCommand(c.storeCmd())
	return root
}

func (c *cli) workspace() string {
	return c.v.GetString("workspace")
}

func (c *cli) overrides() app.Overrides {
	return app.Overrides{
		Locale:      c.v.GetString("locale"),
		Policy:      c.v.GetString("policy"),
		Driver:      c.v.GetString("storage-driver"),
		StoragePath: c.v.GetString("storage-path"),
		Addr:        c.v.GetString("addr"),
		BasePath:    c.v.GetString("base-path"),
		LogLevel:    c.v.GetString("log-level"),
		LogFormat:   c.v.GetString("log-format"),
	}
}

func (c *cli) withApp(ctx context.Context, o app.Overrides, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, c.workspace(), o, c.errOut)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func (c *cli) withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return c.withApp(ctx, c.overrides(), func(ctx context.Context, a *app.App) error {
		return fn(ctx, a.Engine)
	})
}

func (c *cli) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			o := c.overrides()
			if o.Addr == "" {
				if port := os.Getenv("PORT"); port != "" {
					o.Addr = "0.0.0.0:" + port
				}
			}
			return c.withApp(cmd.Context(), o, func(ctx context.Context, a *app.App) error {
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					BasePath: a.Config.Server.BasePath,
					Log:      a.Log,
				})
				if err != nil {
					return err
				}
				addr := a.Config.Server.Addr
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Log.Info(ctx, "serving", "addr", addr, "base_path", a.Config.Server.BasePath, "storage", a.Config.Storage.Driver)
				fmt.Fprintf(c.out, "Serving Khatma API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, a.Config.Server.BasePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().String("addr", "", "listen address (default from config, or 0.0.0.0:$PORT)")
	cmd.Flags().String("base-path", "", "API base path")
	_ = c.v.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	_ = c.v.BindPFlag("base-path", cmd.Flags().Lookup("base-path"))
	return cmd
}

func (c *cli) registerCmd() *cobra.Command {
	var group, id, name string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a user, or rename it, and join a group",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Register(ctx, engine.RegisterRequest{Group: group, ID: id, Name: name})
				if err != nil {
					return err
				}
				if c.v.GetBool("json") {
					return c.printJSON(map[string]any{"success": true, "uid": res.ID, "name": res.Name, "created": res.Created})
				}
				verb := "updated"
				if res.Created {
					verb = "registered"
				}
				fmt.Fprintf(c.out, "%s %s (%s) in %s\n", verb, res.ID, res.Name, group)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "group name")
	cmd.Flags().StringVar(&id, "id", "", "5-digit user id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func (c *cli) taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Move tasks"}
	t.AddCommand(c.taskAdvanceCmd())
	return t
}

func (c *cli) taskAdvanceCmd() *cobra.Command {
	var group, uid string
	var task int
	cmd := &cobra.Command{
		Use:   "advance",
		Short: "Advance a task one step for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Advance(ctx, engine.AdvanceRequest{Group: group, UserID: uid, TaskID: task})
				if err != nil {
					return err
				}
				if c.v.GetBool("json") {
					return c.printJSON(map[string]any{
						"success":           true,
						"taskId":            res.TaskID,
						"status":            int(res.Status),
						"missionCount":      res.Board.MissionCount,
						"tasks":             res.Board.Tasks,
						"completionMessage": res.CompletionMessage,
					})
				}
				fmt.Fprintf(c.out, "task %d -> %s\n", res.TaskID, res.Status)
				if res.CompletionMessage != "" {
					fmt.Fprintln(c.out, res.CompletionMessage)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "group name")
	cmd.Flags().StringVar(&uid, "uid", "", "user id")
	cmd.Flags().IntVar(&task, "task", 0, "task number 1..30")
	return cmd
}

func (c *cli) groupCmd() *cobra.Command {
	g := &cobra.Command{Use: "group", Short: "Inspect groups"}
	g.AddCommand(c.groupListCmd())
	g.AddCommand(c.groupShowCmd())
	return g
}

func (c *cli) groupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List groups in creation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				names, err := e.ListGroups(ctx)
				if err != nil {
					return err
				}
				if c.v.GetBool("json") {
					return c.printJSON(names)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(c.out)
				tw.AppendHeader(table.Row{"#", "Group", "Missions", "Done", "Reserved"})
				for i, name := range names {
					b, err := e.Board(ctx, name)
					if err != nil {
						return err
					}
					done, reserved := countStatuses(b.Tasks)
					tw.AppendRow(table.Row{i + 1, name, b.MissionCount, done, reserved})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func (c *cli) groupShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <group>",
		Short: "Show a group board; creates the group when absent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.Board(ctx, args[0])
				if err != nil {
					return err
				}
				if c.v.GetBool("json") {
					return c.printJSON(map[string]any{"group": b.Name, "missionCount": b.MissionCount, "tasks": b.Tasks})
				}
				fmt.Fprintf(c.out, "%s (missions: %d)\n", b.Name, b.MissionCount)
				tw := table.NewWriter()
				tw.SetOutputMirror(c.out)
				tw.AppendHeader(table.Row{"Part", "Status", "Holder", "Name"})
				for i, t := range b.Tasks {
					tw.AppendRow(table.Row{i + 1, t.Status, t.HolderID, t.HolderName})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func countStatuses(tasks domain.Tasks) (done, reserved int) {
	for _, t := range tasks {
		switch t.Status {
		case domain.StatusDone:
			done++
		case domain.StatusReserved:
			reserved++
		}
	}
	return done, reserved
}

func (c *cli) userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Inspect users"}
	u.AddCommand(&cobra.Command{
		Use:   "show <uid>",
		Short: "Show a user and the parts they completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				usr, err := e.User(ctx, args[0])
				if err != nil {
					return err
				}
				if c.v.GetBool("json") {
					return c.printJSON(map[string]any{"uid": args[0], "name": usr.Name, "history": usr.History})
				}
				fmt.Fprintf(c.out, "%s %s\n", args[0], usr.Name)
				groups, err := e.ListGroups(ctx)
				if err != nil {
					return err
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(c.out)
				tw.AppendHeader(table.Row{"Group", "Completed", "Parts"})
				for _, g := range orderedHistoryGroups(groups, usr.History) {
					parts := usr.History[g]
					tw.AppendRow(table.Row{g, len(parts), joinInts(parts)})
				}
				tw.Render()
				return nil
			})
		},
	})
	return u
}

// orderedHistoryGroups lists history groups in board order, then any group
// the store no longer knows.
func orderedHistoryGroups(boardOrder []string, history map[string][]int) []string {
	var out []string
	seen := map[string]bool{}
	for _, g := range boardOrder {
		if _, ok := history[g]; ok {
			out = append(out, g)
			seen[g] = true
		}
	}
	for g := range history {
		if !seen[g] {
			out = append(out, g)
		}
	}
	return out
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ",")
}

func (c *cli) configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create khatma.yml",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := app.ResolveConfig(c.workspace(), c.overrides())
			if err != nil {
				return err
			}
			if c.v.GetBool("json") {
				return c.printJSON(resolved)
			}
			enc := yaml.NewEncoder(c.out)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(resolved)
		},
	})
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default khatma.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(c.workspace())
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.MkdirAll(c.workspace(), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cfg.AddCommand(initCmd)
	return cfg
}

func (c *cli) storeCmd() *cobra.Command {
	s := &cobra.Command{Use: "store", Short: "Export or import the whole state"}

	var out string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write the state as a JSON document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				snap, err := e.Export(ctx)
				if err != nil {
					return err
				}
				if out == "" {
					return store.Encode(c.out, snap)
				}
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				if err := store.Encode(f, snap); err != nil {
					f.Close()
					return err
				}
				return f.Close()
			})
		},
	}
	export.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")

	var legacy bool
	imp := &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the state with a JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			decode := store.Decode
			if legacy {
				decode = store.DecodeLegacy
			}
			snap, err := decode(f)
			if err != nil {
				return err
			}
			return c.withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Import(ctx, snap); err != nil {
					return err
				}
				fmt.Fprintf(c.out, "imported %d groups and %d users\n", snap.Groups.Len(), len(snap.Users))
				return nil
			})
		},
	}
	imp.Flags().BoolVar(&legacy, "legacy", false, "input uses the first data.json layout (nombre_mission, user_id, user_name)")

	s.AddCommand(export, imp)
	return s
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
