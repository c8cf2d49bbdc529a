package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/kmrasmussen/intersebd-sub000/internal/annotations"
	"github.com/kmrasmussen/intersebd-sub000/internal/console"
	"github.com/kmrasmussen/intersebd-sub000/internal/datasets"
	"github.com/kmrasmussen/intersebd-sub000/internal/models"
	"github.com/kmrasmussen/intersebd-sub000/internal/poller"
	"github.com/kmrasmussen/intersebd-sub000/internal/schemagate"
	"github.com/kmrasmussen/intersebd-sub000/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
)

func serveCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local web console",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			a.sess.OnReady(func(session.State) { a.saveSession(context.Background()) })

			srvConsole := console.NewServer(a.api, a.sess, console.Options{
				RequiredThreshold: a.cfg.Datasets.RequiredThreshold,
				DownloadDir:       a.cfg.Datasets.DownloadDir,
				PollInterval:      a.cfg.Pairs.PollInterval,
				ViewingID:         a.cfg.Pairs.ViewingID,
			}, a.logger)
			defer srvConsole.Close()

			if a.cfg.Mode == "prod" {
				gin.SetMode(gin.ReleaseMode)
			}
			router := gin.New()
			router.Use(gin.Recovery())
			srvConsole.RegisterRoutes(router)

			srv := &http.Server{
				Addr:              ":" + a.cfg.Console.Port,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("Console listening",
					zap.String("address", srv.Addr),
					zap.String("api", a.api.BaseURL()))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-quit:
			case err := <-errCh:
				return fmt.Errorf("console server failed: %w", err)
			}

			a.logger.Info("Shutting down console...")
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}
}

func whoamiCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Resolve the current identity and project",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			if _, err := a.project(cmd.Context()); err != nil {
				return err
			}
			st := a.sess.State()
			return printJSON(map[string]interface{}{
				"project_id": st.ProjectID,
				"user":       st.User,
				"source":     st.Source,
			})
		},
	}
}

func loginCmd(get func() *app) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "login <email>",
		Short: "Sign in with the development login",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			ctx := cmd.Context()
			user, err := a.api.DevLogin(ctx, args[0], name)
			if err != nil {
				return err
			}
			a.saveSession(ctx)
			pid, err := a.project(ctx)
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{"user": user, "project_id": pid})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	return cmd
}

func logoutCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the cached guest",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			ctx := cmd.Context()
			err := a.sess.Clear(ctx)
			a.api.ClearSession()
			a.saveSession(ctx)
			if err != nil {
				return err
			}
			fmt.Println("Logged out")
			return nil
		},
	}
}

func requestsCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "requests [request-id]",
		Short: "List requests, or show one request with its responses",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			ctx := cmd.Context()
			pid, err := a.project(ctx)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				list, err := a.api.ListRequests(ctx, pid)
				if err != nil {
					return err
				}
				return printJSON(list)
			}
			store, err := a.openRequest(ctx, pid, args[0])
			if err != nil {
				return err
			}
			defer store.Close()
			return printJSON(store.View())
		},
	}
}

// openRequest loads one request behind the project's schema gate
func (a *app) openRequest(ctx context.Context, pid, rid string) (*annotations.Store, error) {
	gate := schemagate.New(a.api, pid, a.logger)
	if _, err := gate.FetchCurrent(ctx); err != nil {
		a.logger.Warn("Schema unavailable, showing raw responses", zap.Error(err))
	}
	store := annotations.NewStore(a.api, gate, pid, rid, a.logger)
	if err := store.Load(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func annotateCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "annotate",
		Short: "Rate responses and remove annotations or responses",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <request-id> <target-id> <0|1>",
		Short: "Rate a response as rejected (0) or preferred (1)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			reward, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("reward must be 0 or 1")
			}
			return withRequest(cmd, get(), args[0], func(s *annotations.Store) error {
				ann, err := s.AddAnnotation(cmd.Context(), args[1], reward)
				if err != nil {
					return err
				}
				return printJSON(ann)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <request-id> <target-id> <annotation-id>",
		Short: "Delete one annotation",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRequest(cmd, get(), args[0], func(s *annotations.Store) error {
				if err := s.DeleteAnnotation(cmd.Context(), args[1], args[2]); err != nil {
					return err
				}
				return printJSON(s.View())
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "drop <request-id> <target-id>",
		Short: "Delete a response and its annotations",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRequest(cmd, get(), args[0], func(s *annotations.Store) error {
				if err := s.DeleteResponse(cmd.Context(), args[1]); err != nil {
					return err
				}
				return printJSON(s.View())
			})
		},
	})

	return cmd
}

func alternativeCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "alternative <request-id> <content>",
		Short: "Add a hand-written alternative response",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRequest(cmd, get(), args[0], func(s *annotations.Store) error {
				r, err := s.AddAlternative(cmd.Context(), args[1])
				if err != nil {
					return err
				}
				return printJSON(r)
			})
		},
	}
}

func withRequest(cmd *cobra.Command, a *app, rid string, fn func(*annotations.Store) error) error {
	ctx := cmd.Context()
	pid, err := a.project(ctx)
	if err != nil {
		return err
	}
	store, err := a.openRequest(ctx, pid, rid)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func schemaCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Show, replace or remove the project's response schema",
	}

	withGate := func(cmd *cobra.Command, fn func(*schemagate.Gate) error) error {
		a := get()
		pid, err := a.project(cmd.Context())
		if err != nil {
			return err
		}
		return fn(schemagate.New(a.api, pid, a.logger))
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Show the active schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGate(cmd, func(g *schemagate.Gate) error {
				if _, err := g.FetchCurrent(cmd.Context()); err != nil {
					return err
				}
				return printJSON(g.Status())
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <file|->",
		Short: "Replace the active schema with a JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(args[0])
			if err != nil {
				return err
			}
			return withGate(cmd, func(g *schemagate.Gate) error {
				rec, err := g.Save(cmd.Context(), raw)
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete",
		Short: "Remove the active schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGate(cmd, func(g *schemagate.Gate) error {
				if err := g.Remove(cmd.Context()); err != nil {
					return err
				}
				fmt.Println("Schema removed")
				return nil
			})
		},
	})

	return cmd
}

func readInput(name string) (string, error) {
	var (
		b   []byte
		err error
	)
	if name == "-" {
		b, err = io.ReadAll(os.Stdin)
	} else {
		b, err = os.ReadFile(name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read schema: %w", err)
	}
	return string(b), nil
}

func datasetCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Check readiness, download or push fine-tuning datasets",
	}

	var threshold int
	count := &cobra.Command{
		Use:   "count",
		Short: "Show SFT and DPO row counts against the threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			ctx := cmd.Context()
			pid, err := a.project(ctx)
			if err != nil {
				return err
			}
			if threshold <= 0 {
				threshold = a.cfg.Datasets.RequiredThreshold
			}
			counter := datasets.NewCounter(a.api, pid, threshold, a.logger)
			if err := counter.Refresh(ctx); err != nil {
				a.logger.Warn("Some counts could not be refreshed", zap.Error(err))
			}
			return printJSON(map[string]interface{}{
				"readiness": counter.Readiness(),
				"sft_ready": counter.IsSFTReady(),
				"dpo_ready": counter.IsDPOReady(),
				"errors":    counter.Errors(),
			})
		},
	}
	count.Flags().IntVar(&threshold, "threshold", 0, "Rows required before export unlocks")
	cmd.AddCommand(count)

	var dir string
	download := &cobra.Command{
		Use:   "download <sft|dpo>",
		Short: "Save a dataset as JSONL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			ctx := cmd.Context()
			pid, err := a.project(ctx)
			if err != nil {
				return err
			}
			if dir == "" {
				dir = a.cfg.Datasets.DownloadDir
			}
			path, err := datasets.NewExporter(a.api, pid, a.logger).Download(ctx, models.DatasetKind(args[0]), dir)
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}
	download.Flags().StringVar(&dir, "dir", "", "Directory to save into")
	cmd.AddCommand(download)

	var (
		username string
		dryRun   bool
	)
	push := &cobra.Command{
		Use:   "push <sft|dpo>",
		Short: "Push a dataset to the hub",
		Long: `Push a dataset to the hub. The write token comes from $HF_TOKEN,
or is asked for on the terminal (or read from stdin) right before the push.
It is never stored.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			ctx := cmd.Context()
			pid, err := a.project(ctx)
			if err != nil {
				return err
			}
			token, err := hubToken(os.Stdin, os.Stderr)
			if err != nil {
				return err
			}
			res, err := datasets.NewExporter(a.api, pid, a.logger).Push(ctx, models.DatasetKind(args[0]),
				datasets.Credentials{Username: username, WriteToken: token}, !dryRun)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	push.Flags().StringVar(&username, "username", "", "Hub username")
	push.Flags().BoolVar(&dryRun, "dry-run", false, "Build the dataset without uploading")
	cmd.AddCommand(push)

	return cmd
}

func watchCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [viewing-id]",
		Short: "Poll the completion pairs viewer until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			viewingID := a.cfg.Pairs.ViewingID
			if len(args) == 1 {
				viewingID = args[0]
			}
			if viewingID == "" {
				if _, err := a.project(ctx); err != nil {
					return err
				}
				resp, err := a.api.DefaultProject(ctx, a.api.GuestID())
				if err != nil {
					return err
				}
				viewingID = resp.Project.ViewingID
			}

			viewer := poller.NewPairViewer(a.api, a.cfg.Pairs.PollInterval, a.logger)
			viewer.Start(ctx, viewingID)
			defer viewer.Stop()

			ticker := time.NewTicker(a.cfg.Pairs.PollInterval)
			defer ticker.Stop()
			var last time.Time
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					snap := viewer.Snapshot()
					if snap.UpdatedAt.Equal(last) {
						continue
					}
					last = snap.UpdatedAt
					if err := printJSON(snap); err != nil {
						return err
					}
				}
			}
		},
	}
}

// hubToken returns $HF_TOKEN or asks for the token right before a push.
// A terminal gets a prompt without echo; piped input is read as one line.
func hubToken(in *os.File, prompt io.Writer) (string, error) {
	if t := strings.TrimSpace(os.Getenv("HF_TOKEN")); t != "" {
		return t, nil
	}
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return readLine(in)
	}
	fmt.Fprint(prompt, "Hub write token: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	return strings.TrimSpace(line), nil
}
