package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"inspectline/internal/app"
	"inspectline/internal/config"
	"inspectline/internal/domain"
	"inspectline/internal/engine"
	"inspectline/internal/engine/auth"
	"inspectline/internal/library"
	"inspectline/internal/mapping"
	"inspectline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "il",
	Short: "Inspectline CLI",
	Long: `Inspectline runs guided inspection interviews that fill regulatory forms.
- Library: the versioned question set (inspectline.yml points at it; the built-in water damage library is used otherwise).
- Interview: one inspector answering questions in order; answers drive skips, escalations and classifications.
- Form: the template an interview populates; every field keeps its confidence and source question.
- Event log: audit trail of each interview, view with 'il log tail <id>'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("INSPECTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user", "local-user", "inspector identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(libraryCmd())
	rootCmd.AddCommand(interviewCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default inspectline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config (inspectline.yml) selects the question library, the session store, the optional Redis cache and the confidence floor.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config and the library it points at",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				_, err = app.LoadLibrary(cfg)
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func libraryCmd() *cobra.Command {
	lib := &cobra.Command{
		Use:   "library",
		Short: "Inspect question libraries",
	}
	lib.AddCommand(libraryValidateCmd())
	lib.AddCommand(libraryShowCmd())
	return lib
}

func libraryValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <path>",
		Short: "Check a library file for integrity problems",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := library.Load(args[0], library.Options{Transforms: mapping.DefaultTransforms().Names()})
			if viper.GetBool("json") {
				out := map[string]any{"ok": err == nil}
				var ce *domain.ConfigurationError
				if errors.As(err, &ce) {
					out["problems"] = ce.Problems
				} else if err != nil {
					out["error"] = err.Error()
				}
				return printJSON(out)
			}
			if err != nil {
				return err
			}
			fmt.Printf("library %s OK: %d questions, %d forms\n", lib.Version(), len(lib.Questions()), len(lib.Forms()))
			return nil
		},
	}
	return cmd
}

func libraryShowCmd() *cobra.Command {
	var jobType, region, tier string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "List the questions generated for a job context",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if jobType == "" {
					if viper.GetBool("json") {
						return printJSON(a.Library.Questions())
					}
					return printQuestions(a.Library.Questions())
				}
				res, err := a.Engine.Preview(ctx, actor(), domain.Context{JobType: jobType, Region: region, AccessTier: domain.AccessTier(tier)})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if err := printQuestions(res.Questions()); err != nil {
					return err
				}
				fmt.Printf("standards covered: %s\n", strings.Join(res.StandardsCovered, ", "))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&jobType, "job-type", "", "job type to generate for (all questions when empty)")
	cmd.Flags().StringVar(&region, "region", "", "region code, e.g. AU-NSW")
	cmd.Flags().StringVar(&tier, "tier", string(domain.TierFree), "access tier")
	return cmd
}

func interviewCmd() *cobra.Command {
	iv := &cobra.Command{
		Use:     "interview",
		Aliases: []string{"iv"},
		Short:   "Run guided interviews",
	}
	iv.AddCommand(interviewStartCmd())
	iv.AddCommand(interviewShowCmd())
	iv.AddCommand(interviewAnswerCmd())
	iv.AddCommand(interviewBackCmd())
	iv.AddCommand(interviewJumpCmd())
	iv.AddCommand(interviewCheckCmd())
	iv.AddCommand(interviewAbandonCmd())
	iv.AddCommand(interviewQualityCmd())
	iv.AddCommand(interviewExportCmd())
	iv.AddCommand(interviewSubmitCmd())
	return iv
}

func interviewStartCmd() *cobra.Command {
	var form, jobType, region, tier string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start an interview",
		RunE: func(cmd *cobra.Command, args []string) error {
			if form == "" || jobType == "" {
				return fmt.Errorf("--form and --job-type required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.Start(ctx, engine.StartOptions{
					FormTemplateID: form,
					Context:        domain.Context{JobType: jobType, Region: region, AccessTier: domain.AccessTier(tier)},
					Actor:          actor(),
				})
				if err != nil {
					return err
				}
				return printSession(s)
			})
		},
	}
	cmd.Flags().StringVar(&form, "form", "", "form template id")
	cmd.Flags().StringVar(&jobType, "job-type", "", "job type")
	cmd.Flags().StringVar(&region, "region", "", "region code")
	cmd.Flags().StringVar(&tier, "tier", string(domain.TierFree), "access tier")
	return cmd
}

func interviewShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Restore an interview and show its progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.Get(ctx, actor(), args[0])
				if err != nil {
					return err
				}
				return printSession(s)
			})
		},
	}
}

func interviewAnswerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "answer <id> <question> [value...]",
		Short: "Answer the current question",
		Long:  "Multi-select questions take one value per argument; yes/no accepts yes, no, true or false. Omit the value to leave an optional question blank.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.RecordAnswer(ctx, actor(), args[0], args[1], answerValue(a.Library, args[1], args[2:]))
				if err != nil {
					return err
				}
				return printSession(s)
			})
		},
	}
}

// answerValue shapes command-line words into the value type a question expects.
func answerValue(lib *library.Library, questionID string, words []string) any {
	if len(words) == 0 {
		return nil
	}
	if q, ok := lib.Question(questionID); ok && q.Type == domain.PromptMultiSelect {
		return words
	}
	return strings.Join(words, " ")
}

func interviewBackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "back <id>",
		Short: "Go back to the previous answered question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.GoToPreviousQuestion(ctx, actor(), args[0])
				if err != nil {
					return err
				}
				return printSession(s)
			})
		},
	}
}

func interviewJumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jump <id> <question>",
		Short: "Jump to an earlier question",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.JumpToQuestion(ctx, actor(), args[0], args[1])
				if err != nil {
					return err
				}
				return printSession(s)
			})
		},
	}
}

func interviewCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <id>",
		Short: "List required questions still unanswered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.ValidateCompletion(ctx, actor(), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if res.Complete {
					fmt.Println("complete")
					return nil
				}
				fmt.Printf("missing: %s\n", strings.Join(res.Missing, ", "))
				return nil
			})
		},
	}
}

func interviewAbandonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abandon <id>",
		Short: "Abandon an interview",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.Abandon(ctx, actor(), args[0])
				if err != nil {
					return err
				}
				return printSession(s)
			})
		},
	}
}

func interviewQualityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quality <id>",
		Short: "Show form completeness and confidence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				report, err := a.Engine.Quality(ctx, actor(), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				fmt.Printf("%s: %d/%d fields (%.0f%%), average confidence %.1f\n",
					report.FormTemplateID, report.PopulatedFields, report.TotalFields, report.Completeness*100, report.AverageConfidence)
				if len(report.LowConfidence) > 0 {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"Field", "Confidence"})
					for _, f := range report.LowConfidence {
						tw.AppendRow(table.Row{f.Field, f.Confidence})
					}
					tw.Render()
				}
				if len(report.MissingFields) > 0 {
					fmt.Printf("missing fields: %s\n", strings.Join(report.MissingFields, ", "))
				}
				return nil
			})
		},
	}
}

func interviewExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <id>",
		Short: "Export populated form fields with metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				payload, err := a.Engine.Export(ctx, actor(), args[0])
				if err != nil {
					return err
				}
				return printJSON(payload)
			})
		},
	}
}

func interviewSubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <id>",
		Short: "Submit the form of a completed interview",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				receipt, err := a.Engine.Submit(ctx, actor(), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(receipt)
				}
				fmt.Printf("submitted %s as %s\n", receipt.SessionID, receipt.ID)
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The audit trail of an interview: starts, answers, navigation, completion and submission.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail <id>",
		Short: "Tail interview events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListEvents(ctx, actor(), args[0], n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Actor", "Payload"})
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.ID, evt.TS.Format(time.RFC3339), evt.Type, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy, allowDevLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				authCfg := server.AuthConfig{
					JWTSecret:              viper.GetString("jwt_secret"),
					AllowLegacyActorHeader: allowLegacy,
					AllowDevLogin:          allowDevLogin,
				}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("INSPECTLINE_JWT_SECRET is required for bearer auth")
				}
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				if basePath == "" {
					basePath = a.Config.Server.BasePath
				}
				handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath, Auth: authCfg, Log: a.Log})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Log.Info("serving interview API", "addr", addr, "base_path", basePath, "library", a.Library.Version())
				fmt.Printf("Serving Inspectline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr in config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path in config)")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-header", false, "accept X-Actor-Id without a token (local development only)")
	cmd.Flags().BoolVar(&allowDevLogin, "allow-dev-login", false, "expose POST /auth/dev/login")
	return cmd
}

func actor() auth.Actor {
	return auth.Local(viper.GetString("user"))
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, app.Options{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return fn(ctx, a)
}

func printSession(s *domain.Session) error {
	if viper.GetBool("json") {
		return printJSON(s)
	}
	fmt.Printf("session %s [%s] form=%s library=%s\n", s.ID, s.Status, s.FormTemplateID, s.LibraryVersion)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"", "Question", "Tier", "Answer", "Confidence"})
	for i, q := range s.Questions {
		marker := ""
		if i == s.Pointer {
			marker = ">"
		}
		answer, confidence := "", ""
		if a, ok := s.Answer(q.ID); ok {
			answer = fmt.Sprint(a.Value)
			confidence = fmt.Sprint(a.Confidence)
		}
		tw.AppendRow(table.Row{marker, q.ID, q.Tier, answer, confidence})
	}
	tw.Render()
	if q, ok := s.Current(); ok {
		fmt.Printf("next: %s\n", q.Prompt)
		for _, o := range q.Options {
			fmt.Printf("  - %s (%s)\n", o.Value, o.Label)
		}
	}
	if len(s.Triggers) > 0 {
		fmt.Printf("triggers: %s\n", strings.Join(s.Triggers, ", "))
	}
	return nil
}

func printQuestions(qs []domain.Question) error {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Tier", "Category", "Type", "Required", "Min tier"})
	for _, q := range qs {
		tw.AppendRow(table.Row{q.ID, q.Tier, q.Category, q.Type, q.Required, q.MinAccessTier})
	}
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
