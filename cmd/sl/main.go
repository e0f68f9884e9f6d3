package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stakeline/internal/config"
	"stakeline/internal/db"
	"stakeline/internal/domain"
	"stakeline/internal/engine"
	"stakeline/internal/migrate"
	"stakeline/internal/repo"
	"stakeline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Stakeline CLI",
	Long: `Stakeline tracks personal commitments with check-ins, optional money
stakes, and referee verification.

- Commitment: a goal with a date window and a check-in cadence (daily,
  weekly, or one_time). Adding stakes requires naming a referee.
- Check-in: your self-report for a date. Stake-free commitments resolve
  it immediately; staked ones wait for the referee.
- Referee: verifies a check-in as reported, or disputes it (a dispute
  always counts as a failure).
- Dashboard: active commitments with progress, what's due today, and
  what's waiting on you as a referee.
- Feed: activity records written alongside every state change; view
  with 'sl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("STAKELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "acting user identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(commitmentCmd())
	rootCmd.AddCommand(checkinCmd())
	rootCmd.AddCommand(refereeCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(feedCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", cfgPath)
			}
			fmt.Printf("Workspace ready (db at %s)\n", db.Path(workspace))
			return nil
		},
	}
	return cmd
}

func commitmentCmd() *cobra.Command {
	c := &cobra.Command{Use: "commitment", Short: "Manage commitments"}
	c.AddCommand(commitmentCreateCmd())
	c.AddCommand(commitmentListCmd())
	c.AddCommand(commitmentShowCmd())
	return c
}

func commitmentCreateCmd() *cobra.Command {
	var opts engine.CommitmentCreateOptions
	var frequency string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Declare a commitment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.OwnerID = viper.GetString("user-id")
				opts.CheckInFrequency = domain.Frequency(frequency)
				c, err := e.CreateCommitment(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "commitment title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category (see 'sl commitment create --help' or stakeline.yml)")
	cmd.Flags().StringVar(&opts.StartDate, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.EndDate, "end", "", "end date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&frequency, "frequency", "daily", "check-in frequency (daily, weekly, one_time)")
	cmd.Flags().IntVar(&opts.StakesAmount, "stakes", 0, "stakes amount in minor units (cents)")
	cmd.Flags().StringVar(&opts.StakesCurrency, "currency", "", "stakes currency (3-letter code)")
	cmd.Flags().StringVar(&opts.StakesDestination, "stakes-destination", "", "where forfeited stakes go")
	cmd.Flags().StringVar(&opts.RefereeID, "referee", "", "referee user id (required with stakes)")
	cmd.Flags().StringVar(&opts.CharityID, "charity", "", "charity id for forfeited stakes")
	cmd.Flags().BoolVar(&opts.IsPublic, "public", false, "show activity in the public feed")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func commitmentListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List commitments where you are owner or referee",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListCommitments(ctx, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Window", "Freq", "Stakes", "Done"})
				for _, c := range items {
					stakes := ""
					if c.StakesAmount > 0 {
						stakes = fmt.Sprintf("%d %s", c.StakesAmount, c.StakesCurrency)
					}
					tw.AppendRow(table.Row{
						c.ID, c.Title, c.Status,
						c.StartDate + ".." + c.EndDate,
						c.CheckInFrequency, stakes,
						fmt.Sprintf("%d/%d", c.SuccessfulCheckIns+c.FailedCheckIns, c.TotalCheckInsRequired),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func commitmentShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a commitment and its check-ins",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				userID := viper.GetString("user-id")
				c, err := e.GetCommitment(ctx, args[0], userID)
				if err != nil {
					return err
				}
				checkIns, err := e.ListCheckIns(ctx, c.ID, userID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"commitment": c,
					"check_ins":  checkIns,
				})
			})
		},
	}
	return cmd
}

func checkinCmd() *cobra.Command {
	c := &cobra.Command{Use: "checkin", Short: "Submit and list check-ins"}
	c.AddCommand(checkinSubmitCmd())
	c.AddCommand(checkinListCmd())
	return c
}

func checkinSubmitCmd() *cobra.Command {
	var commitmentID, date, note, proof, status string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a check-in",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if date == "" {
					date = time.Now().UTC().Format("2006-01-02")
				}
				ci, err := e.SubmitCheckIn(ctx, engine.CheckInSubmitOptions{
					OwnerID:        viper.GetString("user-id"),
					CommitmentID:   commitmentID,
					CheckInDate:    date,
					Note:           note,
					ProofPhotoURL:  proof,
					ReportedStatus: domain.CheckInStatus(status),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(ci)
			})
		},
	}
	cmd.Flags().StringVar(&commitmentID, "commitment", "", "commitment id")
	cmd.Flags().StringVar(&date, "date", "", "check-in date (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&note, "note", "", "note")
	cmd.Flags().StringVar(&proof, "proof", "", "proof photo URL")
	cmd.Flags().StringVar(&status, "status", "success", "self-reported status (success, failure)")
	_ = cmd.MarkFlagRequired("commitment")
	return cmd
}

func checkinListCmd() *cobra.Command {
	var commitmentID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a commitment's check-ins",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListCheckIns(ctx, commitmentID, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Date", "Reported", "Referee", "Final", "Note"})
				for _, ci := range items {
					tw.AppendRow(table.Row{ci.ID, ci.CheckInDate, ci.UserReportedStatus, ci.RefereeStatus, ci.FinalStatus, ci.Note})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&commitmentID, "commitment", "", "commitment id")
	_ = cmd.MarkFlagRequired("commitment")
	return cmd
}

func refereeCmd() *cobra.Command {
	c := &cobra.Command{Use: "referee", Short: "Referee actions"}
	c.AddCommand(refereePendingCmd())
	c.AddCommand(refereeResolveCmd("verify", "Verify a pending check-in as reported"))
	c.AddCommand(refereeResolveCmd("dispute", "Dispute a pending check-in (counts as failure)"))
	c.AddCommand(refereeAnswerCmd("accept", "Accept a referee invitation"))
	c.AddCommand(refereeAnswerCmd("decline", "Decline a referee invitation"))
	return c
}

func refereePendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List check-ins awaiting your verification",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListPendingForReferee(ctx, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Check-in", "Commitment", "Owner", "Date", "Reported", "Submitted"})
				for _, item := range items {
					tw.AppendRow(table.Row{
						item.CheckIn.ID, item.Commitment.Title, item.Commitment.UserID,
						item.CheckIn.CheckInDate, item.CheckIn.UserReportedStatus, item.CheckIn.CreatedAt,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func refereeResolveCmd(verb, short string) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   verb + " <check-in-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				fn := e.VerifyCheckIn
				if verb == "dispute" {
					fn = e.DisputeCheckIn
				}
				ci, err := fn(ctx, viper.GetString("user-id"), args[0], note)
				if err != nil {
					return err
				}
				return printJSONOrTable(ci)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "referee note")
	return cmd
}

func refereeAnswerCmd(verb, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   verb + " <commitment-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				fn := e.AcceptReferee
				if verb == "decline" {
					fn = e.DeclineReferee
				}
				c, err := fn(ctx, viper.GetString("user-id"), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func dashboardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show your dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.Dashboard(ctx, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Printf("Streak: %d (best %d)  Won: %d  Lost: %d\n",
					d.Stats.CurrentStreak, d.Stats.LongestStreak, d.Stats.CommitmentsWon, d.Stats.CommitmentsLost)
				fmt.Printf("Due today: %d  Verifications needed: %d\n\n",
					d.PendingActions.CheckInsDueToday, d.PendingActions.RefereeVerificationsNeeded)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Title", "Due", "Progress", "Days left", "Window"})
				for _, c := range d.ActiveCommitments {
					due := ""
					if c.CheckInDueToday {
						due = "today"
					}
					tw.AppendRow(table.Row{
						c.Title, due,
						fmt.Sprintf("%d%% (%d/%d)", c.ProgressPercent, c.CompletedCount, c.TotalCheckInsRequired),
						c.DaysRemaining,
						c.StartDate + ".." + c.EndDate,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func feedCmd() *cobra.Command {
	var public bool
	var limit int
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Show the activity feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var items []domain.FeedItem
				var err error
				if public {
					items, err = e.Repo.ListPublicFeed(ctx, limit)
				} else {
					items, err = e.Repo.ListFeed(ctx, viper.GetString("user-id"), limit)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "User", "Activity", "Reference"})
				for _, item := range items {
					tw.AppendRow(table.Row{item.Activity.CreatedAt, item.User.Username, item.ActivityType, item.ReferenceID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&public, "public", false, "public feed only")
	cmd.Flags().IntVar(&limit, "limit", 50, "max items")
	return cmd
}

func userCmd() *cobra.Command {
	c := &cobra.Command{Use: "user", Short: "Look up users"}
	c.AddCommand(userShowCmd())
	c.AddCommand(userSearchCmd())
	c.AddCommand(userStatsCmd())
	return c
}

func userShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				u, err := r.GetUser(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	return cmd
}

func userSearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search users by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.SearchUsers(ctx, args[0], limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max results")
	return cmd
}

func userStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats <id>",
		Short: "Show a user's stats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				s, err := r.GetUserStats(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	c := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	c.AddCommand(apikeyCreateCmd())
	c.AddCommand(apikeyListCmd())
	c.AddCommand(apikeyDeleteCmd())
	return c
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (secret shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				secret, err := repo.NewAPIKeySecret()
				if err != nil {
					return err
				}
				k := domain.APIKey{
					ID:        uuid.NewString(),
					UserID:    viper.GetString("user-id"),
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, k); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"id":  k.ID,
					"key": secret,
				})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeysForUser(ctx, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0], viper.GetString("user-id"))
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	c := &cobra.Command{Use: "log", Short: "Inspect the activity log"}
	c.AddCommand(logTailCmd())
	return c
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail recent activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				latest, err := r.LatestActivityID(ctx)
				if err != nil {
					return err
				}
				cursor := latest - int64(n)
				if cursor < 0 {
					cursor = 0
				}
				items, err := r.ActivitiesAfter(ctx, cursor, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of records")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Println("Migrations applied")
			return nil
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:             os.Getenv("STAKELINE_JWT_SECRET"),
				AllowLegacyUserHeader: cfg.Auth.AllowUserHeader,
			}
			if authCfg.JWTSecret == "" {
				authCfg.JWTSecret = cfg.Auth.JWTSecret
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyUserHeader {
				return fmt.Errorf("STAKELINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Stakeline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
