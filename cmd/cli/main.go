package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/ci-api/internal/auth"
	"github.com/kurihiro0119/ci-api/internal/config"
	"github.com/kurihiro0119/ci-api/internal/domain"
	"github.com/kurihiro0119/ci-api/internal/storage"
	"github.com/kurihiro0119/ci-api/internal/storage/postgres"
	"github.com/kurihiro0119/ci-api/internal/storage/sqlite"
	"github.com/kurihiro0119/ci-api/pkg/client"
)

var (
	outputJSON  bool
	limit       int
	offset      int
	branchName  string
	interval    string
	onlyNew     bool
	tokenTTL    time.Duration
	endpointURL string
)

var rootCmd = &cobra.Command{
	Use:   "ci",
	Short: "CI v3 API tool",
	Long: `A CLI tool for browsing builds and managing branch crons through the CI v3 API.

Repositories are addressed by numeric id or by owner/name slug. Requests are
authenticated with API_TOKEN when it is set.`,
}

var buildsCmd = &cobra.Command{
	Use:   "builds [repo]",
	Short: "List builds of a repository",
	Args:  cobra.ExactArgs(1),
	RunE:  runBuilds,
}

var repoCmd = &cobra.Command{
	Use:   "repo [repo]",
	Short: "Show a repository",
	Args:  cobra.ExactArgs(1),
	RunE:  runRepo,
}

var branchCmd = &cobra.Command{
	Use:   "branch [repo] [branch]",
	Short: "Show a branch",
	Args:  cobra.ExactArgs(2),
	RunE:  runBranch,
}

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Manage branch crons",
}

var cronShowCmd = &cobra.Command{
	Use:   "show [repo] [branch]",
	Short: "Show the cron of a branch",
	Args:  cobra.ExactArgs(2),
	RunE:  runCronShow,
}

var cronCreateCmd = &cobra.Command{
	Use:   "create [repo] [branch]",
	Short: "Create or replace the cron of a branch",
	Long:  `Create a cron for a branch. An existing cron on the branch is replaced.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runCronCreate,
}

var cronDeleteCmd = &cobra.Command{
	Use:   "delete [cron-id]",
	Short: "Delete a cron",
	Args:  cobra.ExactArgs(1),
	RunE:  runCronDelete,
}

var cronsCmd = &cobra.Command{
	Use:   "crons [repo]",
	Short: "List crons of a repository",
	Args:  cobra.ExactArgs(1),
	RunE:  runCrons,
}

var settingsCmd = &cobra.Command{
	Use:   "settings [repo]",
	Short: "List settings of a repository",
	Args:  cobra.ExactArgs(1),
	RunE:  runSettings,
}

var tokenCmd = &cobra.Command{
	Use:   "token [user-id]",
	Short: "Mint an API token for a user",
	Long:  `Mint an API token signed with AUTH_SECRET for a user in local storage.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE:  runMigrate,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load fixture repositories, builds and users into local storage",
	RunE:  runSeed,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&endpointURL, "endpoint", "", "API endpoint (default is API_ENDPOINT)")

	for _, cmd := range []*cobra.Command{buildsCmd, cronsCmd} {
		cmd.Flags().IntVar(&limit, "limit", 0, "page size")
		cmd.Flags().IntVar(&offset, "offset", 0, "page start")
	}
	buildsCmd.Flags().StringVar(&branchName, "branch", "", "only builds of this branch")

	cronCreateCmd.Flags().StringVar(&interval, "interval", "daily", "daily, weekly or monthly")
	cronCreateCmd.Flags().BoolVar(&onlyNew, "run-only-when-new-commit", false, "skip runs when the branch has no new commit")

	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime, 0 for no expiry")

	cronCmd.AddCommand(cronShowCmd)
	cronCmd.AddCommand(cronCreateCmd)
	cronCmd.AddCommand(cronDeleteCmd)

	rootCmd.AddCommand(buildsCmd)
	rootCmd.AddCommand(repoCmd)
	rootCmd.AddCommand(branchCmd)
	rootCmd.AddCommand(cronCmd)
	rootCmd.AddCommand(cronsCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getClient() (*client.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	endpoint := cfg.APIEndpoint
	if endpointURL != "" {
		endpoint = endpointURL
	}
	return client.NewClient(endpoint, cfg.APIToken), nil
}

func getStorage(cfg *config.Config) (storage.Storage, error) {
	if err := cfg.ValidateStorage(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	switch cfg.StorageType {
	case "postgres":
		return postgres.NewPostgresStorage(cfg.PostgresURL)
	default:
		return sqlite.NewSQLiteStorage(cfg.SQLitePath)
	}
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func runBuilds(cmd *cobra.Command, args []string) error {
	c, err := getClient()
	if err != nil {
		return err
	}

	page, err := c.ListBuilds(context.Background(), args[0], client.ListOptions{Limit: limit, Offset: offset, BranchName: branchName})
	if err != nil {
		return fmt.Errorf("failed to list builds: %w", err)
	}

	if outputJSON {
		return printJSON(page)
	}

	p := page.Pagination
	fmt.Printf("\nBuilds: %s (%d-%d of %d)\n\n", args[0], min(p.Offset+1, p.Count), min(p.Offset+p.Limit, p.Count), p.Count)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Number", "State", "Branch", "Commit", "Started", "Duration"})
	for _, b := range page.Builds {
		branch, sha, duration := "-", "-", "-"
		if b.Branch != nil {
			branch = b.Branch.Name
		}
		if b.Commit != nil && len(b.Commit.Sha) >= 7 {
			sha = b.Commit.Sha[:7]
		}
		if b.Duration != nil {
			duration = (time.Duration(*b.Duration) * time.Second).String()
		}
		table.Append([]string{
			fmt.Sprintf("%d", b.ID),
			b.Number,
			b.State,
			branch,
			sha,
			formatTime(b.StartedAt),
			duration,
		})
	}
	table.Render()

	if p.Next != nil {
		fmt.Printf("\nNext page: --offset %d\n", p.Next.Offset)
	}
	return nil
}

func runRepo(cmd *cobra.Command, args []string) error {
	c, err := getClient()
	if err != nil {
		return err
	}

	repo, err := c.GetRepository(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get repository: %w", err)
	}

	if outputJSON {
		return printJSON(repo)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Field", "Value"})
	table.Append([]string{"ID", fmt.Sprintf("%d", repo.ID)})
	table.Append([]string{"Slug", repo.Slug})
	table.Append([]string{"Private", strconv.FormatBool(repo.Private)})
	table.Render()
	return nil
}

func runBranch(cmd *cobra.Command, args []string) error {
	c, err := getClient()
	if err != nil {
		return err
	}

	branch, err := c.GetBranch(context.Background(), args[0], args[1])
	if err != nil {
		return fmt.Errorf("failed to get branch: %w", err)
	}

	if outputJSON {
		return printJSON(branch)
	}

	lastBuild := "-"
	if branch.LastBuild != nil {
		lastBuild = branch.LastBuild.Href
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Field", "Value"})
	table.Append([]string{"Name", branch.Name})
	table.Append([]string{"Exists on GitHub", strconv.FormatBool(branch.ExistsOnGitHub)})
	table.Append([]string{"Last build", lastBuild})
	table.Render()
	return nil
}

func renderCrons(crons []*client.Cron) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Branch", "Interval", "Only New Commits", "Last Run", "Next Run"})
	for _, cr := range crons {
		branch := "-"
		if cr.Branch != nil {
			branch = cr.Branch.Name
		}
		table.Append([]string{
			fmt.Sprintf("%d", cr.ID),
			branch,
			cr.Interval,
			strconv.FormatBool(cr.RunOnlyWhenNewCommit),
			formatTime(cr.LastRun),
			formatTime(cr.NextRun),
		})
	}
	table.Render()
}

func runCronShow(cmd *cobra.Command, args []string) error {
	c, err := getClient()
	if err != nil {
		return err
	}

	cron, err := c.GetBranchCron(context.Background(), args[0], args[1])
	if err != nil {
		return fmt.Errorf("failed to get cron: %w", err)
	}

	if outputJSON {
		return printJSON(cron)
	}
	renderCrons([]*client.Cron{cron})
	return nil
}

func runCronCreate(cmd *cobra.Command, args []string) error {
	c, err := getClient()
	if err != nil {
		return err
	}

	cron, err := c.CreateCron(context.Background(), args[0], args[1], interval, onlyNew)
	if err != nil {
		return fmt.Errorf("failed to create cron: %w", err)
	}

	if outputJSON {
		return printJSON(cron)
	}
	fmt.Printf("Created cron %d\n", cron.ID)
	renderCrons([]*client.Cron{cron})
	return nil
}

func runCronDelete(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid cron id %q", args[0])
	}

	c, err := getClient()
	if err != nil {
		return err
	}

	if err := c.DeleteCron(context.Background(), id); err != nil {
		return fmt.Errorf("failed to delete cron: %w", err)
	}
	fmt.Printf("Deleted cron %d\n", id)
	return nil
}

func runCrons(cmd *cobra.Command, args []string) error {
	c, err := getClient()
	if err != nil {
		return err
	}

	page, err := c.ListCrons(context.Background(), args[0], client.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		return fmt.Errorf("failed to list crons: %w", err)
	}

	if outputJSON {
		return printJSON(page)
	}

	fmt.Printf("\nCrons: %s (%d total)\n\n", args[0], page.Pagination.Count)
	renderCrons(page.Crons)
	return nil
}

func runSettings(cmd *cobra.Command, args []string) error {
	c, err := getClient()
	if err != nil {
		return err
	}

	settings, err := c.ListSettings(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to list settings: %w", err)
	}

	if outputJSON {
		return printJSON(settings)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Setting", "Value"})
	for _, s := range settings {
		table.Append([]string{s.Name, fmt.Sprint(s.Value)})
	}
	table.Render()
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user id %q", args[0])
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET is required to mint tokens")
	}

	store, err := getStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	user, err := store.FindUser(context.Background(), userID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}

	token, err := auth.Issue(cfg.AuthSecret, &domain.Caller{UserID: user.ID, Login: user.Login}, tokenTTL)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := getStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(context.Background()); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	fmt.Printf("Migrated %s storage\n", cfg.StorageType)
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := getStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	if err := storage.Seed(context.Background(), store); err != nil {
		return fmt.Errorf("seeding failed: %w", err)
	}
	fmt.Println("Seeded svenfuchs/minimal and svenfuchs/secret")
	return nil
}
