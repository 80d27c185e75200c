// cmd/saga/main.go
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"saga/internal/config"
	"saga/internal/logging"
	"saga/internal/merge"
	"saga/internal/repo"
	"saga/internal/state"
	"saga/internal/track"
)

const sagaDir = ".saga"

var rootCmd = &cobra.Command{
	Use:   "saga",
	Short: "Saga is a version control engine for structured game entities",
	Long: `Saga versions structured, mutable domain entities such as character
sheets and campaign chapters: branches, field-level diffs and three-way
merges over nested state instead of text files.`,
}

func init() {
	var initCmd = &cobra.Command{
		Use:   "init [state.json]",
		Short: "Initialize a repository for one entity",
		Long:  `Creates the root commit from the given state file (or an empty state) and a protected main branch.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityID, _ := cmd.Flags().GetString("entity")
			author, _ := cmd.Flags().GetString("author")
			message, _ := cmd.Flags().GetString("message")
			if entityID == "" {
				entityID = uuid.New().String()
			}
			if message == "" {
				message = "initial state"
			}

			initial := state.State{}
			if len(args) == 1 {
				var err error
				initial, err = loadStateFile(args[0])
				if err != nil {
					return err
				}
			}

			if err := initialize(entityID); err != nil {
				return err
			}

			db, r, err := openRepo()
			if err != nil {
				return err
			}
			defer db.Close()
			defer r.Close()

			root, err := r.Init(initial, author, message)
			if err != nil {
				return err
			}

			fmt.Printf("Initialized saga repository for entity %s\n", entityID)
			fmt.Printf("Root commit %s on %s\n", short(root.ID), repo.DefaultBranch)
			return nil
		},
	}
	initCmd.Flags().StringP("entity", "e", "", "Entity ID (generated when omitted)")
	initCmd.Flags().StringP("author", "a", "", "Commit author")
	initCmd.Flags().StringP("message", "m", "", "Commit message")
	initCmd.MarkFlagRequired("author")

	var commitCmd = &cobra.Command{
		Use:   "commit <state.json>",
		Short: "Commit a proposed state to a branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			branchName, _ := cmd.Flags().GetString("branch")
			author, _ := cmd.Flags().GetString("author")
			message, _ := cmd.Flags().GetString("message")

			proposed, err := loadStateFile(args[0])
			if err != nil {
				return err
			}

			db, r, err := openRepo()
			if err != nil {
				return err
			}
			defer db.Close()
			defer r.Close()

			before, err := r.GetBranch(branchName)
			if err != nil {
				return err
			}

			c, err := r.Commit(branchName, proposed, author, message)
			if err != nil {
				return fmt.Errorf("committing: %w", err)
			}

			if c.ID == before.HeadCommitID {
				fmt.Println("No changes, branch head unchanged")
				return nil
			}
			fmt.Printf("[%s %s] %s (%d ops)\n", branchName, short(c.ID), message, len(c.Changes.Ops))
			return nil
		},
	}
	commitCmd.Flags().StringP("branch", "b", repo.DefaultBranch, "Target branch")
	commitCmd.Flags().StringP("author", "a", "", "Commit author")
	commitCmd.Flags().StringP("message", "m", "", "Commit message")
	commitCmd.MarkFlagRequired("author")
	commitCmd.MarkFlagRequired("message")

	var branchCmd = &cobra.Command{
		Use:   "branch",
		Short: "Work with branches",
	}

	var createBranchCmd = &cobra.Command{
		Use:   "create <name>",
		Short: "Create a branch at a ref",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, _ := cmd.Flags().GetString("at")
			protected, _ := cmd.Flags().GetBool("protected")

			db, r, err := openRepo()
			if err != nil {
				return err
			}
			defer db.Close()
			defer r.Close()

			b, err := r.CreateBranch(args[0], at, protected)
			if err != nil {
				return fmt.Errorf("creating branch: %w", err)
			}

			fmt.Printf("Created branch %s at %s\n", b.Name, short(b.HeadCommitID))
			return nil
		},
	}
	createBranchCmd.Flags().String("at", repo.DefaultBranch, "Branch name or commit id to start from")
	createBranchCmd.Flags().Bool("protected", false, "Protect the branch from deletion")

	var listBranchesCmd = &cobra.Command{
		Use:   "list",
		Short: "List all branches",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, r, err := openRepo()
			if err != nil {
				return err
			}
			defer db.Close()
			defer r.Close()

			branches, err := r.ListBranches()
			if err != nil {
				return fmt.Errorf("listing branches: %w", err)
			}

			green := color.New(color.FgGreen).SprintFunc()
			for _, b := range branches {
				marker := " "
				if b.Protected {
					marker = "*"
				}
				fmt.Printf("%s %s  %s  %s\n", marker, green(b.Name), short(b.HeadCommitID), b.UpdatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	var deleteBranchCmd = &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, r, err := openRepo()
			if err != nil {
				return err
			}
			defer db.Close()
			defer r.Close()

			if err := r.DeleteBranch(args[0]); err != nil {
				return fmt.Errorf("deleting branch: %w", err)
			}

			fmt.Printf("Deleted branch %s\n", args[0])
			return nil
		},
	}

	var logCmd = &cobra.Command{
		Use:   "log [ref]",
		Short: "Show commit history of a ref",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			ref := repo.DefaultBranch
			if len(args) == 1 {
				ref = args[0]
			}

			db, r, err := openRepo()
			if err != nil {
				return err
			}
			defer db.Close()
			defer r.Close()

			history, err := r.History(ref, limit)
			if err != nil {
				return fmt.Errorf("listing history: %w", err)
			}

			yellow := color.New(color.FgYellow).SprintFunc()
			for _, c := range history {
				kind := ""
				if c.Merge() {
					kind = "  (merge)"
				}
				fmt.Printf("%s  %s  %s  %s%s\n",
					yellow(short(c.ID)),
					c.CreatedAt.Format(time.RFC3339),
					c.Author,
					c.Message,
					kind,
				)
			}
			return nil
		},
	}
	logCmd.Flags().IntP("limit", "n", 0, "Limit the number of commits shown")

	var diffCmd = &cobra.Command{
		Use:   "diff <refA> <refB>",
		Short: "Show field-level changes between two refs",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, r, err := openRepo()
			if err != nil {
				return err
			}
			defer db.Close()
			defer r.Close()

			changes, err := r.DiffBetween(args[0], args[1])
			if err != nil {
				return fmt.Errorf("diffing: %w", err)
			}

			if changes.Empty() {
				fmt.Println("No differences")
				return nil
			}
			printColoredChanges(changes.Format())
			return nil
		},
	}

	var showCmd = &cobra.Command{
		Use:   "show [ref]",
		Short: "Print the materialized state at a ref",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := repo.DefaultBranch
			if len(args) == 1 {
				ref = args[0]
			}

			db, r, err := openRepo()
			if err != nil {
				return err
			}
			defer db.Close()
			defer r.Close()

			st, err := r.Materialize(ref)
			if err != nil {
				return fmt.Errorf("materializing: %w", err)
			}

			data, err := json.MarshalIndent(st, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding state: %w", err)
			}
			fmt.Println(string(data))
			return nil
		},
	}

	var mergeCmd = &cobra.Command{
		Use:   "merge <source> <target>",
		Short: "Merge one branch into another",
		Long: `Merges source into target through their common ancestor. Conflicts are
printed for resolution; re-run with --resolve path=value for each one.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			author, _ := cmd.Flags().GetString("author")
			rawResolutions, _ := cmd.Flags().GetStringArray("resolve")

			resolutions, err := parseResolutions(rawResolutions)
			if err != nil {
				return err
			}

			db, r, err := openRepo()
			if err != nil {
				return err
			}
			defer db.Close()
			defer r.Close()

			result, err := r.Merge(args[0], args[1], author, resolutions)
			if err != nil {
				return fmt.Errorf("merging: %w", err)
			}

			switch {
			case result.Report != nil:
				printConflicts(result.Report)
				return fmt.Errorf("%d conflicts, none resolved automatically", len(result.Report.Conflicts))
			case result.NoOp:
				fmt.Println("Already up to date")
			case result.FastForward:
				fmt.Printf("Fast-forwarded %s to %s\n", args[1], short(result.Commit.ID))
			default:
				fmt.Printf("Merged %s into %s: %s\n", args[0], args[1], short(result.Commit.ID))
			}
			return nil
		},
	}
	mergeCmd.Flags().StringP("author", "a", "", "Merge commit author")
	mergeCmd.Flags().StringArray("resolve", nil, "Conflict resolution as path=value (value is JSON)")
	mergeCmd.MarkFlagRequired("author")

	var watchCmd = &cobra.Command{
		Use:   "watch <state.json>",
		Short: "Auto-commit a state file on save",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			branchName, _ := cmd.Flags().GetString("branch")
			author, _ := cmd.Flags().GetString("author")

			cfg, err := config.LoadOrDefault()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			logger, err := logging.NewLogger(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("initializing logger: %w", err)
			}

			db, r, err := openRepo()
			if err != nil {
				return err
			}
			defer db.Close()
			defer r.Close()

			watcher, err := track.NewWatcher(r, track.Options{
				Path:   args[0],
				Branch: branchName,
				Author: author,
			}, logger.Logger)
			if err != nil {
				return fmt.Errorf("creating watcher: %w", err)
			}
			defer watcher.Close()

			fmt.Printf("Watching %s, committing to %s (ctrl-c to stop)\n", args[0], branchName)
			watcher.Run()
			return nil
		},
	}
	watchCmd.Flags().StringP("branch", "b", repo.DefaultBranch, "Branch receiving auto-commits")
	watchCmd.Flags().StringP("author", "a", "", "Author recorded on auto-commits")
	watchCmd.MarkFlagRequired("author")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(branchCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(watchCmd)

	branchCmd.AddCommand(createBranchCmd)
	branchCmd.AddCommand(listBranchesCmd)
	branchCmd.AddCommand(deleteBranchCmd)
}

// initialize creates the .saga layout and records the entity id.
func initialize(entityID string) error {
	if err := os.MkdirAll(filepath.Join(sagaDir, "db"), 0755); err != nil {
		return fmt.Errorf("creating %s directory: %w", sagaDir, err)
	}
	if err := os.WriteFile(filepath.Join(sagaDir, "entity"), []byte(entityID), 0644); err != nil {
		return fmt.Errorf("recording entity id: %w", err)
	}
	return nil
}

func openRepo() (*badger.DB, *repo.Repository, error) {
	raw, err := os.ReadFile(filepath.Join(sagaDir, "entity"))
	if err != nil {
		return nil, nil, fmt.Errorf("not a saga repository (run saga init): %w", err)
	}
	entityID := strings.TrimSpace(string(raw))

	cfg, err := config.LoadOrDefault()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	opts := badger.DefaultOptions(cfg.Database.Path)
	opts.Logger = nil // Disable logging noise

	db, err := badger.Open(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("initializing logger: %w", err)
	}

	r, err := repo.Open(db, repo.Options{
		EntityID:      entityID,
		CacheSize:     cfg.Engine.CacheSize,
		SnapshotEvery: cfg.Engine.SnapshotEvery,
		MaxRetries:    cfg.Engine.MaxRetries,
		Logger:        logger.Logger,
	})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("opening repository: %w", err)
	}

	return db, r, nil
}

func loadStateFile(path string) (state.State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var st state.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return st, nil
}

// parseResolutions turns repeated path=value flags into a resolution map.
// Values parse as JSON, falling back to the raw string.
func parseResolutions(raw []string) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	resolutions := make(map[string]any, len(raw))
	for _, entry := range raw {
		path, value, ok := strings.Cut(entry, "=")
		if !ok || path == "" {
			return nil, fmt.Errorf("invalid resolution %q, want path=value", entry)
		}

		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err != nil {
			parsed = value
		}
		resolutions[path] = parsed
	}
	return resolutions, nil
}

func printColoredChanges(formatted string) {
	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)
	moved := color.New(color.FgCyan)

	for _, line := range strings.Split(formatted, "\n") {
		if len(line) == 0 {
			continue
		}

		switch {
		case strings.HasPrefix(line, "set ") || strings.HasPrefix(line, "insert "):
			added.Println(line)
		case strings.HasPrefix(line, "remove "):
			removed.Println(line)
		case strings.HasPrefix(line, "move "):
			moved.Println(line)
		default:
			fmt.Println(line)
		}
	}
}

func printConflicts(report *merge.ConflictReport) {
	red := color.New(color.FgRed).SprintFunc()

	fmt.Printf("\nConflicts (%d):\n", len(report.Conflicts))
	for _, c := range report.Conflicts {
		fmt.Printf("  %s\n", red(c.Path))
		fmt.Printf("    base:   %s\n", formatJSON(c.BaseValue))
		fmt.Printf("    source: %s\n", formatJSON(c.SourceValue))
		fmt.Printf("    target: %s\n", formatJSON(c.TargetValue))
	}
	fmt.Println("\nResolve with: saga merge <source> <target> --resolve path=value ...")
}

func formatJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
