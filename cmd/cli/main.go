package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	CommitCatalog "github.com/nickyhof/CommitCatalog"
	"github.com/nickyhof/CommitCatalog/db"
	"github.com/nickyhof/CommitCatalog/duck"
	"github.com/nickyhof/CommitCatalog/internal/setup"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	promptColor  = color.New(color.FgCyan)
	headingColor = color.New(color.Bold, color.FgCyan)
	errorColor   = color.New(color.FgRed)
	successColor = color.New(color.FgGreen)
)

// Version is set at build time via -ldflags
var Version = "dev"

const historyLimit = 1000

// CLI holds the REPL state. All output goes to out.
type CLI struct {
	session     *db.Session
	out         io.Writer
	history     []string
	historyFile string
}

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "commitcatalog",
	Short:        "Interactive shell for a versioned table catalog",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd)
	},
}

func init() {
	cobra.OnInitialize(func() { setup.InitConfig(cfgFile, "commitcatalog") })

	flags := rootCmd.Flags()
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./commitcatalog.yaml)")
	flags.String("log-level", "warn", "log level: debug, info, warn, error")
	flags.String("log-format", "console", "log format: console, json")
	flags.String("base-dir", "", "base directory for persistence (memory if empty)")
	flags.String("warehouse-dir", "", "directory for parquet snapshots (INGEST and QUERY disabled if empty)")
	flags.String("author-name", "CommitCatalog", "commit author name")
	flags.String("author-email", "cli@commitcatalog.local", "commit author email")
	flags.String("restore-from", "", "archive to import into an empty store before starting")
	flags.String("s3-region", "", "S3 region for EXPORT, IMPORT and --restore-from")
	flags.String("s3-endpoint", "", "custom S3 endpoint")
	flags.StringP("file", "f", "", "execute statements from a file and exit")
	flags.StringP("execute", "c", "", "execute the given statements and exit")

	for _, name := range []string{
		"log-level", "log-format", "base-dir", "warehouse-dir", "author-name", "author-email",
		"restore-from", "s3-region", "s3-endpoint",
	} {
		setup.MustBindPFlag(strings.ReplaceAll(name, "-", "_"), flags.Lookup(name))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger, err := setup.Logger(viper.GetString("log_level"), viper.GetString("log_format"))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	persistence, err := setup.OpenPersistence(viper.GetString("base_dir"))
	if err != nil {
		return fmt.Errorf("failed to initialize persistence: %w", err)
	}
	if err := setup.RestoreIfEmpty(ctx, persistence, viper.GetString("restore_from"), logger); err != nil {
		return err
	}
	instance, err := CommitCatalog.Open(persistence, db.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}

	opts := []db.SessionOption{db.WithRemoteConfig(setup.RemoteConfig())}
	if dir := viper.GetString("warehouse_dir"); dir != "" {
		warehouse, err := duck.Open(dir, logger)
		if err != nil {
			return fmt.Errorf("failed to open warehouse: %w", err)
		}
		defer func() { _ = warehouse.Close() }()
		opts = append(opts, db.WithWarehouse(warehouse))
	}

	identity := setup.Author("CommitCatalog", "cli@commitcatalog.local")
	cli := &CLI{
		session:     instance.Session(identity, opts...),
		out:         os.Stdout,
		historyFile: getHistoryPath(),
	}

	flags := cmd.Flags()
	if statements, _ := flags.GetString("execute"); statements != "" {
		if failed := cli.executeAll(ctx, statements, false); failed > 0 {
			return fmt.Errorf("%d statements failed", failed)
		}
		return nil
	}
	if file, _ := flags.GetString("file"); file != "" {
		return cli.importFile(ctx, file)
	}

	if viper.GetString("base_dir") == "" {
		successColor.Fprintln(cli.out, "Using memory persistence")
	} else {
		successColor.Fprintf(cli.out, "Using file persistence: %s\n", viper.GetString("base_dir"))
	}
	logger.Debug("session started", zap.String("author", identity.String()))

	cli.printBanner()
	cli.loadHistory()
	defer cli.saveHistory()
	cli.run(ctx, os.Stdin)
	return nil
}

func (cli *CLI) printBanner() {
	fmt.Fprintln(cli.out)
	headingColor.Fprintf(cli.out, "CommitCatalog v%s\n", Version)
	fmt.Fprintln(cli.out, "Branches, tags and time travel for table snapshots")
	fmt.Fprintln(cli.out)
	fmt.Fprintln(cli.out, "Type .help for commands, .quit to exit")
	fmt.Fprintln(cli.out)
}

// run reads statements from in until EOF or .quit. Statements end with a
// semicolon and may span lines.
func (cli *CLI) run(ctx context.Context, in io.Reader) {
	reader := bufio.NewReader(in)
	var buffer strings.Builder

	for {
		fmt.Fprint(cli.out, cli.getPrompt(buffer.Len() > 0))

		input, err := reader.ReadString('\n')
		if err != nil && input == "" {
			successColor.Fprintln(cli.out, "\nGoodbye!")
			return
		}
		input = strings.TrimRight(input, "\r\n")
		if strings.TrimSpace(input) == "" {
			continue
		}

		if buffer.Len() == 0 && strings.HasPrefix(strings.TrimSpace(input), ".") {
			if quit := cli.handleCommand(ctx, input); quit {
				successColor.Fprintln(cli.out, "Goodbye!")
				return
			}
			continue
		}

		buffer.WriteString(input)
		trimmed := strings.TrimSpace(buffer.String())
		if !strings.HasSuffix(trimmed, ";") {
			buffer.WriteString(" ")
			continue
		}
		buffer.Reset()

		statement := strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
		if statement == "" {
			continue
		}
		cli.addToHistory(statement + ";")
		cli.execute(ctx, statement)
	}
}

func (cli *CLI) execute(ctx context.Context, statement string) bool {
	result, err := cli.session.Execute(ctx, statement)
	if err != nil {
		errorColor.Fprintf(cli.out, "✗ Error: %v\n", err)
		return false
	}
	result.Render(cli.out)
	return true
}

func (cli *CLI) getPrompt(multiLine bool) string {
	if multiLine {
		return promptColor.Sprint("   ...> ")
	}
	return promptColor.Sprintf("catalog (%s)> ", cli.session.Reference())
}

// handleCommand runs a dot command and reports whether the REPL should exit.
func (cli *CLI) handleCommand(ctx context.Context, input string) bool {
	parts := strings.Fields(strings.TrimSpace(input))
	if len(parts) == 0 {
		return false
	}

	switch strings.ToLower(parts[0]) {
	case ".quit", ".exit", ".q":
		return true

	case ".help", ".h", ".?":
		cli.printHelp()

	case ".refs", ".references":
		cli.execute(ctx, "SHOW REFERENCES")

	case ".tables":
		if len(parts) > 1 {
			cli.execute(ctx, "SHOW TABLES AT "+parts[1])
		} else {
			cli.execute(ctx, "SHOW TABLES")
		}

	case ".log":
		if len(parts) > 1 {
			cli.execute(ctx, "SHOW LOG "+parts[1]+" LIMIT 20")
		} else {
			cli.execute(ctx, "SHOW LOG LIMIT 20")
		}

	case ".use":
		if len(parts) > 1 {
			if cli.execute(ctx, "USE "+parts[1]) {
				successColor.Fprintf(cli.out, "✓ Using reference: %s\n", cli.session.Reference())
			}
		} else {
			errorColor.Fprintln(cli.out, "✗ Usage: .use <reference>")
		}

	case ".clear", ".cls":
		fmt.Fprint(cli.out, "\033[H\033[2J")

	case ".history":
		cli.printHistory()

	case ".version":
		fmt.Fprintf(cli.out, "CommitCatalog version %s\n", Version)

	case ".import":
		if len(parts) > 1 {
			if err := cli.importFile(ctx, parts[1]); err != nil {
				errorColor.Fprintf(cli.out, "✗ Error: %v\n", err)
			}
		} else {
			errorColor.Fprintln(cli.out, "✗ Usage: .import <file>")
		}

	default:
		errorColor.Fprintf(cli.out, "✗ Unknown command: %s (type .help for commands)\n", parts[0])
	}
	return false
}

func (cli *CLI) printHelp() {
	fmt.Fprintln(cli.out)
	headingColor.Fprintln(cli.out, "Special Commands:")
	fmt.Fprintln(cli.out, "  .help, .h          Show this help message")
	fmt.Fprintln(cli.out, "  .quit, .exit       Exit the CLI")
	fmt.Fprintln(cli.out, "  .refs              List branches and tags")
	fmt.Fprintln(cli.out, "  .tables [ref]      List tables at a reference")
	fmt.Fprintln(cli.out, "  .log [ref]         Show recent commits")
	fmt.Fprintln(cli.out, "  .use <ref>         Switch the session reference")
	fmt.Fprintln(cli.out, "  .import <file>     Execute statements from a file")
	fmt.Fprintln(cli.out, "  .history           Show command history")
	fmt.Fprintln(cli.out, "  .clear             Clear the screen")
	fmt.Fprintln(cli.out, "  .version           Show version info")
	fmt.Fprintln(cli.out)
	headingColor.Fprintln(cli.out, "References:")
	fmt.Fprintln(cli.out, "  CREATE BRANCH|TAG [IF NOT EXISTS] <name> [FROM <pointer>];")
	fmt.Fprintln(cli.out, "  DROP BRANCH|TAG|REFERENCE <name>;")
	fmt.Fprintln(cli.out, "  ASSIGN BRANCH <name> TO <pointer> [EXPECT <hash>];")
	fmt.Fprintln(cli.out, "  MERGE [BRANCH] <source> [INTO <target>];")
	fmt.Fprintln(cli.out, "  USE [REFERENCE] <pointer>;")
	fmt.Fprintln(cli.out, "  SHOW REFERENCES;")
	fmt.Fprintln(cli.out)
	headingColor.Fprintln(cli.out, "Tables:")
	fmt.Fprintln(cli.out, "  COMMIT [ON <branch>] SET <table> = '<snapshot>', ... [REMOVE <table>, ...] [EXPECT <hash>] [MESSAGE '<text>'];")
	fmt.Fprintln(cli.out, "  SHOW TABLES [AT <pointer>];")
	fmt.Fprintln(cli.out, "  SHOW SNAPSHOT <table>@<pointer>;")
	fmt.Fprintln(cli.out, "  SHOW LOG [<pointer>] [LIMIT n];")
	fmt.Fprintln(cli.out, "  SHOW DIFF <pointer> TO <pointer>;")
	fmt.Fprintln(cli.out, "  RESOLVE <pointer> [AS OF '<time>'];")
	fmt.Fprintln(cli.out)
	headingColor.Fprintln(cli.out, "Warehouse:")
	fmt.Fprintln(cli.out, "  INGEST '<file.csv>' INTO <table> [ON <branch>];")
	fmt.Fprintln(cli.out, "  QUERY '<sql>' [AT <pointer>];")
	fmt.Fprintln(cli.out)
	headingColor.Fprintln(cli.out, "Sharing:")
	fmt.Fprintln(cli.out, "  EXPORT TO '<file|s3://bucket/key>';")
	fmt.Fprintln(cli.out, "  CREATE REMOTE <name> '<url>'; SHOW REMOTES; DROP REMOTE <name>;")
	fmt.Fprintln(cli.out, "  PUSH [TO <remote>]; FETCH [FROM <remote>];")
	fmt.Fprintln(cli.out)
}

func (cli *CLI) addToHistory(cmd string) {
	if len(cli.history) > 0 && cli.history[len(cli.history)-1] == cmd {
		return
	}
	cli.history = append(cli.history, cmd)
	if len(cli.history) > historyLimit {
		cli.history = cli.history[len(cli.history)-historyLimit:]
	}
}

func (cli *CLI) printHistory() {
	if len(cli.history) == 0 {
		fmt.Fprintln(cli.out, "No command history")
		return
	}
	start := max(len(cli.history)-20, 0)
	for i := start; i < len(cli.history); i++ {
		fmt.Fprintf(cli.out, "  %3d  %s\n", i+1, cli.history[i])
	}
}

func getHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".commitcatalog_history")
}

func (cli *CLI) loadHistory() {
	if cli.historyFile == "" {
		return
	}
	file, err := os.Open(cli.historyFile)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		cli.history = append(cli.history, scanner.Text())
	}
}

func (cli *CLI) saveHistory() {
	if cli.historyFile == "" {
		return
	}
	file, err := os.Create(cli.historyFile)
	if err != nil {
		return
	}
	defer file.Close()

	start := max(len(cli.history)-historyLimit, 0)
	for _, line := range cli.history[start:] {
		_, _ = file.WriteString(line + "\n")
	}
}

// importFile executes every statement in filename, reporting one line per
// statement.
func (cli *CLI) importFile(ctx context.Context, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	cli.executeAll(ctx, string(data), true)
	return nil
}

// executeAll runs the semicolon separated statements in content and returns
// how many failed. Compact output prints one summary line per statement
// instead of the rendered result.
func (cli *CLI) executeAll(ctx context.Context, content string, compact bool) int {
	succeeded, failed := 0, 0
	for i, statement := range splitStatements(content) {
		if !compact {
			if cli.execute(ctx, statement) {
				succeeded++
			} else {
				failed++
			}
			continue
		}

		result, err := cli.session.Execute(ctx, statement)
		if err != nil {
			errorColor.Fprintf(cli.out, "[%d] ✗ %s\n", i+1, truncate(statement, 50))
			fmt.Fprintf(cli.out, "      Error: %v\n", err)
			failed++
			continue
		}
		succeeded++

		switch r := result.(type) {
		case db.CommitResult:
			detail := r.Reference
			if !r.Commit.IsZero() {
				detail += " at " + r.Commit.Short()
			}
			successColor.Fprintf(cli.out, "[%d] ✓ %s (%s)\n", i+1, truncate(statement, 50), detail)
		case db.QueryResult:
			successColor.Fprintf(cli.out, "[%d] ✓ %s (%d rows)\n", i+1, truncate(statement, 50), r.RecordsRead)
		default:
			successColor.Fprintf(cli.out, "[%d] ✓ %s\n", i+1, truncate(statement, 50))
		}
	}

	if compact {
		successColor.Fprintf(cli.out, "\n✓ Import complete: %d succeeded, %d failed\n", succeeded, failed)
	}
	return failed
}

// splitStatements splits on semicolons outside single quoted strings and
// drops -- comments.
func splitStatements(content string) []string {
	var statements []string
	var current strings.Builder
	inString := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if ch == '\'' {
			inString = !inString
		}

		if !inString && ch == '-' && i+1 < len(content) && content[i+1] == '-' {
			for i < len(content) && content[i] != '\n' {
				i++
			}
			continue
		}

		if !inString && ch == ';' {
			if stmt := strings.TrimSpace(current.String()); stmt != "" {
				statements = append(statements, stmt)
			}
			current.Reset()
			continue
		}

		current.WriteByte(ch)
	}

	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		statements = append(statements, stmt)
	}
	return statements
}

// truncate shortens s to limit runes with an ellipsis.
func truncate(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}
