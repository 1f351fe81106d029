package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kalambet/celesledger/internal/assistant"
	"github.com/kalambet/celesledger/internal/config"
	"github.com/kalambet/celesledger/internal/ingest"
	"github.com/kalambet/celesledger/internal/ledger"
	"github.com/kalambet/celesledger/internal/memory"
	"github.com/kalambet/celesledger/internal/ollama"
)

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the ledger from the terminal",
	Long: `Talk to the ledger from the terminal.

Each line is one turn: report an expense to store it, ask a question to
query past records, or just chat. Type "exit" or "quit" to leave.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)
		if userID == "" {
			userID = cfg.Chat.DefaultUserID
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ollamaClient := ollama.New(cfg.Ollama.BaseURL)
		if err := ollama.EnsureReady(ctx, ollamaClient, cfg.Ollama.ChatModel, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
			return err
		}

		store, err := ledger.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		memories := memory.NewStore(store.DB(), memory.NewEmbedder(ollamaClient, cfg.Ollama.EmbedModel))
		orch := assistant.New(assistant.Deps{
			Chatter:    ollamaClient,
			ChatModel:  cfg.Ollama.ChatModel,
			Ledger:     store,
			Memory:     memories,
			MemoryTopK: cfg.Chat.MemoryTopK,
		})

		threadID := uuid.NewString()
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Println("celesledger ready. Type a message, or \"exit\" to quit.")
		for {
			fmt.Print(colorize(colorBold, "> "))
			if !scanner.Scan() {
				break
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "exit" || line == "quit" {
				break
			}

			reply, err := orch.Turn(ctx, threadID, userID, line)
			if err != nil {
				printError("%v", err)
				continue
			}
			fmt.Println(colorize(colorCyan, reply))
		}
		return scanner.Err()
	},
}

func init() {
	chatCmd.Flags().String("user", "", "user id for memory namespacing")
}

// --- records ---

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect or clear stored consumption records",
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent consumption records",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := ledger.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		records, err := store.RecentRecords(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No records found.")
			return nil
		}
		for _, r := range records {
			fmt.Printf("%s  %s\n", colorize(colorCyan, fmt.Sprintf("#%d", r.ID)), r.Summary())
		}
		return nil
	},
}

var recordsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all records and memories",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL records and memories. Use --confirm to proceed.")
			return nil
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := ledger.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		count, err := store.CountRecords(cmd.Context())
		if err != nil {
			return err
		}
		if err := store.ClearAll(cmd.Context()); err != nil {
			return err
		}
		printSuccess("Deleted %d records", count)
		return nil
	},
}

func init() {
	recordsListCmd.Flags().Int("limit", 20, "maximum number of records to list")
	recordsClearCmd.Flags().Bool("confirm", false, "confirm deletion")
	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsClearCmd)
}

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a statement file into the ledger",
	Long: `Import a statement file into the ledger.

Supported formats: PDF and HTML exports, or plain text with one
transaction per line. Each line goes through the same extraction as a
chat message; lines that cannot be parsed are reported and skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		userID, _ := cmd.Flags().GetString("user")
		if file == "" {
			return fmt.Errorf("--file is required")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)
		if userID == "" {
			userID = cfg.Chat.DefaultUserID
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ollamaClient := ollama.New(cfg.Ollama.BaseURL)
		if err := ollama.EnsureReady(ctx, ollamaClient, cfg.Ollama.ChatModel, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
			return err
		}

		store, err := ledger.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		memories := memory.NewStore(store.DB(), memory.NewEmbedder(ollamaClient, cfg.Ollama.EmbedModel))
		extractor := assistant.NewRecordExtractor(ollamaClient, cfg.Ollama.ChatModel)
		importer := ingest.NewImporter(extractor, store, memories, assistant.SystemClock())

		printStep("Importing %s...", file)
		report, err := importer.ImportFile(ctx, file, userID)
		if err != nil {
			return err
		}

		printSuccess("Imported %d records", report.Imported)
		for _, f := range report.Failed {
			printWarning("skipped %v", f)
		}
		if len(report.Failed) > 0 {
			printStatus("Skipped", "%d lines", len(report.Failed))
		}
		return nil
	},
}

func init() {
	importCmd.Flags().String("file", "", "statement file to import (pdf, html, or text)")
	importCmd.Flags().String("user", "", "user id for memory namespacing")
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show celesledger system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			printError("config error: %v", err)
			return nil
		}

		client := &http.Client{Timeout: 2 * time.Second}
		resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
		if err != nil {
			printStatus("Server", "stopped")
		} else {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				printStatus("Server", "running on port %d", cfg.Server.Port)
			} else {
				printStatus("Server", "error (HTTP %d)", resp.StatusCode)
			}
		}

		ollamaClient := ollama.New(cfg.Ollama.BaseURL)
		if ollamaClient.IsRunning(cmd.Context()) {
			printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
		} else {
			printStatus("Ollama", "not running")
		}

		printStatus("Chat model", "%s", cfg.Ollama.ChatModel)
		printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)

		store, err := ledger.Open(cfg.Storage.DataDir)
		if err == nil {
			if count, err := store.CountRecords(cmd.Context()); err == nil {
				printStatus("Records", "%d", count)
			}
			store.Close()
		}

		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		return nil
	},
}
