package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/aigw/internal/api"
	"github.com/kalambet/aigw/internal/config"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the gateway a one-off question",
	Long: `Ask the gateway a one-off question.

Examples:
  aigw ask "What is a goroutine?"
  aigw ask --fallback "Summarise the Go memory model"
  aigw ask --agent "How busy is this machine?"
  aigw ask --kb "What does the contract say about renewals?"
  aigw ask --support --stream "My order has not arrived"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		kb, _ := cmd.Flags().GetBool("kb")
		agent, _ := cmd.Flags().GetBool("agent")
		support, _ := cmd.Flags().GetBool("support")
		fallback, _ := cmd.Flags().GetBool("fallback")
		stream, _ := cmd.Flags().GetBool("stream")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		q := url.Values{"question": {question}}

		switch {
		case kb:
			return streamTo(ctx, client, out, "/api/v1/kb/ask", q)
		case support && stream:
			return streamTo(ctx, client, out, "/support/stream", q)
		case support:
			return printAnswer(ctx, client, out, "/support/ask", q)
		case agent:
			return printAnswer(ctx, client, out, "/ai/v1/agent/ask", q)
		case fallback:
			return printAnswer(ctx, client, out, "/ai/v1/googleAi/generate", q)
		default:
			return printAnswer(ctx, client, out, "/ai/generate", url.Values{"message": {question}})
		}
	},
}

func init() {
	askCmd.Flags().Bool("kb", false, "answer from the uploaded documents (streamed)")
	askCmd.Flags().Bool("agent", false, "let the model call tools")
	askCmd.Flags().Bool("support", false, "use the customer support persona")
	askCmd.Flags().Bool("fallback", false, "use the generate route with fallback annotation")
	askCmd.Flags().Bool("stream", false, "stream the support answer")
	askCmd.MarkFlagsMutuallyExclusive("kb", "agent", "support", "fallback")
}

func printAnswer(ctx context.Context, c *apiClient, w io.Writer, path string, q url.Values) error {
	resp, err := c.get(ctx, path, q)
	if err != nil {
		return err
	}
	text, err := readText(resp)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, text)
	return nil
}

func streamTo(ctx context.Context, c *apiClient, w io.Writer, path string, q url.Values) error {
	resp, err := c.get(ctx, path, q)
	if err != nil {
		return err
	}
	err = readEvents(resp, func(data string) error {
		_, werr := io.WriteString(w, data)
		return werr
	})
	fmt.Fprintln(w)
	return err
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send a message in a remembered conversation",
	Long: `Send a message in a remembered conversation.

Examples:
  aigw chat --user alice "My name is Alice"
  aigw chat --user alice "What is my name?"
  aigw chat --user alice --clear`,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		clearConv, _ := cmd.Flags().GetBool("clear")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if clearConv {
			resp, err := client.delete(cmd.Context(), "/ai/chat/"+url.PathEscape(user))
			if err != nil {
				return err
			}
			if _, err := readText(resp); err != nil {
				return err
			}
			printSuccess("Cleared conversation %s", user)
			return nil
		}

		if len(args) == 0 {
			return errors.New("a message is required unless --clear is set")
		}
		q := url.Values{"message": {strings.Join(args, " ")}, "userId": {user}}
		return printAnswer(cmd.Context(), client, cmd.OutOrStdout(), "/ai/chat", q)
	},
}

func init() {
	chatCmd.Flags().String("user", "", "conversation owner")
	chatCmd.Flags().Bool("clear", false, "forget the conversation")
	chatCmd.MarkFlagRequired("user")
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Add a document to the knowledge base",
	Long: `Add a document to the knowledge base.

Supported formats are PDF, DOCX and plain text.

Examples:
  aigw ingest --file ./handbook.pdf
  aigw ingest --file ./notes.md`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}
		defer f.Close()

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.upload(cmd.Context(), "/api/v1/kb/documents", path, f, nil)
		if err != nil {
			return err
		}
		docID := resp.Header.Get(api.DocumentIDHeader)
		text, err := readText(resp)
		if err != nil {
			return err
		}

		printSuccess("%s", text)
		if docID != "" {
			printStatus("Document", "%s", docID)
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("file", "", "file path to ingest")
	ingestCmd.MarkFlagRequired("file")
}

// --- describe ---

var describeCmd = &cobra.Command{
	Use:   "describe [question]",
	Short: "Ask the vision model about an image",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("image")

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("reading image: %w", err)
		}
		defer f.Close()

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var fields map[string]string
		if len(args) > 0 {
			fields = map[string]string{"question": strings.Join(args, " ")}
		}
		resp, err := client.upload(cmd.Context(), "/ai/v1/googleAi/vision", path, f, fields)
		if err != nil {
			return err
		}
		text, err := readText(resp)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), text)
		return nil
	},
}

func init() {
	describeCmd.Flags().String("image", "", "image file to analyse")
	describeCmd.MarkFlagRequired("image")
}

// --- forget ---

var forgetCmd = &cobra.Command{
	Use:   "forget <document-id>",
	Short: "Remove a document from the knowledge base",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/api/v1/kb/documents/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if _, err := readText(resp); err != nil {
			return err
		}
		printSuccess("Removed document %s", args[0])
		return nil
	},
}

// --- purge ---

// commandTimeout bounds offline commands that touch storage directly.
const commandTimeout = time.Minute

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete conversation messages older than the retention window",
	Long: `Delete conversation messages older than the retention window.

The server runs this daily at memory.purge_at. This command runs it now,
directly against the data directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if age, _ := cmd.Flags().GetDuration("older-than"); age > 0 {
			cfg.Memory.Retention = age
		}

		a, err := newApp(cfg, newLogger(os.Stderr, cfg.Log))
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
		defer cancel()

		printStep("Purging messages older than %s", cfg.Memory.Retention)
		n, err := a.memory.PurgeOlderThan(ctx, cfg.Memory.Retention)
		if err != nil {
			return err
		}
		printSuccess("Purged %d messages", n)
		return nil
	},
}

func init() {
	purgeCmd.Flags().Duration("older-than", 0, "override memory.retention (e.g. 24h)")
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the tools and knowledge base over MCP (stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		// stdout carries the protocol.
		logger := newLogger(os.Stderr, cfg.Log)

		a, err := newApp(cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		go a.sampler.Run(ctx)

		logger.Info("MCP server started (stdio transport)", "tools", a.tools.Names())
		err = server.NewStdioServer(a.mcpServer()).Listen(ctx, os.Stdin, os.Stdout)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mcp server: %w", err)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:       "set <key> <value>",
	Short:     "Set a configuration value",
	Args:      cobra.ExactArgs(2),
	ValidArgs: config.ValidKeys(),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
