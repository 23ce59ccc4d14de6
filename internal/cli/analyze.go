package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/harun/honeypot/internal/logger"
	"github.com/harun/honeypot/pkg/api"
	"github.com/harun/honeypot/pkg/honeypot"
	"github.com/harun/honeypot/pkg/session"
	"github.com/spf13/cobra"
)

// analyzeMaxLine caps one stdin message.
const analyzeMaxLine = 16 << 20

var analyzeSession string

var analyzeCmd = &cobra.Command{
	Use:   "analyze [text...]",
	Short: "Run messages through the engine without a server",
	Long: `Run one message, given as arguments, or one message per stdin line through the
conversation engine and print each result as JSON. All messages share one in-memory
session, so indicators accumulate across lines.`,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeSession, "session", "", "session key (default: random)")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	level := "error"
	if flag := cmd.Flags().Lookup("log-level"); flag != nil && flag.Changed {
		level = logLevel
	}
	log, err := logger.New(logger.Config{Level: level, Console: true, Redaction: true})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	engine := honeypot.New(session.NewStore(log.GetZerolog()), honeypot.WithLogger(log.GetZerolog()))

	key := analyzeSession
	if key == "" {
		key = uuid.NewString()
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	process := func(text string) error {
		res, err := engine.ProcessTurn(cmd.Context(), key, text)
		if err != nil {
			return err
		}
		return enc.Encode(api.NewAnalyzeResponse(res))
	}

	if len(args) > 0 {
		return process(strings.Join(args, " "))
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), analyzeMaxLine)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := process(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	return nil
}
