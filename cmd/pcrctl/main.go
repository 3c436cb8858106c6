// Package main implements pcrctl, the operator CLI for pcrd.
//
// Local commands (init, index, load-records, assign-fids) work on the
// configured stores directly. Query commands (search, records, chat,
// health) call a running pcrd over HTTP.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/pcrsearch/internal/config"
	"github.com/fyrsmithlabs/pcrsearch/internal/logging"
)

var (
	// serverURL is the base URL of the pcrd HTTP server
	serverURL string
	// configPath overrides ~/.config/pcrd/config.yaml for local commands
	configPath string
	// version information
	version = "dev"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pcrctl",
	Short: "CLI for pcrd indexing and queries",
	Long: `pcrctl builds the PCR search indexes and queries a running pcrd server.

Local commands read the same configuration as pcrd:
  init, index, load-records, assign-fids

Server commands talk to pcrd over HTTP (see --server):
  search, records, chat, health`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8000", "pcrd server URL")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/pcrd/config.yaml)")
}

// loadLocal loads configuration and a console logger for local commands.
func loadLocal() (*config.Config, *logging.Logger, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, nil, err
	}
	logCfg, err := logging.FromObservability(cfg.Observability)
	if err != nil {
		return nil, nil, err
	}
	logCfg.Format = "console"
	logCfg.OTEL = false
	logCfg.Caller = false
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

var httpClient = &http.Client{Timeout: 120 * time.Second}

// apiError is a non-2xx response from pcrd.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.Status, e.Message)
}

func apiGet(ctx context.Context, path string, query url.Values, out any) error {
	u := strings.TrimRight(serverURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return doJSON(req, out)
}

func apiPost(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	u := strings.TrimRight(serverURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return doJSON(req, out)
}

// doJSON decodes a 2xx body into out. For other statuses it still decodes
// into out when possible and returns an *apiError.
func doJSON(req *http.Request, out any) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		var msg struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &msg) == nil && msg.Message != "" {
			return &apiError{Status: resp.StatusCode, Message: msg.Message}
		}
		if out != nil {
			_ = json.Unmarshal(body, out)
		}
		return &apiError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
