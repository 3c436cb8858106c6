package main

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/pcrsearch/internal/chat"
	httpserver "github.com/fyrsmithlabs/pcrsearch/internal/http"
	"github.com/fyrsmithlabs/pcrsearch/internal/pcr"
	"github.com/fyrsmithlabs/pcrsearch/internal/session"
)

var (
	searchTopN int
	searchK    int

	recordsSearch string
	recordsSkip   int
	recordsLimit  int
	recordsSource string

	chatSession string

	outputJSON bool
)

func init() {
	rootCmd.AddCommand(searchCmd, recordsCmd, chatCmd, healthCmd)

	searchCmd.Flags().IntVar(&searchTopN, "top-n", 0, "number of documents to return (server default when 0)")
	searchCmd.Flags().IntVar(&searchK, "k", 0, "number of passages to retrieve (server default when 0)")
	searchCmd.Flags().BoolVar(&outputJSON, "json", false, "print raw JSON")

	recordsCmd.Flags().StringVar(&recordsSearch, "search", "", "keyword or query")
	recordsCmd.Flags().IntVar(&recordsSkip, "skip", 0, "records to skip")
	recordsCmd.Flags().IntVar(&recordsLimit, "limit", 100, "maximum records to return (1-1000)")
	recordsCmd.Flags().StringVar(&recordsSource, "source", "vector", "lookup path: vector or db")
	recordsCmd.Flags().BoolVar(&outputJSON, "json", false, "print raw JSON")

	chatCmd.Flags().StringVar(&chatSession, "session", "", "session ID to continue")
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run a document-level search",
	Long: `Search the PCR index and print the top documents ranked by how many of
the retrieved passages they contributed.

Examples:
  pcrctl search "寶特瓶"
  pcrctl search "glass bottle" --top-n 3 --k 200 --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List PCR records from the vector or relational path",
	Long: `Query GET /pcr_records.

Examples:
  pcrctl records --search 手機
  pcrctl records --source db --search 塑膠 --skip 20 --limit 10`,
	Args: cobra.NoArgs,
	RunE: runRecords,
}

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send one message to the web chat",
	Long: `Send a message to POST /api/chat and print the reply. The session ID is
printed to stderr; pass it back with --session to continue the conversation.

Examples:
  pcrctl chat "什麼是 PCR？"
  pcrctl chat "舉個例子" --session 0f6c...`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check pcrd server health",
	Long: `Check the health status of the pcrd HTTP server.

Examples:
  pcrctl health
  pcrctl health --server http://localhost:8080`,
	RunE: runHealth,
}

func printRecords(w io.Writer, recs []pcr.Record) {
	st := newStyles(w)
	if len(recs) == 0 {
		fmt.Fprintln(w, st.dim.Render("No records found."))
		return
	}
	for i, r := range recs {
		fmt.Fprintf(w, "%d. %s %s\n", i+1, st.title.Render("["+r.RegNo+"]"), r.DocumentName)
		if r.Developer != "" {
			fmt.Fprintf(w, "   %s %s\n", st.label.Render("developer:"), r.Developer)
		}
		if r.PassageCount > 0 {
			fmt.Fprintf(w, "   %s  %d\n", st.label.Render("passages:"), r.PassageCount)
		}
		if r.DownloadLink != "" {
			fmt.Fprintf(w, "   %s      %s\n", st.label.Render("link:"), st.dim.Render(r.DownloadLink))
		}
	}
}

func runSearch(cmd *cobra.Command, args []string) error {
	q := url.Values{"q": {strings.Join(args, " ")}}
	if searchTopN > 0 {
		q.Set("top_n", strconv.Itoa(searchTopN))
	}
	if searchK > 0 {
		q.Set("k", strconv.Itoa(searchK))
	}

	var resp httpserver.SearchResponse
	if err := apiGet(cmd.Context(), "/api/v1/search", q, &resp); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	printRecords(cmd.OutOrStdout(), resp.Results)
	return nil
}

func runRecords(cmd *cobra.Command, args []string) error {
	q := url.Values{
		"skip":   {strconv.Itoa(recordsSkip)},
		"limit":  {strconv.Itoa(recordsLimit)},
		"source": {recordsSource},
	}
	if recordsSearch != "" {
		q.Set("search", recordsSearch)
	}

	var recs []pcr.Record
	if err := apiGet(cmd.Context(), "/pcr_records", q, &recs); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd.OutOrStdout(), recs)
	}
	printRecords(cmd.OutOrStdout(), recs)
	return nil
}

func runChat(cmd *cobra.Command, args []string) error {
	req := chat.Request{
		SessionID: chatSession,
		Messages:  []session.Message{{Role: session.RoleUser, Content: strings.Join(args, " ")}},
	}
	var resp chat.Response
	if err := apiPost(cmd.Context(), "/api/chat", req, &resp); err != nil {
		return err
	}
	cmd.Println(resp.Reply)
	fmt.Fprintf(os.Stderr, "[pcrctl] session: %s\n", resp.SessionID)
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	var resp httpserver.HealthResponse
	err := apiGet(cmd.Context(), "/health", nil, &resp)

	var apiErr *apiError
	if err != nil && !errors.As(err, &apiErr) {
		return err
	}

	st := newStyles(cmd.OutOrStdout())
	if resp.Status != "" {
		cmd.Printf("Server Status: %s\n", st.status(resp.Status))
		if resp.Version != "" {
			cmd.Printf("Version: %s\n", resp.Version)
		}
		if resp.Index != nil {
			cmd.Printf("Index: %s (%d passages)", resp.Index.Collection, resp.Index.Passages)
			if resp.Index.Error != "" {
				cmd.Printf(" error: %s", st.failed.Render(resp.Index.Error))
			}
			cmd.Println()
		}
		if resp.Records != "" {
			cmd.Printf("Records: %s\n", resp.Records)
		}
	}
	cmd.Printf("Server URL: %s\n", serverURL)
	return err
}
