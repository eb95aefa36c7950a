package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/spf13/cobra"

	"github.com/use-agent/serpcrawl/detect"
	"github.com/use-agent/serpcrawl/extract"
	"github.com/use-agent/serpcrawl/models"
)

// NewDetectCmd creates the detect command.
func NewDetectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect FILE.html",
		Short: "Classify a saved page as blocked or real content",
		Long: `Detect runs the block signatures against a saved page. For search engines
it also parses the results offline and applies the empty results rules.

Examples:
  # Check an archived Bing results page
  crawlctl detect --engine bing page.html

  # Use a custom signature set
  crawlctl detect --signatures sigs.yaml --engine google page.html`,
		Args: cobra.ExactArgs(1),
		RunE: runDetectCmd,
	}

	cmd.Flags().StringP("engine", "e", "bing", "Engine the page came from: bing, google or generic")
	cmd.Flags().String("signatures", "", "YAML signature file (default: built-in set)")
	cmd.Flags().String("url", "", "URL the page was loaded from")
	cmd.Flags().Int("status", 0, "HTTP status the page was served with")

	return cmd
}

func runDetectCmd(cmd *cobra.Command, args []string) error {
	engineName, _ := cmd.Flags().GetString("engine")
	sigPath, _ := cmd.Flags().GetString("signatures")
	pageURL, _ := cmd.Flags().GetString("url")
	status, _ := cmd.Flags().GetInt("status")

	engine, err := models.ParseEngine(engineName)
	if err != nil {
		return err
	}
	set := detect.DefaultSignatures()
	if sigPath != "" {
		if set, err = detect.LoadSignatures(sigPath); err != nil {
			return err
		}
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read page: %w", err)
	}
	page := detect.Page{URL: pageURL, Title: pageTitle(string(raw)), HTML: string(raw), StatusCode: status}

	out := cmd.OutOrStdout()
	d := detect.NewSignatureDetector(set)
	if v, blocked := d.Detect(engine, page); blocked {
		fmt.Fprintf(out, "blocked (%s)\n", v)
		return nil
	}
	if !engine.IsSearch() {
		fmt.Fprintln(out, "ok")
		return nil
	}

	serp, err := extract.ParseSERPHTML(engine, pageURL, page.HTML)
	if err != nil {
		return fmt.Errorf("parse results: %w", err)
	}
	if len(serp.Entries) == 0 {
		if v, blocked := d.EmptySERP(engine, len(page.HTML)); blocked {
			fmt.Fprintf(out, "blocked (%s)\n", v)
			return nil
		}
		fmt.Fprintln(out, "ok: no results")
		return nil
	}
	fmt.Fprintf(out, "ok: %d results\n", len(serp.Entries))
	return nil
}

func pageTitle(rawHTML string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
