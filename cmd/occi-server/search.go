package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
)

type searchResultView struct {
	Query   string `json:"query"`
	Results []struct {
		Org         string `json:"org"`
		Name        string `json:"name"`
		Version     string `json:"version"`
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
	} `json:"results"`
}

// runSearch queries a running occi-server's /search endpoint and prints the
// matching scripts, one per line, colorized unless --json or --no-color.
func runSearch(args []string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, color.RedString("usage: occi-server search <query>"))
		return 1
	}
	query := fs.Arg(0)

	u := globals.ServerURL + "/search?q=" + url.QueryEscape(query)
	resp, err := http.Get(u)
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("request to %s failed: %v", globals.ServerURL, err))
		return 1
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintln(os.Stderr, color.RedString("search failed (%d): %s", resp.StatusCode, raw))
		return 1
	}

	var result searchResultView
	if err := json.Unmarshal(raw, &result); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("decode response: %v", err))
		return 1
	}

	if globals.JSON {
		fmt.Println(string(raw))
		return 0
	}

	if len(result.Results) == 0 {
		fmt.Println(color.YellowString("no scripts matched %q", query))
		return 0
	}
	for _, r := range result.Results {
		fmt.Printf("%s  %s\n", color.CyanString("%s/%s@%s", r.Org, r.Name, r.Version), r.Title)
		if r.Description != "" {
			fmt.Printf("  %s\n", r.Description)
		}
	}
	return 0
}
