package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"
)

type publishJobView struct {
	ID     string `json:"id"`
	Script string `json:"script"`
	Status string `json:"status"`
	Stats  *struct {
		Tasks      int   `json:"tasks"`
		Done       int64 `json:"done"`
		DurationMs int64 `json:"duration_ms"`
	} `json:"stats"`
}

// runPublish reads a script sidecar + code file from disk and POSTs them to
// a running occi-server's admin publish endpoint, optionally polling until
// a requested precompute batch finishes. Flag handling mirrors the
// teacher's per-subcommand flag sets (e.g. cmd/cie/index.go's --full).
func runPublish(args []string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	codePath := fs.String("code", "", "Path to the script source file (default: sidecar path with its engine extension)")
	overwrite := fs.Bool("overwrite", false, "Replace an existing version")
	preCalculate := fs.Bool("pre-calculate", false, "Precompute every parameter combination after publishing")
	wait := fs.Bool("wait", false, "Wait for the precompute batch to finish, showing progress")
	user := fs.String("user", getEnv("OCCI_ADMIN_USERNAME", "admin"), "Admin basic-auth username")
	pass := fs.String("pass", getEnv("OCCI_ADMIN_PASSPHRASE", ""), "Admin basic-auth passphrase")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, color.RedString("usage: occi-server publish [flags] <sidecar.json>"))
		return 1
	}
	sidecarPath := fs.Arg(0)

	sidecar, err := os.ReadFile(sidecarPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("cannot read %s: %v", sidecarPath, err))
		return 1
	}

	var body map[string]any
	if err := json.Unmarshal(sidecar, &body); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("invalid sidecar JSON: %v", err))
		return 1
	}

	resolvedCode := *codePath
	if resolvedCode == "" {
		resolvedCode = inferCodePath(sidecarPath, body)
	}
	code, err := os.ReadFile(resolvedCode)
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("cannot read script code %s: %v", resolvedCode, err))
		return 1
	}
	body["code"] = string(code)
	body["overwrite"] = *overwrite
	body["pre_calculate"] = *preCalculate

	payload, err := json.Marshal(body)
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("encode publish request: %v", err))
		return 1
	}

	req, err := http.NewRequest(http.MethodPost, globals.ServerURL+"/admin/publish", bytes.NewReader(payload))
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("build request: %v", err))
		return 1
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(*user, *pass)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("request to %s failed: %v", globals.ServerURL, err))
		return 1
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintln(os.Stderr, color.RedString("publish failed (%d): %s", resp.StatusCode, raw))
		return 1
	}

	var job publishJobView
	if err := json.Unmarshal(raw, &job); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("decode response: %v", err))
		return 1
	}
	fmt.Println(color.GreenString("published %s (job %s, status %s)", job.Script, job.ID, job.Status))

	if *preCalculate && *wait {
		return waitForPublishJob(globals, job.ID, *user, *pass)
	}
	return 0
}

func inferCodePath(sidecarPath string, body map[string]any) string {
	ext := ".py"
	if engine, _ := body["cad_engine"].(string); engine == "archiyou" {
		ext = ".js"
	} else if engine == "openscad" {
		ext = ".scad"
	}
	trimmed := sidecarPath
	if len(trimmed) > len(".json") && trimmed[len(trimmed)-5:] == ".json" {
		trimmed = trimmed[:len(trimmed)-5]
	}
	return trimmed + ext
}

// waitForPublishJob polls /admin/publish/<id> until the batch finishes,
// rendering a progress bar when stdout is a terminal and falling back to
// plain status lines otherwise (the same isatty-gated choice the detent CLI
// makes before showing an interactive prompt).
func waitForPublishJob(globals GlobalFlags, jobID, user, pass string) int {
	var bar *progressbar.ProgressBar
	interactive := isatty.IsTerminal(os.Stdout.Fd())

	for {
		req, _ := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/admin/publish/%s", globals.ServerURL, jobID), nil)
		req.SetBasicAuth(user, pass)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			fmt.Fprintln(os.Stderr, color.RedString("poll failed: %v", err))
			return 1
		}
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		var job publishJobView
		if err := json.Unmarshal(raw, &job); err != nil {
			fmt.Fprintln(os.Stderr, color.RedString("decode poll response: %v", err))
			return 1
		}

		if job.Stats != nil {
			if interactive {
				if bar == nil {
					bar = progressbar.Default(int64(job.Stats.Tasks), "precomputing")
				}
				_ = bar.Set64(job.Stats.Done)
			} else {
				fmt.Printf("precomputing: %d/%d\n", job.Stats.Done, job.Stats.Tasks)
			}
		}

		switch job.Status {
		case "done":
			if bar != nil {
				_ = bar.Finish()
			}
			fmt.Println(color.GreenString("batch finished"))
			return 0
		case "failed":
			if bar != nil {
				_ = bar.Finish()
			}
			fmt.Println(color.RedString("batch failed"))
			return 1
		}
		time.Sleep(500 * time.Millisecond)
	}
}
