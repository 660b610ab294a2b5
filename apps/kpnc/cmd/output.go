package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	kpnc "github.com/slush-dev/kpnc"
	"gopkg.in/yaml.v3"
)

// yamlOut prints data as a YAML document to stdout.
func yamlOut(data any) {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	enc.Encode(data)
	enc.Close()
}

// printTable prints a simple formatted table header with separator.
func printTable(w io.Writer, format string, width int, columns ...any) {
	fmt.Fprintf(w, format+"\n", columns...)
	fmt.Fprintln(w, strings.Repeat("-", width))
}

// formatValidUntil renders the account expiry with the time remaining.
func formatValidUntil(info *kpnc.AccountInfo, now time.Time) string {
	if info == nil || !info.HasExpiry() {
		return "no expiry"
	}
	remaining := info.ValidUntil.Sub(now).Truncate(time.Second)
	if remaining <= 0 {
		return info.ValidUntil.Local().Format("2006-01-02 15:04:05") + " (expired)"
	}
	return info.ValidUntil.Local().Format("2006-01-02 15:04:05") + fmt.Sprintf(" (%s remaining)", remaining)
}

// resultMap converts an action result document for YAML output.
func resultMap(res *kpnc.GenericResult) map[string]any {
	out := map[string]any{}
	if len(res.Data) > 0 {
		var data any
		if err := yaml.Unmarshal(res.Data, &data); err == nil {
			out["data"] = data
		} else {
			out["data"] = string(res.Data)
		}
	}
	if res.Error != "" {
		out["error"] = res.Error
	}
	return out
}

// printResult prints an action result document in text form.
func printResult(w io.Writer, res *kpnc.GenericResult) {
	if res.Error != "" {
		fmt.Fprintf(w, "Error:  %s\n", res.Error)
		return
	}
	if len(res.Data) == 0 {
		fmt.Fprintln(w, "OK")
		return
	}
	fmt.Fprintf(w, "Result: %s\n", res.Data)
}

// printReceivers prints the registry contents as a table.
func printReceivers(w io.Writer, targets []kpnc.ReceiverTarget) {
	if len(targets) == 0 {
		fmt.Fprintln(w, "No receivers registered.")
		return
	}
	printTable(w, "%-24s %-8s %-40s %s", 100, "NAME", "PID", "HUB URL", "ACTIONS")
	for _, t := range targets {
		pid := "-"
		if t.PID > 0 {
			pid = fmt.Sprint(t.PID)
		}
		fmt.Fprintf(w, "%-24s %-8s %-40s %s\n", t.Name, pid, t.HubURL, strings.Join(t.Actions, ","))
	}
}

// printReplies prints one reply notification.
func printReplies(w io.Writer, urls []string, at time.Time, asYAML bool) {
	if asYAML {
		fmt.Fprintln(w, "---")
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		enc.Encode(map[string]any{
			"event":          "new_replies",
			"received_at":    at.UTC().Format(time.RFC3339),
			"new_reply_urls": urls,
		})
		enc.Close()
		return
	}
	fmt.Fprintf(w, ">> REPLIES [%s] %d new\n", at.Local().Format("15:04:05"), len(urls))
	for _, u := range urls {
		fmt.Fprintf(w, "   %s\n", u)
	}
}

// decodeJSON unmarshals data, treating an empty document as no value.
func decodeJSON(data []byte, out any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
