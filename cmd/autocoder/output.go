package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/drewfead/autocoder/internal/api"
	"github.com/drewfead/autocoder/internal/cli"
)

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printProgress(p api.Progress) {
	if !p.Known() {
		fmt.Printf("Progress:   %s\n", cli.GrayText("no features"))
		return
	}
	fmt.Printf("Progress:   %s %.1f%% (%d/%d)\n", cli.Bar(p, 30), p.Percentage, p.Passing, p.Total)
}

func printFeatures(title string, color func(string) string, features []api.Feature) {
	fmt.Printf("%s (%d)\n", cli.Bolden(color(title)), len(features))
	if len(features) == 0 {
		fmt.Println("  " + cli.GrayText(cli.Dash))
		return
	}
	for _, f := range features {
		category := f.Category
		if category == "" {
			category = "uncategorized"
		}
		fmt.Printf("  %s %s %s\n", cli.GrayText(fmt.Sprintf("#%-4d", f.ID)), truncate(f.Name, 60), cli.GrayText("["+category+"]"))
	}
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
