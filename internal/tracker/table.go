package tracker

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/platformsre/patchrun/internal/types"
)

var (
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	gray   = color.New(color.FgHiBlack)
)

func stateColor(state types.UnitState) *color.Color {
	switch state {
	case types.UnitCompleted:
		return green
	case types.UnitFailed:
		return red
	case types.UnitRunning:
		return yellow
	}
	return gray
}

// PrintTable renders one polling iteration's view of the units.
func PrintTable(snaps []types.UnitSnapshot) {
	if len(snaps) == 0 {
		return
	}

	fmt.Printf("%-40s %-10s %-10s %-20s %8s\n", "TARGET", "SCOPE", "STATE", "PHASE", "PERCENT")
	for _, s := range snaps {
		line := fmt.Sprintf("%-40s %-10s %-10s %-20s %7.1f%%", s.Identity(), s.Scope, s.State, s.Phase, s.Percent)
		stateColor(s.State).Println(line)
		if s.Err != "" {
			red.Printf("  └─ %s\n", s.Err)
		}
	}
	fmt.Println()
}

// PrintSummary renders the end-of-run report and returns the failed count.
func PrintSummary(title string, snaps []types.UnitSnapshot) int {
	completed, failed := 0, 0
	for _, s := range snaps {
		switch s.State {
		case types.UnitCompleted:
			completed++
		case types.UnitFailed:
			failed++
		}
	}

	fmt.Println("============================================================")
	fmt.Println(title)
	fmt.Println("============================================================")
	fmt.Printf("Total Units: %d\n", len(snaps))
	fmt.Printf("Completed: %d\n", completed)
	fmt.Printf("Failed: %d\n", failed)
	if len(snaps) > 0 {
		fmt.Printf("Success Rate: %.1f%%\n", float64(completed)/float64(len(snaps))*100)
	}
	fmt.Println("============================================================")

	for _, s := range snaps {
		if s.State == types.UnitFailed {
			red.Printf("✗ %s: %s\n", s.Identity(), s.Err)
		} else {
			green.Printf("✓ %s: %s\n", s.Identity(), s.Phase)
		}
	}
	fmt.Println()

	return failed
}
