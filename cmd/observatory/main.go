package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/msageha/observatory/internal/daemon"
	"github.com/msageha/observatory/internal/scheduler"
	"github.com/msageha/observatory/internal/setup"
	"github.com/msageha/observatory/internal/status"
	"github.com/msageha/observatory/internal/uds"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "setup":
		runSetup(os.Args[2:])
	case "daemon":
		runDaemon(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "target":
		runTarget(os.Args[2:])
	case "history":
		runHistory(os.Args[2:])
	case "rank":
		runRank(os.Args[2:])
	case "park":
		runPark(os.Args[2:])
	case "resume":
		runSimple("resume")
	case "shutdown":
		runSimple("shutdown")
	case "version":
		fmt.Printf("observatory %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runSetup(args []string) {
	var dir, name string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--name":
			name = flagValue(args, &i)
		default:
			if dir != "" {
				fatalf("usage: observatory setup <dir> [--name <name>]")
			}
			dir = args[i]
		}
	}
	if dir == "" {
		fatalf("usage: observatory setup <dir> [--name <name>]")
	}
	if err := setup.Run(dir, name); err != nil {
		fatalf("setup: %v", err)
	}
	absDir, _ := filepath.Abs(dir)
	fmt.Printf("Initialized %s/ in %s\n", setup.DirName, absDir)
}

func runDaemon(_ []string) {
	baseDir := requireBaseDir()
	cfg, err := setup.LoadConfig(baseDir)
	if err != nil {
		fatalf("load config: %v", err)
	}
	d, err := daemon.New(baseDir, cfg)
	if err != nil {
		fatalf("create daemon: %v", err)
	}
	if err := d.Run(); err != nil {
		fatalf("daemon: %v", err)
	}
}

func runStatus(args []string) {
	jsonOutput := false
	for _, a := range args {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			fatalf("unknown flag: %s\nusage: observatory status [--json]", a)
		}
	}
	if err := status.Run(requireBaseDir(), jsonOutput); err != nil {
		fatalf("status: %v", err)
	}
}

func runTarget(args []string) {
	const usage = "usage: observatory target <add|remove|list> [options]"
	if len(args) < 1 {
		fatalf(usage)
	}
	switch args[0] {
	case "add":
		runTargetAdd(args[1:])
	case "remove":
		if len(args) != 2 {
			fatalf("usage: observatory target remove <name>")
		}
		call("target_remove", map[string]string{"name": args[1]}, nil)
		fmt.Printf("removed %s\n", args[1])
	case "list":
		runTargetList(args[1:])
	default:
		fatalf("unknown target subcommand: %s\n%s", args[0], usage)
	}
}

func runTargetAdd(args []string) {
	const usage = `usage: observatory target add <name> <position> [--priority N] [--exptime SEC]
       [--min-nexp N] [--max-nexp N] [--set-size N] [--filter NAME]`
	if len(args) < 2 {
		fatalf(usage)
	}
	cfg := scheduler.FieldConfig{Name: args[0], Position: args[1]}
	rest := args[2:]
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--priority":
			v := parseFloat(rest[i], flagValue(rest, &i))
			cfg.Priority = &v
		case "--exptime":
			v := parseFloat(rest[i], flagValue(rest, &i))
			cfg.ExpTimeSec = &v
		case "--min-nexp":
			v := parseInt(rest[i], flagValue(rest, &i))
			cfg.MinNexp = &v
		case "--max-nexp":
			v := parseInt(rest[i], flagValue(rest, &i))
			cfg.MaxNexp = &v
		case "--set-size":
			v := parseInt(rest[i], flagValue(rest, &i))
			cfg.ExpSetSize = &v
		case "--filter":
			cfg.Filter = flagValue(rest, &i)
		default:
			fatalf("unknown flag: %s\n%s", rest[i], usage)
		}
	}

	var st scheduler.ObservationStatus
	call("target_add", cfg, &st)
	fmt.Printf("added %s (ra %.4f, dec %+.4f, priority %.0f)\n", st.Name, st.RA, st.Dec, st.Priority)
}

func runTargetList(args []string) {
	jsonOutput := hasJSONFlag(args, "usage: observatory target list [--json]")
	var list []scheduler.ObservationStatus
	call("target_list", nil, &list)
	if jsonOutput {
		printJSON(list)
		return
	}
	if len(list) == 0 {
		fmt.Println("no targets")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tRA\tDEC\tPRIORITY\tEXPTIME\tEXPOSURES")
	for _, o := range list {
		exposures := fmt.Sprintf("%d/%d", o.ExposureCount, o.MinExposures)
		if o.MaxExposures > 0 {
			exposures += fmt.Sprintf(" (max %d)", o.MaxExposures)
		}
		fmt.Fprintf(tw, "%s\t%.4f\t%+.4f\t%.0f\t%gs\t%s\n", o.Name, o.RA, o.Dec, o.Priority, o.ExposureTime, exposures)
	}
	_ = tw.Flush()
}

func runHistory(args []string) {
	const usage = "usage: observatory history [--limit N] [--json]"
	limit := 20
	jsonOutput := false
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--limit":
			limit = parseInt(args[i], flagValue(args, &i))
		case "--json":
			jsonOutput = true
		default:
			fatalf("unknown flag: %s\n%s", args[i], usage)
		}
	}

	var h daemon.HistoryData
	call("observation_history", map[string]int{"limit": limit}, &h)
	if jsonOutput {
		printJSON(h)
		return
	}
	fmt.Println("Tonight:")
	if len(h.Tonight) == 0 {
		fmt.Println("  (none)")
	}
	for _, item := range h.Tonight {
		fmt.Printf("  %s  %s\n", item.Time.Format(time.RFC3339), item.Observation)
	}
	if len(h.Recorded) > 0 {
		fmt.Println("\nRecorded selections:")
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, s := range h.Recorded {
			fmt.Fprintf(tw, "  %s\t%s\t%s\tscore=%.2f\n", s.Time.Format(time.RFC3339), s.Observation, s.SequenceID, s.Score)
		}
		_ = tw.Flush()
	}
}

func runRank(args []string) {
	jsonOutput := hasJSONFlag(args, "usage: observatory rank [--json]")
	var ranked []daemon.RankItem
	call("rank", nil, &ranked)
	if jsonOutput {
		printJSON(ranked)
		return
	}
	if len(ranked) == 0 {
		fmt.Println("no observable targets")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tNAME\tSCORE\tPRIORITY")
	for i, r := range ranked {
		fmt.Fprintf(tw, "%d\t%s\t%.2f\t%.0f\n", i+1, r.Observation, r.Score, r.Priority)
	}
	_ = tw.Flush()
}

func runPark(args []string) {
	reason := "operator request"
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--reason":
			reason = flagValue(args, &i)
		default:
			fatalf("unknown flag: %s\nusage: observatory park [--reason TEXT]", args[i])
		}
	}
	var out map[string]string
	call("park", map[string]string{"reason": reason}, &out)
	fmt.Printf("parking (state %s); run 'observatory resume' to continue\n", out["state"])
}

func runSimple(command string) {
	var out map[string]string
	call(command, nil, &out)
	if s, ok := out["state"]; ok {
		fmt.Printf("%s: state %s\n", command, s)
		return
	}
	fmt.Printf("%s: %s\n", command, out["status"])
}

// call sends command to the running daemon and exits on failure.
func call(command string, params, out any) {
	client := uds.NewClient(filepath.Join(requireBaseDir(), uds.DefaultSocketName))
	if err := client.Call(command, params, out); err != nil {
		var detail *uds.ErrorDetail
		if errors.As(err, &detail) {
			fatalf("%s failed [%s]: %s", command, detail.Code, detail.Message)
		}
		fatalf("%s: %v", command, err)
	}
}

func requireBaseDir() string {
	wd, err := os.Getwd()
	if err != nil {
		fatalf("getwd: %v", err)
	}
	dir := setup.FindDir(wd)
	if dir == "" {
		fatalf("error: %s/ directory not found. Run 'observatory setup <dir>' first.", setup.DirName)
	}
	return dir
}

func hasJSONFlag(args []string, usage string) bool {
	jsonOutput := false
	for _, a := range args {
		if a != "--json" {
			fatalf("unknown flag: %s\n%s", a, usage)
		}
		jsonOutput = true
	}
	return jsonOutput
}

func flagValue(args []string, i *int) string {
	if *i+1 >= len(args) {
		fatalf("%s requires a value", args[*i])
	}
	*i++
	return args[*i]
}

func parseFloat(flag, s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		fatalf("%s: invalid number %q", flag, s)
	}
	return v
}

func parseInt(flag, s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		fatalf("%s: invalid integer %q", flag, s)
	}
	return v
}

func printJSON(v any) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `observatory %s: robotic observatory control

Usage: observatory <command> [options]

Site:
  setup <dir> [--name N]     Initialize .observatory/ directory
  daemon                     Run the control daemon (foreground)
  status [--json]            Show what the observatory is doing

Targets:
  target add <name> <position> [options]
                             Add or replace a target (position "HH:MM:SS +DD:MM:SS")
  target remove <name>       Remove a target
  target list [--json]       List the target pool
  rank [--json]              Rank observable targets now
  history [--limit N] [--json]
                             Show observation selections

Control:
  park [--reason TEXT]       Park and hold until resume
  resume                     Resume observing
  shutdown                   Park and stop the daemon

  version                    Show version
  help                       Show this help

`, version)
}
