package commands

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/lunabadge/luna/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View logs",
	Long: `View luna logs.

Displays recent log entries, optionally for one component. Use --follow to
stream logs in real-time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tail, _ := cmd.Flags().GetInt("tail")
		follow, _ := cmd.Flags().GetBool("follow")
		component, _ := cmd.Flags().GetString("component")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logDir := logging.ExpandPath(cfg.Logging.Path)
		if logDir == "" {
			logDir = logging.DefaultConfig().Path
		}

		out := cmd.OutOrStdout()
		filter := func(e logEntry) bool { return component == "" || e.Component == component }
		if follow {
			return followLogs(logDir, tail, out, filter)
		}
		return showLogs(logDir, tail, out, filter)
	},
}

func init() {
	logsCmd.Flags().IntP("tail", "n", 50, "Number of log lines to show")
	logsCmd.Flags().BoolP("follow", "f", false, "Follow log output")
	logsCmd.Flags().String("component", "", "Only show lines from this component (bus, orchestrator, registry, ...)")
	rootCmd.AddCommand(logsCmd)
}

// logEntry represents a parsed JSON log line
type logEntry struct {
	Level     string    `json:"level"`
	Time      time.Time `json:"time"`
	Message   string    `json:"message"`
	Component string    `json:"component,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func showLogs(logDir string, n int, out io.Writer, keep func(logEntry) bool) error {
	files, err := getLogFiles(logDir)
	if err != nil {
		return err
	}

	if len(files) == 0 {
		fmt.Fprintln(out, "No log files found.")
		return nil
	}

	for _, line := range readLastLines(files, n, keep) {
		printLogLine(out, line)
	}
	return nil
}

func followLogs(logDir string, initialLines int, out io.Writer, keep func(logEntry) bool) error {
	files, err := getLogFiles(logDir)
	if err != nil {
		return err
	}

	if len(files) > 0 && initialLines > 0 {
		for _, line := range readLastLines(files, initialLines, keep) {
			printLogLine(out, line)
		}
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(logDir); err != nil {
		return fmt.Errorf("watching log dir: %w", err)
	}

	currentFile := currentLogFile(logDir)
	var file *os.File
	var reader *bufio.Reader

	if currentFile != "" {
		file, err = os.Open(currentFile)
		if err == nil {
			_, _ = file.Seek(0, io.SeekEnd)
			reader = bufio.NewReader(file)
		}
	}
	defer func() {
		if file != nil {
			file.Close()
		}
	}()

	fmt.Fprintln(out, "--- Following logs (Ctrl+C to exit) ---")

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			// A new file appears at midnight.
			if newFile := currentLogFile(logDir); newFile != currentFile {
				if file != nil {
					file.Close()
				}
				currentFile = newFile
				file, err = os.Open(currentFile)
				if err != nil {
					file, reader = nil, nil
					continue
				}
				reader = bufio.NewReader(file)
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 && reader != nil {
				for {
					line, err := reader.ReadString('\n')
					if err != nil {
						break
					}
					line = strings.TrimSuffix(line, "\n")
					if matches(line, keep) {
						printLogLine(out, line)
					}
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watcher error: %v\n", err)
		}
	}
}

func getLogFiles(logDir string) ([]string, error) {
	files, err := logging.ListFiles(logDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading log dir: %w", err)
	}
	return files, nil
}

func currentLogFile(logDir string) string {
	path := filepath.Join(logDir, logging.FileName(time.Now()))
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

// readLastLines returns the last n matching lines across files, which are
// ordered newest first.
func readLastLines(files []string, n int, keep func(logEntry) bool) []string {
	var lines []string

	for _, file := range files {
		if len(lines) >= n {
			break
		}

		var fileLines []string
		for _, line := range readFileLines(file) {
			if matches(line, keep) {
				fileLines = append(fileLines, line)
			}
		}
		remaining := n - len(lines)

		if len(fileLines) <= remaining {
			lines = append(fileLines, lines...)
		} else {
			lines = append(fileLines[len(fileLines)-remaining:], lines...)
		}
	}

	return lines
}

func readFileLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	return lines
}

// matches applies keep to JSON lines. Lines that are not JSON always match.
func matches(line string, keep func(logEntry) bool) bool {
	if keep == nil {
		return true
	}
	var entry logEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return true
	}
	return keep(entry)
}

func printLogLine(out io.Writer, line string) {
	var entry logEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		fmt.Fprintln(out, line)
		return
	}

	level := formatLogLevel(entry.Level)
	ts := entry.Time.Local().Format("15:04:05")

	if entry.Component != "" {
		fmt.Fprintf(out, "%s %s [%s] %s", ts, level, entry.Component, entry.Message)
	} else {
		fmt.Fprintf(out, "%s %s %s", ts, level, entry.Message)
	}

	if entry.Error != "" {
		fmt.Fprintf(out, " error=%s", entry.Error)
	}
	fmt.Fprintln(out)
}

func formatLogLevel(level string) string {
	switch level {
	case "debug":
		return "DBG"
	case "info":
		return "INF"
	case "warn":
		return "WRN"
	case "error":
		return "ERR"
	case "":
		return "???"
	default:
		if len(level) < 3 {
			return strings.ToUpper(level)
		}
		return strings.ToUpper(level[:3])
	}
}
