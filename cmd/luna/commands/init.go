package commands

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lunabadge/luna/internal/config"
	"github.com/lunabadge/luna/internal/intent"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create configuration file",
	Long: `Initialize a new luna configuration file.

By default, creates luna.yaml in the current directory.
Use --global to create a global config at ~/.config/luna/config.yaml.
Use --vocabulary to also write the built-in keyword tables to
luna-vocabulary.yaml for editing.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().Bool("global", false, "Create global config instead of project config")
	initCmd.Flags().BoolP("force", "f", false, "Overwrite existing files without prompting")
	initCmd.Flags().Bool("vocabulary", false, "Also write the default vocabulary file")
	rootCmd.AddCommand(initCmd)
}

const vocabularyFileName = "luna-vocabulary.yaml"

func runInit(cmd *cobra.Command, args []string) error {
	global, _ := cmd.Flags().GetBool("global")
	force, _ := cmd.Flags().GetBool("force")
	withVocab, _ := cmd.Flags().GetBool("vocabulary")

	var configPath string
	if global {
		configPath = config.GlobalConfigPath()
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
		configPath = filepath.Join(cwd, config.ProjectConfigName)
	}

	vocabPath := ""
	if withVocab {
		vocabPath = filepath.Join(filepath.Dir(configPath), vocabularyFileName)
	}

	styles := newOutputStyles()
	if ok, err := writeFile(configPath, generateDefaultConfig(vocabPath), force); err != nil || !ok {
		return err
	}
	fmt.Printf("%s %s\n", styles.Section.Render("Created config:"), configPath)

	if withVocab {
		data, err := yaml.Marshal(intent.DefaultVocabulary())
		if err != nil {
			return fmt.Errorf("encode vocabulary: %w", err)
		}
		if ok, err := writeFile(vocabPath, "# Luna keyword tables\n"+string(data), force); err != nil || !ok {
			return err
		}
		fmt.Printf("%s %s\n", styles.Section.Render("Created vocabulary:"), vocabPath)
	}

	fmt.Println()
	fmt.Println(styles.Label.Render("Next steps:"))
	fmt.Println("  1. Add your building's routes under 'navigation:'")
	fmt.Println("  2. Run 'luna modules --check' to verify the core starts")
	fmt.Println("  3. Run 'luna say 我要去厕所' to try it")
	return nil
}

// writeFile writes content to path, asking before overwriting unless force
// is set. It reports false when the user declined.
func writeFile(path, content string, force bool) (bool, error) {
	if _, err := os.Stat(path); err == nil && !force {
		fmt.Printf("%s %s\n", newOutputStyles().Warn.Render("File already exists:"), path)
		fmt.Print("Overwrite? [y/N]: ")
		reader := bufio.NewReader(os.Stdin)
		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Println("Aborted.")
			return false, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return false, fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

// generateDefaultConfig creates the default config YAML with comments.
func generateDefaultConfig(vocabularyFile string) string {
	vocab := `  # vocabulary_file: "./luna-vocabulary.yaml"`
	if vocabularyFile != "" {
		vocab = fmt.Sprintf("  vocabulary_file: %q", vocabularyFile)
	}

	return `# Luna Configuration
#
# Values here override ~/.config/luna/config.yaml. Every key can also be
# set through the environment, e.g. LUNA_BUS_QUEUE_SIZE=500.

bus:
  queue_size: 1000          # events beyond this are dropped
  history_size: 100         # events kept for inspection
  poll_interval: 1s
  stop_timeout: 5s

orchestrator:
  feedback_queue_size: 64   # pending visual warnings
  vision_interval: 500ms    # only used when a camera is attached
  action_log_size: 1000

retry:
  max_attempts: 3
  interval: 60s             # minimum wait between attempts
  schedule: "@every 10s"    # cron spec; "" disables

health:
  schedule: "@every 1m"     # cron spec; "" disables

logging:
  level: info               # debug | info | warn | error
  format: json              # json | text
  path: "~/.local/share/luna/logs"
  retention_days: 7

db:
  path: "~/.local/share/luna/luna.db"
  busy_timeout: 5s          # wait on a locked database before failing

intent:
` + vocab + `

# Precomputed routes used when no navigation engine is attached.
navigation:
  facilities:
    toilet:
      distance: 20
      direction: 左侧
      nodes: [entrance, corridor, toilet]
    elevator:
      distance: 30
      direction: 左侧
      nodes: [entrance, lobby, elevator]
  destinations:
    # 3号诊室:
    #   distance: 45
    #   direction: 右侧
`
}
