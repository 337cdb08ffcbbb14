package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"coldvault/pkg/config"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a coldvault workspace",
	Long:  `Create .cv/ with a default config.yaml in the current directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}

		dir := filepath.Join(wd, config.Dir)
		cfgPath := filepath.Join(dir, "config.yaml")

		if _, err := os.Stat(cfgPath); err == nil {
			fmt.Printf("⚠️  coldvault workspace already exists in %s\n", dir)
			return nil
		}

		if err := os.MkdirAll(filepath.Join(dir, "vault"), 0755); err != nil {
			return fmt.Errorf("failed to create workspace directory: %w", err)
		}
		// 配置里可能有 S3 密钥，只给自己读
		if err := os.WriteFile(cfgPath, []byte(config.DefaultConfigYAML), 0600); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}

		fmt.Printf("✅ Initialized coldvault workspace in %s\n", dir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
