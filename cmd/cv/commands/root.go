package commands

import (
	"fmt"
	"os"

	"coldvault/pkg/app"
	"coldvault/pkg/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
	// 全局应用实例，供子命令使用
	CV *app.App
)

// 这些命令不需要归档后端和数据库
var standalone = map[string]bool{
	"init":     true,
	"treehash": true,
	"help":     true,
}

var rootCmd = &cobra.Command{
	Use:           "cv",
	Short:         "coldvault: streaming tree-hash archive uploader",
	SilenceUsage:  true,
	SilenceErrors: false,
	// PersistentPreRunE 会在所有子命令执行前运行
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if standalone[cmd.Name()] || CV != nil {
			return nil
		}

		// 统一初始化 App
		var err error
		CV, err = app.NewApp(cmd.Context(), app.NewLogger(verbose))
		if err != nil {
			return fmt.Errorf("failed to initialize coldvault: %w\n(Did you run 'cv init'?)", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if CV == nil {
			return nil
		}
		err := CV.Close()
		CV = nil
		return err
	},
}

// Execute 是入口
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.cv/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print every part range and checksum")

	// 既可以在 yaml 里写，也可以用 --storage-type / --storage-path 覆盖
	rootCmd.PersistentFlags().String("storage-type", "", "vault backend: disk | s3 | remote")
	rootCmd.PersistentFlags().String("storage-path", "", "directory used by the disk backend")
	for key, flag := range map[string]string{
		"storage.type": "storage-type",
		"storage.path": "storage-path",
	} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			fmt.Println("Failed to bind flag:", err)
			os.Exit(1)
		}
	}
}

// initConfig 读取配置文件和环境变量
func initConfig() {
	if err := config.Load(cfgFile); err != nil {
		fmt.Println("Config error:", err)
		os.Exit(1)
	}
}
