package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the kubefs application.
var rootCmd = &cobra.Command{
	Use:   "kubefs",
	Short: "Browse a Kubernetes cluster as a read-only filesystem",
	Long: `kubefs mounts a Kubernetes cluster as a read-only FUSE filesystem.
Namespaces appear as directories at the mount root and the pods of each
namespace as files inside its directory. Pods are listed the first time a
namespace directory is opened.

When the first argument is not a subcommand, kubefs runs mount
(equivalent to 'kubefs mount <mountpoint>').`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "kubefs version %s\n" .Version}}`)
	rootCmd.SetArgs(defaultToMount(os.Args[1:]))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// defaultToMount prepends the mount subcommand unless args already start
// with a subcommand or a root-level flag.
func defaultToMount(args []string) []string {
	if len(args) == 0 {
		return []string{"mount"}
	}

	switch args[0] {
	case "-h", "--help", "-v", "--version", "help", "completion",
		cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
		return args
	}
	for _, c := range rootCmd.Commands() {
		if c.Name() == args[0] || c.HasAlias(args[0]) {
			return args
		}
	}

	return append([]string{"mount"}, args...)
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
	rootCmd.AddCommand(newMountCmd())
}
