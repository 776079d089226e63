package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "templectl",
	Short: "templectl is a command line tool for the templerunner compile service",
	Long: `templectl is the command-line interface for templerunner.

templerunner compiles a single contract source file in an isolated, ephemeral
workspace: it runs the compile stage, then the codegen stage, collects every
generated file and returns them together with the toolchain output.

Common workflows:

  Compile a file and print the toolchain output:
    templectl compile src/main.nr

  Compile and write the generated artifacts to a directory:
    templectl compile src/main.nr --out ./build

  Compile from stdin:
    cat main.nr | templectl compile -

  Check that the service is up:
    templectl status

Configuration:
  Set the service endpoint and credentials via environment variables or a config file:
    TEMPLERUNNER_URL      Service endpoint (default: http://localhost:3000)
    TEMPLERUNNER_TOKEN    API key, if the service requires one`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".templectl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".templectl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "TEMPLERUNNER_VARNAME"
	viper.SetEnvPrefix("TEMPLERUNNER")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.templectl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:3000", "templerunner service URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "API key for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}

// newClient builds a client from the resolved configuration.
func newClient() *CompileClient {
	return NewCompileClient(viper.GetString("url"), viper.GetString("token"))
}
