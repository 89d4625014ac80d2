package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gbcore",
		Short: "gbcore — headless runner and test harness for the DMG/CGB emulator core (windowed play lives in gbui)",
	}
	rootCmd.AddCommand(newRunCmd(), newBlarggCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
