package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/krewdev/bluetrap/internal/defense"
	"github.com/krewdev/bluetrap/internal/keys"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Agent key utilities",
}

var (
	keyLength int
	keyCount  int
	keyShowID bool
)

var keyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate random alphanumeric agent keys",
	Long: `Generate keys with the same generator POST /generate-key uses.
Use one as defense.agent_key (BLUETRAP_DEFENSE_AGENT_KEY) to replace the
development default.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if keyCount < 1 {
			return fmt.Errorf("--count must be at least 1")
		}

		out := cmd.OutOrStdout()
		for i := 0; i < keyCount; i++ {
			key, err := keys.Generate(keyLength)
			if err != nil {
				return err
			}
			if keyShowID {
				_, err = fmt.Fprintf(out, "%s  %s\n", key, defense.KeyID(key))
			} else {
				_, err = fmt.Fprintln(out, key)
			}
			if err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	keyGenerateCmd.Flags().IntVar(&keyLength, "length", keys.DefaultLength, "Key length in characters")
	keyGenerateCmd.Flags().IntVar(&keyCount, "count", 1, "Number of keys to generate")
	keyGenerateCmd.Flags().BoolVar(&keyShowID, "show-id", false, "Print the log-safe key id next to each key")

	keyCmd.AddCommand(keyGenerateCmd)
	rootCmd.AddCommand(keyCmd)
}

func generateAgentKey() (string, error) {
	return keys.Generate(keys.DefaultLength)
}
