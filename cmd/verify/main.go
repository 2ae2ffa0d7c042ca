// Command verify replays revealed rounds offline. It needs only the JSON a
// player already has: the reveal and the round as returned by the API.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"fairwager/internal/domain"
	"fairwager/internal/fairness"
	"fairwager/internal/game"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var slotsTable string

	root := &cobra.Command{
		Use:           "verify",
		Short:         "Check wager outcomes against their revealed seeds",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&slotsTable, "slots-table", "", "TOML slots paytable the server was configured with")

	registry := func() (*game.Registry, error) {
		if slotsTable == "" {
			return game.NewRegistry(nil), nil
		}
		t, err := game.LoadSlotsTable(slotsTable)
		if err != nil {
			return nil, err
		}
		return game.NewRegistry(t), nil
	}

	var revealPath, roundPath string
	roundCmd := &cobra.Command{
		Use:   "round",
		Short: "Recompute a resolved round and compare it with the recorded outcome",
		RunE: func(cmd *cobra.Command, _ []string) error {
			games, err := registry()
			if err != nil {
				return err
			}
			var rev domain.Reveal
			if err := readJSON(revealPath, &rev); err != nil {
				return err
			}
			var r domain.Round
			if err := readJSON(roundPath, &r); err != nil {
				return err
			}
			if r.Nonce != rev.Nonce {
				return fmt.Errorf("round %d does not belong to reveal %d", r.Nonce, rev.Nonce)
			}
			ok, recomputed, err := games.Verify(&rev, &r)
			if err != nil {
				return err
			}
			if err := writeJSON(out, map[string]any{
				"nonce":      r.Nonce,
				"match":      ok,
				"recorded":   r.Outcome,
				"recomputed": recomputed,
			}); err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("round %d: recorded outcome differs from the recomputed one", r.Nonce)
			}
			return nil
		},
	}
	roundCmd.Flags().StringVar(&revealPath, "reveal", "", "reveal JSON file")
	roundCmd.Flags().StringVar(&roundPath, "round", "", "round JSON file")
	_ = roundCmd.MarkFlagRequired("reveal")
	_ = roundCmd.MarkFlagRequired("round")

	var seed, hash string
	commitCmd := &cobra.Command{
		Use:   "commitment",
		Short: "Check that a server seed hashes to its published commitment",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := fairness.DecodeSeed(seed)
			if err != nil {
				return err
			}
			if !fairness.VerifyCommitment(raw, hash) {
				return fmt.Errorf("seed does not match commitment %s", hash)
			}
			_, err = fmt.Fprintln(out, "ok")
			return err
		},
	}
	commitCmd.Flags().StringVar(&seed, "seed", "", "revealed server seed, hex")
	commitCmd.Flags().StringVar(&hash, "hash", "", "published server seed hash, hex")
	_ = commitCmd.MarkFlagRequired("seed")
	_ = commitCmd.MarkFlagRequired("hash")

	root.AddCommand(roundCmd, commitCmd)
	return root
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
