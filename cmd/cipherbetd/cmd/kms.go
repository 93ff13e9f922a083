package cmd

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cipherbet/internal/app"
	"cipherbet/internal/kms"
	"cipherbet/internal/state"
)

const (
	flagMembers   = "members"
	flagThreshold = "threshold"
	flagOwner     = "owner"
	flagForce     = "force"
	flagFaucet    = "faucet"
)

func kmsCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kms",
		Short: "Devnet decryption committee",
	}
	cmd.AddCommand(kmsInitCmd(v), kmsGenesisCmd(v))
	return cmd
}

func kmsInitCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Deal a fresh t-of-n committee into <home>/kms and print the genesis app_state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if v.GetString(flagOwner) == "" {
				return fmt.Errorf("--%s is required", flagOwner)
			}
			path := committeePath(v)
			if _, err := os.Stat(path); err == nil && !v.GetBool(flagForce) {
				return fmt.Errorf("%s exists (use --%s to replace it)", path, flagForce)
			}
			c, err := kms.NewCommittee(rand.Reader, v.GetInt(flagMembers), v.GetInt(flagThreshold))
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				return err
			}
			if err := c.Save(path); err != nil {
				return fmt.Errorf("save committee: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", path)
			return printGenesis(cmd, c, v.GetString(flagOwner), v.GetBool(flagFaucet))
		},
	}
	cmd.Flags().Int(flagMembers, 3, "committee size")
	cmd.Flags().Int(flagThreshold, 2, "shares needed to decrypt and signatures needed to fulfill")
	cmd.Flags().String(flagOwner, "", "ledger owner address for the genesis params")
	cmd.Flags().Bool(flagFaucet, false, "enable the unauthenticated bank/mint faucet (devnet)")
	cmd.Flags().Bool(flagForce, false, "overwrite an existing committee")
	return cmd
}

func kmsGenesisCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "genesis",
		Short: "Print the genesis app_state for the committee in <home>/kms",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := kms.Load(committeePath(v), rand.Reader)
			if err != nil {
				return err
			}
			return printGenesis(cmd, c, v.GetString(flagOwner), v.GetBool(flagFaucet))
		},
	}
	cmd.Flags().String(flagOwner, "", "ledger owner address for the genesis params")
	cmd.Flags().Bool(flagFaucet, false, "enable the unauthenticated bank/mint faucet (devnet)")
	return cmd
}

func printGenesis(cmd *cobra.Command, c *kms.Committee, owner string, faucet bool) error {
	if owner == "" {
		return fmt.Errorf("--%s is required", flagOwner)
	}
	gen := app.GenesisState{Params: state.Params{
		Owner:      owner,
		BetUnit:    state.DefaultBetUnit,
		PointsRate: state.DefaultPointsRate,
		NetworkKey: c.PubKey.Bytes(),
		Oracle:     c.Policy(),
		Faucet:     faucet,
	}}
	b, err := json.MarshalIndent(gen, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}
