package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/google/mail-importer/internal/runtime"
)

func newAuthCmd(a *app) *cobra.Command {
	var forget bool
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize mail-importer against a Gmail account and store the token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			tokens, err := runtime.OpenTokenStore(cfg.TokenDir, cfg.KeyringPassphrase)
			if err != nil {
				return err
			}
			if forget {
				if err := tokens.Delete(cfg.User); err != nil {
					return err
				}
				a.logger.Info("credentials removed", "user", cfg.User)
				return nil
			}

			oauthCfg, err := runtime.OAuthConfig(cfg.ClientSecret)
			if err != nil {
				return err
			}
			tok, err := runtime.Authorize(cmd.Context(), oauthCfg, cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("authorize: %w", err)
			}
			if err := tokens.Save(cfg.User, tok); err != nil {
				return err
			}
			a.logger.Info("credentials stored", "user", cfg.User)
			return nil
		},
	}
	cmd.Flags().BoolVar(&forget, "forget", false, "delete the stored token instead of authorizing")
	return cmd
}
