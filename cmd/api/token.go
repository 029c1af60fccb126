package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spec-kit/property-service/internal/auth"
	"github.com/spec-kit/property-service/internal/domain"
)

func tokenCmd() *cobra.Command {
	var actorID, role string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with AUTH_JWT_SECRET (development only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := bootstrap()
			defer logger.Sync() //nolint:errcheck

			actor := domain.Actor{ID: actorID, Role: domain.Role(role)}
			if !actor.Role.Valid() {
				return fmt.Errorf("unknown role %q", role)
			}
			tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
			token, expiresAt, err := tokens.GenerateToken(actor)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"token": token, "expiresAt": expiresAt.Format(time.RFC3339)})
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&actorID, "actor-id", "ops-local", "actor identifier")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleOps), "LANDLORD, TENANT, CONTRACTOR or OPS")
	return cmd
}
