package main

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/carbonledger/internal/auth"
	"github.com/smallbiznis/carbonledger/internal/authorization"
	"github.com/smallbiznis/carbonledger/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	tokenUserID string
	tokenRole   string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for an actor",
	Long:  `Signs a token with AUTH_JWT_SECRET. Intended for development and operations scripts.`,
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUserID, "user-id", "", "user id (generated when empty)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(authorization.RoleCitizen), "CITIZEN, AGENT, ADMIN, ANALYTICS or OPERATOR")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", auth.DefaultTokenTTL, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	role, ok := authorization.ParseRole(tokenRole)
	if !ok {
		return fmt.Errorf("unknown role %q", tokenRole)
	}

	var userID snowflake.ID
	if tokenUserID == "" {
		node, err := newSnowflakeNode()
		if err != nil {
			return err
		}
		userID = node.Generate()
	} else {
		parsed, err := snowflake.ParseString(tokenUserID)
		if err != nil || parsed == 0 {
			return fmt.Errorf("invalid user id %q", tokenUserID)
		}
		userID = parsed
	}

	tokens, err := auth.NewTokens(config.Load(), zap.NewNop())
	if err != nil {
		return err
	}
	token, err := tokens.Issue(authorization.Actor{UserID: userID, Role: role}, tokenTTL)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "user_id=%s role=%s\n", userID, role)
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
