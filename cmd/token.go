package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/porthorian/sessionauth/pkg/identity"
	"github.com/porthorian/sessionauth/pkg/token"
)

const (
	envTokenSecret = "SESSIONAUTH_TOKEN_SECRET"
	envTokenIssuer = "SESSIONAUTH_TOKEN_ISSUER"
)

type tokenConfig struct {
	Secret string
	Issuer string
	Leeway time.Duration
}

func newTokenCommand() *cobra.Command {
	cfg := tokenConfig{}

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Issue and inspect bearer tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := tokenCmd.PersistentFlags()
	flags.StringVar(&cfg.Secret, "secret", "", "Signing secret. Can also be set via "+envTokenSecret+".")
	flags.StringVar(&cfg.Issuer, "issuer", "", "Issuer claim to set and require. Can also be set via "+envTokenIssuer+".")
	flags.DurationVar(&cfg.Leeway, "leeway", 0, "Clock skew tolerated when checking expiry.")

	var subject string
	var ttl time.Duration
	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign a token for a principal id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			principalID, err := parseSubjectFlag(subject)
			if err != nil {
				return err
			}
			codec, err := newCodec(cfg)
			if err != nil {
				return err
			}

			var expiresAt *time.Time
			if ttl > 0 {
				exp := time.Now().Add(ttl)
				expiresAt = &exp
			}

			raw, err := codec.Issue(identity.Principal{ID: principalID}, expiresAt)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			cmd.Println(raw)
			return nil
		},
	}
	issueCmd.Flags().StringVar(&subject, "subject", "", "Principal id to encode as the token subject.")
	issueCmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime. Zero issues a token without expiry.")
	_ = issueCmd.MarkFlagRequired("subject")
	tokenCmd.AddCommand(issueCmd)

	tokenCmd.AddCommand(&cobra.Command{
		Use:   "verify <token>",
		Short: "Verify a token and print its status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := newCodec(cfg)
			if err != nil {
				return err
			}

			result := codec.Verify(strings.TrimSpace(args[0]))
			cmd.Printf("status: %s\n", result.Status)
			if result.PrincipalID != 0 {
				cmd.Printf("subject: %d\n", result.PrincipalID)
			}
			if result.ExpiresAt != nil {
				cmd.Printf("expires: %s\n", result.ExpiresAt.UTC().Format(time.RFC3339))
			}
			return result.Error()
		},
	})

	return tokenCmd
}

func newCodec(cfg tokenConfig) (*token.Codec, error) {
	secret := firstNonEmpty(cfg.Secret, envTokenSecret)
	if secret == "" {
		return nil, fmt.Errorf("missing token secret: set --secret or %s", envTokenSecret)
	}
	return token.NewCodec(token.Config{
		Secret: secret,
		Issuer: firstNonEmpty(cfg.Issuer, envTokenIssuer),
		Leeway: cfg.Leeway,
	})
}

func parseSubjectFlag(value string) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, errors.New("missing --subject")
	}
	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid subject %q: expected a non-negative integer", value)
	}
	return id, nil
}
