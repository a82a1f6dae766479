package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/porthorian/sessionauth/pkg/credential"
	"github.com/porthorian/sessionauth/pkg/crypto"
	"github.com/porthorian/sessionauth/pkg/storage"
	"github.com/porthorian/sessionauth/pkg/storage/postgres"
)

var passwordDigester crypto.Digester = crypto.MD5HexDigester{}

type userAddInput struct {
	Login       string
	DisplayName string
	Password    string
	Roles       []string
	Groups      []string
}

func newUserCommand() *cobra.Command {
	var databaseURL string

	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users in the postgres principal directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	userCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Postgres connection URL. Can also be set via "+envDatabaseURL+".")

	input := userAddInput{}
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Create or update a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			record, err := input.record()
			if err != nil {
				return err
			}

			return withPostgresAdapter(cmd.Context(), databaseURL, func(adapter *postgres.Adapter) error {
				saved, err := adapter.PutUser(cmd.Context(), record)
				if err != nil {
					return fmt.Errorf("save user: %w", err)
				}
				cmd.Printf("Saved user %q with id %d\n", saved.Login, saved.ID)
				return nil
			})
		},
	}
	addCmd.Flags().StringVar(&input.Login, "login", "", "Login name.")
	addCmd.Flags().StringVar(&input.DisplayName, "display-name", "", "Display name.")
	addCmd.Flags().StringVar(&input.Password, "password", "", "Plaintext password; only its digest is stored.")
	addCmd.Flags().StringSliceVar(&input.Roles, "role", nil, "Direct role, repeatable.")
	addCmd.Flags().StringSliceVar(&input.Groups, "group", nil, "Group membership, repeatable.")
	_ = addCmd.MarkFlagRequired("login")
	_ = addCmd.MarkFlagRequired("password")
	userCmd.AddCommand(addCmd)

	userCmd.AddCommand(&cobra.Command{
		Use:   "roles <login>",
		Short: "Print the effective roles of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			login := strings.TrimSpace(args[0])
			if err := credential.Validate(login); err != nil {
				return err
			}

			return withPostgresAdapter(cmd.Context(), databaseURL, func(adapter *postgres.Adapter) error {
				record, ok, err := adapter.FindByLogin(cmd.Context(), login)
				if err != nil {
					return fmt.Errorf("look up user: %w", err)
				}
				if !ok {
					return fmt.Errorf("user %q not found", login)
				}
				roles, err := adapter.RolesOf(cmd.Context(), record)
				if err != nil {
					return fmt.Errorf("resolve roles: %w", err)
				}
				for _, role := range roles {
					cmd.Println(role)
				}
				return nil
			})
		},
	})

	return userCmd
}

func (in userAddInput) record() (storage.UserRecord, error) {
	login := strings.TrimSpace(in.Login)
	if err := credential.Validate(login); err != nil {
		return storage.UserRecord{}, err
	}
	digest, err := passwordDigester.Digest(in.Password)
	if err != nil {
		return storage.UserRecord{}, err
	}

	groups := make([]storage.GroupRecord, 0, len(in.Groups))
	for _, name := range in.Groups {
		if name = strings.TrimSpace(name); name != "" {
			groups = append(groups, storage.GroupRecord{Name: name})
		}
	}

	return storage.UserRecord{
		Login:          login,
		DisplayName:    strings.TrimSpace(in.DisplayName),
		PasswordDigest: digest,
		Roles:          in.Roles,
		Groups:         groups,
	}, nil
}

func withPostgresAdapter(ctx context.Context, flagValue string, fn func(adapter *postgres.Adapter) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	dsn := firstNonEmpty(flagValue, envDatabaseURL)
	if dsn == "" {
		return fmt.Errorf("missing database URL: set --database-url or %s", envDatabaseURL)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open postgres database: %w", err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping postgres database: %w", err)
	}

	adapter, err := postgres.NewAdapter(db)
	if err != nil {
		return err
	}
	defer adapter.Close()

	return fn(adapter)
}
