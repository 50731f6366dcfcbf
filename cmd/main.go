package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/weiawesome/wes-io-live/avatar-service/internal/avatarkey"
	"github.com/weiawesome/wes-io-live/avatar-service/internal/config"
	"github.com/weiawesome/wes-io-live/avatar-service/internal/domain"
	"github.com/weiawesome/wes-io-live/avatar-service/pkg/database"
	"github.com/weiawesome/wes-io-live/avatar-service/pkg/jwt"
	pkglog "github.com/weiawesome/wes-io-live/avatar-service/pkg/log"
)

var (
	configFile string
	cfg        *config.Config

	tokenRoles []string
	tokenTTL   time.Duration

	rootCmd = &cobra.Command{
		Use:   "avatar-service",
		Short: "Resolves user avatar images to redirect targets",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			pkglog.Init(cfg.Log)
			return nil
		},
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and background consumers",
		RunE:  runServe, // Defined in serve.go
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the accounts and users tables",
		RunE:  runMigrate,
	}

	avatarKeyCmd = &cobra.Command{
		Use:   "avatar-key [user id...]",
		Short: "Print the avatar key and image path for user ids",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAvatarKey,
	}

	tokenCmd = &cobra.Command{
		Use:   "token [user id]",
		Short: "Sign an access token accepted by the API",
		Args:  cobra.ExactArgs(1),
		RunE:  runToken,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ./config/config.yaml)")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "role", nil, "role to grant, repeatable (e.g. admin)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	rootCmd.AddCommand(serveCmd, migrateCmd, avatarKeyCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func databaseConfig(c config.DatabaseConfig) *database.Config {
	return &database.Config{
		Driver:          c.Driver,
		Host:            c.Host,
		Port:            c.Port,
		User:            c.User,
		Password:        c.Password,
		DBName:          c.DBName,
		SSLMode:         c.SSLMode,
		FilePath:        c.FilePath,
		MaxIdleConns:    c.MaxIdleConns,
		MaxOpenConns:    c.MaxOpenConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		LogLevel:        c.LogLevel,
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	logger := pkglog.L()

	db, err := database.New(databaseConfig(cfg.Database))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.AutoMigrate(db, &domain.AccountModel{}, &domain.UserModel{}); err != nil {
		return fmt.Errorf("failed to auto-migrate: %w", err)
	}

	logger.Info().Str("driver", cfg.Database.Driver).Msg("database migration completed")
	return nil
}

func runAvatarKey(cmd *cobra.Command, args []string) error {
	codec, err := avatarkey.New(cfg.Avatar.KeySecret)
	if err != nil {
		return err
	}
	for _, id := range args {
		key := codec.Key(id)
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t/images/users/%s\n", id, key, key)
	}
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	verifier, err := jwt.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return fmt.Errorf("failed to initialize jwt: %w", err)
	}
	token, err := verifier.Issue(args[0], tokenRoles, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
