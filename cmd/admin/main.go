package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"text/tabwriter"
	"time"

	"tinchat/backend/internal/chathub"
	"tinchat/backend/internal/config"
	"tinchat/backend/internal/models"
	"tinchat/backend/internal/storage"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const commandTimeout = 10 * time.Second

var cfg config.Config

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "admin",
		Short:        "Operator tools for the tinchat backend",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfg.DatabaseURL, "database-url", os.Getenv("DATABASE_URL"), "postgres DSN")
	root.PersistentFlags().StringVar(&cfg.RedisAddr, "redis-addr", os.Getenv("REDIS_ADDR"), "redis address")
	root.PersistentFlags().StringVar(&cfg.RedisPassword, "redis-password", os.Getenv("REDIS_PASSWORD"), "redis password")
	root.PersistentFlags().IntVar(&cfg.RedisDB, "redis-db", 0, "redis database index")

	root.AddCommand(newStatusCmd(), newQueueCmd(), newProfileCmd())
	return root
}

func openStore(ctx context.Context) (*storage.Service, error) {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)
	return storage.Open(ctx, &cfg, &logger)
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <identity> <online|in_chat|offline>",
		Short: "Set the presence status of a profile",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, status := args[0], args[1]
			switch status {
			case chathub.StatusOnline, chathub.StatusInChat, chathub.StatusOffline:
			default:
				return fmt.Errorf("unknown status %q", status)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			if store.DB == nil {
				return errors.New("--database-url is required")
			}

			updated, err := storage.NewProfileRepository(store.DB).UpdateStatus(ctx, identity, status)
			if err != nil {
				return err
			}
			if !updated {
				return fmt.Errorf("profile %s not found", identity)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Profile %s is now %s.\n", identity, status)
			return nil
		},
	}
}

func newQueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "queue [text|video]",
		Short:     "List persisted waiting entries",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(models.ChatTypeText), string(models.ChatTypeVideo)},
		RunE: func(cmd *cobra.Command, args []string) error {
			chatTypes := models.ChatTypes
			if len(args) == 1 {
				ct := models.ChatType(args[0])
				if !ct.Valid() {
					return fmt.Errorf("unknown chat type %q", args[0])
				}
				chatTypes = []models.ChatType{ct}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			if store.Redis == nil {
				return errors.New("--redis-addr is required")
			}

			queue := storage.NewQueueStore(store.Redis)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tCONNECTION\tIDENTITY\tWAITING\tINTERESTS")
			for _, ct := range chatTypes {
				entries, err := queue.ListWaitingEntries(ctx, ct)
				if err != nil {
					return err
				}
				for _, e := range entries {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\n",
						ct, e.ConnectionID, e.Identity, time.Since(e.EnqueuedAt).Round(time.Second), e.Interests)
				}
			}
			return w.Flush()
		},
	}
}
