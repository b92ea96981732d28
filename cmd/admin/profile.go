package main

import (
	"context"
	"errors"
	"fmt"

	"tinchat/backend/internal/chathub"
	"tinchat/backend/internal/config"
	"tinchat/backend/internal/models"
	"tinchat/backend/internal/storage"

	"github.com/lib/pq"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile <identity>",
		Short: "Create a profile or update the given fields of an existing one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			identity := args[0]

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

			repo := storage.NewProfileRepository(store.DB)
			profile, err := repo.FetchProfile(ctx, identity)
			if err != nil {
				return err
			}
			if profile == nil {
				profile = newProfile(identity)
			}
			if err := applyProfileFlags(profile, cmd.Flags()); err != nil {
				return err
			}
			if err := repo.SaveProfile(ctx, profile); err != nil {
				return err
			}

			if store.Redis != nil {
				if err := storage.NewProfileNotifier(store.Redis).Publish(ctx, identity); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Profile %s saved.\n", identity)
			return nil
		},
	}
	cmd.Flags().String("name", "", "display name")
	cmd.Flags().String("color", config.DefaultColor, "display color")
	cmd.Flags().String("animation", "", "name animation")
	cmd.Flags().StringSlice("badge", nil, "badge (repeatable)")
	cmd.Flags().String("status", chathub.StatusOffline, "presence status")
	return cmd
}

// newProfile returns the profile created for an identity seen for the first time.
func newProfile(identity string) *models.Profile {
	return &models.Profile{
		ID:     identity,
		Color:  config.DefaultColor,
		Status: chathub.StatusOffline,
	}
}

// applyProfileFlags copies onto p only the flags set on the command line, so
// an edit never resets fields the operator did not mention.
func applyProfileFlags(p *models.Profile, fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "name":
			p.DisplayName, err = fs.GetString(f.Name)
		case "color":
			p.Color, err = fs.GetString(f.Name)
		case "animation":
			p.Animation, err = fs.GetString(f.Name)
		case "status":
			var status string
			if status, err = fs.GetString(f.Name); err != nil {
				return
			}
			switch status {
			case chathub.StatusOnline, chathub.StatusInChat, chathub.StatusOffline:
				p.Status = status
			default:
				err = fmt.Errorf("unknown status %q", status)
			}
		case "badge":
			var badges []string
			badges, err = fs.GetStringSlice(f.Name)
			p.Badges = pq.StringArray(badges)
		}
	})
	return err
}
