package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Guilhem-Bonnet/donghua-tracker/internal/auth"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/buildinfo"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/client"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/domain"
)

func newSettingsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Affiche les réglages du compte",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := ctx.client()
			if err != nil {
				return err
			}
			s, err := cl.Settings(cmd.Context())
			if err != nil {
				return err
			}
			printSettings(cmd.OutOrStdout(), s)
			return nil
		},
	}
	cmd.AddCommand(newSettingsSetCommand(ctx))
	return cmd
}

func newSettingsSetCommand(ctx *commandContext) *cobra.Command {
	var policy, tz string
	var horizon int
	var autoAdvance bool

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Modifie les réglages (seuls les flags passés sont appliqués)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := ctx.client()
			if err != nil {
				return err
			}
			s, err := cl.Settings(cmd.Context())
			if err != nil {
				return err
			}
			changed := cmd.Flags().Changed
			if changed("catch-up") {
				s.CatchUpPolicy = domain.CatchUpPolicy(policy)
			}
			if changed("timezone") {
				s.AirDayTimezone = tz
			}
			if changed("horizon") {
				s.UpcomingHorizonMinutes = horizon
			}
			if changed("auto-advance") {
				s.AutoAdvance = autoAdvance
			}
			updated, err := cl.PutSettings(cmd.Context(), s)
			if err != nil {
				return err
			}
			printSettings(cmd.OutOrStdout(), updated)
			return nil
		},
	}
	cmd.Flags().StringVar(&policy, "catch-up", "", "Rattrapage du sweep: batch ou single")
	cmd.Flags().StringVar(&tz, "timezone", "", "Fuseau IANA du jour de diffusion (ex: Asia/Shanghai)")
	cmd.Flags().IntVar(&horizon, "horizon", 0, "Horizon des notifications \"bientôt diffusé\", en minutes")
	cmd.Flags().BoolVar(&autoAdvance, "auto-advance", true, "Avance automatique à la fin du compte à rebours")
	return cmd
}

func printSettings(w io.Writer, s domain.Settings) {
	fmt.Fprintln(w, renderTable(
		[]string{"Setting", "Value"},
		[][]string{
			{"catch-up policy", string(s.CatchUpPolicy)},
			{"air day timezone", s.AirDayTimezone},
			{"upcoming horizon (min)", strconv.Itoa(s.UpcomingHorizonMinutes)},
			{"auto advance", yesNo(s.AutoAdvance)},
		},
		nil,
	))
}

func newTokenCommand(ctx *commandContext) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user>",
		Short: "Émet un jeton d'accès signé avec server.jwt_secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret == "" {
				return errors.New("server.jwt_secret (DHT_JWT_SECRET) is required to issue tokens")
			}
			tok, err := auth.NewVerifier(cfg.Server.JWTSecret).Issue(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Durée de validité (0 = sans expiration)")
	return cmd
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Vérifie que le serveur répond",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			// health est public: pas besoin de jeton.
			if err := client.New(cfg.Client.ServerURL, cfg.Client.Token).Health(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func newVersionCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Affiche la version du client et du serveur",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			local := buildinfo.Current()
			remote, remoteErr := client.New(cfg.Client.ServerURL, cfg.Client.Token).Version(cmd.Context())

			out := cmd.OutOrStdout()
			if asJSON {
				payload := map[string]any{"client": local}
				if remoteErr == nil {
					payload["server"] = remote
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(payload)
			}
			fmt.Fprintln(out, "client:", local.String())
			if remoteErr != nil {
				fmt.Fprintln(out, "server: unreachable:", remoteErr)
				return nil
			}
			fmt.Fprintln(out, "server:", remote.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Sortie JSON")
	return cmd
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
