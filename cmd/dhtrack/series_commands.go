package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Guilhem-Bonnet/donghua-tracker/internal/app"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/client"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/domain"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/schedule"
)

const airLayout = "2006-01-02 15:04"

func newListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Liste les séries suivies avec leur prochain épisode",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := ctx.client()
			if err != nil {
				return err
			}
			list, err := cl.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Aucune série suivie.")
				return nil
			}
			loc := displayLocation(cmd.Context(), cl)
			fmt.Fprintln(cmd.OutOrStdout(), renderSeriesTable(list, loc, time.Now().UTC()))
			return nil
		},
	}
}

func renderSeriesTable(list []app.SeriesDTO, loc *time.Location, now time.Time) string {
	rows := make([][]string, 0, len(list))
	for _, s := range list {
		rows = append(rows, []string{
			s.ID,
			s.Title,
			string(s.Status),
			formatEpisodes(s),
			formatAir(s.NextEpisodeAirDate, loc),
			s.EpisodeAirDay,
			formatCountdown(s.NextEpisodeAirDate, now),
		})
	}
	return renderTable(
		[]string{"ID", "Title", "Status", "Episodes", "Next air", "Day", "In"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignRight},
	)
}

// seriesFlags regroupe les champs éditables partagés par add et edit.
type seriesFlags struct {
	status   string
	total    int
	watched  int
	air      string
	clearAir bool
	studio   string
	genres   []string
	rating   float64
	notes    string
	title    string
}

func (f *seriesFlags) register(cmd *cobra.Command, withTitle bool) {
	fl := cmd.Flags()
	fl.StringVar(&f.status, "status", string(domain.StatusWatching), "Statut (plan-to-watch, watching, completed, on-hold, dropped)")
	fl.IntVar(&f.total, "total", 0, "Nombre d'épisodes diffusés")
	fl.IntVar(&f.watched, "watched", 0, "Nombre d'épisodes vus")
	fl.StringVar(&f.air, "air", "", "Prochaine diffusion (RFC3339 ou \""+airLayout+"\" dans le fuseau des réglages)")
	fl.StringVar(&f.studio, "studio", "", "Studio")
	fl.StringSliceVar(&f.genres, "genre", nil, "Genre (répétable)")
	fl.Float64Var(&f.rating, "rating", 0, "Note sur 10")
	fl.StringVar(&f.notes, "notes", "", "Notes libres")
	if withTitle {
		fl.StringVar(&f.title, "title", "", "Nouveau titre")
		fl.BoolVar(&f.clearAir, "clear-air", false, "Supprime la date de prochaine diffusion")
	}
}

// input ne renseigne que les flags explicitement passés: edit est un patch.
func (f *seriesFlags) input(cmd *cobra.Command, loc *time.Location) (app.SeriesInput, error) {
	var in app.SeriesInput
	changed := cmd.Flags().Changed

	if changed("title") {
		in.Title = &f.title
	}
	if changed("status") || cmd.Name() == "add" {
		st := domain.SeriesStatus(f.status)
		if !st.Valid() {
			return in, fmt.Errorf("invalid status %q", f.status)
		}
		in.Status = &st
	}
	if changed("total") {
		in.TotalEpisodes = &f.total
	}
	if changed("watched") {
		in.WatchedEpisodes = &f.watched
	}
	if changed("studio") {
		in.Studio = &f.studio
	}
	if changed("genre") {
		in.Genres = f.genres
	}
	if changed("rating") {
		in.Rating = &f.rating
	}
	if changed("notes") {
		in.Notes = &f.notes
	}
	switch {
	case f.clearAir:
		in.NextEpisodeAirDate = app.NullableTime{Set: true}
	case changed("air"):
		t, err := parseAirTime(f.air, loc)
		if err != nil {
			return in, err
		}
		in.NextEpisodeAirDate = app.NullableTime{Set: true, Value: &t}
	}
	return in, nil
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	var flags seriesFlags
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Ajoute une série à suivre",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := ctx.client()
			if err != nil {
				return err
			}
			in, err := flags.input(cmd, displayLocation(cmd.Context(), cl))
			if err != nil {
				return err
			}
			title := strings.Join(args, " ")
			in.Title = &title

			s, err := cl.Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %q (%s)\n", s.Title, s.ID)
			return nil
		},
	}
	flags.register(cmd, false)
	return cmd
}

func newEditCommand(ctx *commandContext) *cobra.Command {
	var flags seriesFlags
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Modifie une série (seuls les flags passés sont appliqués)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := ctx.client()
			if err != nil {
				return err
			}
			in, err := flags.input(cmd, displayLocation(cmd.Context(), cl))
			if err != nil {
				return err
			}
			s, err := cl.Update(cmd.Context(), args[0], in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %q\n", s.Title)
			return nil
		},
	}
	flags.register(cmd, true)
	return cmd
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>...",
		Aliases: []string{"remove"},
		Short:   "Supprime des séries suivies",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := ctx.client()
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := cl.Delete(cmd.Context(), id); err != nil {
					return fmt.Errorf("remove %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", id)
			}
			return nil
		},
	}
}

func newAdvanceCommand(ctx *commandContext) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "advance <id>",
		Short: "Marque l'épisode courant comme diffusé",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := ctx.client()
			if err != nil {
				return err
			}
			var expected *time.Time
			if !force {
				// L'avance est conditionnée à l'air time lu: relancer la commande ne
				// fait pas avancer deux fois.
				s, err := cl.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				expected = s.NextEpisodeAirDate
			}
			res, err := cl.AdvanceOneEpisode(cmd.Context(), args[0], expected)
			if current, ok := client.StaleCurrent(err); ok {
				return fmt.Errorf("schedule changed meanwhile: next episode %d airs %s",
					current.TotalEpisodes+1, formatAir(current.NextEpisodeAirDate, time.UTC))
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Avance sans vérifier l'air time courant")
	return cmd
}

func newSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Rattrape les épisodes déjà diffusés",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := ctx.client()
			if err != nil {
				return err
			}
			res, err := cl.CheckExpired(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, res.Message)
			if res.Count > 0 {
				fmt.Fprintln(out, renderSeriesTable(res.UpdatedDonghua, displayLocation(cmd.Context(), cl), time.Now().UTC()))
			}
			return nil
		},
	}
}

// displayLocation lit le fuseau des réglages; UTC si le serveur ne répond pas.
func displayLocation(ctx context.Context, cl *client.Client) *time.Location {
	s, err := cl.Settings(ctx)
	if err != nil {
		return time.UTC
	}
	return s.Location()
}

func parseAirTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(airLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid air time %q: want RFC3339 or %q", s, airLayout)
	}
	return t.UTC(), nil
}

func formatEpisodes(s app.SeriesDTO) string {
	if s.TotalEpisodes == 0 {
		return strconv.Itoa(s.WatchedEpisodes) + "/?"
	}
	return fmt.Sprintf("%d/%d", s.WatchedEpisodes, s.TotalEpisodes)
}

func formatAir(t *time.Time, loc *time.Location) string {
	if t == nil {
		return "-"
	}
	return t.In(loc).Format("Mon 02 Jan 2006 15:04")
}

func formatCountdown(t *time.Time, now time.Time) string {
	r := schedule.Evaluate(t, now)
	switch r.Kind {
	case schedule.CountingDown:
		return r.Remaining.String()
	case schedule.Expired:
		return "aired"
	default:
		return "-"
	}
}
