package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/conorfennell/cardify/internal/importer"
	"github.com/conorfennell/cardify/internal/service"
)

var errNoRemote = errors.New("no remote configured (set remote.base_url)")

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle now",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		if a.rec == nil {
			return errNoRemote
		}
		rep, err := a.rec.RunCycle(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(rep)
	}),
}

var dueCmd = &cobra.Command{
	Use:   "due <deck-id>",
	Short: "List the cards of a deck that are due for review",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		cards, err := a.svc.GetDueCards(cmd.Context(), args[0], time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("%d cards due\n", len(cards))
		for _, c := range cards {
			fmt.Printf("%s  %s\n", c.ID, c.FrontContent)
		}
		return nil
	}),
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show upcoming reviews",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		stats, err := a.svc.GetStatsSnapshot(cmd.Context(), time.Now())
		if err != nil {
			return err
		}
		return printJSON(stats)
	}),
}

var reviewCmd = &cobra.Command{
	Use:   "review <card-id> <quality 0-5>",
	Short: "Record a review of a card",
	Args:  cobra.ExactArgs(2),
	RunE:  withApp(runReview),
}

func init() {
	reviewCmd.Flags().String("session", "", "count the review in this session")
	reviewCmd.Flags().Duration("time", 0, "time spent answering")
}

func runReview(cmd *cobra.Command, a *app, args []string) error {
	q, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("quality must be a number: %w", err)
	}
	sessionID, err := cmd.Flags().GetString("session")
	if err != nil {
		return err
	}
	spent, err := cmd.Flags().GetDuration("time")
	if err != nil {
		return err
	}
	state, err := a.svc.Review(cmd.Context(), service.ReviewRequest{
		CardID:    args[0],
		Quality:   q,
		SessionID: sessionID,
		TimeSpent: spent,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "next review in %d days (%s)\n", state.Interval, state.DueDate.Local().Format(time.DateTime))
	return nil
}

var importCmd = &cobra.Command{
	Use:   "import <path-or-git-url> [deck-title]",
	Short: "Import Q:/A: notes from markdown into a deck",
	Long: `Import reads every markdown file under a directory, or in a git
repository, and adds its notes to a deck. Importing the same notes again
keeps existing cards and their review history.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: withApp(runImport),
}

func init() {
	importCmd.Flags().Bool("prune", false, "delete cards whose notes no longer exist")
}

func runImport(cmd *cobra.Command, a *app, args []string) error {
	source := args[0]
	title := deckTitle(source)
	if len(args) == 2 {
		title = args[1]
	}
	prune, err := cmd.Flags().GetBool("prune")
	if err != nil {
		return err
	}

	notes, loadErr := importer.NewLoader(a.cfg.Import.ReposDir, a.logger).Load(cmd.Context(), source)
	if loadErr != nil && len(notes) == 0 {
		return loadErr
	}
	if loadErr != nil {
		// Cards of files that failed to parse must survive the import.
		a.logger.Warn("some files could not be parsed", "error", loadErr)
		prune = false
	}

	res, err := a.svc.ImportNotes(cmd.Context(), title, notes, prune)
	if err != nil {
		return err
	}
	fmt.Printf("deck %s: %d created, %d unchanged, %d removed\n", res.DeckID, res.Created, res.Unchanged, res.Removed)
	a.svc.TriggerSync()
	return nil
}

// deckTitle names a deck after the last element of its source.
func deckTitle(source string) string {
	s := strings.TrimSuffix(strings.TrimRight(source, "/"), ".git")
	if i := strings.LastIndexAny(s, "/:"); i >= 0 {
		s = s[i+1:]
	}
	if s == "" || s == "." {
		if wd, err := os.Getwd(); err == nil {
			return filepath.Base(wd)
		}
	}
	return s
}

var loginCmd = &cobra.Command{
	Use:   "login <token>",
	Short: "Store the bearer token used to sync",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		if err := a.svc.SetCredential(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("credential stored")
		return nil
	}),
}

var deadCmd = &cobra.Command{
	Use:   "dead",
	Short: "List changes the server refused",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		st, err := a.svc.SyncStatus(cmd.Context())
		if err != nil {
			return err
		}
		for _, e := range st.DeadLetters {
			fmt.Printf("%s  %s %s %s  retries=%d  %s\n", e.ID, e.Operation, e.EntityTable, e.EntityID, e.RetryCount, e.LastError)
		}
		fmt.Printf("%d pending, %d dead\n", st.Pending, len(st.DeadLetters))
		return nil
	}),
}

var retryCmd = &cobra.Command{
	Use:   "retry <entry-id>",
	Short: "Queue a refused change again",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		return a.svc.RetryDeadLetter(cmd.Context(), args[0])
	}),
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
