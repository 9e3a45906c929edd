package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/conorfennell/cardify/internal/domain"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Start or finish a review session",
}

var sessionStartCmd = &cobra.Command{
	Use:   "start <deck-id>",
	Short: "Open a review session over a deck",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runSessionStart),
}

var sessionFinishCmd = &cobra.Command{
	Use:   "finish <session-id>",
	Short: "Close a review session and print its totals",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runSessionFinish),
}

var historyCmd = &cobra.Command{
	Use:   "history <deck-id>",
	Short: "List the review sessions of a deck",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runHistory),
}

func init() {
	sessionCmd.AddCommand(sessionStartCmd, sessionFinishCmd)
}

func runSessionStart(cmd *cobra.Command, a *app, args []string) error {
	sess, err := a.svc.StartReviewSession(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), sess.ID)
	return nil
}

func runSessionFinish(cmd *cobra.Command, a *app, args []string) error {
	sess, err := a.svc.FinishReviewSession(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), sessionLine(*sess))
	return nil
}

func runHistory(cmd *cobra.Command, a *app, args []string) error {
	sessions, err := a.svc.ReviewHistory(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	for _, s := range sessions {
		fmt.Fprintln(cmd.OutOrStdout(), sessionLine(s))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d sessions\n", len(sessions))
	return nil
}

func sessionLine(s domain.ReviewSession) string {
	end := "open"
	if s.EndedAt != nil {
		end = s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
	}
	return fmt.Sprintf("%s  %s  %d/%d correct  %s",
		s.ID, s.StartedAt.Local().Format(time.DateTime), s.CardsCorrect, s.CardsReviewed, end)
}
