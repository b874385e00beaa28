package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/141JosephAlen/ec-bot/internal/service/delta"
	"github.com/141JosephAlen/ec-bot/pkg/api/client"
)

var (
	remoteCmd = &cobra.Command{
		Use:   "remote",
		Short: "Talk to a running roadmap API",
	}
	remoteAPI   string
	remoteToken string

	remotePullCmd = &cobra.Command{
		Use:   "pull",
		Short: "Ask the API to record a new observation",
		Args:  cobra.NoArgs,
		RunE:  runRemotePull,
	}

	remoteCompareCmd = &cobra.Command{
		Use:   "compare",
		Short: "Compare two observations through the API",
		Args:  cobra.NoArgs,
		RunE:  runRemoteCompare,
	}

	remoteSnapshotCmd = &cobra.Command{
		Use:   "snapshot",
		Short: "Fetch the reconstructed roadmap at a date",
		Args:  cobra.NoArgs,
		RunE:  runRemoteSnapshot,
	}
	remoteAt string
)

func init() {
	remoteCmd.PersistentFlags().StringVar(&remoteAPI, "api", os.Getenv("ROADMAP_API"), "API base URL")
	remoteCmd.PersistentFlags().StringVar(&remoteToken, "token", os.Getenv("ROADMAP_TOKEN"), "API token with the pull scope")

	remoteCompareCmd.Flags().StringVarP(&compareStart, "start", "s", "", "start date")
	remoteCompareCmd.Flags().StringVarP(&compareEnd, "end", "e", "", "end date")
	remoteCompareCmd.Flags().StringVar(&compareFormat, "format", "", "output format (json|text); text when stdout is a terminal")

	remoteSnapshotCmd.Flags().StringVar(&remoteAt, "at", "", "date (default: newest observation)")

	remoteCmd.AddCommand(remotePullCmd, remoteCompareCmd, remoteSnapshotCmd)
}

func apiClient() (*client.Client, error) {
	return client.New(remoteAPI)
}

// readToken returns --token, prompting for it when stdin is a terminal.
func readToken() (string, error) {
	token := strings.TrimSpace(remoteToken)
	if token != "" {
		return token, nil
	}
	if !isTerminal(os.Stdin) {
		return "", errors.New("--token is required")
	}
	fmt.Fprint(os.Stderr, "Token: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprint(os.Stderr, "\n")
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func runRemotePull(cmd *cobra.Command, args []string) error {
	token, err := readToken()
	if err != nil {
		return err
	}
	api, err := apiClient()
	if err != nil {
		return err
	}
	report, err := api.Pull(cmd.Context(), token)
	if err != nil {
		return err
	}
	if isTerminal(os.Stdout) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s (run %s)\n", report.Status, report.RunID)
		return nil
	}
	return printJSON(cmd.OutOrStdout(), report)
}

func runRemoteCompare(cmd *cobra.Command, args []string) error {
	text := compareFormat == "text" || (compareFormat == "" && isTerminal(os.Stdout))
	api, err := apiClient()
	if err != nil {
		return err
	}
	raw, err := api.Compare(cmd.Context(), compareStart, compareEnd)
	if err != nil {
		return err
	}
	if !text {
		return printJSON(cmd.OutOrStdout(), raw)
	}
	var cs delta.ChangeSet
	if err := json.Unmarshal(raw, &cs); err != nil {
		return fmt.Errorf("decode change set: %w", err)
	}
	return summarize(cmd.OutOrStdout(), cs)
}

func runRemoteSnapshot(cmd *cobra.Command, args []string) error {
	api, err := apiClient()
	if err != nil {
		return err
	}
	raw, err := api.Snapshot(cmd.Context(), remoteAt)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), raw)
}
