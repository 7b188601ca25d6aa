// Command grantly is a terminal client for managing view and modify
// permissions on queries and dashboards. Without a subcommand it opens the
// interactive sharing dialog; subcommands cover scripted use.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/xlab/treeprint"
	"golang.org/x/term"

	"github.com/trowan/grantly/internal/api"
	"github.com/trowan/grantly/internal/config"
	"github.com/trowan/grantly/internal/grants"
	"github.com/trowan/grantly/internal/history"
	"github.com/trowan/grantly/internal/logger"
	"github.com/trowan/grantly/internal/ui/views/share"
)

var (
	version = "dev"

	flagKind   string
	flagID     int
	flagAccess string
	flagUser   int
	flagGroup  int
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "grantly",
		Short: "Manage sharing permissions on queries and dashboards",
		Long: `grantly edits who may view or modify a query or dashboard.

Run without a subcommand to open the interactive sharing dialog.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDialog,
	}

	root.PersistentFlags().StringVarP(&flagKind, "kind", "k", "queries", "object kind (queries or dashboards)")
	root.PersistentFlags().IntVarP(&flagID, "id", "i", 0, "object id")

	grant := &cobra.Command{
		Use:   "grant",
		Short: "Grant access to a user or group",
		RunE:  runGrant,
	}
	revoke := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke access from a user or group",
		RunE:  runRevoke,
	}
	for _, c := range []*cobra.Command{grant, revoke} {
		c.Flags().StringVarP(&flagAccess, "access", "a", "view", "access type (view or modify)")
		c.Flags().IntVarP(&flagUser, "user", "u", 0, "user id")
		c.Flags().IntVarP(&flagGroup, "group", "g", 0, "group id")
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Print the current grants on an object",
			RunE:  runList,
		},
		grant,
		revoke,
		&cobra.Command{
			Use:   "history",
			Short: "Show recent grant and revoke actions",
			RunE:  runHistory,
		},
	)
	return root
}

// setup loads config, initializes logging, and builds the API client.
func setup() (*config.Config, *api.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	level := logger.LevelInfo
	if cfg.Debug {
		level = logger.LevelDebug
	}
	logger.Init(level, "")

	api.Version = version
	client := api.NewClient(api.ClientConfig{
		BaseURL: cfg.Client.BaseURL,
		APIKey:  cfg.Client.APIKey,
		Timeout: cfg.Client.Timeout,
	})
	return cfg, client, nil
}

func requireObject() error {
	if flagID <= 0 {
		return fmt.Errorf("--id is required")
	}
	if flagKind != "queries" && flagKind != "dashboards" {
		return fmt.Errorf("--kind must be queries or dashboards, got %q", flagKind)
	}
	return nil
}

// runDialog opens the interactive sharing dialog.
func runDialog(cmd *cobra.Command, _ []string) error {
	if err := requireObject(); err != nil {
		return cmd.Help()
	}
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("grantly requires a terminal; use the list/grant/revoke subcommands in scripts")
	}

	cfg, client, err := setup()
	if err != nil {
		pterm.Error.Printfln("%v", err)
		return err
	}
	defer logger.Close()

	histPath := cfg.UI.HistoryPath
	if histPath == "" {
		histPath = history.DefaultPath()
	}
	hist, err := history.Open(histPath)
	if err != nil {
		// The dialog works without an audit trail.
		logger.Warn("history unavailable", "path", histPath, "error", err)
		hist = nil
	} else {
		defer hist.Close()
	}

	view := share.New(client, flagKind, flagID, share.Options{
		Debounce: cfg.Client.SearchDebounce,
		History:  hist,
	})
	_, err = tea.NewProgram(view, tea.WithAltScreen()).Run()
	if err != nil {
		pterm.Error.Printfln("%v", err)
	}
	return err
}

// runList prints the grants on an object as a tree.
func runList(_ *cobra.Command, _ []string) error {
	if err := requireObject(); err != nil {
		return err
	}
	cfg, client, err := setup()
	if err != nil {
		pterm.Error.Printfln("%v", err)
		return err
	}
	defer logger.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Client.Timeout+5*time.Second)
	defer cancel()

	obj, objErr := client.Object(ctx, flagKind, flagID)
	snap, loadErr := grants.NewReconciler(client, flagKind, flagID).LoadAll(ctx)
	if loadErr != nil {
		pterm.Warning.Printfln("Some permission data could not be loaded; showing what the server returned.")
	}

	label := fmt.Sprintf("%s/%d", flagKind, flagID)
	if objErr == nil && obj.Name != "" {
		label = fmt.Sprintf("%s/%d  %s  (author: %s)", flagKind, flagID, obj.Name, obj.User.Name)
	}

	tree := treeprint.New()
	tree.SetValue(label)
	for _, t := range api.AccessTypes() {
		branch := tree.AddBranch(string(t))
		list := snap.Grants.List(t)
		for _, u := range list.Users {
			branch.AddNode(fmt.Sprintf("user  %s <%s>", u.Name, u.Email))
		}
		for _, g := range list.Groups {
			branch.AddNode(fmt.Sprintf("group %s", g.Name))
		}
		if len(list.Users)+len(list.Groups) == 0 {
			branch.AddNode("(none)")
		}
	}
	fmt.Print(tree.String())
	return nil
}

// granteeRequest builds the mutation body from the --user/--group flags.
func granteeRequest() (api.GrantRequest, string, error) {
	t := api.AccessType(flagAccess)
	if !t.Valid() {
		return api.GrantRequest{}, "", fmt.Errorf("--access must be view or modify, got %q", flagAccess)
	}
	switch {
	case flagUser > 0 && flagGroup > 0:
		return api.GrantRequest{}, "", fmt.Errorf("provide --user or --group, not both")
	case flagUser > 0:
		return api.GrantRequest{AccessType: t, UserID: &flagUser}, fmt.Sprintf("user %d", flagUser), nil
	case flagGroup > 0:
		return api.GrantRequest{AccessType: t, GroupID: &flagGroup}, fmt.Sprintf("group %d", flagGroup), nil
	default:
		return api.GrantRequest{}, "", fmt.Errorf("provide --user or --group")
	}
}

func runGrant(_ *cobra.Command, _ []string) error {
	return runMutation("Granting", func(ctx context.Context, client *api.Client, req api.GrantRequest) error {
		return client.Grant(ctx, flagKind, flagID, req)
	})
}

func runRevoke(_ *cobra.Command, _ []string) error {
	return runMutation("Revoking", func(ctx context.Context, client *api.Client, req api.GrantRequest) error {
		return client.Revoke(ctx, flagKind, flagID, req)
	})
}

func runMutation(verb string, op func(context.Context, *api.Client, api.GrantRequest) error) error {
	if err := requireObject(); err != nil {
		return err
	}
	req, who, err := granteeRequest()
	if err != nil {
		return err
	}

	cfg, client, err := setup()
	if err != nil {
		pterm.Error.Printfln("%v", err)
		return err
	}
	defer logger.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Client.Timeout+5*time.Second)
	defer cancel()

	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("%s %s access for %s on %s/%d...",
		verb, req.AccessType, who, flagKind, flagID))
	if err := op(ctx, client, req); err != nil {
		spinner.Fail(err.Error())
		return err
	}
	spinner.Success("Done")

	// Print the authoritative state after the change.
	snap, loadErr := grants.NewReconciler(client, flagKind, flagID).LoadAll(ctx)
	if loadErr != nil {
		pterm.Warning.Printfln("Change applied, but re-reading permissions failed.")
		return nil
	}
	list := snap.Grants.List(req.AccessType)
	pterm.Info.Printfln("%s now has %d user(s) and %d group(s) with %s access.",
		fmt.Sprintf("%s/%d", flagKind, flagID), len(list.Users), len(list.Groups), req.AccessType)
	return nil
}

// runHistory prints the local audit trail.
func runHistory(_ *cobra.Command, _ []string) error {
	cfg, _, err := setup()
	if err != nil {
		pterm.Error.Printfln("%v", err)
		return err
	}
	defer logger.Close()

	histPath := cfg.UI.HistoryPath
	if histPath == "" {
		histPath = history.DefaultPath()
	}
	hist, err := history.Open(histPath)
	if err != nil {
		pterm.Error.Printfln("open history: %v", err)
		return err
	}
	defer hist.Close()

	entries, err := hist.Recent(50)
	if err != nil {
		pterm.Error.Printfln("read history: %v", err)
		return err
	}
	if len(entries) == 0 {
		pterm.Info.Printfln("No recorded actions yet.")
		return nil
	}

	rows := pterm.TableData{{"When", "Action", "Object", "Access", "Grantee", "Result"}}
	for _, e := range entries {
		result := "ok"
		if !e.Succeeded {
			result = "failed"
		}
		rows = append(rows, []string{
			humanize.Time(e.Time),
			string(e.Action),
			fmt.Sprintf("%s/%d", e.ObjectKind, e.ObjectID),
			e.AccessType,
			fmt.Sprintf("%s %s", e.GranteeKind, e.GranteeName),
			result,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}
