package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/amurg-ai/supportdesk/hub/internal/auth"
	"github.com/amurg-ai/supportdesk/hub/internal/config"
	"github.com/amurg-ai/supportdesk/hub/internal/store"
	"github.com/amurg-ai/supportdesk/pkg/cli"
)

const minAgentPassword = 8

func newAgentCmd() *cobra.Command {
	agentCmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage support agent accounts",
		RunE:  runAgentList, // default subcommand
	}
	agentCmd.AddCommand(newAgentListCmd())
	agentCmd.AddCommand(newAgentAddCmd())
	return agentCmd
}

func newAgentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List agent accounts",
		RunE:  runAgentList,
	}
}

func newAgentAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an agent account (password is prompted)",
		RunE:  runAgentAdd,
	}
	cmd.Flags().String("email", "", "agent email (prompted when empty)")
	cmd.Flags().String("name", "", "display name")
	cmd.Flags().Bool("admin", false, "grant the admin role")
	return cmd
}

// openStore loads the config and opens its store.
func openStore(cmd *cobra.Command) (*config.Config, store.Store, error) {
	cfg, err := config.Load(resolveConfigPath(cmd, nil, defaultConfigPath))
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	s, err := store.New(cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	return cfg, s, nil
}

func runAgentList(cmd *cobra.Command, args []string) error {
	_, s, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	agents, err := s.ListAgents(cmd.Context())
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(agents) == 0 {
		_, _ = fmt.Fprintln(out, "No agents registered.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tEMAIL\tNAME\tROLE")
	for _, a := range agents {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, a.Email, a.Name, a.Role)
	}
	return w.Flush()
}

func runAgentAdd(cmd *cobra.Command, args []string) error {
	cfg, s, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if cfg.Auth.Provider == "oidc" {
		return errors.New("agents are provisioned by the identity provider when auth.provider is oidc")
	}

	p := &cli.Prompter{In: cmd.InOrStdin(), Out: cmd.OutOrStdout()}
	email, _ := cmd.Flags().GetString("email")
	if email == "" {
		if email, err = p.AskEmail("Email", ""); err != nil {
			return fmt.Errorf("email: %w", err)
		}
	}
	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		name = p.Ask("Display name", email)
	}
	password, err := p.NewPassword("Password", minAgentPassword)
	if err != nil {
		return fmt.Errorf("password: %w", err)
	}

	role := store.RoleAgent
	if admin, _ := cmd.Flags().GetBool("admin"); admin {
		role = store.RoleAdmin
	}

	agent, err := auth.NewService(s, cfg.Auth).Register(cmd.Context(), email, name, password, role)
	if err != nil {
		if errors.Is(err, auth.ErrAgentExists) {
			return fmt.Errorf("an agent with email %s already exists", store.NormalizeEmail(email))
		}
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created %s %s (%s)\n", agent.Role, agent.Email, agent.ID)
	return nil
}
